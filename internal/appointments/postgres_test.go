package appointments

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentColumns = []string{
	"id", "patient_phone", "patient_name", "doctor_id", "doctor_name", "specialization",
	"appointment_date", "appointment_time", "status", "booking_source", "reason",
	"calendar_event_id", "created_at", "updated_at",
}

const apptID = "5b0e4c4e-2f5e-4a38-9b1a-2f6f5e9f9a10"

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func expectPatientUpsert(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec("INSERT INTO patients").
		WithArgs(anyArgs(3)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func expectAppointmentInsertError(mock pgxmock.PgxPoolIface, err error) {
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(anyArgs(13)...).
		WillReturnError(err)
}

func appointmentRow(status string) *pgxmock.Rows {
	now := time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(appointmentColumns).AddRow(
		apptID, "919800000001", "Asha", "dr_001", "Dr. Rajesh Kumar", "Cardiology",
		"2025-01-10", "10:00", status, SourceWhatsApp, "", "", now, now,
	)
}

func TestPostgresRepositoryCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO patients").
		WithArgs("919800000001", "Asha", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), "919800000001", "Asha", "dr_001", "Dr. Rajesh Kumar", "Cardiology",
			"2025-01-10", "10:00", StatusScheduled, SourceWhatsApp, "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	appt, err := repo.Create(context.Background(), &Appointment{
		PatientPhone:   "919800000001",
		PatientName:    "Asha",
		DoctorID:       "dr_001",
		DoctorName:     "Dr. Rajesh Kumar",
		Specialization: "Cardiology",
		Date:           "2025-01-10",
		Time:           "10:00",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, StatusScheduled, appt.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryCreateMapsUniqueViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)

	mock.ExpectBegin()
	expectPatientUpsert(mock)
	expectAppointmentInsertError(mock, &pgconn.PgError{Code: "23505", ConstraintName: doctorSlotIndex})
	mock.ExpectRollback()

	_, err = repo.Create(context.Background(), &Appointment{PatientPhone: "1", DoctorID: "dr_001", Date: "2025-01-10", Time: "10:00"})
	assert.ErrorIs(t, err, ErrSlotTaken)

	mock.ExpectBegin()
	expectPatientUpsert(mock)
	expectAppointmentInsertError(mock, &pgconn.PgError{Code: "23505", ConstraintName: "appointments_patient_time_active"})
	mock.ExpectRollback()

	_, err = repo.Create(context.Background(), &Appointment{PatientPhone: "1", DoctorID: "dr_002", Date: "2025-01-10", Time: "10:00"})
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryCancel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(apptID).
		WillReturnRows(appointmentRow(StatusScheduled))
	mock.ExpectExec("UPDATE appointments SET status").
		WithArgs(apptID, StatusCancelled, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	appt, err := repo.Cancel(context.Background(), apptID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, appt.Status)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(apptID).
		WillReturnRows(appointmentRow(StatusCancelled))
	mock.ExpectRollback()

	_, err = repo.Cancel(context.Background(), apptID)
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = repo.Cancel(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryRescheduleIsOneTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(apptID).WillReturnRows(appointmentRow(StatusScheduled))
	mock.ExpectExec("UPDATE appointments SET status").
		WithArgs(apptID, StatusCancelled, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectPatientUpsert(mock)
	expectAppointmentInsertError(mock, &pgconn.PgError{Code: "23505", ConstraintName: doctorSlotIndex})
	mock.ExpectRollback()

	_, err = repo.Reschedule(context.Background(), apptID, &Appointment{
		PatientPhone: "919800000001", DoctorID: "dr_001", Date: "2025-01-11", Time: "10:00",
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryQueries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)
	ctx := context.Background()

	mock.ExpectQuery("WHERE patient_phone = \\$1 AND status <> \\$2").
		WithArgs("919800000001", StatusCancelled).
		WillReturnRows(appointmentRow(StatusScheduled))
	list, err := repo.ListActiveByPatient(ctx, "919800000001")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "10:00", list[0].Time)

	mock.ExpectQuery("SELECT to_char\\(appointment_time").
		WithArgs("dr_001", "2025-01-10", StatusCancelled).
		WillReturnRows(pgxmock.NewRows([]string{"t"}).AddRow("09:00").AddRow("10:30"))
	times, err := repo.BookedTimes(ctx, "dr_001", "2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "10:30"}, times)

	mock.ExpectExec("UPDATE appointments SET calendar_event_id").
		WithArgs(apptID, "evt-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.SetCalendarEvent(ctx, apptID, "evt-1"), ErrAppointmentNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepositoryUpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithDB(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM appointments WHERE id = \\$1 FOR UPDATE").
		WithArgs(apptID).
		WillReturnRows(appointmentRow(StatusScheduled))
	mock.ExpectExec("UPDATE appointments SET status").
		WithArgs(apptID, StatusCheckedIn, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	appt, err := repo.UpdateStatus(context.Background(), apptID, StatusCheckedIn)
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, appt.Status)

	_, err = repo.UpdateStatus(context.Background(), apptID, StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	require.NoError(t, mock.ExpectationsWereMet())
}
