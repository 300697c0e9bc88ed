package appointments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAppt(phone, doctorID, date, clock string) *Appointment {
	return &Appointment{
		PatientPhone:   phone,
		PatientName:    "Asha",
		DoctorID:       doctorID,
		DoctorName:     "Dr. " + doctorID,
		Specialization: "Cardiology",
		Date:           date,
		Time:           clock,
	}
}

func TestInMemoryRepositoryCreateDefaults(t *testing.T) {
	repo := NewInMemoryRepository()
	appt, err := repo.Create(context.Background(), newAppt("9100", "dr_001", "2025-01-10", "10:00"))
	require.NoError(t, err)

	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, SourceWhatsApp, appt.Source)
	assert.False(t, appt.CreatedAt.IsZero())

	got, err := repo.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)
}

func TestInMemoryRepositoryUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	_, err := repo.Create(ctx, newAppt("9100", "dr_001", "2025-01-10", "10:00"))
	require.NoError(t, err)

	_, err = repo.Create(ctx, newAppt("9200", "dr_001", "2025-01-10", "10:00"))
	assert.ErrorIs(t, err, ErrSlotTaken)

	_, err = repo.Create(ctx, newAppt("9100", "dr_001", "2025-01-10", "11:00"))
	assert.ErrorIs(t, err, ErrConflict)

	_, err = repo.Create(ctx, newAppt("9100", "dr_002", "2025-01-10", "10:00"))
	assert.ErrorIs(t, err, ErrConflict)

	_, err = repo.Create(ctx, newAppt("9200", "dr_002", "2025-01-10", "10:00"))
	assert.NoError(t, err)
}

func TestInMemoryRepositoryCancelFreesSlot(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	appt, err := repo.Create(ctx, newAppt("9100", "dr_001", "2025-01-10", "10:00"))
	require.NoError(t, err)

	times, err := repo.BookedTimes(ctx, "dr_001", "2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00"}, times)

	cancelled, err := repo.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = repo.Cancel(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrNotActive)

	times, err = repo.BookedTimes(ctx, "dr_001", "2025-01-10")
	require.NoError(t, err)
	assert.Empty(t, times)

	_, err = repo.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestInMemoryRepositoryReschedule(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	old, err := repo.Create(ctx, newAppt("9100", "dr_001", "2025-01-10", "10:00"))
	require.NoError(t, err)

	// Same doctor and day is allowed because the old row is being replaced.
	next, err := repo.Reschedule(ctx, old.ID, newAppt("9100", "dr_001", "2025-01-10", "11:00"))
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, next.ID)

	active, err := repo.ListActiveByPatient(ctx, "9100")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "11:00", active[0].Time)

	prev, err := repo.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, prev.Status)

	_, err = repo.Create(ctx, newAppt("9200", "dr_001", "2025-01-10", "10:00"))
	assert.NoError(t, err)
}

func TestInMemoryRepositoryRescheduleFailureKeepsOld(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	old, err := repo.Create(ctx, newAppt("9100", "dr_001", "2025-01-10", "10:00"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newAppt("9200", "dr_001", "2025-01-11", "10:00"))
	require.NoError(t, err)

	_, err = repo.Reschedule(ctx, old.ID, newAppt("9100", "dr_001", "2025-01-11", "10:00"))
	assert.ErrorIs(t, err, ErrSlotTaken)

	still, err := repo.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, still.Active())
}

func TestInMemoryRepositoryListOrdering(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	for _, a := range []*Appointment{
		newAppt("9100", "dr_001", "2025-01-12", "09:00"),
		newAppt("9100", "dr_002", "2025-01-10", "15:00"),
		newAppt("9100", "dr_003", "2025-01-10", "09:30"),
	} {
		_, err := repo.Create(ctx, a)
		require.NoError(t, err)
	}

	list, err := repo.ListActiveByPatient(ctx, "9100")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "dr_003", list[0].DoctorID)
	assert.Equal(t, "dr_002", list[1].DoctorID)
	assert.Equal(t, "dr_001", list[2].DoctorID)

	require.NoError(t, repo.SetCalendarEvent(ctx, list[0].ID, "evt-1"))
	got, _ := repo.Get(ctx, list[0].ID)
	assert.Equal(t, "evt-1", got.CalendarEventID)
}

func TestInMemoryRepositoryUpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	appt, err := repo.Create(ctx, newAppt("9100", "dr_001", "2025-01-10", "10:00"))
	require.NoError(t, err)

	got, err := repo.UpdateStatus(ctx, appt.ID, StatusInConsultation)
	require.NoError(t, err)
	assert.Equal(t, StatusInConsultation, got.Status)
	assert.True(t, got.Active())

	_, err = repo.UpdateStatus(ctx, appt.ID, "Lost")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = repo.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	_, err = repo.UpdateStatus(ctx, appt.ID, StatusCompleted)
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = repo.UpdateStatus(ctx, "missing", StatusCompleted)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}
