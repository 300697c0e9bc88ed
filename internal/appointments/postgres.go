package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("cityhospital.appointment-bot.appointments")

const uniqueViolation = "23505"

// Index names from migrations/000001_init.up.sql.
const doctorSlotIndex = "appointments_doctor_slot_active"

type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository stores appointments and upserts the matching patient row.
type PostgresRepository struct {
	db  pgxDB
	now func() time.Time
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &PostgresRepository{db: pool, now: time.Now}
}

func newPostgresRepositoryWithDB(db pgxDB) *PostgresRepository {
	if db == nil {
		panic("appointments: db required")
	}
	return &PostgresRepository{db: db, now: time.Now}
}

const selectAppointmentColumns = `
	SELECT id::text, patient_phone, patient_name, doctor_id, doctor_name, specialization,
	       to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'),
	       status, booking_source, COALESCE(reason, ''), COALESCE(calendar_event_id, ''),
	       created_at, updated_at
	FROM appointments`

func (r *PostgresRepository) Create(ctx context.Context, appt *Appointment) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.create")
	defer span.End()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := r.insert(ctx, tx, appt)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit: %w", err)
	}
	span.SetAttributes(attribute.String("appointment.id", created.ID))
	return created, nil
}

func (r *PostgresRepository) insert(ctx context.Context, tx pgx.Tx, appt *Appointment) (*Appointment, error) {
	out := *appt
	out.ID = uuid.NewString()
	applyDefaults(&out, r.now())

	if _, err := tx.Exec(ctx, `
		INSERT INTO patients (phone, name, last_visit)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO UPDATE SET name = EXCLUDED.name, last_visit = EXCLUDED.last_visit
	`, out.PatientPhone, out.PatientName, out.CreatedAt); err != nil {
		return nil, fmt.Errorf("appointments: upsert patient: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO appointments (
			id, patient_phone, patient_name, doctor_id, doctor_name, specialization,
			appointment_date, appointment_time, status, booking_source, reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8::time, $9, $10, $11, $12, $13)
	`,
		out.ID,
		out.PatientPhone,
		out.PatientName,
		out.DoctorID,
		out.DoctorName,
		out.Specialization,
		out.Date,
		out.Time,
		out.Status,
		out.Source,
		out.Reason,
		out.CreatedAt,
		out.UpdatedAt,
	); err != nil {
		return nil, mapInsertError(err)
	}
	return &out, nil
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == doctorSlotIndex {
			return ErrSlotTaken
		}
		return ErrConflict
	}
	return fmt.Errorf("appointments: insert failed: %w", err)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrAppointmentNotFound
	}
	appt, err := scanAppointment(r.db.QueryRow(ctx, selectAppointmentColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("appointments: select failed: %w", err)
	}
	return appt, nil
}

func (r *PostgresRepository) Cancel(ctx context.Context, id string) (*Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrAppointmentNotFound
	}
	ctx, span := tracer.Start(ctx, "appointments.cancel")
	defer span.End()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := r.cancel(ctx, tx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit: %w", err)
	}
	return appt, nil
}

func (r *PostgresRepository) cancel(ctx context.Context, tx pgx.Tx, id string) (*Appointment, error) {
	appt, err := scanAppointment(tx.QueryRow(ctx, selectAppointmentColumns+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("appointments: select failed: %w", err)
	}
	if !appt.Active() {
		return nil, ErrNotActive
	}
	now := r.now()
	if _, err := tx.Exec(ctx, `UPDATE appointments SET status = $2, updated_at = $3 WHERE id = $1`, id, StatusCancelled, now); err != nil {
		return nil, fmt.Errorf("appointments: cancel failed: %w", err)
	}
	appt.Status = StatusCancelled
	appt.UpdatedAt = now
	return appt, nil
}

func (r *PostgresRepository) Reschedule(ctx context.Context, oldID string, next *Appointment) (*Appointment, error) {
	if _, err := uuid.Parse(oldID); err != nil {
		return nil, ErrAppointmentNotFound
	}
	ctx, span := tracer.Start(ctx, "appointments.reschedule")
	defer span.End()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := r.cancel(ctx, tx, oldID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	created, err := r.insert(ctx, tx, next)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) ListActiveByPatient(ctx context.Context, phone string) ([]Appointment, error) {
	return r.list(ctx, selectAppointmentColumns+`
		WHERE patient_phone = $1 AND status <> $2
		ORDER BY appointment_date, appointment_time`, phone, StatusCancelled)
}

func (r *PostgresRepository) ListActiveByDoctorDate(ctx context.Context, doctorID, date string) ([]Appointment, error) {
	return r.list(ctx, selectAppointmentColumns+`
		WHERE doctor_id = $1 AND appointment_date = $2::date AND status <> $3
		ORDER BY appointment_time`, doctorID, date, StatusCancelled)
}

func (r *PostgresRepository) BookedTimes(ctx context.Context, doctorID, date string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT to_char(appointment_time, 'HH24:MI')
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2::date AND status <> $3
		ORDER BY appointment_time`, doctorID, date, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("appointments: booked times: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("appointments: scan booked time: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetCalendarEvent(ctx context.Context, id, eventID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE appointments SET calendar_event_id = $2 WHERE id = $1`, id, eventID)
	if err != nil {
		return fmt.Errorf("appointments: set calendar event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, status string) (*Appointment, error) {
	if !ProgressStatus(status) {
		return nil, ErrInvalidStatus
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrAppointmentNotFound
	}
	ctx, span := tracer.Start(ctx, "appointments.update_status")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.status", status))

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, selectAppointmentColumns+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("appointments: select failed: %w", err)
	}
	if !appt.Active() {
		return nil, ErrNotActive
	}
	now := r.now()
	if _, err := tx.Exec(ctx, `UPDATE appointments SET status = $2, updated_at = $3 WHERE id = $1`, id, status, now); err != nil {
		return nil, fmt.Errorf("appointments: update status failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit: %w", err)
	}
	appt.Status = status
	appt.UpdatedAt = now
	return appt, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: list failed: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan failed: %w", err)
		}
		out = append(out, *appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: list failed: %w", err)
	}
	return out, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(
		&a.ID,
		&a.PatientPhone,
		&a.PatientName,
		&a.DoctorID,
		&a.DoctorName,
		&a.Specialization,
		&a.Date,
		&a.Time,
		&a.Status,
		&a.Source,
		&a.Reason,
		&a.CalendarEventID,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
