package doctors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("cityhospital.appointment-bot.doctors")

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads the doctors table.
type PostgresDirectory struct {
	db querier
}

// NewPostgresDirectory initializes a directory backed by pgxpool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	if pool == nil {
		panic("doctors: pgx pool required")
	}
	return &PostgresDirectory{db: pool}
}

func newPostgresDirectoryWithDB(db querier) *PostgresDirectory {
	if db == nil {
		panic("doctors: db required")
	}
	return &PostgresDirectory{db: db}
}

const selectDoctorColumns = `
	SELECT id, name, specialization, status,
	       COALESCE(email, ''), COALESCE(phone, ''),
	       to_char(work_start, 'HH24:MI'), to_char(work_end, 'HH24:MI'),
	       working_days, slot_minutes,
	       to_char(break_start, 'HH24:MI'), to_char(break_end, 'HH24:MI'),
	       COALESCE(calendar_id, '')
	FROM doctors`

func (d *PostgresDirectory) Get(ctx context.Context, id string) (*Doctor, error) {
	ctx, span := tracer.Start(ctx, "doctors.get")
	defer span.End()
	span.SetAttributes(attribute.String("doctor.id", id))

	doc, err := scanDoctor(d.db.QueryRow(ctx, selectDoctorColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("doctors: select failed: %w", err)
	}
	return doc, nil
}

func (d *PostgresDirectory) ListBySpecialization(ctx context.Context, specialization string) ([]Doctor, error) {
	return d.List(ctx, Filter{Specialization: specialization})
}

func (d *PostgresDirectory) Specializations(ctx context.Context) ([]string, error) {
	rows, err := d.db.Query(ctx, `
		SELECT DISTINCT specialization
		FROM doctors
		WHERE specialization <> ''
		ORDER BY specialization`)
	if err != nil {
		return nil, fmt.Errorf("doctors: list specializations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var spec string
		if err := rows.Scan(&spec); err != nil {
			return nil, fmt.Errorf("doctors: scan specialization: %w", err)
		}
		out = append(out, spec)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) List(ctx context.Context, filter Filter) ([]Doctor, error) {
	ctx, span := tracer.Start(ctx, "doctors.list")
	defer span.End()

	var (
		where []string
		args  []any
	)
	if filter.Specialization != "" {
		args = append(args, filter.Specialization)
		where = append(where, fmt.Sprintf("specialization = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := selectDoctorColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := d.db.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("doctors: list failed: %w", err)
	}
	defer rows.Close()

	var out []Doctor
	for rows.Next() {
		doc, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("doctors: scan failed: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("doctors: list failed: %w", err)
	}
	return out, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var (
		doc        Doctor
		breakStart *string
		breakEnd   *string
	)
	if err := row.Scan(
		&doc.ID,
		&doc.Name,
		&doc.Specialization,
		&doc.Status,
		&doc.Email,
		&doc.Phone,
		&doc.WorkStart,
		&doc.WorkEnd,
		&doc.WorkingDays,
		&doc.SlotMinutes,
		&breakStart,
		&breakEnd,
		&doc.CalendarID,
	); err != nil {
		return nil, err
	}
	if breakStart != nil && breakEnd != nil {
		doc.Break = &BreakWindow{Start: *breakStart, End: *breakEnd}
	}
	return &doc, nil
}
