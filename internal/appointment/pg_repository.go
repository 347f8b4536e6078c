package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgExclusionViolation  = "23P01"
	pgForeignKeyViolation = "23503"
)

var errUnknownReference = &RuleError{Kind: ErrNotFound, Reason: "referenced doctor, patient or service does not exist"}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DBTX
}

func NewPgRepository(db DBTX) *PgRepository {
	return &PgRepository{db: db}
}

// PgStore serializes bookings per doctor with a transaction-scoped advisory lock.
type PgStore struct {
	*PgRepository
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{PgRepository: NewPgRepository(pool), pool: pool}
}

func (s *PgStore) InDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(tx Repository) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, doctorID.String()); err != nil {
		return fmt.Errorf("lock doctor %s: %w", doctorID, err)
	}

	if err := fn(NewPgRepository(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit booking tx: %w", err)
	}
	return nil
}

// Helpers

const appointmentColumns = `id, doctor_id, patient_id, service_id, start_time, end_time, status,
	cancellation_reason, cancelled_by, deleted, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.ServiceID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.Deleted,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// scanGuarded maps "no row returned" from a conditional write to errGuardNotMet.
func scanGuarded(row pgx.Row) (*Appointment, error) {
	a, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		return nil, errGuardNotMet
	}
	return a, err
}

func statusStrings(ss []AppointmentStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func timeOfDayFromPg(t pgtype.Time) TimeOfDay {
	return TimeOfDayFromDuration(time.Duration(t.Microseconds) * time.Microsecond)
}

// TimeOfDayToPg converts t for binding to a postgres TIME column.
func TimeOfDayToPg(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

// cancelGuardSQL renders guard as a WHERE fragment. Placeholders start at $next.
func cancelGuardSQL(guard CancelGuard, next int) (string, []any) {
	conds := []string{"NOT deleted", fmt.Sprintf("status = ANY($%d)", next)}
	args := []any{statusStrings(guard.Statuses)}
	next++

	if guard.PatientID != nil {
		conds = append(conds, fmt.Sprintf("patient_id = $%d", next))
		args = append(args, *guard.PatientID)
		next++
	}
	if guard.DoctorID != nil {
		conds = append(conds, fmt.Sprintf("doctor_id = $%d", next))
		args = append(args, *guard.DoctorID)
		next++
	}
	if guard.MinLead > 0 {
		conds = append(conds, fmt.Sprintf("start_time >= now() + make_interval(secs => $%d)", next))
		args = append(args, guard.MinLead.Seconds())
	}

	return strings.Join(conds, " AND "), args
}

// Interface methods

func (r *PgRepository) FindAvailability(ctx context.Context, doctorID uuid.UUID, day DayOfWeek) ([]WeeklyAvailability, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time
		FROM weekly_availability
		WHERE doctor_id = $1 AND day_of_week = $2
		ORDER BY start_time
	`, doctorID, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WeeklyAvailability
	for rows.Next() {
		var w WeeklyAvailability
		var start, end pgtype.Time
		if err := rows.Scan(&w.ID, &w.DoctorID, &w.Day, &start, &end); err != nil {
			return nil, err
		}
		w.Start = timeOfDayFromPg(start)
		w.End = timeOfDayFromPg(end)
		result = append(result, w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) FindServiceOffering(ctx context.Context, doctorID, serviceID uuid.UUID) (*ServiceOffering, error) {
	var o ServiceOffering

	err := r.db.QueryRow(ctx, `
		SELECT ds.doctor_id, ds.service_id, s.name, ds.duration_minutes, ds.price_cents, ds.currency
		FROM doctor_services ds
		JOIN services s ON s.id = ds.service_id
		WHERE ds.doctor_id = $1 AND ds.service_id = $2
	`, doctorID, serviceID).Scan(
		&o.DoctorID,
		&o.ServiceID,
		&o.ServiceName,
		&o.DurationMinutes,
		&o.PriceCents,
		&o.Currency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotOffered
		}
		return nil, err
	}

	return &o, nil
}

func (r *PgRepository) FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND NOT deleted
		  AND status = ANY($2)
		  AND start_time < $4
		  AND end_time > $3
		  AND ($5::uuid IS NULL OR id <> $5::uuid)
		ORDER BY start_time
	`, doctorID, statusStrings(BlockingStatuses), start, end, excludeID)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) FindAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, in NewAppointment, minLead time.Duration) (*Appointment, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, service_id, start_time, end_time, status, created_at, updated_at)
		SELECT $1::uuid, $2::uuid, $3::uuid, $4::uuid, $5::timestamptz, $6::timestamptz, 'scheduled', now(), now()
		WHERE $5::timestamptz >= now() + make_interval(secs => $7::double precision)
		RETURNING `+appointmentColumns,
		id, in.DoctorID, in.PatientID, in.ServiceID, in.StartTime, in.EndTime, minLead.Seconds())

	a, err := scanAppointment(row)
	switch {
	case err == nil:
		return a, nil
	case errors.Is(err, ErrNotFound):
		return nil, ErrBookingTooLate
	case pgCode(err) == pgExclusionViolation:
		return nil, ErrSlotTaken
	case pgCode(err) == pgForeignKeyViolation:
		return nil, errUnknownReference
	default:
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
}

func (r *PgRepository) ConditionalCancel(ctx context.Context, id uuid.UUID, reason string, cancelledBy uuid.UUID, guard CancelGuard) (*Appointment, error) {
	where, guardArgs := cancelGuardSQL(guard, 4)
	args := append([]any{id, reason, cancelledBy}, guardArgs...)

	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancellation_reason = $2,
		    cancelled_by = $3,
		    updated_at = now()
		WHERE id = $1
		  AND `+where+`
		RETURNING `+appointmentColumns, args...)

	return scanGuarded(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND NOT deleted
		  AND status = ANY($3)
		RETURNING `+appointmentColumns, id, string(to), statusStrings(from))

	return scanGuarded(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, int, error) {
	conds := []string{"NOT deleted"}
	var args []any

	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		conds = append(conds, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		conds = append(conds, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM appointments WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments
		WHERE %s
		ORDER BY start_time DESC
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}

	appts, err := scanAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	return appts, total, nil
}

func (r *PgRepository) FindEndedActive(ctx context.Context, now time.Time, limit int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND NOT deleted
		  AND end_time <= $1
		ORDER BY end_time
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
