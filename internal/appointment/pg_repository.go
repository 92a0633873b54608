package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// queryable is satisfied by both the pool and an open transaction.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is the subset of *pgxpool.Pool the repository needs.
type Pool interface {
	queryable
	Begin(ctx context.Context) (pgx.Tx, error)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	_ Repository = (*PgRepository)(nil)
	_ Tx         = (*pgTx)(nil)
)

type PgRepository struct {
	pool Pool
}

func NewPgRepository(pool Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Columns

const (
	serviceColumns = `id, name, duration_minutes, created_at, updated_at`

	slotColumns = `id, service_id, start_at, end_at, timezone, capacity,
		buffer_before_minutes, buffer_after_minutes, status, notes, created_at, updated_at`

	appointmentColumns = `id, user_id, service_id, slot_id, queue_ticket_id, status,
		scheduled_at, timezone, locale, notes, created_at, updated_at`

	historyColumns = `id, appointment_id, event, from_status, to_status, actor_id, notes, created_at`

	ticketColumns = `id, user_id, service_id, slot_id, status, position, desired_from, desired_to,
		timezone, notified_at, expires_at, notes, created_at, updated_at`
)

// Helpers

func scanService(row pgx.Row) (*ServiceInfo, error) {
	var s ServiceInfo

	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.DurationMinutes,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanSlot(row pgx.Row, extra ...any) (*AppointmentSlot, error) {
	var s AppointmentSlot
	var status string

	dest := []any{
		&s.ID,
		&s.ServiceID,
		&s.StartAt,
		&s.EndAt,
		&s.Timezone,
		&s.Capacity,
		&s.BufferBeforeMinutes,
		&s.BufferAfterMinutes,
		&status,
		&s.Notes,
		&s.CreatedAt,
		&s.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Status = SlotStatus(status)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.ServiceID,
		&a.SlotID,
		&a.QueueTicketID,
		&status,
		&a.ScheduledAt,
		&a.Timezone,
		&a.Locale,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	return &a, nil
}

func scanHistory(row pgx.Row) (*StatusHistory, error) {
	var h StatusHistory
	var event, to string
	var from *string

	if err := row.Scan(&h.ID, &h.AppointmentID, &event, &from, &to, &h.ActorID, &h.Notes, &h.CreatedAt); err != nil {
		return nil, err
	}

	h.Event = HistoryEvent(event)
	h.ToStatus = AppointmentStatus(to)
	if from != nil {
		fs := AppointmentStatus(*from)
		h.FromStatus = &fs
	}
	return &h, nil
}

func scanTicket(row pgx.Row) (*QueueTicket, error) {
	var t QueueTicket
	var status string

	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.ServiceID,
		&t.SlotID,
		&status,
		&t.Position,
		&t.DesiredFrom,
		&t.DesiredTo,
		&t.Timezone,
		&t.NotifiedAt,
		&t.ExpiresAt,
		&t.Notes,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}

	t.Status = TicketStatus(status)
	return &t, nil
}

func collectTickets(rows pgx.Rows) ([]QueueTicket, error) {
	defer rows.Close()

	var result []QueueTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func statusPtr(s *AppointmentStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func getService(ctx context.Context, q queryable, id uuid.UUID) (*ServiceInfo, error) {
	row := q.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	return scanService(row)
}

func getAppointment(ctx context.Context, q queryable, id uuid.UUID, lock bool) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	return scanAppointment(q.QueryRow(ctx, query, id))
}

func listWaitingTickets(ctx context.Context, q queryable, serviceID uuid.UUID) ([]QueueTicket, error) {
	rows, err := q.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE service_id = $1 AND status = 'WAITING'
		ORDER BY position ASC, created_at ASC
	`, serviceID)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

// Repository methods

func (r *PgRepository) GetService(ctx context.Context, id uuid.UUID) (*ServiceInfo, error) {
	return getService(ctx, r.pool, id)
}

func (r *PgRepository) ListSlotOccupancy(ctx context.Context, serviceID uuid.UUID, from, to time.Time) ([]SlotOccupancy, error) {
	query, args, err := psql.
		Select(
			"s.id", "s.service_id", "s.start_at", "s.end_at", "s.timezone", "s.capacity",
			"s.buffer_before_minutes", "s.buffer_after_minutes", "s.status", "s.notes",
			"s.created_at", "s.updated_at",
			"(SELECT COUNT(*) FROM appointments a WHERE a.slot_id = s.id AND a.status <> 'CANCELLED') AS active_count",
			"(SELECT COUNT(*) FROM queue_tickets q WHERE q.slot_id = s.id AND q.status = 'WAITING') AS waiting_count",
		).
		From("appointment_slots s").
		Where(sq.Eq{"s.service_id": serviceID.String()}).
		Where(sq.NotEq{"s.status": string(SlotCancelled)}).
		Where(sq.LtOrEq{"s.start_at": to}).
		Where(sq.GtOrEq{"s.end_at": from}).
		OrderBy("s.start_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build availability query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotOccupancy
	for rows.Next() {
		var active, waiting int
		slot, err := scanSlot(rows, &active, &waiting)
		if err != nil {
			return nil, err
		}
		result = append(result, SlotOccupancy{Slot: *slot, ActiveCount: active, WaitingCount: waiting})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, r.pool, id, false)
}

func (r *PgRepository) ListAppointments(ctx context.Context, userID *uuid.UUID, limit, offset int) ([]Appointment, int, error) {
	count := psql.Select("COUNT(*)").From("appointments")
	list := psql.Select(appointmentColumns).
		From("appointments").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if userID != nil {
		count = count.Where(sq.Eq{"user_id": userID.String()})
		list = list.Where(sq.Eq{"user_id": userID.String()})
	}

	countSQL, countArgs, err := count.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listSQL, listArgs, err := list.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	rows, err := r.pool.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (r *PgRepository) ListStatusHistory(ctx context.Context, appointmentID uuid.UUID) ([]StatusHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+historyColumns+`
		FROM appointment_status_history
		WHERE appointment_id = $1
		ORDER BY created_at ASC, id ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StatusHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ListWaitingTickets(ctx context.Context, serviceID uuid.UUID) ([]QueueTicket, error) {
	return listWaitingTickets(ctx, r.pool, serviceID)
}

func (r *PgRepository) FindExpiredHolds(ctx context.Context, now time.Time) ([]QueueTicket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE status = 'NOTIFIED'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		ORDER BY expires_at ASC
	`, now)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

// pgTx implements Tx over an open pgx transaction.
type pgTx struct {
	q queryable
}

func (t *pgTx) GetService(ctx context.Context, id uuid.UUID) (*ServiceInfo, error) {
	return getService(ctx, t.q, id)
}

func (t *pgTx) GetSlot(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error) {
	row := t.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM appointment_slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (t *pgTx) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*AppointmentSlot, error) {
	row := t.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM appointment_slots WHERE id = $1 FOR UPDATE`, id)
	return scanSlot(row)
}

func (t *pgTx) UpdateSlotStatus(ctx context.Context, id uuid.UUID, status SlotStatus) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointment_slots
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (t *pgTx) CountActiveAppointments(ctx context.Context, slotID uuid.UUID, exclude *uuid.UUID) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE slot_id = $1
		  AND status <> 'CANCELLED'
		  AND ($2::uuid IS NULL OR id <> $2)
	`, slotID, exclude).Scan(&n)
	return n, err
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, t.q, id, true)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.UserID, a.ServiceID, a.SlotID, a.QueueTicketID, string(a.Status),
		a.ScheduledAt, a.Timezone, a.Locale, a.Notes, a.CreatedAt, a.UpdatedAt)
	return err
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    status = $3,
		    scheduled_at = $4,
		    timezone = $5,
		    notes = $6,
		    updated_at = $7
		WHERE id = $1
	`, a.ID, a.SlotID, string(a.Status), a.ScheduledAt, a.Timezone, a.Notes, a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) InsertStatusHistory(ctx context.Context, h *StatusHistory) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO appointment_status_history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, h.ID, h.AppointmentID, string(h.Event), statusPtr(h.FromStatus), string(h.ToStatus),
		h.ActorID, h.Notes, h.CreatedAt)
	return err
}

func (t *pgTx) LockServiceQueue(ctx context.Context, serviceID uuid.UUID) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, serviceID.String())
	return err
}

func (t *pgTx) GetTicket(ctx context.Context, id uuid.UUID) (*QueueTicket, error) {
	row := t.q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM queue_tickets WHERE id = $1`, id)
	return scanTicket(row)
}

func (t *pgTx) GetTicketForUpdate(ctx context.Context, id uuid.UUID) (*QueueTicket, error) {
	row := t.q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM queue_tickets WHERE id = $1 FOR UPDATE`, id)
	return scanTicket(row)
}

func (t *pgTx) InsertTicket(ctx context.Context, q *QueueTicket) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO queue_tickets (`+ticketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, q.ID, q.UserID, q.ServiceID, q.SlotID, string(q.Status), q.Position, q.DesiredFrom, q.DesiredTo,
		q.Timezone, q.NotifiedAt, q.ExpiresAt, q.Notes, q.CreatedAt, q.UpdatedAt)
	return err
}

func (t *pgTx) UpdateTicket(ctx context.Context, q *QueueTicket) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE queue_tickets
		SET slot_id = $2,
		    status = $3,
		    position = $4,
		    notified_at = $5,
		    expires_at = $6,
		    notes = $7,
		    updated_at = $8
		WHERE id = $1
	`, q.ID, q.SlotID, string(q.Status), q.Position, q.NotifiedAt, q.ExpiresAt, q.Notes, q.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (t *pgTx) UpdateTicketPosition(ctx context.Context, id uuid.UUID, position int) error {
	_, err := t.q.Exec(ctx, `
		UPDATE queue_tickets
		SET position = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, position)
	return err
}

func (t *pgTx) CountWaitingTickets(ctx context.Context, serviceID uuid.UUID, exclude *uuid.UUID) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_tickets
		WHERE service_id = $1
		  AND status = 'WAITING'
		  AND ($2::uuid IS NULL OR id <> $2)
	`, serviceID, exclude).Scan(&n)
	return n, err
}

func (t *pgTx) ListWaitingTickets(ctx context.Context, serviceID uuid.UUID) ([]QueueTicket, error) {
	return listWaitingTickets(ctx, t.q, serviceID)
}
