package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
)

// Postgres error codes that mean another writer holds the slot. A
// serialization failure only does once retries are exhausted.
const (
	pgUniqueViolation      = "23505"
	pgExclusionViolation   = "23P01"
	pgSerializationFailure = "40001"
)

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type pgDB interface {
	pgQuerier
	pgBeginner
}

// PostgresStore stores bookings in Postgres. Transactions run at serializable
// isolation; the bookings_no_overlap exclusion constraint is the backstop
// against concurrent double booking.
type PostgresStore struct {
	db       pgQuerier
	beginner pgBeginner
}

// NewPostgresStore creates a store backed by a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &PostgresStore{db: pool, beginner: pool}
}

// NewPostgresStoreWithDB allows injecting mocks for tests.
func NewPostgresStoreWithDB(db pgDB) *PostgresStore {
	return &PostgresStore{db: db, beginner: db}
}

const bookingColumns = `id, center, date, slot_start_utc, slot_end_utc, client_name, phone,
		phone_normalized, category, session_duration, session_type, notes, status,
		attendance_status, standard_price, actual_price, price_notes, follow_up_notes,
		session_confirmed, confirmed_at, confirmed_by, shared_slot, notification_sent,
		created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*Booking, error) {
	var (
		b                                         Booking
		center, category, sessionType, status     string
		attendance                                *string
		date                                      time.Time
	)
	if err := row.Scan(
		&b.ID, &center, &date, &b.SlotStartUTC, &b.SlotEndUTC, &b.ClientName, &b.Phone,
		&b.PhoneNormalized, &category, &b.SessionDuration, &sessionType, &b.Notes, &status,
		&attendance, &b.StandardPrice, &b.ActualPrice, &b.PriceNotes, &b.FollowUpNotes,
		&b.SessionConfirmed, &b.ConfirmedAt, &b.ConfirmedBy, &b.SharedSlot, &b.NotificationSent,
		&b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Center = catalog.Center(center)
	b.Category = catalog.Category(category)
	b.SessionType = catalog.SessionType(sessionType)
	b.Status = catalog.Status(status)
	if attendance != nil {
		b.AttendanceStatus = catalog.Attendance(*attendance)
	}
	b.Date = clinictime.Date{Year: date.Year(), Month: date.Month(), Day: date.Day()}
	b.SlotStartUTC = b.SlotStartUTC.UTC()
	b.SlotEndUTC = b.SlotEndUTC.UTC()
	return &b, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	b, err := scanBooking(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError("get", err)
	}
	return b, nil
}

// buildListQuery turns a Query into SQL with positional arguments.
func buildListQuery(q Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(q.Centers) > 0 {
		centers := make([]string, len(q.Centers))
		for i, c := range q.Centers {
			centers[i] = string(c)
		}
		add("center = ANY($%d)", centers)
	}
	if !q.From.IsZero() {
		add("date >= $%d::date", q.From.String())
	}
	if !q.To.IsZero() {
		add("date <= $%d::date", q.To.String())
	}
	if q.Category != "" {
		add("category = $%d", string(q.Category))
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if q.UnconfirmedOnly {
		conds = append(conds, "NOT session_confirmed")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(bookingColumns)
	sb.WriteString(" FROM bookings")
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY slot_start_utc, created_at")
	return sb.String(), args
}

func (s *PostgresStore) List(ctx context.Context, q Query) ([]*Booking, error) {
	query, args := buildListQuery(q)
	return s.queryBookings(ctx, "list", query, args...)
}

func (s *PostgresStore) FindActiveByPhone(ctx context.Context, digits string) ([]*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = 'booked' AND strpos(phone_normalized, $1) > 0
		ORDER BY slot_start_utc`
	return s.queryBookings(ctx, "find by phone", query, digits)
}

func (s *PostgresStore) FindActiveByName(ctx context.Context, name string) ([]*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE status = 'booked' AND lower(btrim(client_name)) = lower($1)
		ORDER BY slot_start_utc`
	return s.queryBookings(ctx, "find by name", query, strings.TrimSpace(name))
}

func (s *PostgresStore) queryBookings(ctx context.Context, op, query string, args ...any) ([]*Booking, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, mapError(op+" scan", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}

func (s *PostgresStore) Insert(ctx context.Context, b *Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25)
	`
	if _, err := s.db.Exec(ctx, query, bookingArgs(b)...); err != nil {
		return mapError("insert", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, b *Booking) error {
	query := `
		UPDATE bookings SET
			center = $2, date = $3::date, slot_start_utc = $4, slot_end_utc = $5,
			client_name = $6, phone = $7, phone_normalized = $8, category = $9,
			session_duration = $10, session_type = $11, notes = $12, status = $13,
			attendance_status = $14, standard_price = $15, actual_price = $16,
			price_notes = $17, follow_up_notes = $18, session_confirmed = $19,
			confirmed_at = $20, confirmed_by = $21, shared_slot = $22,
			notification_sent = $23, created_at = $24, updated_at = $25
		WHERE id = $1
	`
	ct, err := s.db.Exec(ctx, query, bookingArgs(b)...)
	if err != nil {
		return mapError("update", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func bookingArgs(b *Booking) []any {
	var attendance *string
	if b.AttendanceStatus != catalog.AttendancePending {
		v := string(b.AttendanceStatus)
		attendance = &v
	}
	return []any{
		b.ID, string(b.Center), b.Date.String(), b.SlotStartUTC, b.SlotEndUTC,
		b.ClientName, b.Phone, b.PhoneNormalized, string(b.Category), b.SessionDuration,
		string(b.SessionType), b.Notes, string(b.Status), attendance, b.StandardPrice,
		b.ActualPrice, b.PriceNotes, b.FollowUpNotes, b.SessionConfirmed, b.ConfirmedAt,
		b.ConfirmedBy, b.SharedSlot, b.NotificationSent, b.CreatedAt, b.UpdatedAt,
	}
}

func (s *PostgresStore) MarkNotified(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE bookings SET notification_sent = true, updated_at = now() WHERE id = $1`
	ct, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return mapError("mark notified", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Serializable transactions aborted with 40001 are retried this many times in
// total before the failure is reported as a slot conflict.
const (
	maxTxAttempts = 3
	txRetryDelay  = 20 * time.Millisecond
)

// RunInTx runs fn in a serializable transaction, retrying serialization
// failures. Inside a transaction it just calls fn.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if s.beginner == nil {
		return fn(s)
	}
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isSerializationFailure(err) || attempt == maxTxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * txRetryDelay):
		}
	}
	return err
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := s.beginner.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapError("begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError("commit", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure
}

// mapError translates driver errors into the package's sentinels.
func mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgExclusionViolation:
			return fmt.Errorf("bookings: %s: %w: %s", op, ErrSlotConflict, pgErr.Message)
		case pgSerializationFailure:
			// Keep the driver error so RunInTx can tell it apart and retry.
			return fmt.Errorf("bookings: %s: %w: %w", op, ErrSlotConflict, err)
		}
	}
	return fmt.Errorf("bookings: %s: %w: %w", op, ErrStore, err)
}
