package bookings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
)

var bookingRowColumns = []string{
	"id", "center", "date", "slot_start_utc", "slot_end_utc", "client_name", "phone",
	"phone_normalized", "category", "session_duration", "session_type", "notes", "status",
	"attendance_status", "standard_price", "actual_price", "price_notes", "follow_up_notes",
	"session_confirmed", "confirmed_at", "confirmed_by", "shared_slot", "notification_sent",
	"created_at", "updated_at",
}

func bookingRow(rows *pgxmock.Rows, id uuid.UUID, start time.Time) *pgxmock.Rows {
	created := start.Add(-24 * time.Hour)
	return rows.AddRow(
		id, "tunis", time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		start, start.Add(time.Hour), "Sami Ben Ali", "+216 22 123 456",
		"22123456", "tabac", 60, "solo", "", "booked",
		(*string)(nil), 500.0, (*float64)(nil), "", "",
		false, (*time.Time)(nil), "", false, false,
		created, created,
	)
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresStoreWithDB(mock)
}

func TestPostgresStoreGetScansBooking(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()
	start := time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM bookings WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(bookingRow(pgxmock.NewRows(bookingRowColumns), id, start))

	b, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, b.ID)
	assert.Equal(t, catalog.CenterTunis, b.Center)
	assert.Equal(t, catalog.CategoryTabac, b.Category)
	assert.Equal(t, clinictime.MustDate("2024-06-11"), b.Date)
	assert.Equal(t, catalog.AttendancePending, b.AttendanceStatus)
	assert.Nil(t, b.ActualPrice)
	assert.Equal(t, 500.0, b.StandardPrice)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM bookings WHERE id = \\$1").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildListQuery(t *testing.T) {
	query, args := buildListQuery(Query{
		Centers:         []catalog.Center{catalog.CenterSfax},
		From:            clinictime.MustDate("2024-06-10"),
		To:              clinictime.MustDate("2024-06-15"),
		Category:        catalog.CategoryTabac,
		Statuses:        []catalog.Status{catalog.StatusBooked},
		UnconfirmedOnly: true,
	})

	assert.Contains(t, query, "center = ANY($1)")
	assert.Contains(t, query, "date >= $2::date")
	assert.Contains(t, query, "date <= $3::date")
	assert.Contains(t, query, "category = $4")
	assert.Contains(t, query, "status = ANY($5)")
	assert.Contains(t, query, "NOT session_confirmed")
	assert.Contains(t, query, "ORDER BY slot_start_utc")
	assert.Equal(t, []any{[]string{"sfax"}, "2024-06-10", "2024-06-15", "tabac", []string{"booked"}}, args)

	bare, none := buildListQuery(Query{})
	assert.NotContains(t, bare, "WHERE")
	assert.Empty(t, none)
}

func TestPostgresStoreListOrdersRows(t *testing.T) {
	mock, store := newMockStore(t)
	first, second := uuid.New(), uuid.New()
	start := time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(bookingRowColumns)
	bookingRow(rows, first, start)
	bookingRow(rows, second, start.Add(time.Hour))
	mock.ExpectQuery("SELECT .+ FROM bookings WHERE center = ANY").
		WithArgs([]string{"tunis"}).
		WillReturnRows(rows)

	list, err := store.List(context.Background(), Query{Centers: []catalog.Center{catalog.CenterTunis}})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, second, list[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreInsertMapsConstraintViolations(t *testing.T) {
	for _, code := range []string{"23505", "23P01", "40001"} {
		t.Run(code, func(t *testing.T) {
			mock, store := newMockStore(t)
			b := sampleBooking(catalog.CenterTunis, time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC))

			mock.ExpectExec("INSERT INTO bookings").
				WithArgs(bookingArgs(b)...).
				WillReturnError(&pgconn.PgError{Code: code, Message: "bookings_no_overlap"})

			err := store.Insert(context.Background(), b)
			assert.ErrorIs(t, err, ErrSlotConflict)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStoreInsertWrapsOtherErrors(t *testing.T) {
	mock, store := newMockStore(t)
	b := sampleBooking(catalog.CenterTunis, time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC))

	mock.ExpectExec("INSERT INTO bookings").
		WithArgs(bookingArgs(b)...).
		WillReturnError(errors.New("connection reset"))

	err := store.Insert(context.Background(), b)
	assert.ErrorIs(t, err, ErrStore)
	assert.NotErrorIs(t, err, ErrSlotConflict)
}

func TestPostgresStoreUpdateMissingRow(t *testing.T) {
	mock, store := newMockStore(t)
	b := sampleBooking(catalog.CenterSfax, time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC))

	mock.ExpectExec("UPDATE bookings SET").
		WithArgs(bookingArgs(b)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.ErrorIs(t, store.Update(context.Background(), b), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMarkNotified(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE bookings SET notification_sent = true").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkNotified(context.Background(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRunInTxCommits(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec("UPDATE bookings SET notification_sent = true").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(tx Store) error {
		return tx.MarkNotified(context.Background(), id)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRunInTxRollsBackOnError(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(tx Store) error {
		return ErrInvalidState
	})
	assert.ErrorIs(t, err, ErrInvalidState)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRunInTxRetriesSerializationFailure(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec("UPDATE bookings SET notification_sent = true").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec("UPDATE bookings SET notification_sent = true").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	calls := 0
	err := store.RunInTx(context.Background(), func(tx Store) error {
		calls++
		return tx.MarkNotified(context.Background(), id)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRunInTxRetriesStatementSerializationFailure(t *testing.T) {
	mock, store := newMockStore(t)
	id := uuid.New()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec("UPDATE bookings SET notification_sent = true").
		WithArgs(id).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec("UPDATE bookings SET notification_sent = true").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(tx Store) error {
		return tx.MarkNotified(context.Background(), id)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRunInTxSerializationFailurePersists(t *testing.T) {
	mock, store := newMockStore(t)

	for i := 0; i < maxTxAttempts; i++ {
		mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
		mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})
		mock.ExpectRollback()
	}

	calls := 0
	err := store.RunInTx(context.Background(), func(tx Store) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.Equal(t, maxTxAttempts, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRunInTxExclusionViolationNotRetried(t *testing.T) {
	mock, store := newMockStore(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "23P01", Message: "bookings_no_overlap"})
	mock.ExpectRollback()

	calls := 0
	err := store.RunInTx(context.Background(), func(tx Store) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrSlotConflict)
	assert.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func sampleBooking(center catalog.Center, start time.Time) *Booking {
	b := &Booking{
		ID:              uuid.New(),
		Center:          center,
		ClientName:      "Sami Ben Ali",
		Phone:           "+216 22 123 456",
		PhoneNormalized: "22123456",
		Category:        catalog.CategoryTabac,
		SessionDuration: 60,
		SessionType:     catalog.SessionSolo,
		Status:          catalog.StatusBooked,
		StandardPrice:   500,
		CreatedAt:       start.Add(-time.Hour),
		UpdatedAt:       start.Add(-time.Hour),
	}
	b.placeAt(start)
	return b
}
