package bookings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
)

func TestMemoryStoreRejectsOverlapOutsideTx(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, sampleBooking(catalog.CenterTunis, start)))
	err := store.Insert(ctx, sampleBooking(catalog.CenterTunis, start.Add(30*time.Minute)))
	assert.ErrorIs(t, err, ErrSlotConflict)

	require.NoError(t, store.Insert(ctx, sampleBooking(catalog.CenterSfax, start)))
	require.NoError(t, store.Insert(ctx, sampleBooking(catalog.CenterTunis, start.Add(time.Hour))))

	shared := sampleBooking(catalog.CenterTunis, start)
	shared.SharedSlot = true
	require.NoError(t, store.Insert(ctx, shared))

	cancelled := sampleBooking(catalog.CenterTunis, start)
	cancelled.Status = catalog.StatusCancelled
	require.NoError(t, store.Insert(ctx, cancelled))
}

func TestMemoryStoreTxRollsBack(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	b := sampleBooking(catalog.CenterTunis, time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC))
	require.NoError(t, store.Insert(ctx, b))

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(tx Store) error {
		got, err := tx.Get(ctx, b.ID)
		require.NoError(t, err)
		got.Status = catalog.StatusCancelled
		require.NoError(t, tx.Update(ctx, got))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusBooked, got.Status)
}

func TestMemoryStoreTxDefersSlotCheckToCommit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	a := sampleBooking(catalog.CenterTunis, time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC))
	b := sampleBooking(catalog.CenterTunis, time.Date(2024, 6, 11, 10, 0, 0, 0, time.UTC))
	require.NoError(t, store.Insert(ctx, a))
	require.NoError(t, store.Insert(ctx, b))

	// Swap the two bookings; the intermediate state overlaps.
	err := store.RunInTx(ctx, func(tx Store) error {
		gotB, _ := tx.Get(ctx, b.ID)
		gotB.placeAt(a.SlotStartUTC)
		if err := tx.Update(ctx, gotB); err != nil {
			return err
		}
		gotA, _ := tx.Get(ctx, a.ID)
		gotA.placeAt(b.SlotStartUTC)
		return tx.Update(ctx, gotA)
	})
	require.NoError(t, err)

	// Leaving the overlap in place fails at commit.
	err = store.RunInTx(ctx, func(tx Store) error {
		gotB, _ := tx.Get(ctx, b.ID)
		gotB.placeAt(b.SlotStartUTC.Add(30 * time.Minute))
		return tx.Update(ctx, gotB)
	})
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestMemoryStoreQueries(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	early := sampleBooking(catalog.CenterTunis, time.Date(2024, 6, 11, 7, 0, 0, 0, time.UTC))
	late := sampleBooking(catalog.CenterTunis, time.Date(2024, 6, 12, 7, 0, 0, 0, time.UTC))
	late.ClientName = "Leila"
	late.PhoneNormalized = "98765432"
	late.Category = catalog.CategoryDrogue
	require.NoError(t, store.Insert(ctx, late))
	require.NoError(t, store.Insert(ctx, early))

	all, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, early.ID, all[0].ID)

	day, err := store.List(ctx, Query{From: clinictime.MustDate("2024-06-12"), To: clinictime.MustDate("2024-06-12")})
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, late.ID, day[0].ID)

	drogue, err := store.List(ctx, Query{Category: catalog.CategoryDrogue})
	require.NoError(t, err)
	assert.Len(t, drogue, 1)

	byPhone, err := store.FindActiveByPhone(ctx, "765432")
	require.NoError(t, err)
	require.Len(t, byPhone, 1)
	assert.Equal(t, late.ID, byPhone[0].ID)

	byName, err := store.FindActiveByName(ctx, "LEILA")
	require.NoError(t, err)
	assert.Len(t, byName, 1)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Update(ctx, sampleBooking(catalog.CenterSfax, time.Now())), ErrNotFound)

	require.NoError(t, store.MarkNotified(ctx, early.ID))
	got, err := store.Get(ctx, early.ID)
	require.NoError(t, err)
	assert.True(t, got.NotificationSent)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	b := sampleBooking(catalog.CenterTunis, time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC))
	require.NoError(t, store.Insert(ctx, b))

	got, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	got.ClientName = "mutated"

	again, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sami Ben Ali", again.ClientName)
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"+216 22 123 456":  "22123456",
		"00216 22 123 456": "22123456",
		"022 123 456":      "22123456",
		"22123456":         "22123456",
		" 71 000 000 ":     "71000000",
		"":                 "",
	}
	for in, expected := range tests {
		assert.Equal(t, expected, NormalizePhone(in), in)
	}
}

func TestCheckConflictHalfOpen(t *testing.T) {
	a := sampleBooking(catalog.CenterTunis, time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC))
	snapshot := []*Booking{a}

	adjacent := clinictime.NewInterval(a.SlotEndUTC, 30)
	assert.Nil(t, CheckConflict(snapshot, catalog.CenterTunis, adjacent))

	inside := clinictime.NewInterval(a.SlotStartUTC.Add(30*time.Minute), 30)
	assert.Equal(t, a, CheckConflict(snapshot, catalog.CenterTunis, inside))
	assert.Nil(t, CheckConflict(snapshot, catalog.CenterTunis, inside, a.ID))
	assert.Nil(t, CheckConflict(snapshot, catalog.CenterSfax, inside))
}

func TestNextFreeSlotNeverLooksBack(t *testing.T) {
	engine := NewEngine(nil)
	date := clinictime.MustDate("2024-06-11")
	a := sampleBooking(catalog.CenterTunis, time.Date(2024, 6, 11, 10, 0, 0, 0, time.UTC))

	slot, ok := engine.NextFreeSlot([]*Booking{a}, catalog.CenterTunis, date, 4, 60, testNow, nil)
	require.True(t, ok)
	assert.Equal(t, clinictime.MustClock("12:00"), slot.Start)

	_, ok = engine.NextFreeSlot(nil, catalog.CenterTunis, date, 22, 60, testNow, nil)
	assert.False(t, ok, "19:30 + 60 runs past closing")
}
