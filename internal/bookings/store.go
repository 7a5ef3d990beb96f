package bookings

import (
	"context"

	"github.com/google/uuid"

	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
)

// Query filters List. Zero values mean "no filter"; From and To are inclusive
// local dates.
type Query struct {
	Centers         []catalog.Center
	From            clinictime.Date
	To              clinictime.Date
	Category        catalog.Category
	Statuses        []catalog.Status
	UnconfirmedOnly bool
}

// Store persists bookings. Implementations must make RunInTx atomic and
// isolated: the store handed to fn sees a consistent snapshot and its writes
// are applied all-or-nothing.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Booking, error)
	// List returns matching bookings ordered by slot start.
	List(ctx context.Context, q Query) ([]*Booking, error)
	// FindActiveByPhone returns booked rows whose normalized phone contains digits.
	FindActiveByPhone(ctx context.Context, digits string) ([]*Booking, error)
	// FindActiveByName returns booked rows whose client name equals name, ignoring case.
	FindActiveByName(ctx context.Context, name string) ([]*Booking, error)
	Insert(ctx context.Context, b *Booking) error
	Update(ctx context.Context, b *Booking) error
	MarkNotified(ctx context.Context, id uuid.UUID) error
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

// activeOnDay loads the booked rows of one center and date.
func activeOnDay(ctx context.Context, st Store, center catalog.Center, day clinictime.Date) ([]*Booking, error) {
	return st.List(ctx, Query{
		Centers:  []catalog.Center{center},
		From:     day,
		To:       day,
		Statuses: []catalog.Status{catalog.StatusBooked},
	})
}
