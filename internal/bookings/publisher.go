package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/laserostop/booking-calendar/internal/clinictime"
	"github.com/laserostop/booking-calendar/internal/events"
)

// OutboxPublisher writes booking events to an outbox for the notification
// deliverer.
type OutboxPublisher struct {
	outbox events.Outbox
}

func NewOutboxPublisher(outbox events.Outbox) *OutboxPublisher {
	if outbox == nil {
		panic("bookings: outbox required")
	}
	return &OutboxPublisher{outbox: outbox}
}

func (p *OutboxPublisher) Publish(ctx context.Context, eventType string, b *Booking) error {
	_, err := p.outbox.Insert(ctx, b.ID.String(), eventType, EventPayload(b))
	return err
}

// EventPayload renders a booking as a versioned event payload.
func EventPayload(b *Booking) events.BookingEventV1 {
	view := NewLocalView(b)
	return events.BookingEventV1{
		EventID:         uuid.NewString(),
		BookingID:       b.ID.String(),
		Center:          string(b.Center),
		ClientName:      b.ClientName,
		Phone:           b.Phone,
		Category:        string(b.Category),
		CategoryLabel:   b.Category.Label(),
		SessionType:     string(b.SessionType),
		SessionDuration: b.SessionDuration,
		Date:            clinictime.DateOf(b.SlotStartUTC).String(),
		DayOfWeek:       view.DayOfWeek,
		LocalStart:      view.LocalStartTime,
		LocalEnd:        view.LocalEndTime,
		Notes:           b.Notes,
		OccurredAt:      time.Now().UTC(),
	}
}
