package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"

	"github.com/laserostop/booking-calendar/internal/events"
	"github.com/laserostop/booking-calendar/internal/observability/metrics"
	"github.com/laserostop/booking-calendar/internal/settings"
	"github.com/laserostop/booking-calendar/pkg/logging"
)

// Notification outcomes recorded in metrics.
const (
	outcomeSent    = "sent"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
	outcomeInvalid = "invalid"
)

// SettingsReader supplies the recipient and the email switch.
type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// NotifiedMarker flags a booking once its creation email went out.
type NotifiedMarker interface {
	MarkNotified(ctx context.Context, id uuid.UUID) error
}

// BookingMailer turns booking outbox events into staff emails.
type BookingMailer struct {
	sender   EmailSender
	settings SettingsReader
	marker   NotifiedMarker
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
}

// NewBookingMailer wires the mailer. marker and m may be nil.
func NewBookingMailer(sender EmailSender, st SettingsReader, marker NotifiedMarker, m *metrics.BookingMetrics, logger *logging.Logger) *BookingMailer {
	if sender == nil {
		panic("notify: email sender required")
	}
	if st == nil {
		panic("notify: settings reader required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingMailer{sender: sender, settings: st, marker: marker, metrics: m, logger: logger}
}

// Handle implements events.DeliveryHandler. Only a settings lookup failure is
// returned, so the entry is retried; send failures are logged and dropped.
func (m *BookingMailer) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != events.BookingCreated && entry.Type != events.BookingCancelled {
		m.logger.Debug("notify: ignoring event", "type", entry.Type, "event_id", entry.ID)
		return nil
	}

	var evt events.BookingEventV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		m.logger.Error("notify: undecodable booking event", "error", err, "event_id", entry.ID)
		m.metrics.ObserveNotification(entry.Type, outcomeInvalid)
		return nil
	}

	prefs, err := m.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("notify: load settings: %w", err)
	}
	if prefs.NotificationEmail == "" {
		m.logger.Debug("notify: no recipient configured", "type", entry.Type, "booking_id", evt.BookingID)
		m.metrics.ObserveNotification(entry.Type, outcomeSkipped)
		return nil
	}
	if entry.Type == events.BookingCancelled && !prefs.EmailEnabled {
		m.logger.Debug("notify: cancellation emails disabled", "booking_id", evt.BookingID)
		m.metrics.ObserveNotification(entry.Type, outcomeSkipped)
		return nil
	}

	msg := bookingEmail(entry.Type, evt)
	msg.To = prefs.NotificationEmail
	msg.Kind = entry.Type
	msg.Center = evt.Center
	msg.BookingID = evt.BookingID
	if err := m.sender.Send(ctx, msg); err != nil {
		m.logger.Error("notify: booking email failed", "error", err, "type", entry.Type, "booking_id", evt.BookingID)
		m.metrics.ObserveNotification(entry.Type, outcomeFailed)
		return nil
	}
	m.metrics.ObserveNotification(entry.Type, outcomeSent)

	if entry.Type == events.BookingCreated && m.marker != nil {
		id, err := uuid.Parse(evt.BookingID)
		if err == nil {
			err = m.marker.MarkNotified(ctx, id)
		}
		if err != nil {
			m.logger.Warn("notify: failed to flag booking as notified", "error", err, "booking_id", evt.BookingID)
		}
	}
	return nil
}

func bookingEmail(eventType string, evt events.BookingEventV1) EmailMessage {
	heading := "Nouvelle réservation"
	if eventType == events.BookingCancelled {
		heading = "Réservation annulée"
	}
	subject := fmt.Sprintf("%s - %s (%s %s)", heading, evt.ClientName, evt.Date, evt.LocalStart)

	lines := [][2]string{
		{"Client", evt.ClientName},
		{"Téléphone", evt.Phone},
		{"Centre", evt.Center},
		{"Date", fmt.Sprintf("%s %s", evt.DayOfWeek, evt.Date)},
		{"Horaire", fmt.Sprintf("%s - %s", evt.LocalStart, evt.LocalEnd)},
		{"Catégorie", evt.CategoryLabel},
		{"Séance", fmt.Sprintf("%s, %d min", evt.SessionType, evt.SessionDuration)},
	}
	if evt.Notes != "" {
		lines = append(lines, [2]string{"Notes", evt.Notes})
	}

	var text, rich strings.Builder
	text.WriteString(heading + "\n\n")
	rich.WriteString("<h2>" + html.EscapeString(heading) + "</h2><table>")
	for _, l := range lines {
		fmt.Fprintf(&text, "%s : %s\n", l[0], l[1])
		fmt.Fprintf(&rich, "<tr><td><strong>%s</strong></td><td>%s</td></tr>", html.EscapeString(l[0]), html.EscapeString(l[1]))
	}
	rich.WriteString("</table>")

	return EmailMessage{Subject: subject, Body: text.String(), HTML: rich.String()}
}
