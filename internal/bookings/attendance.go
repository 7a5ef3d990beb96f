package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
)

const (
	confirmedBySession = "suivi_app"
	confirmedByBatch   = "batch_operation"

	batchPriceNotesStandard = "Confirmation en lot - prix standard"
	batchPriceNotes         = "Confirmation en lot"
	batchFollowUpNotes      = "Confirmation en lot automatique"
)

// ConfirmRequest records the outcome of a session.
type ConfirmRequest struct {
	SessionID        uuid.UUID `json:"session_id"`
	AttendanceStatus string    `json:"attendance_status"`
	ActualPrice      *float64  `json:"actual_price"`
	PriceNotes       string    `json:"price_notes"`
	FollowUpNotes    string    `json:"follow_up_notes"`
}

// ConfirmResult is the updated booking plus the fields derived from the outcome.
type ConfirmResult struct {
	Booking       *Booking              `json:"booking"`
	PaymentStatus catalog.PaymentStatus `json:"payment_status"`
}

// ConfirmAttendance records attendance and price for a booked session and
// moves it to its terminal status.
func (s *Service) ConfirmAttendance(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.confirm_attendance")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.booking_id", req.SessionID.String()))
	started := time.Now()

	res, err := s.confirmAttendance(ctx, req, confirmedBySession)
	s.observe("confirm_attendance", started, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("session confirmed",
		"booking_id", res.Booking.ID,
		"attendance", res.Booking.AttendanceStatus,
		"payment_status", res.PaymentStatus,
	)
	return res, nil
}

func (s *Service) confirmAttendance(ctx context.Context, req ConfirmRequest, confirmedBy string) (*ConfirmResult, error) {
	if req.SessionID == uuid.Nil {
		return nil, fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	attendance, err := catalog.ParseAttendance(req.AttendanceStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.ActualPrice == nil {
		return nil, fmt.Errorf("%w: actual_price is required", ErrValidation)
	}
	if *req.ActualPrice < 0 {
		return nil, fmt.Errorf("%w: actual_price cannot be negative", ErrValidation)
	}
	price := RoundMoney(*req.ActualPrice)

	var updated *Booking
	err = s.store.RunInTx(ctx, func(tx Store) error {
		b, err := tx.Get(ctx, req.SessionID)
		if err != nil {
			return err
		}
		if !b.IsActive() {
			return fmt.Errorf("%w: booking %s is %s", ErrInvalidState, b.ID, b.Status)
		}
		now := s.now()
		b.AttendanceStatus = attendance
		b.Status = attendance.ResultingStatus()
		b.ActualPrice = &price
		b.PriceNotes = strings.TrimSpace(req.PriceNotes)
		b.FollowUpNotes = strings.TrimSpace(req.FollowUpNotes)
		b.SessionConfirmed = true
		b.ConfirmedAt = &now
		b.ConfirmedBy = confirmedBy
		b.UpdatedAt = now
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		if !b.IsActive() {
			if err := s.releaseShared(ctx, tx, b.Center, b.Date, b.Interval()); err != nil {
				return err
			}
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{
		Booking:       updated,
		PaymentStatus: catalog.DerivePaymentStatus(updated.Category, updated.ActualPrice),
	}, nil
}

// BatchConfirmRequest confirms several sessions with one outcome.
type BatchConfirmRequest struct {
	SessionIDs        []uuid.UUID `json:"session_ids"`
	AttendanceStatus  string      `json:"attendance_status"`
	UseStandardPrices bool        `json:"use_standard_prices"`
	CustomPrice       *float64    `json:"custom_price,omitempty"`
	FollowUpNotes     string      `json:"follow_up_notes"`
}

// BatchItemResult is the outcome for one session id.
type BatchItemResult struct {
	BookingID   uuid.UUID `json:"booking_id"`
	ClientName  string    `json:"client_name,omitempty"`
	Success     bool      `json:"success"`
	ActualPrice *float64  `json:"actual_price,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// BatchConfirmResult aggregates a batch run.
type BatchConfirmResult struct {
	UpdatedCount int               `json:"updated_count"`
	ErrorCount   int               `json:"error_count"`
	TotalRevenue float64           `json:"total_revenue"`
	Results      []BatchItemResult `json:"results"`
}

// BatchConfirm confirms sessions one after another. A failing id is reported
// and does not stop the rest.
func (s *Service) BatchConfirm(ctx context.Context, req BatchConfirmRequest) (*BatchConfirmResult, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.batch_confirm")
	defer span.End()
	span.SetAttributes(attribute.Int("clinic.batch_size", len(req.SessionIDs)))
	started := time.Now()

	if len(req.SessionIDs) == 0 {
		return nil, fmt.Errorf("%w: session_ids is required", ErrValidation)
	}
	if _, err := catalog.ParseAttendance(req.AttendanceStatus); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.CustomPrice != nil && *req.CustomPrice < 0 {
		return nil, fmt.Errorf("%w: custom_price cannot be negative", ErrValidation)
	}

	priceNotes := batchPriceNotes
	if req.UseStandardPrices {
		priceNotes = batchPriceNotesStandard
	}
	followUp := strings.TrimSpace(req.FollowUpNotes)
	if followUp == "" {
		followUp = batchFollowUpNotes
	}

	out := &BatchConfirmResult{Results: make([]BatchItemResult, 0, len(req.SessionIDs))}
	for _, id := range req.SessionIDs {
		item := BatchItemResult{BookingID: id}
		res, err := s.confirmBatchItem(ctx, id, req, priceNotes, followUp)
		if err != nil {
			item.Error = err.Error()
			if errors.Is(err, ErrStore) {
				item.Error = "store failure"
			}
			if b, getErr := s.store.Get(ctx, id); getErr == nil {
				item.ClientName = b.ClientName
			}
			out.ErrorCount++
			s.logger.Warn("batch confirm item failed", "booking_id", id, "error", err)
		} else {
			item.Success = true
			item.ClientName = res.Booking.ClientName
			item.ActualPrice = res.Booking.ActualPrice
			out.UpdatedCount++
			out.TotalRevenue += *res.Booking.ActualPrice
		}
		out.Results = append(out.Results, item)
	}
	out.TotalRevenue = RoundMoney(out.TotalRevenue)
	s.observe("batch_confirm", started, nil)
	s.logger.Info("batch confirm finished", "updated", out.UpdatedCount, "errors", out.ErrorCount)
	return out, nil
}

func (s *Service) confirmBatchItem(ctx context.Context, id uuid.UUID, req BatchConfirmRequest, priceNotes, followUp string) (*ConfirmResult, error) {
	price := 0.0
	switch {
	case req.UseStandardPrices:
		b, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		price = b.Category.StandardPrice()
	case req.CustomPrice != nil:
		price = *req.CustomPrice
	}
	return s.confirmAttendance(ctx, ConfirmRequest{
		SessionID:        id,
		AttendanceStatus: req.AttendanceStatus,
		ActualPrice:      &price,
		PriceNotes:       priceNotes,
		FollowUpNotes:    followUp,
	}, confirmedByBatch)
}

// DateFilter selects the window of PendingSessions.
type DateFilter string

const (
	FilterToday     DateFilter = "today"
	FilterYesterday DateFilter = "yesterday"
	FilterWeek      DateFilter = "week"
	FilterAll       DateFilter = "all"
)

// Urgency classifies a pending session against now.
type Urgency string

const (
	UrgencyOverdue  Urgency = "overdue"
	UrgencyCurrent  Urgency = "current"
	UrgencyUpcoming Urgency = "upcoming"
)

// PendingQuery filters PendingSessions. Center "all" spans both centers; an
// empty center uses the default one.
type PendingQuery struct {
	DateFilter DateFilter
	Category   string
	Center     string
}

// PendingSession is an unconfirmed booked session with its urgency.
type PendingSession struct {
	LocalView
	UrgencyStatus Urgency `json:"urgency_status"`
}

// PendingSessions lists booked sessions awaiting attendance confirmation.
func (s *Service) PendingSessions(ctx context.Context, q PendingQuery) ([]PendingSession, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.pending_sessions")
	defer span.End()

	centers, err := s.resolveCenters(q.Center)
	if err != nil {
		return nil, err
	}
	now := s.now()
	today := clinictime.Today(now)
	query := Query{
		Centers:         centers,
		Statuses:        []catalog.Status{catalog.StatusBooked},
		UnconfirmedOnly: true,
	}
	switch q.DateFilter {
	case FilterYesterday:
		query.From, query.To = today.AddDays(-1), today.AddDays(-1)
	case FilterWeek, FilterAll:
		query.From = today.AddDays(-7)
	default:
		query.From, query.To = today, today
	}
	if strings.TrimSpace(q.Category) != "" {
		c, err := catalog.ParseCategory(q.Category)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		query.Category = c
	}

	rows, err := s.store.List(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]PendingSession, 0, len(rows))
	for _, b := range rows {
		out = append(out, PendingSession{LocalView: NewLocalView(b), UrgencyStatus: UrgencyOf(b.SlotStartUTC, now)})
	}
	return out, nil
}

// UrgencyOf is overdue when the session started more than two hours ago,
// current when it starts within the next hour, upcoming otherwise.
func UrgencyOf(start, now time.Time) Urgency {
	switch {
	case start.Before(now.Add(-2 * time.Hour)):
		return UrgencyOverdue
	case start.Before(now.Add(time.Hour)):
		return UrgencyCurrent
	default:
		return UrgencyUpcoming
	}
}

// resolveCenters maps a center parameter to a filter: "all" is both centers,
// empty is the default center.
func (s *Service) resolveCenters(raw string) ([]catalog.Center, error) {
	if strings.EqualFold(strings.TrimSpace(raw), "all") {
		return nil, nil
	}
	c, err := s.resolveCenter(raw)
	if err != nil {
		return nil, err
	}
	return []catalog.Center{c}, nil
}
