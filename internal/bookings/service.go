package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
	"github.com/laserostop/booking-calendar/internal/events"
	"github.com/laserostop/booking-calendar/internal/observability/metrics"
	"github.com/laserostop/booking-calendar/pkg/logging"
)

var bookingsTracer = otel.Tracer("clinic.internal.bookings")

// Publisher records booking events for asynchronous notification.
type Publisher interface {
	Publish(ctx context.Context, eventType string, b *Booking) error
}

// Service runs the booking lifecycle: every mutation is a read-check-write
// sequence inside one store transaction.
type Service struct {
	store         Store
	engine        *Engine
	publisher     Publisher
	metrics       *metrics.BookingMetrics
	logger        *logging.Logger
	now           func() time.Time
	defaultCenter catalog.Center
}

// Option configures a Service.
type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithMetrics(m *metrics.BookingMetrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides the wall clock used for past checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultCenter sets the center used when a request names none.
func WithDefaultCenter(c catalog.Center) Option {
	return func(s *Service) {
		if c != "" {
			s.defaultCenter = c
		}
	}
}

// NewService constructs a bookings service.
func NewService(store Store, engine *Engine, logger *logging.Logger, opts ...Option) *Service {
	if store == nil {
		panic("bookings: store required")
	}
	if engine == nil {
		engine = NewEngine(nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:         store,
		engine:        engine,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		defaultCenter: catalog.CenterTunis,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine exposes the availability engine the service validates against.
func (s *Service) Engine() *Engine { return s.engine }

// CreateRequest is the input of Create.
type CreateRequest struct {
	ClientName      string `json:"client_name"`
	Phone           string `json:"phone"`
	Category        string `json:"category"`
	Notes           string `json:"notes"`
	SessionDuration *int   `json:"session_duration,omitempty"`
	SessionType     string `json:"session_type"`
	SlotStartLocal  string `json:"slot_start_local"`
	SlotEndLocal    string `json:"slot_end_local"`
	ForceCreate     bool   `json:"force_create"`
	Center          string `json:"center"`
}

// CreateResult holds either the new booking or a duplicate-client decision.
type CreateResult struct {
	Booking   *Booking
	Duplicate *DuplicateClientConflict
}

type placement struct {
	center      catalog.Center
	category    catalog.Category
	sessionType catalog.SessionType
	duration    int
	date        clinictime.Date
	start       clinictime.Clock
}

// Create validates and inserts a booking. Unless ForceCreate is set, an active
// booking for the same client yields a Duplicate result and nothing is written.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.create")
	defer span.End()
	started := time.Now()

	result, err := s.create(ctx, span, req)
	s.observe("create", started, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if result.Duplicate != nil {
		s.metrics.ObserveConflict("duplicate_client")
		s.logger.Info("duplicate client detected",
			"existing_booking_id", result.Duplicate.Existing.ID,
			"match_by", result.Duplicate.MatchBy,
		)
		return result, nil
	}
	s.logger.Info("booking created",
		"booking_id", result.Booking.ID,
		"center", result.Booking.Center,
		"slot_start_utc", result.Booking.SlotStartUTC,
		"duration", result.Booking.SessionDuration,
	)
	s.publish(ctx, events.BookingCreated, result.Booking)
	return result, nil
}

func (s *Service) create(ctx context.Context, span trace.Span, req CreateRequest) (*CreateResult, error) {
	p, err := s.validateCreate(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("clinic.center", string(p.center)),
		attribute.String("clinic.category", string(p.category)),
		attribute.Int("clinic.duration", p.duration),
	)

	now := s.now()
	iv, err := s.engine.ValidatePlacement(p.center, p.date, p.start, p.duration, now)
	if err != nil {
		return nil, err
	}

	result := &CreateResult{}
	err = s.store.RunInTx(ctx, func(tx Store) error {
		snapshot, err := activeOnDay(ctx, tx, p.center, p.date)
		if err != nil {
			return err
		}
		if c := CheckConflict(snapshot, p.center, iv); c != nil {
			return fmt.Errorf("%w: overlaps booking %s", ErrSlotConflict, c.ID)
		}

		name := strings.TrimSpace(req.ClientName)
		phone := strings.TrimSpace(req.Phone)
		if !req.ForceCreate {
			dup, err := findDuplicate(ctx, tx, phone, name)
			if err != nil {
				return err
			}
			if dup != nil {
				result.Duplicate = dup
				return nil
			}
		}

		b := &Booking{
			ID:              uuid.New(),
			Center:          p.center,
			ClientName:      name,
			Phone:           phone,
			PhoneNormalized: NormalizePhone(phone),
			Category:        p.category,
			SessionDuration: p.duration,
			SessionType:     p.sessionType,
			Notes:           strings.TrimSpace(req.Notes),
			Status:          catalog.StatusBooked,
			StandardPrice:   p.category.StandardPrice(),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		b.placeAt(iv.Start)
		if err := tx.Insert(ctx, b); err != nil {
			return err
		}
		result.Booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) validateCreate(req CreateRequest) (placement, error) {
	var p placement
	switch {
	case strings.TrimSpace(req.ClientName) == "":
		return p, fmt.Errorf("%w: client_name is required", ErrValidation)
	case strings.TrimSpace(req.Phone) == "":
		return p, fmt.Errorf("%w: phone is required", ErrValidation)
	case strings.TrimSpace(req.Category) == "":
		return p, fmt.Errorf("%w: category is required", ErrValidation)
	case strings.TrimSpace(req.SlotStartLocal) == "" || strings.TrimSpace(req.SlotEndLocal) == "":
		return p, fmt.Errorf("%w: slot_start_local and slot_end_local are required", ErrValidation)
	}

	var err error
	if p.center, err = s.resolveCenter(req.Center); err != nil {
		return p, err
	}
	if p.category, err = catalog.ParseCategory(req.Category); err != nil {
		return p, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if p.sessionType, err = catalog.ParseSessionType(req.SessionType); err != nil {
		return p, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if p.duration, err = resolveDuration(p.category, p.sessionType, req.SessionDuration); err != nil {
		return p, err
	}
	if p.date, p.start, err = clinictime.ParseLocal(req.SlotStartLocal); err != nil {
		return p, fmt.Errorf("%w: slot_start_local: %v", ErrValidation, err)
	}
	// The end instant is derived from the duration; the supplied end only has
	// to be well formed.
	if _, _, err = clinictime.ParseLocal(req.SlotEndLocal); err != nil {
		return p, fmt.Errorf("%w: slot_end_local: %v", ErrValidation, err)
	}
	return p, nil
}

func (s *Service) resolveCenter(raw string) (catalog.Center, error) {
	if strings.TrimSpace(raw) == "" {
		return s.defaultCenter, nil
	}
	c, err := catalog.ParseCenter(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return c, nil
}

// resolveDuration applies the category and session type rules: duo is always
// 90 minutes, renforcement is always 30, otherwise the explicit value or the
// category default. An explicit 0 means unset.
func resolveDuration(category catalog.Category, st catalog.SessionType, explicit *int) (int, error) {
	if explicit != nil && *explicit == 0 {
		explicit = nil
	}
	if category == catalog.CategoryRenforcement {
		if st == catalog.SessionDuo {
			return 0, fmt.Errorf("%w: renforcement sessions are solo only", ErrValidation)
		}
		if explicit != nil && *explicit != catalog.RenforcementDuration {
			return 0, fmt.Errorf("%w: renforcement sessions last %d minutes", ErrValidation, catalog.RenforcementDuration)
		}
		return catalog.RenforcementDuration, nil
	}
	if st == catalog.SessionDuo {
		return catalog.DuoDuration, nil
	}
	if explicit == nil {
		return category.DefaultDuration(), nil
	}
	if !catalog.ValidDuration(*explicit) {
		return 0, fmt.Errorf("%w: session_duration %d is not one of 30, 60, 90", ErrValidation, *explicit)
	}
	return *explicit, nil
}

// Cancel marks a booked booking cancelled. Past bookings may be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.booking_id", id.String()))
	started := time.Now()

	var cancelled *Booking
	err := s.store.RunInTx(ctx, func(tx Store) error {
		var err error
		cancelled, err = s.cancelInTx(ctx, tx, id)
		return err
	})
	s.observe("cancel", started, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("booking cancelled", "booking_id", id, "center", cancelled.Center)
	s.publish(ctx, events.BookingCancelled, cancelled)
	return cancelled, nil
}

func (s *Service) cancelInTx(ctx context.Context, tx Store, id uuid.UUID) (*Booking, error) {
	b, err := tx.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsActive() {
		return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidState, id, b.Status)
	}
	b.Status = catalog.StatusCancelled
	b.UpdatedAt = s.now()
	if err := tx.Update(ctx, b); err != nil {
		return nil, err
	}
	if err := s.releaseShared(ctx, tx, b.Center, b.Date, b.Interval()); err != nil {
		return nil, err
	}
	return b, nil
}

// MoveRequest is the input of Move.
type MoveRequest struct {
	BookingID         uuid.UUID `json:"booking_id"`
	NewSlotStartLocal string    `json:"new_slot_start_local"`
	NewSlotEndLocal   string    `json:"new_slot_end_local"`
}

// Move relocates a booked booking, keeping its duration. Duplicate detection
// does not apply since the client is unchanged.
func (s *Service) Move(ctx context.Context, req MoveRequest) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.move")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.booking_id", req.BookingID.String()))
	started := time.Now()

	date, start, err := parseMoveTarget(req)
	if err != nil {
		s.observe("move", started, err)
		return nil, err
	}

	var moved *Booking
	err = s.store.RunInTx(ctx, func(tx Store) error {
		var err error
		moved, err = s.moveInTx(ctx, tx, req.BookingID, date, start, moveOptions{})
		return err
	})
	s.observe("move", started, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("booking moved", "booking_id", moved.ID, "slot_start_utc", moved.SlotStartUTC)
	return moved, nil
}

func parseMoveTarget(req MoveRequest) (clinictime.Date, clinictime.Clock, error) {
	if req.BookingID == uuid.Nil {
		return clinictime.Date{}, 0, fmt.Errorf("%w: booking_id is required", ErrValidation)
	}
	if strings.TrimSpace(req.NewSlotStartLocal) == "" || strings.TrimSpace(req.NewSlotEndLocal) == "" {
		return clinictime.Date{}, 0, fmt.Errorf("%w: new_slot_start_local and new_slot_end_local are required", ErrValidation)
	}
	date, start, err := clinictime.ParseLocal(req.NewSlotStartLocal)
	if err != nil {
		return clinictime.Date{}, 0, fmt.Errorf("%w: new_slot_start_local: %v", ErrValidation, err)
	}
	if _, _, err := clinictime.ParseLocal(req.NewSlotEndLocal); err != nil {
		return clinictime.Date{}, 0, fmt.Errorf("%w: new_slot_end_local: %v", ErrValidation, err)
	}
	return date, start, nil
}

type moveOptions struct {
	// share skips the occupancy check and flags the booking as sharing its slot.
	share bool
	// exclude are extra booking ids ignored by the occupancy check.
	exclude []uuid.UUID
}

func (s *Service) moveInTx(ctx context.Context, tx Store, id uuid.UUID, date clinictime.Date, start clinictime.Clock, opts moveOptions) (*Booking, error) {
	b, err := tx.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsActive() {
		return nil, fmt.Errorf("%w: booking %s is %s", ErrInvalidState, id, b.Status)
	}
	now := s.now()
	iv, err := s.engine.ValidatePlacement(b.Center, date, start, b.SessionDuration, now)
	if err != nil {
		return nil, err
	}
	if !opts.share {
		snapshot, err := activeOnDay(ctx, tx, b.Center, date)
		if err != nil {
			return nil, err
		}
		exclude := append([]uuid.UUID{b.ID}, opts.exclude...)
		if c := CheckConflict(snapshot, b.Center, iv, exclude...); c != nil {
			return nil, fmt.Errorf("%w: overlaps booking %s", ErrSlotConflict, c.ID)
		}
	}
	oldDate, oldIv := b.Date, b.Interval()
	b.placeAt(iv.Start)
	b.SharedSlot = opts.share
	b.UpdatedAt = now
	if err := tx.Update(ctx, b); err != nil {
		return nil, err
	}
	if err := s.releaseShared(ctx, tx, b.Center, oldDate, oldIv); err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateRequest carries the editable identity fields; nil means unchanged.
type UpdateRequest struct {
	ClientName      *string `json:"client_name,omitempty"`
	Phone           *string `json:"phone,omitempty"`
	Category        *string `json:"category,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	SessionDuration *int    `json:"session_duration,omitempty"`
	SessionType     *string `json:"session_type,omitempty"`
}

// Update rewrites identity, category, notes, duration and type without moving
// the start. The new end must still fit the day's grid, but neighbouring
// bookings are not re-checked.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.update")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.booking_id", id.String()))
	started := time.Now()

	var updated *Booking
	err := s.store.RunInTx(ctx, func(tx Store) error {
		b, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if !b.IsActive() {
			return fmt.Errorf("%w: booking %s is %s", ErrInvalidState, id, b.Status)
		}
		if err := s.applyUpdate(b, req); err != nil {
			return err
		}
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
		updated = b
		return nil
	})
	s.observe("update", started, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("booking updated", "booking_id", id)
	return updated, nil
}

func (s *Service) applyUpdate(b *Booking, req UpdateRequest) error {
	wasForced := durationForced(b.Category, b.SessionType)
	if req.ClientName != nil {
		name := strings.TrimSpace(*req.ClientName)
		if name == "" {
			return fmt.Errorf("%w: client_name cannot be empty", ErrValidation)
		}
		b.ClientName = name
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if phone == "" {
			return fmt.Errorf("%w: phone cannot be empty", ErrValidation)
		}
		b.Phone = phone
		b.PhoneNormalized = NormalizePhone(phone)
	}
	if req.Notes != nil {
		b.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.Category != nil {
		c, err := catalog.ParseCategory(*req.Category)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		b.Category = c
	}
	if req.SessionType != nil {
		st, err := catalog.ParseSessionType(*req.SessionType)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		b.SessionType = st
	}

	explicit := req.SessionDuration
	if explicit == nil && !wasForced && !durationForced(b.Category, b.SessionType) {
		current := b.SessionDuration
		explicit = &current
	}
	duration, err := resolveDuration(b.Category, b.SessionType, explicit)
	if err != nil {
		return err
	}
	if duration != b.SessionDuration {
		start := clinictime.ClockOf(b.SlotStartUTC)
		if !s.engine.Grid().IsWithinBusinessHours(b.Center, b.Date.Weekday(), start, start.Add(duration)) {
			return fmt.Errorf("%w: %d minutes from %s", ErrBusinessHours, duration, start)
		}
		b.SessionDuration = duration
		b.placeAt(b.SlotStartUTC)
	}
	b.StandardPrice = b.Category.StandardPrice()
	b.UpdatedAt = s.now()
	return nil
}

func durationForced(c catalog.Category, st catalog.SessionType) bool {
	return c == catalog.CategoryRenforcement || st == catalog.SessionDuo
}

// Get returns one booking.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) publish(ctx context.Context, eventType string, b *Booking) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, b); err != nil {
		s.logger.Error("failed to record booking event", "error", err, "booking_id", b.ID, "type", eventType)
	}
}

func (s *Service) observe(operation string, started time.Time, err error) {
	s.metrics.ObserveOperation(operation, outcomeOf(err), time.Since(started).Seconds())
	if errors.Is(err, ErrSlotConflict) {
		s.metrics.ObserveConflict("slot")
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrBusinessHours):
		return "business_hours"
	case errors.Is(err, ErrPastSlot):
		return "past_slot"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNoAvailableSlot):
		return "no_available_slot"
	default:
		return "error"
	}
}
