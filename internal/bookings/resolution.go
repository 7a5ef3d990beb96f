package bookings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
	"github.com/laserostop/booking-calendar/internal/events"
)

// DuplicateChoice is the caller's answer to a DuplicateClientConflict.
type DuplicateChoice string

const (
	// ChoiceMoveOld relocates the existing booking to the requested slot and
	// discards the request.
	ChoiceMoveOld DuplicateChoice = "move_old"
	// ChoiceKeepBoth creates the requested booking anyway.
	ChoiceKeepBoth DuplicateChoice = "keep_both"
)

// ResolveDuplicateRequest carries the original create request and the choice.
type ResolveDuplicateRequest struct {
	Choice            DuplicateChoice `json:"choice"`
	ExistingBookingID uuid.UUID       `json:"existing_booking_id"`
	Booking           CreateRequest   `json:"booking"`
}

// ResolveDuplicate applies the caller's duplicate-client decision.
func (s *Service) ResolveDuplicate(ctx context.Context, req ResolveDuplicateRequest) (*Booking, error) {
	switch req.Choice {
	case ChoiceMoveOld:
		if req.ExistingBookingID == uuid.Nil {
			return nil, fmt.Errorf("%w: existing_booking_id is required", ErrValidation)
		}
		return s.Move(ctx, MoveRequest{
			BookingID:         req.ExistingBookingID,
			NewSlotStartLocal: req.Booking.SlotStartLocal,
			NewSlotEndLocal:   req.Booking.SlotEndLocal,
		})
	case ChoiceKeepBoth:
		create := req.Booking
		create.ForceCreate = true
		res, err := s.Create(ctx, create)
		if err != nil {
			return nil, err
		}
		return res.Booking, nil
	default:
		return nil, fmt.Errorf("%w: unknown choice %q", ErrValidation, req.Choice)
	}
}

// Strategy resolves a drag onto an occupied cell.
type Strategy string

const (
	// StrategyShare moves the dragged booking in without an occupancy check.
	StrategyShare Strategy = "share"
	// StrategyMoveDown pushes the occupants to the next free slots of the day.
	StrategyMoveDown Strategy = "move_down"
	// StrategyReplace cancels the occupants.
	StrategyReplace Strategy = "replace"
)

// SlotTarget identifies a calendar cell explicitly.
type SlotTarget struct {
	Center    string          `json:"center"`
	Date      clinictime.Date `json:"date"`
	SlotIndex int             `json:"slot_index"`
}

// ResolveConflictRequest asks to place MovingBookingID on Target using Strategy.
type ResolveConflictRequest struct {
	Strategy        Strategy   `json:"strategy"`
	MovingBookingID uuid.UUID  `json:"moving_booking_id"`
	Target          SlotTarget `json:"target"`
}

// ResolveConflictResult reports the moved booking and what happened to the
// occupants it displaced.
type ResolveConflictResult struct {
	Strategy  Strategy   `json:"strategy"`
	Moved     *Booking   `json:"moved"`
	Displaced []*Booking `json:"displaced"`
}

// ResolveConflict places a booking on an occupied cell. All writes happen in
// one transaction so a failed move-down leaves every booking in place.
func (s *Service) ResolveConflict(ctx context.Context, req ResolveConflictRequest) (*ResolveConflictResult, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.resolve_conflict")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.strategy", string(req.Strategy)),
		attribute.String("clinic.booking_id", req.MovingBookingID.String()),
	)
	started := time.Now()

	result, err := s.resolveConflict(ctx, req)
	s.observe("resolve_"+string(req.Strategy), started, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("slot conflict resolved",
		"strategy", req.Strategy,
		"booking_id", result.Moved.ID,
		"displaced", len(result.Displaced),
	)
	if req.Strategy == StrategyReplace {
		for _, b := range result.Displaced {
			s.publish(ctx, events.BookingCancelled, b)
		}
	}
	return result, nil
}

func (s *Service) resolveConflict(ctx context.Context, req ResolveConflictRequest) (*ResolveConflictResult, error) {
	if _, err := ParseStrategy(string(req.Strategy)); err != nil {
		return nil, err
	}
	if req.MovingBookingID == uuid.Nil {
		return nil, fmt.Errorf("%w: moving_booking_id is required", ErrValidation)
	}
	if req.Target.Date.IsZero() {
		return nil, fmt.Errorf("%w: target date is required", ErrValidation)
	}
	center, err := catalog.ParseCenter(req.Target.Center)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	slot, ok := s.engine.Grid().SlotAt(center, req.Target.Date, req.Target.SlotIndex)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s has no slot %d", ErrBusinessHours, center, req.Target.Date, req.Target.SlotIndex)
	}
	date := req.Target.Date

	result := &ResolveConflictResult{Strategy: req.Strategy}
	err = s.store.RunInTx(ctx, func(tx Store) error {
		moving, err := tx.Get(ctx, req.MovingBookingID)
		if err != nil {
			return err
		}
		if !moving.IsActive() {
			return fmt.Errorf("%w: booking %s is %s", ErrInvalidState, moving.ID, moving.Status)
		}
		if moving.Center != center {
			return fmt.Errorf("%w: cannot move a %s booking to %s", ErrValidation, moving.Center, center)
		}
		now := s.now()
		target, err := s.engine.ValidatePlacement(center, date, slot.Start, moving.SessionDuration, now)
		if err != nil {
			return err
		}

		snapshot, err := activeOnDay(ctx, tx, center, date)
		if err != nil {
			return err
		}
		occupants := overlapping(snapshot, center, target, moving.ID)

		switch {
		case len(occupants) == 0:
			result.Moved, err = s.moveInTx(ctx, tx, moving.ID, date, slot.Start, moveOptions{})
			return err
		case req.Strategy == StrategyShare:
			result.Moved, err = s.moveInTx(ctx, tx, moving.ID, date, slot.Start, moveOptions{share: true})
			return err
		case req.Strategy == StrategyReplace:
			for _, b := range occupants {
				cancelled, err := s.cancelInTx(ctx, tx, b.ID)
				if err != nil {
					return err
				}
				result.Displaced = append(result.Displaced, cancelled)
			}
			result.Moved, err = s.moveInTx(ctx, tx, moving.ID, date, slot.Start, moveOptions{})
			return err
		default:
			return s.moveDown(ctx, tx, result, snapshot, moving, occupants, date, slot, target, now)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// moveDown relocates each occupant to the first later slot of the day that is
// free once the moving booking sits on target, then moves the booking in.
func (s *Service) moveDown(ctx context.Context, tx Store, result *ResolveConflictResult, snapshot []*Booking, moving *Booking, occupants []*Booking, date clinictime.Date, slot clinictime.Slot, target clinictime.Interval, now time.Time) error {
	exclude := []uuid.UUID{moving.ID}
	for _, b := range occupants {
		exclude = append(exclude, b.ID)
	}
	reserved := []clinictime.Interval{target}

	for _, b := range occupants {
		free, ok := s.engine.NextFreeSlot(snapshot, b.Center, date, slot.Index, b.SessionDuration, now, reserved, exclude...)
		if !ok {
			return fmt.Errorf("%w: %s for booking %s", ErrNoAvailableSlot, date, b.ID)
		}
		bumped, err := s.moveInTx(ctx, tx, b.ID, date, free.Start, moveOptions{exclude: exclude})
		if err != nil {
			return err
		}
		reserved = append(reserved, bumped.Interval())
		result.Displaced = append(result.Displaced, bumped)
	}

	var err error
	result.Moved, err = s.moveInTx(ctx, tx, moving.ID, date, slot.Start, moveOptions{})
	return err
}

// releaseShared clears the shared flag of bookings around a vacated interval
// once no other active booking overlaps them, so the slot constraint covers
// them again.
func (s *Service) releaseShared(ctx context.Context, tx Store, center catalog.Center, date clinictime.Date, vacated clinictime.Interval) error {
	snapshot, err := activeOnDay(ctx, tx, center, date)
	if err != nil {
		return err
	}
	for _, b := range snapshot {
		if !b.SharedSlot || !b.Interval().Overlaps(vacated) {
			continue
		}
		if len(overlapping(snapshot, center, b.Interval(), b.ID)) > 0 {
			continue
		}
		b.SharedSlot = false
		b.UpdatedAt = s.now()
		if err := tx.Update(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func overlapping(snapshot []*Booking, center catalog.Center, iv clinictime.Interval, exclude uuid.UUID) []*Booking {
	var out []*Booking
	for _, b := range snapshot {
		if b.Center == center && b.IsActive() && b.ID != exclude && b.Interval().Overlaps(iv) {
			out = append(out, b)
		}
	}
	return out
}

// ParseStrategy validates a strategy name.
func ParseStrategy(raw string) (Strategy, error) {
	st := Strategy(strings.TrimSpace(raw))
	switch st {
	case StrategyShare, StrategyMoveDown, StrategyReplace:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrValidation, raw)
}
