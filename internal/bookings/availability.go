package bookings

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
)

// Occupancy describes the booking found in a grid cell.
type Occupancy struct {
	Booking *Booking
	// Anchor is true for the cell whose start equals the booking start.
	Anchor bool
}

// FindOccupant returns the active booking overlapping the slot cell on date.
// Overlap is strict on half-open intervals, so a 90 minute booking occupies
// three 30 minute cells.
func FindOccupant(snapshot []*Booking, center catalog.Center, date clinictime.Date, slot clinictime.Slot) (Occupancy, bool) {
	cell := slot.Interval(date)
	for _, b := range snapshot {
		if b.Center != center || !b.IsActive() {
			continue
		}
		if b.Interval().Overlaps(cell) {
			return Occupancy{Booking: b, Anchor: b.SlotStartUTC.Equal(cell.Start)}, true
		}
	}
	return Occupancy{}, false
}

// CheckConflict returns the first active booking of center overlapping iv,
// ignoring the excluded ids.
func CheckConflict(snapshot []*Booking, center catalog.Center, iv clinictime.Interval, exclude ...uuid.UUID) *Booking {
	for _, b := range snapshot {
		if b.Center != center || !b.IsActive() || slices.Contains(exclude, b.ID) {
			continue
		}
		if b.Interval().Overlaps(iv) {
			return b
		}
	}
	return nil
}

// Engine validates placements against the slot grid.
type Engine struct {
	grid *clinictime.Grid
}

// NewEngine builds an engine over grid; nil uses the embedded default grid.
func NewEngine(grid *clinictime.Grid) *Engine {
	if grid == nil {
		grid = clinictime.DefaultGrid()
	}
	return &Engine{grid: grid}
}

func (e *Engine) Grid() *clinictime.Grid { return e.grid }

// ValidatePlacement checks business hours then the past rule, independent of
// occupancy, and returns the absolute interval of the placement.
func (e *Engine) ValidatePlacement(center catalog.Center, date clinictime.Date, start clinictime.Clock, duration int, now time.Time) (clinictime.Interval, error) {
	end := start.Add(duration)
	if !e.grid.IsWithinBusinessHours(center, date.Weekday(), start, end) {
		return clinictime.Interval{}, fmt.Errorf("%w: %s %s %s-%s", ErrBusinessHours, center, date, start, end)
	}
	iv := clinictime.NewInterval(clinictime.LocalToUTC(date, start), duration)
	if clinictime.IsPast(iv.Start, now) {
		return clinictime.Interval{}, fmt.Errorf("%w: %s %s", ErrPastSlot, date, start)
	}
	return iv, nil
}

// NextFreeSlot scans the slots after afterIndex on date, in order, for the
// first one that can hold a session of duration minutes: within hours, not
// past, clear of reserved intervals and of active bookings other than exclude.
// It never looks back or spills into the next day.
func (e *Engine) NextFreeSlot(snapshot []*Booking, center catalog.Center, date clinictime.Date, afterIndex, duration int, now time.Time, reserved []clinictime.Interval, exclude ...uuid.UUID) (clinictime.Slot, bool) {
	for _, s := range e.grid.SlotsForDate(center, date) {
		if s.Index <= afterIndex {
			continue
		}
		iv, err := e.ValidatePlacement(center, date, s.Start, duration, now)
		if err != nil {
			continue
		}
		if overlapsAny(iv, reserved) {
			continue
		}
		if CheckConflict(snapshot, center, iv, exclude...) != nil {
			continue
		}
		return s, true
	}
	return clinictime.Slot{}, false
}

func overlapsAny(iv clinictime.Interval, list []clinictime.Interval) bool {
	for _, r := range list {
		if iv.Overlaps(r) {
			return true
		}
	}
	return false
}

// Cell is one rendered calendar cell.
type Cell struct {
	SlotIndex    int              `json:"slot_index"`
	Start        clinictime.Clock `json:"start"`
	End          clinictime.Clock `json:"end"`
	BookingID    *uuid.UUID       `json:"booking_id,omitempty"`
	Anchor       bool             `json:"anchor"`
	Continuation bool             `json:"continuation"`
	Shared       bool             `json:"shared,omitempty"`
	Past         bool             `json:"past"`
}

// DayGrid renders a center's day as cells, marking anchors, continuations,
// shared occupancy and past cells.
func (e *Engine) DayGrid(snapshot []*Booking, center catalog.Center, date clinictime.Date, now time.Time) []Cell {
	slots := e.grid.SlotsForDate(center, date)
	cells := make([]Cell, 0, len(slots))
	for _, s := range slots {
		cell := Cell{
			SlotIndex: s.Index,
			Start:     s.Start,
			End:       s.End,
			Past:      clinictime.IsPast(clinictime.LocalToUTC(date, s.Start), now),
		}
		if occ, ok := FindOccupant(snapshot, center, date, s); ok {
			id := occ.Booking.ID
			cell.BookingID = &id
			cell.Anchor = occ.Anchor
			cell.Continuation = !occ.Anchor
			cell.Shared = CheckConflict(snapshot, center, s.Interval(date), id) != nil
		}
		cells = append(cells, cell)
	}
	return cells
}
