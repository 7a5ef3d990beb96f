package clinictime

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/laserostop/booking-calendar/internal/catalog"
)

//go:embed schedule.json
var defaultSchedule []byte

// Slot is one bookable cell of a center's day. Index is its position in the
// ordered day catalogue and is stable for a given grid.
type Slot struct {
	Index int   `json:"slot_index"`
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// Minutes returns the slot length.
func (s Slot) Minutes() int { return int(s.End - s.Start) }

// Interval returns the slot's absolute span on a date.
func (s Slot) Interval(d Date) Interval {
	return Interval{Start: LocalToUTC(d, s.Start), End: LocalToUTC(d, s.End)}
}

// Grid is the weekly slot catalogue per center.
type Grid struct {
	slotMinutes int
	days        map[catalog.Center]map[time.Weekday][]Slot
}

type scheduleFile struct {
	SlotMinutes int                                `json:"slot_minutes"`
	Centers     map[string]map[string]scheduleDay `json:"centers"`
}

type scheduleDay struct {
	Ranges     []scheduleSpan `json:"ranges"`
	ExtraSlots []scheduleSpan `json:"extra_slots"`
}

type scheduleSpan struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// DefaultGrid returns the grid compiled into the binary.
func DefaultGrid() *Grid {
	g, err := LoadGrid(bytes.NewReader(defaultSchedule))
	if err != nil {
		panic(fmt.Sprintf("clinictime: embedded schedule invalid: %v", err))
	}
	return g
}

// LoadGridFile reads a grid from path, falling back to the embedded grid when
// path is empty.
func LoadGridFile(path string) (*Grid, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultGrid(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("clinictime: open schedule: %w", err)
	}
	defer f.Close()
	return LoadGrid(f)
}

// LoadGrid decodes and validates a JSON schedule.
func LoadGrid(r io.Reader) (*Grid, error) {
	var raw scheduleFile
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("clinictime: decode schedule: %w", err)
	}
	if raw.SlotMinutes <= 0 {
		raw.SlotMinutes = 30
	}

	g := &Grid{slotMinutes: raw.SlotMinutes, days: make(map[catalog.Center]map[time.Weekday][]Slot)}
	for centerName, week := range raw.Centers {
		center, err := catalog.ParseCenter(centerName)
		if err != nil {
			return nil, fmt.Errorf("clinictime: schedule: %w", err)
		}
		g.days[center] = make(map[time.Weekday][]Slot)
		for dayName, day := range week {
			wd, ok := weekdayNames[strings.ToLower(dayName)]
			if !ok {
				return nil, fmt.Errorf("%w: weekday %q", ErrInvalidInput, dayName)
			}
			slots, err := buildDay(day, raw.SlotMinutes)
			if err != nil {
				return nil, fmt.Errorf("clinictime: %s %s: %w", center, dayName, err)
			}
			g.days[center][wd] = slots
		}
	}
	return g, nil
}

func buildDay(day scheduleDay, step int) ([]Slot, error) {
	var slots []Slot
	for _, r := range day.Ranges {
		if r.End <= r.Start || int(r.End-r.Start)%step != 0 {
			return nil, fmt.Errorf("%w: range %s-%s", ErrInvalidInput, r.Start, r.End)
		}
		for c := r.Start; c < r.End; c = c.Add(step) {
			slots = append(slots, Slot{Start: c, End: c.Add(step)})
		}
	}
	for _, x := range day.ExtraSlots {
		if x.End <= x.Start {
			return nil, fmt.Errorf("%w: extra slot %s-%s", ErrInvalidInput, x.Start, x.End)
		}
		slots = append(slots, Slot{Start: x.Start, End: x.End})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start < slots[j].Start })
	for i := range slots {
		if i > 0 && slots[i].Start < slots[i-1].End {
			return nil, fmt.Errorf("%w: overlapping slots at %s", ErrInvalidInput, slots[i].Start)
		}
		slots[i].Index = i
	}
	return slots, nil
}

// SlotMinutes returns the base cell length.
func (g *Grid) SlotMinutes() int { return g.slotMinutes }

// SlotsForWeekday returns the ordered slot catalogue of a center's weekday.
func (g *Grid) SlotsForWeekday(center catalog.Center, wd time.Weekday) []Slot {
	src := g.days[center][wd]
	out := make([]Slot, len(src))
	copy(out, src)
	return out
}

// SlotsForDate is SlotsForWeekday for the weekday of d.
func (g *Grid) SlotsForDate(center catalog.Center, d Date) []Slot {
	return g.SlotsForWeekday(center, d.Weekday())
}

// IsOpen reports whether the center has any slot on the weekday.
func (g *Grid) IsOpen(center catalog.Center, wd time.Weekday) bool {
	return len(g.days[center][wd]) > 0
}

// SlotAt looks a slot up by its index on a date.
func (g *Grid) SlotAt(center catalog.Center, d Date, index int) (Slot, bool) {
	slots := g.days[center][d.Weekday()]
	if index < 0 || index >= len(slots) {
		return Slot{}, false
	}
	return slots[index], true
}

// SlotStartingAt returns the slot whose start equals clock.
func (g *Grid) SlotStartingAt(center catalog.Center, wd time.Weekday, clock Clock) (Slot, bool) {
	for _, s := range g.days[center][wd] {
		if s.Start == clock {
			return s, true
		}
	}
	return Slot{}, false
}

// IsWithinBusinessHours reports whether [start, end) starts on a catalogue slot
// and is fully covered by contiguous catalogue slots.
func (g *Grid) IsWithinBusinessHours(center catalog.Center, wd time.Weekday, start, end Clock) bool {
	if end <= start {
		return false
	}
	slots := g.days[center][wd]
	for i, s := range slots {
		if s.Start != start {
			continue
		}
		cursor := s.End
		for j := i + 1; cursor < end && j < len(slots); j++ {
			if slots[j].Start != cursor {
				return false
			}
			cursor = slots[j].End
		}
		return cursor >= end
	}
	return false
}

// OpenMinutes returns the total bookable minutes of a center on a date.
func (g *Grid) OpenMinutes(center catalog.Center, d Date) int {
	total := 0
	for _, s := range g.days[center][d.Weekday()] {
		total += s.Minutes()
	}
	return total
}
