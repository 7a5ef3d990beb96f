package bookings

import (
	"context"
	"fmt"
	"strings"

	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
)

// WeekQuery selects a calendar range. Start picks the Monday–Saturday week
// containing it; otherwise From/To are used; with neither, the current week.
type WeekQuery struct {
	Start    string
	From     string
	To       string
	Center   string
	Category string
}

// PeriodCounts summarises the bookings of a range.
type PeriodCounts struct {
	Start          clinictime.Date `json:"start"`
	End            clinictime.Date `json:"end"`
	TotalCount     int             `json:"total_count"`
	ActiveCount    int             `json:"active_count"`
	CancelledCount int             `json:"cancelled_count"`
}

// DayView is one rendered day of a center.
type DayView struct {
	Date      clinictime.Date `json:"date"`
	DayOfWeek string          `json:"day_of_week"`
	Cells     []Cell          `json:"cells"`
}

// WeekView is the calendar payload of one center.
type WeekView struct {
	Center   catalog.Center `json:"center"`
	Bookings []LocalView    `json:"bookings"`
	Period   PeriodCounts   `json:"period"`
	Days     []DayView      `json:"days"`
}

// Week loads a center's bookings over a range with local renderings and the
// per-day slot grid. An unknown category is ignored.
func (s *Service) Week(ctx context.Context, q WeekQuery) (*WeekView, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.week")
	defer span.End()

	center, err := s.resolveCenter(q.Center)
	if err != nil {
		return nil, err
	}
	from, to, err := s.weekRange(q)
	if err != nil {
		return nil, err
	}
	query := Query{Centers: []catalog.Center{center}, From: from, To: to}
	if c, err := catalog.ParseCategory(q.Category); err == nil {
		query.Category = c
	}

	rows, err := s.store.List(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	view := &WeekView{
		Center:   center,
		Bookings: make([]LocalView, 0, len(rows)),
		Period:   PeriodCounts{Start: from, End: to, TotalCount: len(rows)},
	}
	byDate := make(map[clinictime.Date][]*Booking)
	for _, b := range rows {
		view.Bookings = append(view.Bookings, NewLocalView(b))
		switch b.Status {
		case catalog.StatusBooked:
			view.Period.ActiveCount++
		case catalog.StatusCancelled:
			view.Period.CancelledCount++
		}
		byDate[b.Date] = append(byDate[b.Date], b)
	}

	now := s.now()
	for d := from; !d.After(to); d = d.AddDays(1) {
		if !s.engine.Grid().IsOpen(center, d.Weekday()) {
			continue
		}
		view.Days = append(view.Days, DayView{
			Date:      d,
			DayOfWeek: clinictime.FrenchWeekday(d.Weekday()),
			Cells:     s.engine.DayGrid(byDate[d], center, d, now),
		})
	}
	return view, nil
}

const maxRangeDays = 62

func (s *Service) weekRange(q WeekQuery) (clinictime.Date, clinictime.Date, error) {
	switch {
	case strings.TrimSpace(q.Start) != "":
		d, err := clinictime.ParseDate(q.Start)
		if err != nil {
			return clinictime.Date{}, clinictime.Date{}, fmt.Errorf("%w: start: %v", ErrValidation, err)
		}
		monday := clinictime.WeekStart(d)
		return monday, monday.AddDays(5), nil
	case strings.TrimSpace(q.From) != "" && strings.TrimSpace(q.To) != "":
		from, err := clinictime.ParseDate(q.From)
		if err != nil {
			return clinictime.Date{}, clinictime.Date{}, fmt.Errorf("%w: from: %v", ErrValidation, err)
		}
		to, err := clinictime.ParseDate(q.To)
		if err != nil {
			return clinictime.Date{}, clinictime.Date{}, fmt.Errorf("%w: to: %v", ErrValidation, err)
		}
		if to.Before(from) {
			return clinictime.Date{}, clinictime.Date{}, fmt.Errorf("%w: to is before from", ErrValidation)
		}
		if from.DaysUntil(to) > maxRangeDays {
			return clinictime.Date{}, clinictime.Date{}, fmt.Errorf("%w: range longer than %d days", ErrValidation, maxRangeDays)
		}
		return from, to, nil
	default:
		monday := clinictime.WeekStart(clinictime.Today(s.now()))
		return monday, monday.AddDays(5), nil
	}
}
