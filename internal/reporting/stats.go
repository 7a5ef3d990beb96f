package reporting

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/laserostop/booking-calendar/internal/bookings"
	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
)

const (
	maxStatsDays       = 92
	topTimeSlots       = 5
	recentBookingLimit = 10

	highFillRate         = 80
	lowFillRate          = 30
	highCancellationRate = 15.0
)

// StatsQuery selects the period and center of the dashboard. An empty range
// means the current Monday to Saturday week.
type StatsQuery struct {
	From   string
	To     string
	Center string
}

// Period is the inclusive range a report covers.
type Period struct {
	Start clinictime.Date `json:"start"`
	End   clinictime.Date `json:"end"`
}

// StatsSummary holds the headline counters.
type StatsSummary struct {
	TotalBookings     int `json:"total_bookings"`
	WeeklyBookings    int `json:"weekly_bookings"`
	ConfirmedBookings int `json:"confirmed_bookings"`
	CancelledBookings int `json:"cancelled_bookings"`
	CompletedBookings int `json:"completed_bookings"`
	FillRate          int `json:"fill_rate"`
}

// DailyStat is the breakdown of one open day.
type DailyStat struct {
	Date       clinictime.Date          `json:"date"`
	DayName    string                   `json:"day_name"`
	Total      int                      `json:"total"`
	Confirmed  int                      `json:"confirmed"`
	Cancelled  int                      `json:"cancelled"`
	Categories map[catalog.Category]int `json:"categories"`
}

// TimeSlotCount is how often a local start time was booked.
type TimeSlotCount struct {
	Time  clinictime.Clock `json:"time"`
	Count int              `json:"count"`
}

// Stats is the payload of GET /stats.
type Stats struct {
	Center         string                   `json:"center"`
	Period         Period                   `json:"period"`
	Summary        StatsSummary             `json:"summary"`
	Categories     map[catalog.Category]int `json:"categories"`
	DailyStats     []DailyStat              `json:"daily_stats"`
	TimeSlots      []TimeSlotCount          `json:"time_slots"`
	RecentBookings []bookings.LocalView     `json:"recent_bookings"`
	Insights       []string                 `json:"insights"`
}

// Stats computes the dashboard for a period.
func (s *Service) Stats(ctx context.Context, q StatsQuery) (*Stats, error) {
	ctx, span := reportingTracer.Start(ctx, "reporting.stats")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.center", q.Center))

	centers, label, err := s.resolveCenters(q.Center)
	if err != nil {
		return nil, err
	}
	today := clinictime.Today(s.now())
	weekStart := clinictime.WeekStart(today)
	weekEnd := weekStart.AddDays(5)
	from, to, err := parseRange(q.From, q.To, maxStatsDays, func() (clinictime.Date, clinictime.Date) {
		return weekStart, weekEnd
	})
	if err != nil {
		return nil, err
	}

	rows, err := s.list(ctx, bookings.Query{Centers: centers, From: from, To: to})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := &Stats{
		Center:         label,
		Period:         Period{Start: from, End: to},
		Categories:     emptyCategoryCounts(),
		DailyStats:     []DailyStat{},
		TimeSlots:      []TimeSlotCount{},
		RecentBookings: []bookings.LocalView{},
		Insights:       []string{},
	}

	daily := make(map[clinictime.Date]*DailyStat)
	for d := from; !d.After(to); d = d.AddDays(1) {
		if !s.isOpen(centers, d) {
			continue
		}
		daily[d] = &DailyStat{
			Date:       d,
			DayName:    clinictime.FrenchWeekday(d.Weekday()),
			Categories: emptyCategoryCounts(),
		}
	}

	slotCounts := make(map[clinictime.Clock]int)
	bookedMinutes := 0
	for _, b := range rows {
		out.Summary.TotalBookings++
		out.Categories[b.Category]++
		if !b.Date.Before(weekStart) && !b.Date.After(weekEnd) {
			out.Summary.WeeklyBookings++
		}
		switch b.Status {
		case catalog.StatusBooked:
			out.Summary.ConfirmedBookings++
			slotCounts[clinictime.ClockOf(b.SlotStartUTC)]++
		case catalog.StatusCancelled:
			out.Summary.CancelledBookings++
		case catalog.StatusCompleted:
			out.Summary.CompletedBookings++
		}
		if holdsSlot(b) {
			bookedMinutes += b.Interval().Minutes()
		}
		if day, ok := daily[b.Date]; ok {
			day.Total++
			day.Categories[b.Category]++
			switch b.Status {
			case catalog.StatusBooked:
				day.Confirmed++
			case catalog.StatusCancelled:
				day.Cancelled++
			}
		}
	}

	openMinutes := 0
	for d := from; !d.After(to); d = d.AddDays(1) {
		for _, c := range centersOrAll(centers) {
			openMinutes += s.grid.OpenMinutes(c, d)
		}
		if day, ok := daily[d]; ok {
			out.DailyStats = append(out.DailyStats, *day)
		}
	}
	if openMinutes > 0 {
		out.Summary.FillRate = int(math.Round(float64(bookedMinutes) * 100 / float64(openMinutes)))
	}

	out.TimeSlots = topSlots(slotCounts, topTimeSlots)
	out.RecentBookings = recentBookings(rows, recentBookingLimit)
	out.Insights = insights(out)
	return out, nil
}

// holdsSlot reports whether a booking occupied grid time: booked sessions and
// those that took place.
func holdsSlot(b *bookings.Booking) bool {
	return b.Status == catalog.StatusBooked || b.Status == catalog.StatusCompleted
}

func emptyCategoryCounts() map[catalog.Category]int {
	out := make(map[catalog.Category]int)
	for _, info := range catalog.Categories() {
		out[info.Category] = 0
	}
	return out
}

func topSlots(counts map[clinictime.Clock]int, limit int) []TimeSlotCount {
	out := make([]TimeSlotCount, 0, len(counts))
	for clock, n := range counts {
		out = append(out, TimeSlotCount{Time: clock, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Time < out[j].Time
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func recentBookings(rows []*bookings.Booking, limit int) []bookings.LocalView {
	sorted := make([]*bookings.Booking, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]bookings.LocalView, 0, len(sorted))
	for _, b := range sorted {
		out = append(out, bookings.NewLocalView(b))
	}
	return out
}

func insights(st *Stats) []string {
	out := []string{}
	switch {
	case st.Summary.FillRate > highFillRate:
		out = append(out, "Excellent taux de remplissage ! Considérez d'ajouter des créneaux.")
	case st.Summary.FillRate < lowFillRate:
		out = append(out, "Taux de remplissage faible. Envisagez des actions marketing.")
	}

	var top catalog.Category
	best := 0
	for _, info := range catalog.Categories() {
		if n := st.Categories[info.Category]; n > best {
			top, best = info.Category, n
		}
	}
	if best > 0 {
		out = append(out, "Catégorie la plus demandée: "+top.Label())
	}

	if st.Summary.TotalBookings > 0 {
		rate := float64(st.Summary.CancelledBookings) * 100 / float64(st.Summary.TotalBookings)
		if rate > highCancellationRate {
			out = append(out, fmt.Sprintf("Taux d'annulation élevé (%.1f%%). Vérifiez les rappels.", rate))
		}
	}
	return out
}
