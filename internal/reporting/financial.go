package reporting

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/laserostop/booking-calendar/internal/bookings"
	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
)

const (
	weeklyWindowDays = 7
	exportWindowDays = 30
)

// EffectivePrice is the amount a session is worth: the recorded price when
// positive, else the stored standard price, else the category default.
func EffectivePrice(b *bookings.Booking) float64 {
	if b.ActualPrice != nil && *b.ActualPrice > 0 {
		return *b.ActualPrice
	}
	if b.StandardPrice > 0 {
		return b.StandardPrice
	}
	return b.Category.StandardPrice()
}

// inFinancialScope keeps sessions that happened or were due. A booking the
// admin cancelled is out; an absence also ends as cancelled but stays in.
func inFinancialScope(b *bookings.Booking) bool {
	return b.Status != catalog.StatusCancelled || b.AttendanceStatus == catalog.AttendanceAbsent
}

// countsAsRevenue is the optimistic rule: anything not marked absent is
// revenue, pending sessions included.
func countsAsRevenue(b *bookings.Booking) bool {
	return b.AttendanceStatus != catalog.AttendanceAbsent
}

// DayFigures aggregates the sessions of one local day.
type DayFigures struct {
	Date              clinictime.Date `json:"date"`
	TotalSessions     int             `json:"total_sessions"`
	ConfirmedSessions int             `json:"confirmed_sessions"`
	AbsentSessions    int             `json:"absent_sessions"`
	PendingSessions   int             `json:"pending_sessions"`
	ExpectedRevenue   float64         `json:"expected_revenue"`
	ConfirmedRevenue  float64         `json:"confirmed_revenue"`
	AvgSessionPrice   float64         `json:"avg_session_price"`
}

// add folds one session into the day. Absences are counted but never reach
// the session or revenue totals.
func (f *DayFigures) add(b *bookings.Booking) {
	if !countsAsRevenue(b) {
		f.AbsentSessions++
		return
	}
	price := EffectivePrice(b)
	f.TotalSessions++
	f.ExpectedRevenue += price
	if b.AttendanceStatus == catalog.AttendancePending {
		f.PendingSessions++
	}
	f.ConfirmedSessions++
	f.ConfirmedRevenue += price
}

func (f *DayFigures) finish() {
	f.ExpectedRevenue = bookings.RoundMoney(f.ExpectedRevenue)
	f.ConfirmedRevenue = bookings.RoundMoney(f.ConfirmedRevenue)
	f.AvgSessionPrice = average(f.ConfirmedRevenue, f.ConfirmedSessions)
}

// DailyPoint is one bar of the weekly revenue chart.
type DailyPoint struct {
	Date     clinictime.Date `json:"date"`
	Day      string          `json:"day"`
	Revenue  float64         `json:"revenue"`
	Sessions int             `json:"sessions"`
}

// WeeklyFigures aggregates the trailing seven days ending today.
type WeeklyFigures struct {
	From              clinictime.Date `json:"from"`
	To                clinictime.Date `json:"to"`
	TotalSessions     int             `json:"total_sessions"`
	ConfirmedSessions int             `json:"confirmed_sessions"`
	TotalRevenue      float64         `json:"total_revenue"`
	ExpectedRevenue   float64         `json:"expected_revenue"`
	AvgSessionPrice   float64         `json:"avg_session_price"`
	DailyData         []DailyPoint    `json:"daily_data"`
}

// FinancialSummary is the dashboard payload of GET /financial-summary.
type FinancialSummary struct {
	Center      string          `json:"center"`
	SummaryDate clinictime.Date `json:"summary_date"`
	Today       DayFigures      `json:"today"`
	Weekly      WeeklyFigures   `json:"weekly"`
}

// FinancialSummary computes today's figures and the trailing seven-day window
// for one center, or both when center is "all".
func (s *Service) FinancialSummary(ctx context.Context, center string) (*FinancialSummary, error) {
	ctx, span := reportingTracer.Start(ctx, "reporting.financial_summary")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.center", center))

	centers, label, err := s.resolveCenters(center)
	if err != nil {
		return nil, err
	}
	today := clinictime.Today(s.now())
	from := today.AddDays(-(weeklyWindowDays - 1))

	rows, err := s.list(ctx, bookings.Query{Centers: centers, From: from, To: today})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	daily := make(map[clinictime.Date]*DayFigures, weeklyWindowDays)
	for d := from; !d.After(today); d = d.AddDays(1) {
		daily[d] = &DayFigures{Date: d}
	}
	for _, b := range rows {
		if !inFinancialScope(b) {
			continue
		}
		if f, ok := daily[b.Date]; ok {
			f.add(b)
		}
	}

	out := &FinancialSummary{
		Center:      label,
		SummaryDate: today,
		Weekly:      WeeklyFigures{From: from, To: today, DailyData: make([]DailyPoint, 0, weeklyWindowDays)},
	}
	for d := from; !d.After(today); d = d.AddDays(1) {
		f := daily[d]
		f.finish()
		out.Weekly.TotalSessions += f.TotalSessions
		out.Weekly.ConfirmedSessions += f.ConfirmedSessions
		out.Weekly.TotalRevenue += f.ConfirmedRevenue
		out.Weekly.ExpectedRevenue += f.ExpectedRevenue
		out.Weekly.DailyData = append(out.Weekly.DailyData, DailyPoint{
			Date:     d,
			Day:      clinictime.FrenchWeekday(d.Weekday()),
			Revenue:  f.ConfirmedRevenue,
			Sessions: f.TotalSessions,
		})
	}
	out.Today = *daily[today]
	out.Weekly.TotalRevenue = bookings.RoundMoney(out.Weekly.TotalRevenue)
	out.Weekly.ExpectedRevenue = bookings.RoundMoney(out.Weekly.ExpectedRevenue)
	out.Weekly.AvgSessionPrice = average(out.Weekly.TotalRevenue, out.Weekly.ConfirmedSessions)

	s.logger.Debug("financial summary computed",
		"center", label,
		"today_sessions", out.Today.TotalSessions,
		"weekly_revenue", out.Weekly.TotalRevenue,
	)
	return out, nil
}

// FinancialRow is one line of the financial export.
type FinancialRow struct {
	Date             clinictime.Date    `json:"date"`
	Center           catalog.Center     `json:"center"`
	ClientName       string             `json:"client_name"`
	Category         catalog.Category   `json:"category"`
	SessionDuration  int                `json:"session_duration"`
	StandardPrice    float64            `json:"standard_price"`
	ActualPrice      *float64           `json:"actual_price"`
	EffectivePrice   float64            `json:"effective_price"`
	AttendanceStatus catalog.Attendance `json:"attendance_status"`
	PriceNotes       string             `json:"price_notes"`
	FollowUpNotes    string             `json:"follow_up_notes"`
	slotStart        time.Time
}

// FinancialExport returns the raw financial rows of the last 30 days, newest
// first.
func (s *Service) FinancialExport(ctx context.Context, center string) ([]FinancialRow, error) {
	ctx, span := reportingTracer.Start(ctx, "reporting.financial_export")
	defer span.End()

	centers, _, err := s.resolveCenters(center)
	if err != nil {
		return nil, err
	}
	today := clinictime.Today(s.now())
	rows, err := s.list(ctx, bookings.Query{Centers: centers, From: today.AddDays(-exportWindowDays), To: today})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := make([]FinancialRow, 0, len(rows))
	for _, b := range rows {
		if !inFinancialScope(b) {
			continue
		}
		out = append(out, FinancialRow{
			Date:             b.Date,
			Center:           b.Center,
			ClientName:       b.ClientName,
			Category:         b.Category,
			SessionDuration:  b.SessionDuration,
			StandardPrice:    b.StandardPrice,
			ActualPrice:      b.ActualPrice,
			EffectivePrice:   EffectivePrice(b),
			AttendanceStatus: b.AttendanceStatus,
			PriceNotes:       b.PriceNotes,
			FollowUpNotes:    b.FollowUpNotes,
			slotStart:        b.SlotStartUTC,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].slotStart.After(out[j].slotStart) })
	return out, nil
}

func average(total float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return bookings.RoundMoney(total / float64(count))
}
