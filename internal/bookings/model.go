package bookings

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
)

// Booking is one reservation of a slot range at a center.
type Booking struct {
	ID               uuid.UUID           `json:"id"`
	Center           catalog.Center      `json:"center"`
	Date             clinictime.Date     `json:"date"`
	SlotStartUTC     time.Time           `json:"slot_start_utc"`
	SlotEndUTC       time.Time           `json:"slot_end_utc"`
	ClientName       string              `json:"client_name"`
	Phone            string              `json:"phone"`
	PhoneNormalized  string              `json:"-"`
	Category         catalog.Category    `json:"category"`
	SessionDuration  int                 `json:"session_duration"`
	SessionType      catalog.SessionType `json:"session_type"`
	Notes            string              `json:"notes"`
	Status           catalog.Status      `json:"status"`
	AttendanceStatus catalog.Attendance  `json:"attendance_status,omitempty"`
	StandardPrice    float64             `json:"standard_price"`
	ActualPrice      *float64            `json:"actual_price"`
	PriceNotes       string              `json:"price_notes,omitempty"`
	FollowUpNotes    string              `json:"follow_up_notes,omitempty"`
	SessionConfirmed bool                `json:"session_confirmed"`
	ConfirmedAt      *time.Time          `json:"confirmed_at,omitempty"`
	ConfirmedBy      string              `json:"confirmed_by,omitempty"`
	SharedSlot       bool                `json:"shared_slot"`
	NotificationSent bool                `json:"notification_sent"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Interval returns the booking's absolute time span.
func (b *Booking) Interval() clinictime.Interval {
	return clinictime.Interval{Start: b.SlotStartUTC, End: b.SlotEndUTC}
}

// IsActive reports whether the booking still holds its slot.
func (b *Booking) IsActive() bool { return b.Status == catalog.StatusBooked }

// Clone returns a deep copy.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.ActualPrice != nil {
		v := *b.ActualPrice
		c.ActualPrice = &v
	}
	if b.ConfirmedAt != nil {
		v := *b.ConfirmedAt
		c.ConfirmedAt = &v
	}
	return &c
}

// placeAt rewrites the time fields for a new start, keeping the duration.
func (b *Booking) placeAt(start time.Time) {
	iv := clinictime.NewInterval(start.UTC(), b.SessionDuration)
	b.SlotStartUTC = iv.Start
	b.SlotEndUTC = iv.End
	b.Date = clinictime.DateOf(iv.Start)
}

// LocalView adds the clinic-local rendering of a booking.
type LocalView struct {
	*Booking
	LocalStartTime string `json:"local_start_time"`
	LocalEndTime   string `json:"local_end_time"`
	LocalDate      string `json:"local_date"`
	DayOfWeek      string `json:"day_of_week"`
}

// NewLocalView derives the local fields of b.
func NewLocalView(b *Booking) LocalView {
	return LocalView{
		Booking:        b,
		LocalStartTime: clinictime.ClockOf(b.SlotStartUTC).String(),
		LocalEndTime:   clinictime.ClockOf(b.SlotEndUTC).String(),
		LocalDate:      clinictime.DateOf(b.SlotStartUTC).String(),
		DayOfWeek:      clinictime.FrenchWeekday(clinictime.DateOf(b.SlotStartUTC).Weekday()),
	}
}

// RoundMoney rounds a dinar amount to two decimals.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
