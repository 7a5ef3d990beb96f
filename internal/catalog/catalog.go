// Package catalog holds the enums and lookup tables shared by every component:
// centers, categories (default duration, price, label), session types, booking
// and attendance statuses.
package catalog

import (
	"fmt"
	"strings"
)

// Center identifies one of the two clinic locations.
type Center string

const (
	CenterTunis Center = "tunis"
	CenterSfax  Center = "sfax"
)

// Centers lists every center in display order.
var Centers = []Center{CenterTunis, CenterSfax}

// ParseCenter validates a center name.
func ParseCenter(raw string) (Center, error) {
	c := Center(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CenterTunis, CenterSfax:
		return c, nil
	default:
		return "", fmt.Errorf("catalog: unknown center %q", raw)
	}
}

// Category drives the default duration and price of a session.
type Category string

const (
	CategoryTabac        Category = "tabac"
	CategoryDrogue       Category = "drogue"
	CategoryDrogueDure   Category = "drogue_dure"
	CategoryDrogueDouce  Category = "drogue_douce"
	CategoryRenforcement Category = "renforcement"
)

// CategoryInfo is the lookup row for a category.
type CategoryInfo struct {
	Category        Category
	Label           string
	DefaultDuration int
	StandardPrice   float64
}

var categories = []CategoryInfo{
	{CategoryTabac, "Arrêt du tabac", 60, 500},
	{CategoryDrogue, "Sevrage drogue", 60, 750},
	{CategoryDrogueDure, "Sevrage drogues dures", 60, 1000},
	{CategoryDrogueDouce, "Sevrage drogues douces", 60, 600},
	{CategoryRenforcement, "Renforcement (gratuit)", 30, 0},
}

// Categories returns every category in display order.
func Categories() []CategoryInfo {
	out := make([]CategoryInfo, len(categories))
	copy(out, categories)
	return out
}

// Lookup returns the table row for c.
func Lookup(c Category) (CategoryInfo, bool) {
	for _, info := range categories {
		if info.Category == c {
			return info, true
		}
	}
	return CategoryInfo{}, false
}

// ParseCategory validates a category name.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.TrimSpace(raw))
	if _, ok := Lookup(c); !ok {
		return "", fmt.Errorf("catalog: unknown category %q", raw)
	}
	return c, nil
}

// Label returns the French display label, falling back to the raw value.
func (c Category) Label() string {
	if info, ok := Lookup(c); ok {
		return info.Label
	}
	return string(c)
}

// StandardPrice returns the category's list price (0 for unknown categories).
func (c Category) StandardPrice() float64 {
	info, _ := Lookup(c)
	return info.StandardPrice
}

// DefaultDuration returns the category's default session length in minutes.
func (c Category) DefaultDuration() int {
	if info, ok := Lookup(c); ok {
		return info.DefaultDuration
	}
	return 60
}

// Allowed session lengths in minutes.
const (
	Duration30 = 30
	Duration60 = 60
	Duration90 = 90

	// RenforcementDuration is the only length a renforcement session may have.
	RenforcementDuration = Duration30
	// DuoDuration is forced for every duo session.
	DuoDuration = Duration90
)

// ValidDuration reports whether minutes is a bookable session length.
func ValidDuration(minutes int) bool {
	switch minutes {
	case Duration30, Duration60, Duration90:
		return true
	}
	return false
}

// SessionType distinguishes solo from duo sessions.
type SessionType string

const (
	SessionSolo SessionType = "solo"
	SessionDuo  SessionType = "duo"
)

// ParseSessionType validates a session type; empty defaults to solo.
func ParseSessionType(raw string) (SessionType, error) {
	switch SessionType(strings.TrimSpace(raw)) {
	case "", SessionSolo:
		return SessionSolo, nil
	case SessionDuo:
		return SessionDuo, nil
	default:
		return "", fmt.Errorf("catalog: unknown session type %q", raw)
	}
}

// Status is the booking lifecycle state.
type Status string

const (
	StatusBooked      Status = "booked"
	StatusCancelled   Status = "cancelled"
	StatusCompleted   Status = "completed"
	StatusRescheduled Status = "rescheduled"
)

var statusLabels = map[Status]string{
	StatusBooked:      "Confirmé",
	StatusCancelled:   "Annulé",
	StatusCompleted:   "Terminé",
	StatusRescheduled: "Reporté",
}

// Label returns the French display label used in exports.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Attendance is the post-hoc outcome of a session. The zero value means pending.
type Attendance string

const (
	AttendancePending     Attendance = ""
	AttendancePresent     Attendance = "present"
	AttendanceAbsent      Attendance = "absent"
	AttendanceRescheduled Attendance = "rescheduled"
)

// ParseAttendance validates an attendance outcome recorded during follow-up.
func ParseAttendance(raw string) (Attendance, error) {
	a := Attendance(strings.TrimSpace(raw))
	switch a {
	case AttendancePresent, AttendanceAbsent, AttendanceRescheduled:
		return a, nil
	default:
		return "", fmt.Errorf("catalog: invalid attendance status %q", raw)
	}
}

// ResultingStatus maps an attendance outcome to the booking status it drives.
func (a Attendance) ResultingStatus() Status {
	switch a {
	case AttendancePresent:
		return StatusCompleted
	case AttendanceAbsent:
		return StatusCancelled
	case AttendanceRescheduled:
		return StatusRescheduled
	default:
		return StatusBooked
	}
}

// PaymentStatus is derived for reporting only.
type PaymentStatus string

const (
	PaymentFree    PaymentStatus = "free"
	PaymentPaid    PaymentStatus = "paid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPending PaymentStatus = "pending"
)

// DerivePaymentStatus compares an actual price to the category's standard price.
// A nil actual price means nothing has been recorded yet.
func DerivePaymentStatus(category Category, actual *float64) PaymentStatus {
	if actual == nil {
		return PaymentPending
	}
	switch {
	case *actual == 0:
		return PaymentFree
	case *actual >= category.StandardPrice():
		return PaymentPaid
	default:
		return PaymentPartial
	}
}
