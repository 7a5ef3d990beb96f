// Package clinictime converts between the clinic's local wall clock (a fixed
// UTC+1 offset, no daylight saving) and absolute instants, and owns the weekly
// slot grid each center books against.
package clinictime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Zone is the clinic's fixed offset.
var Zone = time.FixedZone("UTC+01", 60*60)

// ErrInvalidInput is returned for malformed dates, clocks or local timestamps.
var ErrInvalidInput = errors.New("clinictime: invalid input")

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Date is a calendar date in the clinic zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), Zone)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q", ErrInvalidInput, s)
	}
	return DateOf(t), nil
}

// MustDate is ParseDate for literals; it panics on malformed input.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the clinic-local date of an instant.
func DateOf(t time.Time) Date {
	y, m, d := t.In(Zone).Date()
	return Date{Year: y, Month: m, Day: d}
}

// Midnight returns the first instant of the date in the clinic zone.
func (d Date) Midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, Zone)
}

func (d Date) String() string { return d.Midnight().Format(dateLayout) }

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) Weekday() time.Weekday { return d.Midnight().Weekday() }

// AddDays shifts the date by n calendar days.
func (d Date) AddDays(n int) Date { return DateOf(d.Midnight().AddDate(0, 0, n)) }

func (d Date) Before(o Date) bool { return d.Midnight().Before(o.Midnight()) }

func (d Date) After(o Date) bool { return d.Midnight().After(o.Midnight()) }

// DaysUntil returns the number of calendar days from d to o.
func (d Date) DaysUntil(o Date) int {
	return int(o.Midnight().Sub(d.Midnight()).Hours() / 24)
}

func (d Date) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Clock is a local wall-clock time expressed in minutes since midnight.
type Clock int

// ParseClock parses HH:MM.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse(clockLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: clock %q", ErrInvalidInput, s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// MustClock is ParseClock for literals.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the clinic-local wall clock of an instant, truncated to the minute.
func ClockOf(t time.Time) Clock {
	local := t.In(Zone)
	return Clock(local.Hour()*60 + local.Minute())
}

func (c Clock) Minutes() int { return int(c) }

func (c Clock) Add(minutes int) Clock { return c + Clock(minutes) }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

func (c Clock) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// LocalToUTC converts a local date and wall clock to an absolute UTC instant.
func LocalToUTC(d Date, c Clock) time.Time {
	return d.Midnight().Add(time.Duration(c) * time.Minute).UTC()
}

// ParseLocal parses a local timestamp of the form YYYY-MM-DDTHH:MM[:SS].
// Seconds, when present, are ignored.
func ParseLocal(s string) (Date, Clock, error) {
	s = strings.TrimSpace(s)
	datePart, timePart, ok := strings.Cut(s, "T")
	if !ok {
		datePart, timePart, ok = strings.Cut(s, " ")
	}
	if !ok {
		return Date{}, 0, fmt.Errorf("%w: local time %q", ErrInvalidInput, s)
	}
	d, err := ParseDate(datePart)
	if err != nil {
		return Date{}, 0, err
	}
	switch strings.Count(timePart, ":") {
	case 1:
	case 2:
		if _, err := time.Parse("15:04:05", timePart); err != nil {
			return Date{}, 0, fmt.Errorf("%w: local time %q", ErrInvalidInput, s)
		}
		timePart = timePart[:strings.LastIndex(timePart, ":")]
	default:
		return Date{}, 0, fmt.Errorf("%w: local time %q", ErrInvalidInput, s)
	}
	c, err := ParseClock(timePart)
	if err != nil {
		return Date{}, 0, err
	}
	return d, c, nil
}

// FormatLocal renders an instant as a clinic-local YYYY-MM-DDTHH:MM string.
func FormatLocal(t time.Time) string {
	return t.In(Zone).Format(dateLayout + "T" + clockLayout)
}

// IsPast reports whether instant lies strictly before now.
func IsPast(instant, now time.Time) bool {
	return instant.Before(now)
}

// Today returns the clinic-local date of now.
func Today(now time.Time) Date { return DateOf(now) }

// WeekStart returns the Monday of the week containing d.
func WeekStart(d Date) Date {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDays(-offset)
}

var frenchWeekdays = [...]string{"Dimanche", "Lundi", "Mardi", "Mercredi", "Jeudi", "Vendredi", "Samedi"}

// FrenchWeekday returns the French display name of a weekday.
func FrenchWeekday(wd time.Weekday) string { return frenchWeekdays[wd] }

// Interval is a half-open [Start, End) span of absolute time.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds an interval of the given length in minutes.
func NewInterval(start time.Time, minutes int) Interval {
	return Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

// Overlaps reports strict overlap of two half-open intervals.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Minutes() int { return int(i.End.Sub(i.Start) / time.Minute) }

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", FormatLocal(i.Start), FormatLocal(i.End))
}
