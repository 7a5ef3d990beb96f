package clinictime

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laserostop/booking-calendar/internal/catalog"
)

func TestLocalToUTCUsesFixedOffset(t *testing.T) {
	winter := LocalToUTC(MustDate("2024-01-15"), MustClock("10:00"))
	summer := LocalToUTC(MustDate("2024-07-15"), MustClock("10:00"))

	assert.Equal(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), winter)
	assert.Equal(t, time.Date(2024, 7, 15, 9, 0, 0, 0, time.UTC), summer)
}

func TestParseLocal(t *testing.T) {
	tests := []struct {
		in    string
		date  string
		clock string
	}{
		{"2024-06-11T10:00", "2024-06-11", "10:00"},
		{"2024-06-11T10:30:00", "2024-06-11", "10:30"},
		{"2024-06-11 08:00", "2024-06-11", "08:00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, c, err := ParseLocal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.date, d.String())
			assert.Equal(t, tt.clock, c.String())
		})
	}

	for _, bad := range []string{"", "2024-06-11", "2024-13-01T10:00", "2024-06-11T25:00", "2024-06-11T10"} {
		_, _, err := ParseLocal(bad)
		assert.True(t, errors.Is(err, ErrInvalidInput), "input %q", bad)
	}
}

func TestDateHelpers(t *testing.T) {
	d := MustDate("2024-06-11") // Tuesday
	assert.Equal(t, time.Tuesday, d.Weekday())
	assert.Equal(t, "2024-06-10", WeekStart(d).String())
	assert.Equal(t, "2024-06-10", WeekStart(MustDate("2024-06-16")).String(), "sunday belongs to the week started the previous monday")
	assert.Equal(t, "2024-07-01", MustDate("2024-06-30").AddDays(1).String())
	assert.Equal(t, 6, MustDate("2024-06-10").DaysUntil(MustDate("2024-06-16")))
	assert.True(t, d.Before(d.AddDays(1)))
	assert.Equal(t, "Mardi", FrenchWeekday(d.Weekday()))

	// 23:30 UTC is already the next day in the clinic zone.
	assert.Equal(t, "2024-06-12", Today(time.Date(2024, 6, 11, 23, 30, 0, 0, time.UTC)).String())
}

func TestDateJSON(t *testing.T) {
	b, err := json.Marshal(MustDate("2024-06-11"))
	require.NoError(t, err)
	assert.Equal(t, `"2024-06-11"`, string(b))

	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2024-02-29"`), &d))
	assert.Equal(t, 29, d.Day)
}

func TestIsPast(t *testing.T) {
	now := time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC)
	assert.True(t, IsPast(now.Add(-time.Second), now))
	assert.False(t, IsPast(now, now))
	assert.False(t, IsPast(now.Add(time.Minute), now))
}

func TestIntervalOverlap(t *testing.T) {
	base := time.Date(2024, 6, 11, 9, 0, 0, 0, time.UTC)
	a := NewInterval(base, 90)
	assert.True(t, a.Overlaps(NewInterval(base.Add(60*time.Minute), 30)))
	assert.False(t, a.Overlaps(NewInterval(base.Add(90*time.Minute), 30)), "half-open intervals touching do not overlap")
	assert.Equal(t, 90, a.Minutes())
}

func TestDefaultGridCatalogue(t *testing.T) {
	g := DefaultGrid()

	monday := g.SlotsForWeekday(catalog.CenterTunis, time.Monday)
	require.Len(t, monday, 24)
	assert.Equal(t, MustClock("08:00"), monday[0].Start)
	assert.Equal(t, MustClock("20:00"), monday[23].End)
	for i, s := range monday {
		assert.Equal(t, i, s.Index)
	}

	friday := g.SlotsForWeekday(catalog.CenterTunis, time.Friday)
	require.Len(t, friday, 15)
	assert.Equal(t, MustClock("15:00"), friday[14].Start)
	assert.Equal(t, MustClock("15:30"), friday[14].End)

	assert.Len(t, g.SlotsForWeekday(catalog.CenterSfax, time.Saturday), 20)
	assert.Len(t, g.SlotsForWeekday(catalog.CenterTunis, time.Saturday), 24)
	assert.Empty(t, g.SlotsForWeekday(catalog.CenterTunis, time.Sunday))
	assert.False(t, g.IsOpen(catalog.CenterSfax, time.Sunday))

	assert.Equal(t, 12*60, g.OpenMinutes(catalog.CenterTunis, MustDate("2024-06-10")))
	assert.Equal(t, 7*60+30, g.OpenMinutes(catalog.CenterTunis, MustDate("2024-06-14")))
}

func TestSlotsForWeekdayReturnsCopy(t *testing.T) {
	g := DefaultGrid()
	slots := g.SlotsForWeekday(catalog.CenterTunis, time.Monday)
	slots[0].Start = 0
	assert.Equal(t, MustClock("08:00"), g.SlotsForWeekday(catalog.CenterTunis, time.Monday)[0].Start)
}

func TestIsWithinBusinessHours(t *testing.T) {
	g := DefaultGrid()
	tests := []struct {
		name   string
		center catalog.Center
		day    time.Weekday
		start  string
		end    string
		want   bool
	}{
		{"first slot", catalog.CenterTunis, time.Monday, "08:00", "08:30", true},
		{"ninety minutes mid-day", catalog.CenterTunis, time.Monday, "10:00", "11:30", true},
		{"last hour", catalog.CenterTunis, time.Monday, "19:00", "20:00", true},
		{"runs past closing", catalog.CenterTunis, time.Monday, "19:30", "20:30", false},
		{"before opening", catalog.CenterTunis, time.Monday, "07:30", "08:00", false},
		{"misaligned start", catalog.CenterTunis, time.Monday, "10:15", "10:45", false},
		{"friday extra slot", catalog.CenterTunis, time.Friday, "15:00", "15:30", true},
		{"friday hour into extra slot", catalog.CenterTunis, time.Friday, "14:30", "15:30", true},
		{"friday past extra slot", catalog.CenterTunis, time.Friday, "15:00", "16:00", false},
		{"sfax saturday closes early", catalog.CenterSfax, time.Saturday, "17:30", "18:30", false},
		{"tunis saturday open late", catalog.CenterTunis, time.Saturday, "17:30", "18:30", true},
		{"sunday closed", catalog.CenterTunis, time.Sunday, "10:00", "10:30", false},
		{"empty interval", catalog.CenterTunis, time.Monday, "10:00", "10:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.IsWithinBusinessHours(tt.center, tt.day, MustClock(tt.start), MustClock(tt.end))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadGridRejectsBadSchedules(t *testing.T) {
	tests := map[string]string{
		"unknown center":   `{"centers":{"sousse":{}}}`,
		"unknown weekday":  `{"centers":{"tunis":{"funday":{"ranges":[]}}}}`,
		"inverted range":   `{"centers":{"tunis":{"monday":{"ranges":[{"start":"10:00","end":"09:00"}]}}}}`,
		"ragged range":     `{"centers":{"tunis":{"monday":{"ranges":[{"start":"10:00","end":"10:45"}]}}}}`,
		"overlapping slot": `{"centers":{"tunis":{"monday":{"ranges":[{"start":"10:00","end":"11:00"}],"extra_slots":[{"start":"10:30","end":"11:00"}]}}}}`,
		"bad json":         `{`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadGrid(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadGridFileEmptyPathUsesEmbedded(t *testing.T) {
	g, err := LoadGridFile("")
	require.NoError(t, err)
	assert.Equal(t, 30, g.SlotMinutes())

	_, err = LoadGridFile("/does/not/exist.json")
	assert.Error(t, err)
}

func TestSlotAt(t *testing.T) {
	g := DefaultGrid()
	d := MustDate("2024-06-11")
	s, ok := g.SlotAt(catalog.CenterTunis, d, 4)
	require.True(t, ok)
	assert.Equal(t, "10:00", s.Start.String())
	assert.Equal(t, LocalToUTC(d, MustClock("10:00")), s.Interval(d).Start)

	_, ok = g.SlotAt(catalog.CenterTunis, d, 24)
	assert.False(t, ok)
}
