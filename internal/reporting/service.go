// Package reporting derives dashboards and exports from booking records.
// Nothing is stored; every figure is recomputed on read.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/laserostop/booking-calendar/internal/bookings"
	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
	"github.com/laserostop/booking-calendar/pkg/logging"
)

var reportingTracer = otel.Tracer("clinic.internal.reporting")

var (
	// ErrInvalidQuery is returned for malformed dates, ranges or centers.
	ErrInvalidQuery = errors.New("reporting: invalid query")
	// ErrNoData is returned by exports when the range holds no booking.
	ErrNoData = errors.New("reporting: no data for the selected period")
)

// Source is the read side of the booking store.
type Source interface {
	List(ctx context.Context, q bookings.Query) ([]*bookings.Booking, error)
}

// Service computes reports over a booking source.
type Service struct {
	source        Source
	grid          *clinictime.Grid
	logger        *logging.Logger
	now           func() time.Time
	defaultCenter catalog.Center
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock anchoring "today".
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultCenter sets the center used when a query names none.
func WithDefaultCenter(c catalog.Center) Option {
	return func(s *Service) {
		if c != "" {
			s.defaultCenter = c
		}
	}
}

// NewService constructs a reporting service. A nil grid uses the embedded
// default schedule.
func NewService(source Source, grid *clinictime.Grid, logger *logging.Logger, opts ...Option) *Service {
	if source == nil {
		panic("reporting: booking source required")
	}
	if grid == nil {
		grid = clinictime.DefaultGrid()
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		source:        source,
		grid:          grid,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		defaultCenter: catalog.CenterTunis,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolveCenters maps a center parameter to a filter; "all" means no filter.
func (s *Service) resolveCenters(raw string) ([]catalog.Center, string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(raw, "all"):
		return nil, "all", nil
	case raw == "":
		return []catalog.Center{s.defaultCenter}, string(s.defaultCenter), nil
	}
	c, err := catalog.ParseCenter(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return []catalog.Center{c}, string(c), nil
}

// parseRange reads an inclusive from/to pair. When both are empty, fallback
// supplies the range.
func parseRange(from, to string, maxDays int, fallback func() (clinictime.Date, clinictime.Date)) (clinictime.Date, clinictime.Date, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		start, end := fallback()
		return start, end, nil
	}
	start, err := clinictime.ParseDate(from)
	if err != nil {
		return clinictime.Date{}, clinictime.Date{}, fmt.Errorf("%w: from: %v", ErrInvalidQuery, err)
	}
	end, err := clinictime.ParseDate(to)
	if err != nil {
		return clinictime.Date{}, clinictime.Date{}, fmt.Errorf("%w: to: %v", ErrInvalidQuery, err)
	}
	if end.Before(start) {
		return clinictime.Date{}, clinictime.Date{}, fmt.Errorf("%w: to is before from", ErrInvalidQuery)
	}
	if start.DaysUntil(end) > maxDays {
		return clinictime.Date{}, clinictime.Date{}, fmt.Errorf("%w: range longer than %d days", ErrInvalidQuery, maxDays)
	}
	return start, end, nil
}

func (s *Service) list(ctx context.Context, q bookings.Query) ([]*bookings.Booking, error) {
	rows, err := s.source.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reporting: list bookings: %w", err)
	}
	return rows, nil
}

func (s *Service) isOpen(centers []catalog.Center, d clinictime.Date) bool {
	for _, c := range centersOrAll(centers) {
		if s.grid.IsOpen(c, d.Weekday()) {
			return true
		}
	}
	return false
}

func centersOrAll(centers []catalog.Center) []catalog.Center {
	if len(centers) == 0 {
		return catalog.Centers
	}
	return centers
}
