package reporting

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/laserostop/booking-calendar/internal/bookings"
	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/internal/clinictime"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

const (
	maxExportDays = 366
	utf8BOM       = "\ufeff"
)

var csvHeader = []string{
	"Date", "Heure début", "Heure fin", "Centre", "Nom du client", "Téléphone",
	"Catégorie", "Statut", "Notes", "Créé le", "ID",
}

// ExportQuery selects the bookings to export. An empty range means the
// current calendar month; an unknown category is ignored.
type ExportQuery struct {
	From     string
	To       string
	Category string
	Center   string
	Format   string
}

// ExportBooking is one exported booking with its display labels.
type ExportBooking struct {
	ID             uuid.UUID        `json:"id"`
	Center         catalog.Center   `json:"center"`
	Date           clinictime.Date  `json:"date"`
	StartTime      string           `json:"start_time"`
	EndTime        string           `json:"end_time"`
	ClientName     string           `json:"client_name"`
	Phone          string           `json:"phone"`
	Category       catalog.Category `json:"category"`
	CategoryLabel  string           `json:"category_label"`
	Status         catalog.Status   `json:"status"`
	StatusLabel    string           `json:"status_label"`
	Notes          string           `json:"notes"`
	CreatedAt      time.Time        `json:"created_at"`
	EffectivePrice float64          `json:"effective_price"`
}

// ExportFilters echoes the filters applied.
type ExportFilters struct {
	Category string `json:"category"`
	Center   string `json:"center"`
}

// ExportInfo describes an export.
type ExportInfo struct {
	TotalRecords int             `json:"total_records"`
	PeriodStart  clinictime.Date `json:"period_start"`
	PeriodEnd    clinictime.Date `json:"period_end"`
	ExportedAt   time.Time       `json:"exported_at"`
	Filters      ExportFilters   `json:"filters"`
}

// Export is the result of an export query.
type Export struct {
	Format   string          `json:"-"`
	Bookings []ExportBooking `json:"bookings"`
	Info     ExportInfo      `json:"export_info"`
}

// Filename returns the attachment name for the CSV rendering.
func (e *Export) Filename() string {
	return fmt.Sprintf("reservations_%s_%s.csv", e.Info.PeriodStart, e.Info.PeriodEnd)
}

// Export collects the bookings of a period. It returns ErrNoData when nothing
// matches.
func (s *Service) Export(ctx context.Context, q ExportQuery) (*Export, error) {
	ctx, span := reportingTracer.Start(ctx, "reporting.export")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.center", q.Center), attribute.String("clinic.export_format", q.Format))

	format := strings.ToLower(strings.TrimSpace(q.Format))
	switch format {
	case "":
		format = FormatCSV
	case FormatCSV, FormatJSON:
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidQuery, q.Format)
	}
	centers, label, err := s.resolveCenters(q.Center)
	if err != nil {
		return nil, err
	}
	now := s.now()
	from, to, err := parseRange(q.From, q.To, maxExportDays, func() (clinictime.Date, clinictime.Date) {
		return monthOf(clinictime.Today(now))
	})
	if err != nil {
		return nil, err
	}

	query := bookings.Query{Centers: centers, From: from, To: to}
	filters := ExportFilters{Center: label, Category: "all"}
	if c, err := catalog.ParseCategory(q.Category); err == nil {
		query.Category = c
		filters.Category = string(c)
	}

	rows, err := s.list(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	out := &Export{
		Format:   format,
		Bookings: make([]ExportBooking, 0, len(rows)),
		Info: ExportInfo{
			TotalRecords: len(rows),
			PeriodStart:  from,
			PeriodEnd:    to,
			ExportedAt:   now.UTC(),
			Filters:      filters,
		},
	}
	for _, b := range rows {
		out.Bookings = append(out.Bookings, ExportBooking{
			ID:             b.ID,
			Center:         b.Center,
			Date:           b.Date,
			StartTime:      clinictime.ClockOf(b.SlotStartUTC).String(),
			EndTime:        clinictime.ClockOf(b.SlotEndUTC).String(),
			ClientName:     b.ClientName,
			Phone:          b.Phone,
			Category:       b.Category,
			CategoryLabel:  b.Category.Label(),
			Status:         b.Status,
			StatusLabel:    b.Status.Label(),
			Notes:          b.Notes,
			CreatedAt:      b.CreatedAt,
			EffectivePrice: EffectivePrice(b),
		})
	}
	s.logger.Info("bookings exported", "center", label, "format", format, "records", len(rows))
	return out, nil
}

// WriteCSV renders the export with a UTF-8 BOM so spreadsheet tools pick the
// right encoding. Dates use the French day/month/year layout.
func WriteCSV(w io.Writer, e *Export) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("reporting: write csv: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("reporting: write csv: %w", err)
	}
	for _, b := range e.Bookings {
		record := []string{
			b.Date.Midnight().Format("02/01/2006"),
			b.StartTime,
			b.EndTime,
			string(b.Center),
			b.ClientName,
			b.Phone,
			b.CategoryLabel,
			b.StatusLabel,
			b.Notes,
			b.CreatedAt.In(clinictime.Zone).Format("02/01/2006 15:04"),
			b.ID.String(),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("reporting: write csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("reporting: write csv: %w", err)
	}
	return nil
}

// monthOf returns the first and last day of d's month.
func monthOf(d clinictime.Date) (clinictime.Date, clinictime.Date) {
	first := clinictime.Date{Year: d.Year, Month: d.Month, Day: 1}
	return first, first.AddDays(31).AddDays(-first.AddDays(31).Day)
}
