package reporting

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laserostop/booking-calendar/internal/bookings"
	"github.com/laserostop/booking-calendar/internal/catalog"
	"github.com/laserostop/booking-calendar/pkg/logging"
)

func newTestRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(f.svc, logging.Default()).Register(r)
	return r, f
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandlerExportCSV(t *testing.T) {
	h, f := newTestRouter(t)
	b := f.add(t, seed{local: "2024-06-11T10:00", name: "Ben Ali, Sami"})
	f.add(t, seed{local: "2024-06-12T10:00", category: catalog.CategoryDrogue, status: catalog.StatusCancelled})

	rec := get(t, h, "/export")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="reservations_2024-06-01_2024-06-30.csv"`, rec.Header().Get("Content-Disposition"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "\ufeff"))
	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(body, "\ufeff"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, []string{
		"11/06/2024", "10:00", "11:00", "tunis", "Ben Ali, Sami", "22 123 456",
		"Arrêt du tabac", "Confirmé", "", "10/06/2024 10:00", b.ID.String(),
	}, records[1])
	assert.Equal(t, "Annulé", records[2][7])
	assert.Contains(t, body, `"Ben Ali, Sami"`)
}

func TestHandlerExportJSONAndFilters(t *testing.T) {
	h, f := newTestRouter(t)
	f.add(t, seed{local: "2024-06-11T10:00"})
	f.add(t, seed{local: "2024-06-12T10:00", category: catalog.CategoryDrogue})

	rec := get(t, h, "/export?format=json&category=drogue&from=2024-06-01&to=2024-06-30")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Success  bool `json:"success"`
		Bookings []struct {
			Category      string `json:"category"`
			CategoryLabel string `json:"category_label"`
		} `json:"bookings"`
		Info struct {
			TotalRecords int    `json:"total_records"`
			PeriodStart  string `json:"period_start"`
			Filters      struct {
				Category string `json:"category"`
			} `json:"filters"`
		} `json:"export_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Len(t, body.Bookings, 1)
	assert.Equal(t, "Sevrage drogue", body.Bookings[0].CategoryLabel)
	assert.Equal(t, 1, body.Info.TotalRecords)
	assert.Equal(t, "2024-06-01", body.Info.PeriodStart)
	assert.Equal(t, "drogue", body.Info.Filters.Category)
}

func TestHandlerErrors(t *testing.T) {
	h, _ := newTestRouter(t)

	tests := []struct {
		path   string
		status int
	}{
		{"/export", http.StatusNotFound},
		{"/export?format=xml", http.StatusBadRequest},
		{"/export?from=2024-06-30&to=2024-06-01", http.StatusBadRequest},
		{"/stats?center=bizerte", http.StatusBadRequest},
		{"/financial-summary?center=bizerte", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, h, tt.path)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := get(t, h, "/export")
	assert.Contains(t, rec.Body.String(), "Aucune donnée à exporter pour la période sélectionnée")
}

func TestHandlerFinancialSummary(t *testing.T) {
	h, f := newTestRouter(t)
	f.add(t, seed{local: "2024-06-10T10:00"})
	f.add(t, seed{local: "2024-06-08T10:00", status: catalog.StatusCancelled, attendance: catalog.AttendanceAbsent})

	rec := get(t, h, "/financial-summary")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sum map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, true, sum["success"])
	assert.Equal(t, "2024-06-10", sum["summary_date"])
	assert.Equal(t, 500.0, sum["today"].(map[string]any)["confirmed_revenue"])
	assert.Equal(t, 1.0, sum["weekly"].(map[string]any)["total_sessions"])

	rec = get(t, h, "/financial-summary?export=true")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var exp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exp))
	assert.Equal(t, 2.0, exp["count"])
}

func TestHandlerStats(t *testing.T) {
	h, f := newTestRouter(t)
	f.add(t, seed{local: "2024-06-11T10:00"})

	rec := get(t, h, "/stats?center=all")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "all", st["center"])
	assert.Equal(t, 1.0, st["summary"].(map[string]any)["total_bookings"])
}

func TestHandlerSourceFailureIsGeneric(t *testing.T) {
	svc := NewService(failingSource{}, nil, logging.Default())
	r := chi.NewRouter()
	NewHandler(svc, logging.Default()).Register(r)

	rec := get(t, r, "/stats")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

type failingSource struct{}

func (failingSource) List(ctx context.Context, q bookings.Query) ([]*bookings.Booking, error) {
	return nil, errors.Join(bookings.ErrStore, errors.New("disk on fire"))
}
