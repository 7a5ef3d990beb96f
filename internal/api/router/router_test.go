package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/laserostop/booking-calendar/internal/bookings"
	httpmiddleware "github.com/laserostop/booking-calendar/internal/http/middleware"
	"github.com/laserostop/booking-calendar/internal/observability/metrics"
	"github.com/laserostop/booking-calendar/internal/reporting"
	"github.com/laserostop/booking-calendar/internal/settings"
	"github.com/laserostop/booking-calendar/pkg/logging"
)

var fixedNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func newTestConfig(t *testing.T) *Config {
	t.Helper()

	logger := logging.Default()
	reg := prometheus.NewRegistry()
	clock := func() time.Time { return fixedNow }
	store := bookings.NewMemoryStore()
	bookingSvc := bookings.NewService(store, bookings.NewEngine(nil), logger,
		bookings.WithMetrics(metrics.NewBookingMetrics(reg)),
		bookings.WithClock(clock),
	)
	reportingSvc := reporting.NewService(store, nil, logger, reporting.WithClock(clock))

	return &Config{
		Logger:             logger,
		BookingsHandler:    bookings.NewHandler(bookingSvc, logger),
		ReportingHandler:   reporting.NewHandler(reportingSvc, logger),
		SettingsHandler:    settings.NewHandler(settings.NewMemoryStore(settings.Defaults("accueil@clinique.tn")), logger),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: []string{"https://calendrier.clinique.tn"},
	}
}

func serve(h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := New(newTestConfig(t))

	rr := serve(router, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
	if rr.Header().Get("Content-Type") != "application/json" {
		t.Errorf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
}

func TestRouterHealthReportsDatabase(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Database = stubPinger{}
	rr := serve(New(cfg), http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"database":"ok"`) {
		t.Fatalf("unexpected healthy response %d %s", rr.Code, rr.Body.String())
	}

	cfg.Database = stubPinger{err: errors.New("connection refused")}
	rr = serve(New(cfg), http.MethodGet, "/health", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the database is down, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection refused") {
		t.Errorf("health response leaks the driver error: %s", rr.Body.String())
	}
}

func TestRouterBookingFlow(t *testing.T) {
	router := New(newTestConfig(t))

	payload := bookings.CreateRequest{
		ClientName:     "Sami Ben Ali",
		Phone:          "22 123 456",
		Category:       "tabac",
		SlotStartLocal: "2024-06-11T10:00",
		SlotEndLocal:   "2024-06-11T11:00",
	}
	rr := serve(router, http.MethodPost, "/create-booking", payload)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}

	rr = serve(router, http.MethodGet, "/week?start=2024-06-10", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("week: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "Sami Ben Ali") {
		t.Errorf("week view does not contain the new booking: %s", rr.Body.String())
	}

	rr = serve(router, http.MethodGet, "/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = serve(router, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "booking_operations_total") {
		t.Errorf("metrics output missing booking counters")
	}
}

func TestRouterSettingsMounted(t *testing.T) {
	router := New(newTestConfig(t))

	rr := serve(router, http.MethodGet, "/settings", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "accueil@clinique.tn") {
		t.Errorf("settings response missing default recipient: %s", rr.Body.String())
	}
}

func TestRouterOptionalHandlersAbsent(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.ReportingHandler = nil
	cfg.SettingsHandler = nil
	cfg.MetricsHandler = nil
	router := New(cfg)

	for _, path := range []string{"/stats", "/settings", "/metrics"} {
		rr := serve(router, http.MethodGet, path, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404 without a handler, got %d", path, rr.Code)
		}
	}
}

func TestRouterRateLimitSkipsProbes(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RateLimiter = httpmiddleware.NewRateLimiter(0, 1)
	router := New(cfg)

	if rr := serve(router, http.MethodGet, "/settings", nil); rr.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodGet, "/settings", nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", rr.Code)
	}
	for i := 0; i < 3; i++ {
		if rr := serve(router, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
			t.Fatalf("health must not be rate limited, got %d", rr.Code)
		}
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router := New(newTestConfig(t))

	req := httptest.NewRequest(http.MethodOptions, "/create-booking", nil)
	req.Header.Set("Origin", "https://calendrier.clinique.tn")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://calendrier.clinique.tn" {
		t.Fatalf("expected allowed origin header, got %q", got)
	}
}

func TestRouterRequiresBookingsHandler(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic without a bookings handler")
		}
	}()
	New(&Config{})
}
