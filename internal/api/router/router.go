package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/laserostop/booking-calendar/internal/bookings"
	httpmiddleware "github.com/laserostop/booking-calendar/internal/http/middleware"
	"github.com/laserostop/booking-calendar/internal/observability/tracing"
	"github.com/laserostop/booking-calendar/internal/reporting"
	"github.com/laserostop/booking-calendar/internal/settings"
	"github.com/laserostop/booking-calendar/pkg/logging"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	BookingsHandler    *bookings.Handler
	ReportingHandler   *reporting.Handler
	SettingsHandler    *settings.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter

	// Optional dependency checked by /health.
	Database Pinger
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.BookingsHandler == nil {
		panic("router: bookings handler required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(tracing.Middleware("booking-calendar"))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	// Public endpoints (probes, scraping) are not rate limited.
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.Database, logger))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Group(func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		cfg.BookingsHandler.Register(api)
		if cfg.ReportingHandler != nil {
			cfg.ReportingHandler.Register(api)
		}
		if cfg.SettingsHandler != nil {
			cfg.SettingsHandler.Register(api)
		}
	})

	return r
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

func healthHandler(db Pinger, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				logger.Error("health check failed", "error", err)
				resp = healthResponse{Status: "degraded", Database: "unreachable"}
				status = http.StatusServiceUnavailable
			} else {
				resp.Database = "ok"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
