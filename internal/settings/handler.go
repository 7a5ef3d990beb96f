package settings

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/laserostop/booking-calendar/pkg/logging"
)

// Handler exposes the notification settings.
type Handler struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
}

// NewHandler creates a settings HTTP handler.
func NewHandler(store Store, logger *logging.Logger) *Handler {
	if store == nil {
		panic("settings: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger, now: time.Now}
}

// Register mounts GET and PUT /settings.
func (h *Handler) Register(r chi.Router) {
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)
}

type settingsResponse struct {
	Success  bool      `json:"success"`
	Settings *Settings `json:"settings"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GetSettings handles GET /settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Get(r.Context())
	if err != nil {
		h.logger.Error("failed to load settings", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{Success: true, Settings: s})
}

// UpdateSettings handles PUT /settings with a partial body.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req Update
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid JSON body"})
		return
	}

	current, err := h.store.Get(r.Context())
	if err != nil {
		h.logger.Error("failed to load settings", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
		return
	}
	next, err := req.Apply(current, h.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
		return
	}
	if err := h.store.Save(r.Context(), next); err != nil {
		h.logger.Error("failed to save settings", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to save settings"})
		return
	}

	h.logger.Info("settings updated", "email_enabled", next.EmailEnabled, "has_recipient", next.NotificationEmail != "")
	writeJSON(w, http.StatusOK, settingsResponse{Success: true, Settings: next})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
