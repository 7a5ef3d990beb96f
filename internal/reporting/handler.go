package reporting

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/laserostop/booking-calendar/pkg/logging"
)

// Handler serves the dashboards and exports.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates a reporting HTTP handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("reporting: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns a chi router with the reporting endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register mounts the endpoints on an existing router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/stats", h.Stats)
	r.Get("/financial-summary", h.FinancialSummary)
	r.Get("/export", h.Export)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type statsResponse struct {
	Success bool `json:"success"`
	*Stats
}

// Stats handles GET /stats?from&to&center.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	st, err := h.svc.Stats(r.Context(), StatsQuery{From: q.Get("from"), To: q.Get("to"), Center: q.Get("center")})
	if err != nil {
		h.writeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Success: true, Stats: st})
}

type financialResponse struct {
	Success bool `json:"success"`
	*FinancialSummary
}

type financialExportResponse struct {
	Success bool           `json:"success"`
	Rows    []FinancialRow `json:"rows"`
	Count   int            `json:"count"`
}

// FinancialSummary handles GET /financial-summary?center&export. With
// export=true it returns the raw rows of the last 30 days instead.
func (h *Handler) FinancialSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if export, _ := strconv.ParseBool(q.Get("export")); export {
		rows, err := h.svc.FinancialExport(r.Context(), q.Get("center"))
		if err != nil {
			h.writeError(w, "financial export", err)
			return
		}
		writeJSON(w, http.StatusOK, financialExportResponse{Success: true, Rows: rows, Count: len(rows)})
		return
	}
	sum, err := h.svc.FinancialSummary(r.Context(), q.Get("center"))
	if err != nil {
		h.writeError(w, "financial summary", err)
		return
	}
	writeJSON(w, http.StatusOK, financialResponse{Success: true, FinancialSummary: sum})
}

type exportResponse struct {
	Success bool `json:"success"`
	*Export
}

// Export handles GET /export?from&to&category&center&format.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	exp, err := h.svc.Export(r.Context(), ExportQuery{
		From:     q.Get("from"),
		To:       q.Get("to"),
		Category: q.Get("category"),
		Center:   q.Get("center"),
		Format:   q.Get("format"),
	})
	if err != nil {
		h.writeError(w, "export", err)
		return
	}
	if exp.Format == FormatJSON {
		writeJSON(w, http.StatusOK, exportResponse{Success: true, Export: exp})
		return
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, exp); err != nil {
		h.writeError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.Filename()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNoData):
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "Aucune donnée à exporter pour la période sélectionnée"})
	case errors.Is(err, ErrInvalidQuery):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
	default:
		h.logger.Error("reporting request failed", "operation", op, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
