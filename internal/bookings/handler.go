package bookings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/laserostop/booking-calendar/pkg/logging"
)

const maxBodyBytes = 1 << 20

// Handler exposes the booking lifecycle over HTTP.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates a bookings HTTP handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("bookings: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns a chi router with the calendar and follow-up endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register mounts the endpoints on an existing router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/week", h.Week)
	r.Post("/create-booking", h.CreateBooking)
	r.Post("/resolve-duplicate", h.ResolveDuplicate)
	r.Post("/cancel-booking", h.CancelBooking)
	r.Post("/move-booking", h.MoveBooking)
	r.Post("/resolve-conflict", h.ResolveConflict)
	r.Post("/update-booking", h.UpdateBooking)
	r.Get("/bookings/{id}", h.GetBooking)
	r.Get("/pending-sessions", h.PendingSessions)
	r.Post("/update-session", h.UpdateSession)
	r.Post("/batch-confirm", h.BatchConfirm)
}

type errorResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Conflict string `json:"conflict,omitempty"`
}

type bookingResponse struct {
	Success bool      `json:"success"`
	Booking LocalView `json:"booking"`
}

type duplicateResponse struct {
	Success         bool      `json:"success"`
	Conflict        string    `json:"conflict"`
	MatchBy         MatchBy   `json:"match_by"`
	ExistingBooking LocalView `json:"existing_booking"`
	Message         string    `json:"message"`
}

// Week handles GET /week?start&from&to&center&category.
func (h *Handler) Week(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view, err := h.svc.Week(r.Context(), WeekQuery{
		Start:    q.Get("start"),
		From:     q.Get("from"),
		To:       q.Get("to"),
		Center:   q.Get("center"),
		Category: q.Get("category"),
	})
	if err != nil {
		h.writeError(w, "week", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CreateBooking handles POST /create-booking.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, "create booking", err)
		return
	}
	if res.Duplicate != nil {
		writeJSON(w, http.StatusConflict, duplicateResponse{
			Conflict:        "duplicate_client",
			MatchBy:         res.Duplicate.MatchBy,
			ExistingBooking: NewLocalView(res.Duplicate.Existing),
			Message:         fmt.Sprintf("%s a déjà un rendez-vous actif", res.Duplicate.Existing.ClientName),
		})
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse{Success: true, Booking: NewLocalView(res.Booking)})
}

// ResolveDuplicate handles POST /resolve-duplicate.
func (h *Handler) ResolveDuplicate(w http.ResponseWriter, r *http.Request) {
	var req ResolveDuplicateRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.svc.ResolveDuplicate(r.Context(), req)
	if err != nil {
		h.writeError(w, "resolve duplicate", err)
		return
	}
	status := http.StatusOK
	if req.Choice == ChoiceKeepBoth {
		status = http.StatusCreated
	}
	writeJSON(w, status, bookingResponse{Success: true, Booking: NewLocalView(b)})
}

type idRequest struct {
	ID uuid.UUID `json:"id"`
}

// CancelBooking handles POST /cancel-booking.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == uuid.Nil {
		h.writeError(w, "cancel booking", fmt.Errorf("%w: id is required", ErrValidation))
		return
	}
	b, err := h.svc.Cancel(r.Context(), req.ID)
	if err != nil {
		h.writeError(w, "cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{Success: true, Booking: NewLocalView(b)})
}

// MoveBooking handles POST /move-booking.
func (h *Handler) MoveBooking(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.svc.Move(r.Context(), req)
	if err != nil {
		h.writeError(w, "move booking", err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{Success: true, Booking: NewLocalView(b)})
}

type resolveConflictResponse struct {
	Success   bool        `json:"success"`
	Strategy  Strategy    `json:"strategy"`
	Moved     LocalView   `json:"moved"`
	Displaced []LocalView `json:"displaced"`
}

// ResolveConflict handles POST /resolve-conflict.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req ResolveConflictRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.ResolveConflict(r.Context(), req)
	if err != nil {
		h.writeError(w, "resolve conflict", err)
		return
	}
	out := resolveConflictResponse{
		Success:   true,
		Strategy:  res.Strategy,
		Moved:     NewLocalView(res.Moved),
		Displaced: make([]LocalView, 0, len(res.Displaced)),
	}
	for _, b := range res.Displaced {
		out.Displaced = append(out.Displaced, NewLocalView(b))
	}
	writeJSON(w, http.StatusOK, out)
}

type updateBookingRequest struct {
	ID        uuid.UUID `json:"id"`
	BookingID uuid.UUID `json:"booking_id"`
	UpdateRequest
}

// UpdateBooking handles POST /update-booking.
func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	var req updateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == uuid.Nil {
		req.ID = req.BookingID
	}
	if req.ID == uuid.Nil {
		h.writeError(w, "update booking", fmt.Errorf("%w: booking_id is required", ErrValidation))
		return
	}
	b, err := h.svc.Update(r.Context(), req.ID, req.UpdateRequest)
	if err != nil {
		h.writeError(w, "update booking", err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{Success: true, Booking: NewLocalView(b)})
}

// GetBooking handles GET /bookings/{id}.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get booking", fmt.Errorf("%w: invalid id", ErrValidation))
		return
	}
	b, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{Success: true, Booking: NewLocalView(b)})
}

type pendingResponse struct {
	Success  bool             `json:"success"`
	Sessions []PendingSession `json:"sessions"`
	Count    int              `json:"count"`
}

// PendingSessions handles GET /pending-sessions?date_filter&category&center.
func (h *Handler) PendingSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessions, err := h.svc.PendingSessions(r.Context(), PendingQuery{
		DateFilter: DateFilter(q.Get("date_filter")),
		Category:   q.Get("category"),
		Center:     q.Get("center"),
	})
	if err != nil {
		h.writeError(w, "pending sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{Success: true, Sessions: sessions, Count: len(sessions)})
}

type updateSessionResponse struct {
	Success bool `json:"success"`
	*ConfirmResult
}

// UpdateSession handles POST /update-session.
func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.ConfirmAttendance(r.Context(), req)
	if err != nil {
		h.writeError(w, "update session", err)
		return
	}
	writeJSON(w, http.StatusOK, updateSessionResponse{Success: true, ConfirmResult: res})
}

type batchConfirmResponse struct {
	Success bool `json:"success"`
	*BatchConfirmResult
}

// BatchConfirm handles POST /batch-confirm.
func (h *Handler) BatchConfirm(w http.ResponseWriter, r *http.Request) {
	var req BatchConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.BatchConfirm(r.Context(), req)
	if err != nil {
		h.writeError(w, "batch confirm", err)
		return
	}
	writeJSON(w, http.StatusOK, batchConfirmResponse{Success: true, BatchConfirmResult: res})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid JSON body"})
		return false
	}
	return true
}

// writeError maps service errors to status codes. Store failures are logged
// and answered with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrSlotConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Message: "slot is already booked", Conflict: "slot"})
	case errors.Is(err, ErrNoAvailableSlot):
		writeJSON(w, http.StatusConflict, errorResponse{Message: "no free slot later that day", Conflict: "no_available_slot"})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "booking not found"})
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrBusinessHours),
		errors.Is(err, ErrPastSlot),
		errors.Is(err, ErrInvalidState):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
	default:
		h.logger.Error("bookings request failed", "operation", op, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
