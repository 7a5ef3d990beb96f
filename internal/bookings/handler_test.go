package bookings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laserostop/booking-calendar/pkg/logging"
)

func newTestRouter(t *testing.T) (http.Handler, *Service, *MemoryStore) {
	t.Helper()
	svc, store, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(svc, logging.Default()).Register(r)
	return r, svc, store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandlerCreateConflictCancelRetry(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/create-booking", createReq("Sami", "22 123 456", "2024-06-11T10:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	booking := body["booking"].(map[string]any)
	assert.Equal(t, "2024-06-11T09:00:00Z", booking["slot_start_utc"])
	assert.Equal(t, "10:00", booking["local_start_time"])
	assert.Equal(t, "Mardi", booking["day_of_week"])
	assert.Equal(t, 500.0, booking["standard_price"])
	id := booking["id"].(string)

	rec = doJSON(t, h, http.MethodPost, "/create-booking", createReq("Leila", "98 765 432", "2024-06-11T10:30"))
	require.Equal(t, http.StatusConflict, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "slot", body["conflict"])

	rec = doJSON(t, h, http.MethodPost, "/cancel-booking", map[string]string{"id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/create-booking", createReq("Leila", "98 765 432", "2024-06-11T10:30"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHandlerDuplicateFlow(t *testing.T) {
	h, _, store := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/create-booking", createReq("Sami", "22 123 456", "2024-06-11T10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)

	request := createReq("Sami", "+216 22 123 456", "2024-06-12T10:00")
	rec = doJSON(t, h, http.MethodPost, "/create-booking", request)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "duplicate_client", body["conflict"])
	assert.Equal(t, "phone", body["match_by"])
	existing := body["existing_booking"].(map[string]any)

	rec = doJSON(t, h, http.MethodPost, "/resolve-duplicate", map[string]any{
		"choice":              "keep_both",
		"existing_booking_id": existing["id"],
		"booking":             request,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	all, err := store.List(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHandlerErrorMapping(t *testing.T) {
	h, _, _ := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"invalid json", http.MethodPost, "/create-booking", "not an object", http.StatusBadRequest},
		{"past slot", http.MethodPost, "/create-booking", createReq("A", "20 111 111", "2024-06-10T09:00"), http.StatusBadRequest},
		{"sunday", http.MethodPost, "/create-booking", createReq("A", "20 111 111", "2024-06-16T09:00"), http.StatusBadRequest},
		{"cancel unknown", http.MethodPost, "/cancel-booking", map[string]string{"id": uuid.NewString()}, http.StatusNotFound},
		{"cancel without id", http.MethodPost, "/cancel-booking", map[string]string{}, http.StatusBadRequest},
		{"bad strategy", http.MethodPost, "/resolve-conflict", map[string]any{"strategy": "swap"}, http.StatusBadRequest},
		{"bad week range", http.MethodGet, "/week?from=2024-06-12&to=2024-06-01", nil, http.StatusBadRequest},
		{"get bad id", http.MethodGet, "/bookings/nope", nil, http.StatusBadRequest},
		{"get missing", http.MethodGet, "/bookings/" + uuid.NewString(), nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"], "error text is carried under message")
			assert.NotContains(t, body, "error")
		})
	}
}

func TestHandlerValidationMessage(t *testing.T) {
	h, _, _ := newTestRouter(t)

	req := createReq("", "20 111 111", "2024-06-11T10:00")
	rec := doJSON(t, h, http.MethodPost, "/create-booking", req)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "client_name")
}

func TestHandlerStoreFailureIsGeneric(t *testing.T) {
	svc := NewService(failingStore{}, nil, logging.Default())
	r := chi.NewRouter()
	NewHandler(svc, logging.Default()).Register(r)

	rec := doJSON(t, r, http.MethodGet, "/pending-sessions", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "internal server error", body["message"])
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestHandlerFollowUp(t *testing.T) {
	h, svc, _ := newTestRouter(t)
	a := mustCreate(t, svc, createReq("A", "20 111 111", "2024-06-10T14:00"))
	b := mustCreate(t, svc, createReq("B", "20 222 222", "2024-06-10T16:00"))

	rec := doJSON(t, h, http.MethodGet, "/pending-sessions?date_filter=today", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 2.0, body["count"])

	rec = doJSON(t, h, http.MethodPost, "/update-session", map[string]any{
		"session_id":        a.ID,
		"attendance_status": "present",
		"actual_price":      400,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decodeBody(t, rec)
	assert.Equal(t, "partial", body["payment_status"])

	rec = doJSON(t, h, http.MethodPost, "/batch-confirm", map[string]any{
		"session_ids":         []uuid.UUID{b.ID},
		"attendance_status":   "present",
		"use_standard_prices": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decodeBody(t, rec)
	assert.Equal(t, 1.0, body["updated_count"])
	assert.Equal(t, 500.0, body["total_revenue"])
}

func TestHandlerMoveAndResolveConflict(t *testing.T) {
	h, svc, _ := newTestRouter(t)
	a := mustCreate(t, svc, createReq("A", "20 111 111", "2024-06-11T10:00"))
	mustCreate(t, svc, createReq("B", "20 222 222", "2024-06-11T12:00"))

	rec := doJSON(t, h, http.MethodPost, "/move-booking", MoveRequest{BookingID: a.ID, NewSlotStartLocal: "2024-06-11T12:00", NewSlotEndLocal: "2024-06-11T13:00"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/resolve-conflict", map[string]any{
		"strategy":          "move_down",
		"moving_booking_id": a.ID,
		"target":            map[string]any{"center": "tunis", "date": "2024-06-11", "slot_index": 8},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "12:00", body["moved"].(map[string]any)["local_start_time"])
	displaced := body["displaced"].([]any)
	require.Len(t, displaced, 1)
	assert.Equal(t, "13:00", displaced[0].(map[string]any)["local_start_time"])

	duration := 90
	rec = doJSON(t, h, http.MethodPost, "/update-booking", map[string]any{"id": a.ID, "session_duration": duration})
	require.Equal(t, http.StatusConflict, rec.Code, "the store still refuses an overlapping extension")
}

type failingStore struct{ Store }

func (failingStore) List(ctx context.Context, q Query) ([]*Booking, error) {
	return nil, errors.Join(ErrStore, errors.New("disk on fire"))
}
