package hold_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-seating/internal/availability"
	"ms-seating/internal/checkout"
	"ms-seating/internal/hold"
	"ms-seating/internal/lease"
	"ms-seating/internal/logger"
	"ms-seating/internal/models"
	"ms-seating/internal/sse"
	"ms-seating/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// HoldRequest is the body of POST /api/events/{eventId}/holds.
type HoldRequest struct {
	SeatIDs   []string `json:"seat_ids" validate:"required,min=1,dive,required"`
	SessionID string   `json:"session_id" validate:"required,max=128"`
}

// ReleaseLeasesRequest is sent by the checkout service once an order settled.
type ReleaseLeasesRequest struct {
	SeatIDs   []string `json:"seat_ids" validate:"required,min=1,dive,required"`
	SessionID string   `json:"session_id" validate:"required"`
}

type Handler struct {
	Holds        *hold.Service
	Availability *availability.Reconciler
	Leases       *lease.RedisStore
	Stream       *sse.SeatEventEmitter
	Settler      *checkout.Settler
	Logger       *logger.Logger

	validate *validator.Validate
}

func NewHandler(holds *hold.Service, avail *availability.Reconciler, leases *lease.RedisStore, stream *sse.SeatEventEmitter, settler *checkout.Settler, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewConsoleLogger(nil)
	}
	return &Handler{
		Holds:        holds,
		Availability: avail,
		Leases:       leases,
		Stream:       stream,
		Settler:      settler,
		Logger:       log,
		validate:     validator.New(),
	}
}

// RegisterRoutes mounts the buyer-facing routes under /events and the
// service-to-service routes under /internal.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/events/{eventId}", func(r chi.Router) {
		r.Post("/holds", h.CreateHold)
		r.Delete("/holds/{sessionId}", h.ReleaseHold)
		r.Post("/holds/{sessionId}/extend", h.ExtendHold)

		r.Get("/seats", h.ListSeats)
		r.Get("/seats/summary", h.SeatSummary)
		r.Get("/seats/stream", h.StreamSeats)
		r.Get("/seats/{seatId}/lease", h.InspectLease)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Post("/events/{eventId}/leases/release", h.ReleaseLeases)
		r.Post("/payments/outcome", h.PaymentOutcome)
	})
}

func (h *Handler) CreateHold(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	var req HoldRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.Logger.Debug("API", fmt.Sprintf("CreateHold: event=%s session=%s seats=%v", eventID, req.SessionID, req.SeatIDs))

	receipt, err := h.Holds.HoldSeats(r.Context(), eventID, req.SeatIDs, req.SessionID)
	if err != nil {
		h.writeError(w, "CreateHold", err)
		return
	}
	h.respond(w, http.StatusCreated, utils.SuccessResponse("Seats held", receipt))
}

func (h *Handler) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	sessionID := chi.URLParam(r, "sessionId")

	res, err := h.Holds.ReleaseHold(r.Context(), eventID, sessionID)
	if err != nil {
		h.writeError(w, "ReleaseHold", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Hold released", res))
}

func (h *Handler) ExtendHold(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	sessionID := chi.URLParam(r, "sessionId")

	res, err := h.Holds.RenewHold(r.Context(), eventID, sessionID)
	if err != nil {
		h.writeError(w, "ExtendHold", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Hold extended", res))
}

func (h *Handler) ListSeats(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	seats, err := h.Availability.EffectiveSeats(r.Context(), eventID)
	if err != nil {
		h.writeError(w, "ListSeats", fmt.Errorf("%w: %w", hold.ErrTransient, err))
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Seats retrieved", seats))
}

func (h *Handler) SeatSummary(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	summary, err := h.Availability.Summary(r.Context(), eventID)
	if err != nil {
		h.writeError(w, "SeatSummary", fmt.Errorf("%w: %w", hold.ErrTransient, err))
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Seat summary retrieved", summary))
}

func (h *Handler) InspectLease(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	seatID := chi.URLParam(r, "seatId")

	info, err := h.Leases.Inspect(r.Context(), eventID, seatID)
	if err != nil {
		h.writeError(w, "InspectLease", fmt.Errorf("%w: %w", hold.ErrTransient, err))
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Lease retrieved", info))
}

func (h *Handler) ReleaseLeases(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	var req ReleaseLeasesRequest
	if !h.decode(w, r, &req) {
		return
	}

	n, err := h.Holds.ReleaseLeaseForSeats(r.Context(), eventID, req.SeatIDs, req.SessionID)
	if err != nil {
		h.writeError(w, "ReleaseLeases", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Leases released", map[string]int{"released_count": n}))
}

func (h *Handler) PaymentOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome models.PaymentOutcome
	if !h.decode(w, r, &outcome) {
		return
	}

	if err := h.Settler.Settle(r.Context(), outcome); err != nil {
		h.writeError(w, "PaymentOutcome", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Payment outcome applied", nil))
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("%s %s: failed to decode request body: %v", r.Method, r.URL.Path, err))
		h.respond(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "INVALID_REQUEST", err.Error(), nil))
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.respond(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request", "INVALID_REQUEST", err.Error(), nil))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status, code, data := classify(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Info("API", fmt.Sprintf("%s: %v", op, err))
	}
	h.respond(w, status, utils.ErrorResponse(http.StatusText(status), code, err.Error(), data))
}

func (h *Handler) respond(w http.ResponseWriter, status int, resp utils.APIResponse) {
	if err := utils.WriteJSON(w, status, resp); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

// classify maps domain errors to an HTTP status, an error code and optional details.
func classify(err error) (int, string, interface{}) {
	var unavailable *hold.SeatsUnavailableError
	switch {
	case errors.As(err, &unavailable):
		return http.StatusConflict, "SEATS_UNAVAILABLE", map[string]interface{}{
			"seat_ids": unavailable.SeatIDs,
			"reason":   unavailable.Reason,
		}
	case errors.Is(err, hold.ErrInvalidRequest), errors.Is(err, checkout.ErrInvalidOutcome):
		return http.StatusBadRequest, "INVALID_REQUEST", nil
	case errors.Is(err, hold.ErrNotPurchasable):
		return http.StatusBadRequest, "EVENT_NOT_ON_SALE", nil
	case errors.Is(err, hold.ErrExtendFailed):
		return http.StatusBadRequest, "EXTEND_FAILED", nil
	case errors.Is(err, hold.ErrEventNotFound):
		return http.StatusNotFound, "EVENT_NOT_FOUND", nil
	case errors.Is(err, hold.ErrNotFound):
		return http.StatusNotFound, "HOLD_NOT_FOUND", nil
	case errors.Is(err, hold.ErrTransient):
		return http.StatusServiceUnavailable, "TEMPORARILY_UNAVAILABLE", nil
	default:
		return http.StatusInternalServerError, "INTERNAL", nil
	}
}

// StreamSeats pushes seat status changes for one event as Server-Sent Events.
func (h *Handler) StreamSeats(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)
	ctx := r.Context()
	changes := h.Stream.Subscribe(ctx, eventID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"event_id\":%q}\n\n", eventID)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to seat stream for event: %s", eventID))

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return
			}
			payload, err := json.Marshal(change)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize seat change: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: seat-status\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from seat stream for event: %s", eventID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no")
}
