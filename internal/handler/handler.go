// Package handler contains the chi HTTP handlers that translate requests and
// responses to and from the services and the registration engine, including
// the mapping from domain errors to status codes.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"eventdesk/internal/engine"
	"eventdesk/internal/model"
	"eventdesk/internal/repository"
	"eventdesk/internal/service"
	"eventdesk/internal/storage"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler holds all HTTP handlers for the registration API.
type Handler struct {
	events *service.EventService
	users  *service.UserService
	engine *engine.Engine
}

// New constructs a Handler.
func New(events *service.EventService, users *service.UserService, eng *engine.Engine) *Handler {
	return &Handler{events: events, users: users, engine: eng}
}

// Router builds the full route tree with the global middleware stack.
func Router(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger)
	r.Use(CORS)

	r.Get("/health", HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/{eventId}", h.GetEvent)
		r.Put("/{eventId}", h.UpdateEvent)
		r.Delete("/{eventId}", h.DeleteEvent)
		r.Post("/{eventId}/registrations", h.Register)
		r.Get("/{eventId}/registrations", h.ListEventRegistrations)
		r.Delete("/{eventId}/registrations/{userId}", h.Unregister)
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.CreateUser)
		r.Get("/{userId}", h.GetUser)
		r.Get("/{userId}/registrations", h.ListUserRegistrations)
	})

	return r
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeDomainError maps domain errors onto the API's status codes:
// missing records are 404, conflicts and bad input are 400, storage
// trouble is 503 and safe to retry, anything else is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrAlreadyExists),
		errors.Is(err, repository.ErrVersionConflict),
		errors.Is(err, engine.ErrAlreadyRegistered),
		errors.Is(err, engine.ErrCapacityExceeded),
		errors.Is(err, engine.ErrTooManyRetries),
		errors.Is(err, engine.ErrInvalidStatus),
		errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable, retry later")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Event handlers ───────────────────────────────────────────────────────────

// CreateEvent handles POST /events.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ev, err := h.events.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// ListEvents handles GET /events with an optional ?status= filter.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	status := model.EventStatus(r.URL.Query().Get("status"))

	events, err := h.events.List(r.Context(), status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{eventId}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.Get(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// UpdateEvent handles PUT /events/{eventId}. Partial update; absent fields
// are unchanged and registrationCount cannot be set through this endpoint.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ev, err := h.events.Update(r.Context(), chi.URLParam(r, "eventId"), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// DeleteEvent handles DELETE /events/{eventId}.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.events.Delete(r.Context(), chi.URLParam(r, "eventId")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.MessageResponse{Message: "event deleted"})
}

// ─── User handlers ────────────────────────────────────────────────────────────

// CreateUser handles POST /users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req model.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	u, err := h.users.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// GetUser handles GET /users/{userId}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ─── Registration handlers ────────────────────────────────────────────────────

// Register handles POST /events/{eventId}/registrations.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	reg, err := h.engine.Register(r.Context(), chi.URLParam(r, "eventId"), req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// Unregister handles DELETE /events/{eventId}/registrations/{userId}.
func (h *Handler) Unregister(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	userID := chi.URLParam(r, "userId")

	if err := h.engine.Unregister(r.Context(), eventID, userID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.MessageResponse{Message: "unregistered"})
}

// ListEventRegistrations handles GET /events/{eventId}/registrations with an
// optional ?status=confirmed|waitlisted filter.
func (h *Handler) ListEventRegistrations(w http.ResponseWriter, r *http.Request) {
	status := model.RegistrationStatus(r.URL.Query().Get("status"))

	regs, err := h.engine.ListForEvent(r.Context(), chi.URLParam(r, "eventId"), status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if regs == nil {
		regs = []model.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

// ListUserRegistrations handles GET /users/{userId}/registrations.
func (h *Handler) ListUserRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.engine.ListForUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if regs == nil {
		regs = []model.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
