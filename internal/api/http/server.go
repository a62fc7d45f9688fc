package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appNegotiation "github.com/agrimarket/bargaining-hub/internal/application/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/notification"
	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
)

const (
	requestTimeout    = 30 * time.Second
	defaultHeartbeat  = 25 * time.Second
	defaultAlertLimit = 20
	maxAlertLimit     = 100
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	negotiationSvc *appNegotiation.Service
	broker         realtime.Broker
	alerts         notification.Store
	limiter        *userLimiter
	heartbeat      time.Duration
	logger         zerolog.Logger
}

// NewServer wires the handlers. alerts may be nil, in which case /v1/alerts
// always returns an empty list.
func NewServer(
	negotiationSvc *appNegotiation.Service,
	broker realtime.Broker,
	alerts notification.Store,
	actionsPerSecond float64,
	actionBurst int,
	logger zerolog.Logger,
) *Server {
	return &Server{
		negotiationSvc: negotiationSvc,
		broker:         broker,
		alerts:         alerts,
		limiter:        newUserLimiter(actionsPerSecond, actionBurst),
		heartbeat:      defaultHeartbeat,
		logger:         logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireCaller)

		// Streams outlive the request timeout.
		r.Get("/stream", s.streamParticipant)
		r.Get("/negotiations/{negotiationId}/stream", s.streamNegotiation)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/alerts", s.listAlerts)
			r.Post("/alerts/read", s.markAlertsRead)

			r.Route("/negotiations", func(r chi.Router) {
				r.Get("/", s.listNegotiations)
				r.Get("/{negotiationId}", s.getNegotiation)
				r.Get("/{negotiationId}/messages", s.listMessages)
				r.Post("/{negotiationId}/read", s.markRead)
				r.Post("/{negotiationId}/reconcile", s.reconcile)

				r.Group(func(r chi.Router) {
					r.Use(s.limiter.Middleware)
					r.With(s.requireRole(negotiation.RoleBuyer)).Post("/", s.createNegotiation)
					r.Post("/{negotiationId}/messages", s.sendMessage)
					r.Post("/{negotiationId}/offers", s.propose)
					r.Post("/{negotiationId}/accept", s.accept)
					r.Post("/{negotiationId}/reject", s.reject)
					r.With(s.requireRole(negotiation.RoleBuyer)).Post("/{negotiationId}/cancel", s.cancel)
				})
			})
		})
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":     code,
		"message":   message,
		"retryable": false,
	})
}

// respondDomainError maps service errors onto status codes.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	respondJSON(w, status, map[string]interface{}{
		"error":     code,
		"message":   err.Error(),
		"retryable": negotiation.IsRetryable(err),
	})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, negotiation.ErrInvalidOffer):
		return http.StatusUnprocessableEntity, "INVALID_OFFER"
	case errors.Is(err, negotiation.ErrInvalidMessage):
		return http.StatusUnprocessableEntity, "INVALID_MESSAGE"
	case errors.Is(err, negotiation.ErrNotYourTurn):
		return http.StatusConflict, "NOT_YOUR_TURN"
	case errors.Is(err, negotiation.ErrNoActiveOffer):
		return http.StatusConflict, "NO_ACTIVE_OFFER"
	case errors.Is(err, negotiation.ErrNegotiationClosed):
		return http.StatusConflict, "NEGOTIATION_CLOSED"
	case errors.Is(err, negotiation.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT"
	case errors.Is(err, negotiation.ErrDuplicateAction):
		return http.StatusConflict, "DUPLICATE_ACTION"
	case errors.Is(err, negotiation.ErrLogMismatch):
		return http.StatusConflict, "LOG_MISMATCH"
	case errors.Is(err, negotiation.ErrNotAuthorized):
		return http.StatusForbidden, "NOT_AUTHORIZED"
	case errors.Is(err, negotiation.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, negotiation.ErrPersistence):
		return http.StatusServiceUnavailable, "PERSISTENCE_ERROR"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// clientActionID prefers the body field and falls back to Idempotency-Key.
func clientActionID(r *http.Request, fromBody *string) *string {
	if fromBody != nil && *fromBody != "" {
		return fromBody
	}
	if v := r.Header.Get("Idempotency-Key"); v != "" {
		return &v
	}
	return nil
}

func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}
