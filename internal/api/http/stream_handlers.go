package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/agrimarket/bargaining-hub/internal/domain/notification"
	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
)

func (s *Server) streamNegotiation(w http.ResponseWriter, r *http.Request) {
	id, ok := negotiationParam(w, r)
	if !ok {
		return
	}
	// Authorize before holding a subscription.
	if _, err := s.negotiationSvc.Get(r.Context(), id, callerFromContext(r.Context()).UserID); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.stream(w, r, realtime.ForNegotiation(id))
}

func (s *Server) streamParticipant(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, realtime.ForParticipant(callerFromContext(r.Context()).UserID))
}

// stream writes matching change events as SSE frames until the client goes
// away. A lagged subscription sends a resync frame so the client re-fetches.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, filter realtime.Filter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "SSE_UNSUPPORTED", "streaming unsupported")
		return
	}
	sub := s.broker.Subscribe(filter)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if sub.Lagged() {
				_, _ = w.Write([]byte("event: resync\ndata: {}\n\n"))
			}
			payload, err := json.Marshal(e)
			if err != nil {
				s.logger.Warn().Err(err).Str("event_id", e.ID).Msg("encode stream event")
				continue
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultAlertLimit, maxAlertLimit)
	items := []*notification.Alert{}
	unread := 0
	if s.alerts != nil {
		user := callerFromContext(r.Context()).UserID
		list, err := s.alerts.ListForUser(r.Context(), user, limit)
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "ALERTS_UNAVAILABLE", err.Error())
			return
		}
		if unread, err = s.alerts.UnreadCount(r.Context(), user); err != nil {
			respondError(w, http.StatusServiceUnavailable, "ALERTS_UNAVAILABLE", err.Error())
			return
		}
		items = list
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items, "unread": unread})
}

// markAlertsRead marks every alert of the caller read.
func (s *Server) markAlertsRead(w http.ResponseWriter, r *http.Request) {
	marked := 0
	if s.alerts != nil {
		var err error
		marked, err = s.alerts.MarkAllRead(r.Context(), callerFromContext(r.Context()).UserID)
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "ALERTS_UNAVAILABLE", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]int{"marked": marked})
}
