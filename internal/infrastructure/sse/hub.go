package sse

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
	"github.com/agrimarket/bargaining-hub/internal/infrastructure/metrics"
)

const defaultBuffer = 64

// Hub fans change events out to in-process subscriptions.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	buffer  int
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewHub(buffer int, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:    make(map[uint64]*Subscription),
		buffer:  buffer,
		logger:  logger.With().Str("component", "sse_hub").Logger(),
		metrics: m,
	}
}

// Subscribe registers a new subscription scoped by filter.
func (h *Hub) Subscribe(filter realtime.Filter) realtime.Subscription {
	return h.SubscribeBuffered(filter, h.buffer)
}

// SubscribeBuffered is Subscribe with a buffer of its own. A non-positive
// buffer selects the hub's.
func (h *Hub) SubscribeBuffered(filter realtime.Filter, buffer int) realtime.Subscription {
	if buffer <= 0 {
		buffer = h.buffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	s := &Subscription{
		id:     h.nextID,
		hub:    h,
		filter: filter,
		ch:     make(chan *realtime.Event, buffer),
	}
	h.subs[s.id] = s
	h.metrics.SubscriptionDelta(context.Background(), 1)
	return s
}

func (h *Hub) unregister(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[id]
	if !ok {
		return false
	}
	close(s.ch)
	delete(h.subs, id)
	h.metrics.SubscriptionDelta(context.Background(), -1)
	return true
}

// Publish delivers events to every matching subscription without blocking.
// A full buffer marks that subscription lagged instead.
func (h *Hub) Publish(ctx context.Context, events ...*realtime.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered, dropped := 0, 0
	for _, e := range events {
		for _, s := range h.subs {
			if !s.filter.Matches(e) {
				continue
			}
			if trySend(s, e) {
				delivered++
				continue
			}
			dropped++
			s.lagged.Store(true)
			h.logger.Warn().
				Str("event_id", e.ID).
				Str("negotiation_id", e.NegotiationID.String()).
				Uint64("subscription", s.id).
				Msg("subscriber buffer full, event dropped")
		}
	}
	h.metrics.Delivered(ctx, delivered)
	h.metrics.Dropped(ctx, dropped)
	return nil
}

func (h *Hub) SubscriptionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stop closes every subscription.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
		h.metrics.SubscriptionDelta(context.Background(), -1)
	}
}

func trySend(s *Subscription, e *realtime.Event) bool {
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

// Subscription is a Hub registration.
type Subscription struct {
	id     uint64
	hub    *Hub
	filter realtime.Filter
	ch     chan *realtime.Event
	lagged atomic.Bool
}

func (s *Subscription) Events() <-chan *realtime.Event { return s.ch }

func (s *Subscription) Lagged() bool { return s.lagged.Swap(false) }

func (s *Subscription) Close() { s.hub.unregister(s.id) }
