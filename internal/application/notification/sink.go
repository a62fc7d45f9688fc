package notification

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/agrimarket/bargaining-hub/internal/domain/notification"
)

const defaultSinkCapacity = 50

// MemorySink keeps the latest alerts per recipient together with their read
// state.
type MemorySink struct {
	mu       sync.RWMutex
	capacity int
	alerts   map[uuid.UUID][]*notification.Alert
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = defaultSinkCapacity
	}
	return &MemorySink{capacity: capacity, alerts: make(map[uuid.UUID][]*notification.Alert)}
}

func (s *MemorySink) Deliver(ctx context.Context, alert *notification.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := *alert
	list := append(s.alerts[alert.RecipientID], &kept)
	if len(list) > s.capacity {
		list = list[len(list)-s.capacity:]
	}
	s.alerts[alert.RecipientID] = list
	return nil
}

// ListForUser returns up to limit alerts for userID, newest first. A
// non-positive limit returns everything kept.
func (s *MemorySink) ListForUser(_ context.Context, userID uuid.UUID, limit int) ([]*notification.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.alerts[userID]
	if limit <= 0 || limit > len(list) {
		limit = len(list)
	}
	out := make([]*notification.Alert, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		c := *list[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemorySink) UnreadCount(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.alerts[userID] {
		if !a.Read {
			n++
		}
	}
	return n, nil
}

func (s *MemorySink) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	for _, a := range s.alerts[userID] {
		if !a.Read {
			a.Read = true
			marked++
		}
	}
	return marked, nil
}
