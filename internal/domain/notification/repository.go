package notification

import (
	"context"

	"github.com/google/uuid"
)

// Sink receives alerts produced by the dispatcher.
type Sink interface {
	Deliver(ctx context.Context, alert *Alert) error
}

// Store is a Sink that can list what it received, newest first, and keeps
// each recipient's read state.
type Store interface {
	Sink
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Alert, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	// MarkAllRead marks every kept alert of userID read and returns how many
	// changed.
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error)
}
