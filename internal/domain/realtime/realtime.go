package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
)

// Table names the store table a change event originates from.
type Table string

const (
	TableNegotiations Table = "negotiations"
	TableMessages     Table = "negotiation_messages"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// Event is one row change on the negotiation tables. Delivery is
// at-least-once and may be out of order; consumers reconcile with
// Negotiation.Version and Message.CreatedAt.
type Event struct {
	ID            string                   `json:"id"`
	Table         Table                    `json:"table"`
	Type          EventType                `json:"type"`
	NegotiationID uuid.UUID                `json:"negotiationId"`
	BuyerID       uuid.UUID                `json:"buyerId"`
	FarmerID      uuid.UUID                `json:"farmerId"`
	Negotiation   *negotiation.Negotiation `json:"negotiation,omitempty"`
	Message       *negotiation.Message     `json:"message,omitempty"`
	OccurredAt    time.Time                `json:"occurredAt"`
}

// NegotiationChanged builds the event for an insert or update of n.
func NegotiationChanged(typ EventType, n *negotiation.Negotiation) *Event {
	return &Event{
		ID:            negotiation.NewMessageID(n.UpdatedAt),
		Table:         TableNegotiations,
		Type:          typ,
		NegotiationID: n.ID,
		BuyerID:       n.BuyerID,
		FarmerID:      n.FarmerID,
		Negotiation:   n.Clone(),
		OccurredAt:    n.UpdatedAt,
	}
}

// MessageAppended builds the insert event for m on n.
func MessageAppended(n *negotiation.Negotiation, m *negotiation.Message) *Event {
	return messageChanged(EventInsert, n, m, m.CreatedAt)
}

// MessageRead builds the update event for a read-state change of m.
func MessageRead(n *negotiation.Negotiation, m *negotiation.Message, at time.Time) *Event {
	return messageChanged(EventUpdate, n, m, at)
}

func messageChanged(typ EventType, n *negotiation.Negotiation, m *negotiation.Message, at time.Time) *Event {
	return &Event{
		ID:            negotiation.NewMessageID(at),
		Table:         TableMessages,
		Type:          typ,
		NegotiationID: n.ID,
		BuyerID:       n.BuyerID,
		FarmerID:      n.FarmerID,
		Message:       m.Clone(),
		OccurredAt:    at,
	}
}

// Involves reports whether userID is a party to the negotiation the event is about.
func (e *Event) Involves(userID uuid.UUID) bool {
	return userID != uuid.Nil && (e.BuyerID == userID || e.FarmerID == userID)
}

// Filter scopes a subscription. Zero values match everything.
type Filter struct {
	NegotiationID *uuid.UUID
	ParticipantID *uuid.UUID
	Tables        []Table
}

// ForNegotiation scopes to a single open chat.
func ForNegotiation(id uuid.UUID) Filter {
	return Filter{NegotiationID: &id}
}

// ForParticipant scopes to every negotiation userID takes part in.
func ForParticipant(userID uuid.UUID) Filter {
	return Filter{ParticipantID: &userID}
}

// Matches reports whether e passes every non-empty predicate of f.
func (f Filter) Matches(e *Event) bool {
	if f.NegotiationID != nil && *f.NegotiationID != e.NegotiationID {
		return false
	}
	if f.ParticipantID != nil && !e.Involves(*f.ParticipantID) {
		return false
	}
	if len(f.Tables) == 0 {
		return true
	}
	for _, t := range f.Tables {
		if t == e.Table {
			return true
		}
	}
	return false
}

// Publisher emits change events to interested observers.
type Publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

// Subscription is a scoped event stream. Close must be called exactly when
// the observer goes away; it is safe to call more than once.
type Subscription interface {
	Events() <-chan *Event
	// Lagged reports, and clears, whether events were dropped since the last
	// call. A lagged consumer re-fetches instead of trusting its cache.
	Lagged() bool
	Close()
}

// Broker is a local fan-out point that both publishes and subscribes.
type Broker interface {
	Publisher
	Subscribe(filter Filter) Subscription
}

// BufferedBroker is a Broker that can size a subscription's buffer.
type BufferedBroker interface {
	Broker
	SubscribeBuffered(filter Filter, buffer int) Subscription
}
