package notification

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority represents the alert priority
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

var ErrInvalidRule = errors.New("invalid notification rule")

// Rule turns matching change events into alerts. Condition is a govaluate
// expression evaluated once per candidate recipient; Body may reference
// parameters as {name}.
type Rule struct {
	Name      string   `json:"name"`
	Condition string   `json:"condition"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Priority  Priority `json:"priority"`
}

// Validate checks the fields that do not need the expression engine.
func (r Rule) Validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "":
		return errors.Join(ErrInvalidRule, errors.New("name is required"))
	case strings.TrimSpace(r.Title) == "":
		return errors.Join(ErrInvalidRule, errors.New("title is required"))
	}
	return nil
}

// DefaultRules are the marketplace alerts.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "new_offer",
			Condition: "table == 'negotiations' && event == 'insert' && recipient_role == 'farmer'",
			Title:     "New Price Offer",
			Body:      "You received an offer of ₹{current_offer}",
			Priority:  PriorityHigh,
		},
		{
			Name:      "offer_accepted",
			Condition: "table == 'negotiations' && event == 'update' && status == 'accepted'",
			Title:     "Offer Accepted",
			Body:      "Deal closed at ₹{final_price}",
			Priority:  PriorityHigh,
		},
		{
			Name:      "counter_offer",
			Condition: "table == 'negotiations' && event == 'update' && status == 'active' && offered_by != recipient",
			Title:     "Counter Offer",
			Body:      "New offer: ₹{current_offer}",
			Priority:  PriorityMedium,
		},
		{
			Name:      "offer_rejected",
			Condition: "table == 'negotiations' && event == 'update' && status == 'rejected' && offered_by == recipient",
			Title:     "Offer Rejected",
			Body:      "Your offer of ₹{current_offer} was rejected",
			Priority:  PriorityMedium,
		},
		{
			Name:      "negotiation_cancelled",
			Condition: "table == 'negotiations' && event == 'update' && status == 'cancelled' && recipient_role == 'farmer'",
			Title:     "Negotiation Cancelled",
			Body:      "The buyer withdrew their offer",
			Priority:  PriorityLow,
		},
		{
			Name:      "new_message",
			Condition: "table == 'negotiation_messages' && event == 'insert' && message_type == 'message' && sender_id != recipient",
			Title:     "New Message",
			Body:      "{message}",
			Priority:  PriorityLow,
		},
	}
}

// Alert is a user-facing notification produced by a rule.
type Alert struct {
	ID            uuid.UUID `json:"id"`
	EventID       string    `json:"eventId"`
	Rule          string    `json:"rule"`
	RecipientID   uuid.UUID `json:"recipientId"`
	NegotiationID uuid.UUID `json:"negotiationId"`
	Priority      Priority  `json:"priority"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"createdAt"`
	Read          bool      `json:"read"`
}

// NewAlert creates a new alert
func NewAlert(eventID string, rule Rule, recipient, negotiationID uuid.UUID, body string, at time.Time) *Alert {
	priority := rule.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	return &Alert{
		ID:            uuid.New(),
		EventID:       eventID,
		Rule:          rule.Name,
		RecipientID:   recipient,
		NegotiationID: negotiationID,
		Priority:      priority,
		Title:         rule.Title,
		Body:          body,
		CreatedAt:     at,
	}
}

// DedupeKey identifies an alert for one event, recipient and rule.
func (a *Alert) DedupeKey() string {
	return a.EventID + "|" + a.RecipientID.String() + "|" + a.Rule
}
