package negotiation

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Status represents the negotiation lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further offer, accept, reject or cancel is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusAccepted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// MessageType classifies entries of the negotiation log.
type MessageType string

const (
	MessageTypeMessage      MessageType = "message"
	MessageTypeOffer        MessageType = "offer"
	MessageTypeCounterOffer MessageType = "counter_offer"
	MessageTypeAccept       MessageType = "accept"
	MessageTypeReject       MessageType = "reject"
	MessageTypeCancel       MessageType = "cancel"
)

// MutatesState reports whether appending the message changes the negotiation header.
func (t MessageType) MutatesState() bool {
	return t != MessageTypeMessage
}

// RequiresAmount reports whether the message must carry an offer amount.
func (t MessageType) RequiresAmount() bool {
	return t == MessageTypeOffer || t == MessageTypeCounterOffer || t == MessageTypeAccept
}

// IsOffer reports whether the message proposes a price.
func (t MessageType) IsOffer() bool {
	return t == MessageTypeOffer || t == MessageTypeCounterOffer
}

// Role is the side a participant plays in a negotiation.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleFarmer Role = "farmer"
)

// Listing is the read-only crop listing metadata joined onto a negotiation.
type Listing struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Image string    `json:"image,omitempty"`
	Unit  string    `json:"unit,omitempty"`
}

// Negotiation is one bargaining thread between a buyer and a farmer.
type Negotiation struct {
	ID             uuid.UUID        `json:"id"`
	BuyerID        uuid.UUID        `json:"buyerId"`
	FarmerID       uuid.UUID        `json:"farmerId"`
	CropID         *uuid.UUID       `json:"cropId,omitempty"`
	Quantity       int              `json:"quantity"`
	InitialPrice   decimal.Decimal  `json:"initialPrice"`
	CurrentOffer   *decimal.Decimal `json:"currentOffer"`
	OfferedBy      *uuid.UUID       `json:"offeredBy"`
	Status         Status           `json:"status"`
	FinalPrice     *decimal.Decimal `json:"finalPrice"`
	Version        int64            `json:"version"`
	ClientActionID *string          `json:"-"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`

	// Enrichment, filled by list reads only.
	Listing    *Listing `json:"crop,omitempty"`
	BuyerName  string   `json:"buyerName,omitempty"`
	FarmerName string   `json:"farmerName,omitempty"`
}

// IsParty reports whether userID is the buyer or the farmer.
func (n *Negotiation) IsParty(userID uuid.UUID) bool {
	return userID != uuid.Nil && (userID == n.BuyerID || userID == n.FarmerID)
}

// RoleOf returns the role userID plays, or "" for outsiders.
func (n *Negotiation) RoleOf(userID uuid.UUID) Role {
	switch {
	case userID == uuid.Nil:
		return ""
	case userID == n.BuyerID:
		return RoleBuyer
	case userID == n.FarmerID:
		return RoleFarmer
	}
	return ""
}

// Counterparty returns the other party for userID.
func (n *Negotiation) Counterparty(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case n.BuyerID:
		return n.FarmerID, true
	case n.FarmerID:
		return n.BuyerID, true
	}
	return uuid.Nil, false
}

// CanAct reports whether userID may currently counter, accept or reject.
// It mirrors the checks performed by Propose, Accept and Reject.
func (n *Negotiation) CanAct(userID uuid.UUID) bool {
	if n.Status.IsTerminal() || !n.IsParty(userID) {
		return false
	}
	return n.OfferedBy == nil || *n.OfferedBy != userID
}

// Clone returns a deep copy that shares no pointers with n.
func (n *Negotiation) Clone() *Negotiation {
	if n == nil {
		return nil
	}
	c := *n
	c.CropID = cloneUUID(n.CropID)
	c.OfferedBy = cloneUUID(n.OfferedBy)
	c.CurrentOffer = cloneDecimal(n.CurrentOffer)
	c.FinalPrice = cloneDecimal(n.FinalPrice)
	if n.ClientActionID != nil {
		k := *n.ClientActionID
		c.ClientActionID = &k
	}
	if n.Listing != nil {
		l := *n.Listing
		c.Listing = &l
	}
	return &c
}

// Message is an immutable entry of the negotiation log.
type Message struct {
	ID             string           `json:"id"`
	NegotiationID  uuid.UUID        `json:"negotiationId"`
	SenderID       uuid.UUID        `json:"senderId"`
	Body           *string          `json:"message"`
	OfferAmount    *decimal.Decimal `json:"offerAmount"`
	Type           MessageType      `json:"messageType"`
	IsRead         bool             `json:"isRead"`
	ClientActionID *string          `json:"clientActionId,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Body != nil {
		b := *m.Body
		c.Body = &b
	}
	if m.ClientActionID != nil {
		k := *m.ClientActionID
		c.ClientActionID = &k
	}
	c.OfferAmount = cloneDecimal(m.OfferAmount)
	return &c
}

// Before orders messages by creation time, then by id.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// SortMessages sorts a log into its total order.
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewMessageID returns a lexically sortable id for a message created at t.
func NewMessageID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func newMessage(n *Negotiation, sender uuid.UUID, typ MessageType, amount *decimal.Decimal, body string, now time.Time) *Message {
	msg := &Message{
		ID:            NewMessageID(now),
		NegotiationID: n.ID,
		SenderID:      sender,
		OfferAmount:   cloneDecimal(amount),
		Type:          typ,
		CreatedAt:     now,
	}
	if body != "" {
		msg.Body = &body
	}
	return msg
}

func cloneUUID(u *uuid.UUID) *uuid.UUID {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
