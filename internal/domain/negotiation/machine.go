package negotiation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxMessageLength bounds the free text of a chat message, in runes.
const MaxMessageLength = 2000

// StartInput opens a negotiation on behalf of a buyer.
type StartInput struct {
	BuyerID        uuid.UUID
	FarmerID       uuid.UUID
	CropID         *uuid.UUID
	InitialPrice   decimal.Decimal
	OfferPrice     decimal.Decimal
	Quantity       int
	ClientActionID *string
}

// Start validates in and returns a pending negotiation together with the
// opening offer message. Nothing is persisted.
func Start(in StartInput, now time.Time) (*Negotiation, *Message, error) {
	switch {
	case in.BuyerID == uuid.Nil:
		return nil, nil, fmt.Errorf("%w: buyer is required", ErrNotAuthorized)
	case in.FarmerID == uuid.Nil:
		return nil, nil, fmt.Errorf("%w: farmer is required", ErrInvalidOffer)
	case in.BuyerID == in.FarmerID:
		return nil, nil, fmt.Errorf("%w: buyer and farmer must differ", ErrInvalidOffer)
	case !in.InitialPrice.IsPositive():
		return nil, nil, fmt.Errorf("%w: initial price must be positive", ErrInvalidOffer)
	case !in.OfferPrice.IsPositive():
		return nil, nil, fmt.Errorf("%w: offer price must be positive", ErrInvalidOffer)
	case in.Quantity <= 0:
		return nil, nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidOffer)
	case in.OfferPrice.GreaterThanOrEqual(in.InitialPrice):
		return nil, nil, fmt.Errorf("%w: offer %s must be below the listing price %s",
			ErrInvalidOffer, in.OfferPrice, in.InitialPrice)
	}

	n := &Negotiation{
		ID:             uuid.New(),
		BuyerID:        in.BuyerID,
		FarmerID:       in.FarmerID,
		CropID:         cloneUUID(in.CropID),
		Quantity:       in.Quantity,
		InitialPrice:   in.InitialPrice,
		Status:         StatusPending,
		ClientActionID: in.ClientActionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	msg := newMessage(n, in.BuyerID, MessageTypeOffer, &in.OfferPrice, "Initial offer: "+FormatPrice(in.OfferPrice), now)
	msg.ClientActionID = in.ClientActionID
	if err := n.commit(msg); err != nil {
		return nil, nil, err
	}
	return n, msg, nil
}

// Propose records a new standing offer from caller. The message is a
// counter_offer whenever an earlier offer exists.
func (n *Negotiation) Propose(caller uuid.UUID, amount decimal.Decimal, now time.Time) (*Message, error) {
	typ, label := MessageTypeOffer, "Offer: "
	if n.CurrentOffer != nil {
		typ, label = MessageTypeCounterOffer, "Counter offer: "
	}
	msg := newMessage(n, caller, typ, &amount, label+FormatPrice(amount), now)
	if err := n.commit(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Accept closes the deal at the standing offer. A non-nil price must equal it.
func (n *Negotiation) Accept(caller uuid.UUID, price *decimal.Decimal, now time.Time) (*Message, error) {
	bound := n.CurrentOffer
	if price != nil {
		bound = price
	}
	body := "Offer accepted"
	if bound != nil {
		body += " at " + FormatPrice(*bound)
	}
	msg := newMessage(n, caller, MessageTypeAccept, bound, body, now)
	if err := n.commit(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Reject declines the standing offer and closes the negotiation.
func (n *Negotiation) Reject(caller uuid.UUID, now time.Time) (*Message, error) {
	msg := newMessage(n, caller, MessageTypeReject, nil, "Offer rejected", now)
	if err := n.commit(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Cancel withdraws the negotiation. Only the buyer may cancel, and only
// while no counter offer has been made.
func (n *Negotiation) Cancel(caller uuid.UUID, now time.Time) (*Message, error) {
	msg := newMessage(n, caller, MessageTypeCancel, nil, "Negotiation cancelled", now)
	if err := n.commit(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Say builds a plain chat message. It never changes the negotiation header
// and is allowed in any status.
func (n *Negotiation) Say(caller uuid.UUID, text string, now time.Time) (*Message, error) {
	text = strings.TrimSpace(text)
	switch {
	case !n.IsParty(caller):
		return nil, ErrNotAuthorized
	case text == "":
		return nil, fmt.Errorf("%w: message is empty", ErrInvalidMessage)
	case utf8.RuneCountInString(text) > MaxMessageLength:
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidMessage, MaxMessageLength)
	}
	return newMessage(n, caller, MessageTypeMessage, nil, text, now), nil
}

// commit validates msg against the current header and applies its effect.
func (n *Negotiation) commit(msg *Message) error {
	s := n.State()
	if err := s.apply(n, msg); err != nil {
		return err
	}
	n.setState(s)
	n.UpdatedAt = msg.CreatedAt
	return nil
}

// FormatPrice renders an amount the way log messages quote it.
func FormatPrice(d decimal.Decimal) string {
	return "₹" + d.String()
}
