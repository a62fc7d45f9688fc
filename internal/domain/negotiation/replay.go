package negotiation

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is the mutable projection of a negotiation log.
type State struct {
	CurrentOffer *decimal.Decimal
	OfferedBy    *uuid.UUID
	Status       Status
	FinalPrice   *decimal.Decimal
	// Version is bumped once per applied state-mutating message.
	Version int64
}

// State returns the header fields of n as a State.
func (n *Negotiation) State() State {
	return State{
		CurrentOffer: cloneDecimal(n.CurrentOffer),
		OfferedBy:    cloneUUID(n.OfferedBy),
		Status:       n.Status,
		FinalPrice:   cloneDecimal(n.FinalPrice),
		Version:      n.Version,
	}
}

func (n *Negotiation) setState(s State) {
	n.CurrentOffer = s.CurrentOffer
	n.OfferedBy = s.OfferedBy
	n.Status = s.Status
	n.FinalPrice = s.FinalPrice
	n.Version = s.Version
}

// apply is the single transition function shared by the state machine and
// log replay. n supplies the immutable parties only.
func (s *State) apply(n *Negotiation, m *Message) error {
	if !n.IsParty(m.SenderID) {
		return ErrNotAuthorized
	}
	if !m.Type.MutatesState() {
		return nil
	}
	if s.Status.IsTerminal() {
		return fmt.Errorf("%w: status is %s", ErrNegotiationClosed, s.Status)
	}
	if s.Version == 0 && (m.Type != MessageTypeOffer || m.SenderID != n.BuyerID) {
		return fmt.Errorf("%w: a negotiation opens with an offer from the buyer", ErrInvalidOffer)
	}
	myOffer := s.OfferedBy != nil && *s.OfferedBy == m.SenderID

	switch m.Type {
	case MessageTypeOffer, MessageTypeCounterOffer:
		if myOffer {
			return fmt.Errorf("%w: waiting for the other party to respond", ErrNotYourTurn)
		}
		if m.OfferAmount == nil || !m.OfferAmount.IsPositive() {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidOffer)
		}
		if (m.Type == MessageTypeCounterOffer) != (s.CurrentOffer != nil) {
			return fmt.Errorf("%w: %s does not match offer history", ErrInvalidOffer, m.Type)
		}
		s.Status = StatusActive
		if s.CurrentOffer == nil {
			s.Status = StatusPending
		}
		s.CurrentOffer = cloneDecimal(m.OfferAmount)
		s.OfferedBy = cloneUUID(&m.SenderID)

	case MessageTypeAccept:
		if s.CurrentOffer == nil {
			return ErrNoActiveOffer
		}
		if myOffer {
			return fmt.Errorf("%w: cannot accept your own offer", ErrNotYourTurn)
		}
		if m.OfferAmount == nil || !m.OfferAmount.Equal(*s.CurrentOffer) {
			return fmt.Errorf("%w: accepted price must equal the standing offer %s",
				ErrInvalidOffer, s.CurrentOffer)
		}
		s.Status = StatusAccepted
		s.FinalPrice = cloneDecimal(s.CurrentOffer)

	case MessageTypeReject:
		if myOffer {
			return fmt.Errorf("%w: cannot reject your own offer", ErrNotYourTurn)
		}
		s.Status = StatusRejected

	case MessageTypeCancel:
		if m.SenderID != n.BuyerID {
			return fmt.Errorf("%w: only the buyer may cancel", ErrNotAuthorized)
		}
		if s.Status != StatusPending {
			return fmt.Errorf("%w: a counter offer has already been made", ErrNotYourTurn)
		}
		s.Status = StatusCancelled

	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, m.Type)
	}
	s.Version++
	return nil
}

// Replay re-derives the header of base from log, applied in created_at order.
// Only the identity and parties of base are read.
func Replay(base *Negotiation, log []*Message) (State, error) {
	ordered := make([]*Message, len(log))
	copy(ordered, log)
	SortMessages(ordered)

	s := State{Status: StatusPending}
	for _, m := range ordered {
		if m.NegotiationID != base.ID {
			return s, fmt.Errorf("%w: message %s belongs to %s", ErrLogMismatch, m.ID, m.NegotiationID)
		}
		if err := s.apply(base, m); err != nil {
			return s, fmt.Errorf("%w: message %s: %w", ErrLogMismatch, m.ID, err)
		}
	}
	return s, nil
}

// Verify reports ErrLogMismatch when the header of n cannot be reproduced
// from log. Version is not compared; repairs bump it without a message.
func Verify(n *Negotiation, log []*Message) error {
	s, err := Replay(n, log)
	if err != nil {
		return err
	}
	switch {
	case s.Status != n.Status:
		return fmt.Errorf("%w: status %s, log says %s", ErrLogMismatch, n.Status, s.Status)
	case !equalDecimal(s.CurrentOffer, n.CurrentOffer):
		return fmt.Errorf("%w: current_offer differs", ErrLogMismatch)
	case !equalUUID(s.OfferedBy, n.OfferedBy):
		return fmt.Errorf("%w: offered_by differs", ErrLogMismatch)
	case !equalDecimal(s.FinalPrice, n.FinalPrice):
		return fmt.Errorf("%w: final_price differs", ErrLogMismatch)
	}
	return nil
}

func equalDecimal(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
