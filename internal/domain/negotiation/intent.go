package negotiation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Intent is what a client action id was submitted for. Replaying an id is
// only a duplicate when the recorded message carries the same intent;
// anything else is a reused id.
type Intent struct {
	// Type is the requested action. Offer and counter offer match each other,
	// since the log decides which of the two a proposal becomes.
	Type MessageType
	// Amount, when set, must equal the recorded amount.
	Amount *decimal.Decimal
	// Body applies to chat messages and is compared trimmed.
	Body string
}

// IntentOf returns the intent m records.
func IntentOf(m *Message) Intent {
	i := Intent{Type: m.Type, Amount: cloneDecimal(m.OfferAmount)}
	if m.Type == MessageTypeMessage && m.Body != nil {
		i.Body = *m.Body
	}
	return i
}

// Matches reports whether recorded was written for the same intent.
func (i Intent) Matches(recorded *Message) bool {
	if !sameKind(i.Type, recorded.Type) {
		return false
	}
	if i.Amount != nil && (recorded.OfferAmount == nil || !i.Amount.Equal(*recorded.OfferAmount)) {
		return false
	}
	if i.Type == MessageTypeMessage {
		return recorded.Body != nil && strings.TrimSpace(i.Body) == *recorded.Body
	}
	return true
}

// CheckReplay returns recorded when it matches i, and ErrDuplicateAction
// when the client action id was already used for something else.
func (i Intent) CheckReplay(recorded *Message) (*Message, error) {
	if !i.Matches(recorded) {
		return nil, fmt.Errorf("%w: client action id already used for a %s message", ErrDuplicateAction, recorded.Type)
	}
	return recorded, nil
}

func sameKind(a, b MessageType) bool {
	proposal := func(t MessageType) bool { return t == MessageTypeOffer || t == MessageTypeCounterOffer }
	return a == b || (proposal(a) && proposal(b))
}
