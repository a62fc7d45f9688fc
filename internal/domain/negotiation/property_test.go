package negotiation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

type action int

const (
	actPropose action = iota
	actAccept
	actReject
	actCancel
	actSay
	actionCount
)

// outcome records one attempted action against a negotiation.
type outcome struct {
	actor  uuid.UUID
	act    action
	before *Negotiation
	msg    *Message
	err    error
}

// playSession drives a negotiation with an encoded sequence of actions. Each
// step picks the actor from its low bit and the action from the rest.
func playSession(steps, amounts []int) (*Negotiation, []*Message, []outcome) {
	buyer, farmer := uuid.New(), uuid.New()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n, first, err := Start(StartInput{
		BuyerID: buyer, FarmerID: farmer,
		InitialPrice: decimal.NewFromInt(100), OfferPrice: decimal.NewFromInt(80), Quantity: 5,
	}, clock)
	if err != nil {
		panic(err)
	}
	log := []*Message{first}
	var outcomes []outcome

	for i, step := range steps {
		clock = clock.Add(time.Millisecond)
		actor := buyer
		if step%2 == 1 {
			actor = farmer
		}
		amount := decimal.NewFromInt(90)
		if i < len(amounts) {
			amount = decimal.NewFromInt(int64(amounts[i]))
		}

		o := outcome{actor: actor, act: action(step/2) % actionCount, before: n.Clone()}
		switch o.act {
		case actPropose:
			o.msg, o.err = n.Propose(actor, amount, clock)
		case actAccept:
			o.msg, o.err = n.Accept(actor, nil, clock)
		case actReject:
			o.msg, o.err = n.Reject(actor, clock)
		case actCancel:
			o.msg, o.err = n.Cancel(actor, clock)
		case actSay:
			o.msg, o.err = n.Say(actor, "note", clock)
		}
		if o.err == nil {
			log = append(log, o.msg)
		}
		outcomes = append(outcomes, o)
	}
	return n, log, outcomes
}

func sessionParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	return parameters
}

func stepsGen() gopter.Gen   { return gen.SliceOf(gen.IntRange(0, 2*int(actionCount)-1)) }
func amountsGen() gopter.Gen { return gen.SliceOf(gen.IntRange(-5, 150)) }

// TestTurnAlternation verifies consecutive successful offers come from
// different parties.
func TestTurnAlternation(t *testing.T) {
	properties := gopter.NewProperties(sessionParameters())

	properties.Property("consecutive offer makers differ", prop.ForAll(
		func(steps, amounts []int) bool {
			n, log, _ := playSession(steps, amounts)
			var last *uuid.UUID
			for _, m := range log {
				if !m.Type.IsOffer() {
					continue
				}
				if last != nil && *last == m.SenderID {
					return false
				}
				sender := m.SenderID
				last = &sender
			}
			return last != nil && n.OfferedBy != nil && *n.OfferedBy == *last
		},
		stepsGen(), amountsGen(),
	))

	properties.TestingRun(t)
}

// TestTerminalImmutability verifies nothing changes the header once closed.
func TestTerminalImmutability(t *testing.T) {
	properties := gopter.NewProperties(sessionParameters())

	properties.Property("terminal negotiations reject every mutation", prop.ForAll(
		func(steps, amounts []int) bool {
			_, _, outcomes := playSession(steps, amounts)
			for _, o := range outcomes {
				if !o.before.Status.IsTerminal() || o.act == actSay {
					continue
				}
				if o.err == nil {
					return false
				}
			}
			for i := 1; i < len(outcomes); i++ {
				prev, cur := outcomes[i-1], outcomes[i]
				if prev.before.Status.IsTerminal() && !equalState(cur.before.State(), prev.before.State()) {
					return false
				}
			}
			return true
		},
		stepsGen(), amountsGen(),
	))

	properties.TestingRun(t)
}

// TestLogReconciliation verifies the header is always reproducible from the log.
func TestLogReconciliation(t *testing.T) {
	properties := gopter.NewProperties(sessionParameters())

	properties.Property("replaying the log reproduces the header", prop.ForAll(
		func(steps, amounts []int) bool {
			n, log, _ := playSession(steps, amounts)
			return Verify(n, log) == nil
		},
		stepsGen(), amountsGen(),
	))

	properties.TestingRun(t)
}

// TestAcceptBindsPrice verifies Accept takes the offer standing just before it.
func TestAcceptBindsPrice(t *testing.T) {
	properties := gopter.NewProperties(sessionParameters())

	properties.Property("final price equals the prior standing offer", prop.ForAll(
		func(steps, amounts []int) bool {
			n, _, outcomes := playSession(steps, amounts)
			for i, o := range outcomes {
				if o.act != actAccept || o.err != nil {
					continue
				}
				after := n
				if i+1 < len(outcomes) {
					after = outcomes[i+1].before
				}
				if o.before.CurrentOffer == nil || after.FinalPrice == nil {
					return false
				}
				if !after.FinalPrice.Equal(*o.before.CurrentOffer) || !o.msg.OfferAmount.Equal(*o.before.CurrentOffer) {
					return false
				}
			}
			return true
		},
		stepsGen(), amountsGen(),
	))

	properties.TestingRun(t)
}

func equalState(a, b State) bool {
	return a.Status == b.Status &&
		equalDecimal(a.CurrentOffer, b.CurrentOffer) &&
		equalUUID(a.OfferedBy, b.OfferedBy) &&
		equalDecimal(a.FinalPrice, b.FinalPrice) &&
		a.Version == b.Version
}
