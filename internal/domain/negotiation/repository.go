package negotiation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository,ProfileLookup,ListingLookup

// MutateFunc receives the locked negotiation and its ordered log. It may
// modify n in place and returns the message to append, or nil to leave the
// negotiation untouched.
type MutateFunc func(n *Negotiation, log []*Message) (*Message, error)

// Patch is a partial update of the mutable header fields. Nil fields are
// left unchanged; ClearFinalPrice nulls final_price. ExpectedVersion, when
// non-zero, turns the update into a compare-and-swap.
//
// A terminal negotiation only accepts a Repair patch, and a Repair patch
// must rewrite the header to exactly what its log replays to.
type Patch struct {
	CurrentOffer    *decimal.Decimal
	OfferedBy       *uuid.UUID
	Status          *Status
	FinalPrice      *decimal.Decimal
	ClearFinalPrice bool
	ExpectedVersion int64
	Repair          bool
}

// ApplyTo returns a copy of cur with p applied, or an error when the result
// is not a header the store may hold. log is the negotiation's message log;
// it is only read for Repair patches. Version and UpdatedAt are left to the
// store.
func (p Patch) ApplyTo(cur *Negotiation, log []*Message) (*Negotiation, error) {
	if p.Status != nil && !p.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidOffer, *p.Status)
	}
	if !p.Repair && cur.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: status is %s", ErrNegotiationClosed, cur.Status)
	}
	next := cur.Clone()
	if p.CurrentOffer != nil {
		next.CurrentOffer = cloneDecimal(p.CurrentOffer)
	}
	if p.OfferedBy != nil {
		next.OfferedBy = cloneUUID(p.OfferedBy)
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.FinalPrice != nil {
		next.FinalPrice = cloneDecimal(p.FinalPrice)
	} else if p.ClearFinalPrice {
		next.FinalPrice = nil
	}
	if err := next.checkHeader(); err != nil {
		return nil, err
	}
	if p.Repair {
		if err := Verify(next, log); err != nil {
			return nil, fmt.Errorf("repair does not match the log: %w", err)
		}
	}
	return next, nil
}

// checkHeader enforces the pairings every stored header satisfies.
func (n *Negotiation) checkHeader() error {
	switch {
	case (n.Status == StatusAccepted) != (n.FinalPrice != nil):
		return fmt.Errorf("%w: final price is set iff the negotiation is accepted", ErrInvalidOffer)
	case n.CurrentOffer != nil && !n.CurrentOffer.IsPositive():
		return fmt.Errorf("%w: current offer must be positive", ErrInvalidOffer)
	case n.FinalPrice != nil && !n.FinalPrice.IsPositive():
		return fmt.Errorf("%w: final price must be positive", ErrInvalidOffer)
	case (n.CurrentOffer == nil) != (n.OfferedBy == nil):
		return fmt.Errorf("%w: current offer and offered by are set together", ErrInvalidOffer)
	case n.OfferedBy != nil && !n.IsParty(*n.OfferedBy):
		return fmt.Errorf("%w: offered by must be a party", ErrNotAuthorized)
	}
	return nil
}

// PatchFromState builds the Repair patch that rewrites every header field
// to s, the replay of the log.
func PatchFromState(s State, expectedVersion int64) Patch {
	status := s.Status
	return Patch{
		Repair:          true,
		CurrentOffer:    cloneDecimal(s.CurrentOffer),
		OfferedBy:       cloneUUID(s.OfferedBy),
		Status:          &status,
		FinalPrice:      cloneDecimal(s.FinalPrice),
		ClearFinalPrice: s.FinalPrice == nil,
		ExpectedVersion: expectedVersion,
	}
}

// Repository defines the interface for negotiation persistence
type Repository interface {
	// Negotiation records
	CreateNegotiation(ctx context.Context, n *Negotiation, first *Message) error
	GetNegotiation(ctx context.Context, id uuid.UUID) (*Negotiation, error)
	FindByClientAction(ctx context.Context, buyerID uuid.UUID, clientActionID string) (*Negotiation, error)
	ListNegotiationsForUser(ctx context.Context, userID uuid.UUID, role Role) ([]*Negotiation, error)
	UpdateNegotiationFields(ctx context.Context, id uuid.UUID, patch Patch) (*Negotiation, error)

	// Message log
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	ListMessages(ctx context.Context, negotiationID uuid.UUID) ([]*Message, error)
	MarkMessagesRead(ctx context.Context, negotiationID, readerID uuid.UUID) (int64, error)

	// Mutate runs fn under the negotiation's write lock and commits the
	// returned message and the updated record as one unit, with Version
	// taken from n. It returns the committed record and message.
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*Negotiation, *Message, error)
}

// ProfileLookup resolves participant display names in one batch.
type ProfileLookup interface {
	DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

// ListingLookup resolves crop listing metadata in one batch.
type ListingLookup interface {
	Listings(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Listing, error)
}
