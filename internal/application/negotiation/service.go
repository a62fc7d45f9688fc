package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/infrastructure/metrics"
)

const (
	defaultPlaceholder = "Unknown"
	enrichTimeout      = 2 * time.Second
)

// Service runs negotiation actions against the store.
type Service struct {
	repo        negotiation.Repository
	profiles    negotiation.ProfileLookup
	listings    negotiation.ListingLookup
	metrics     *metrics.Metrics
	placeholder string
	now         func() time.Time
	logger      zerolog.Logger
}

// NewService creates a negotiation service. profiles and listings may be nil,
// in which case enrichment always falls back to the placeholder.
func NewService(
	repo negotiation.Repository,
	profiles negotiation.ProfileLookup,
	listings negotiation.ListingLookup,
	m *metrics.Metrics,
	placeholder string,
	logger zerolog.Logger,
) *Service {
	if placeholder == "" {
		placeholder = defaultPlaceholder
	}
	return &Service{
		repo:        repo,
		profiles:    profiles,
		listings:    listings,
		metrics:     m,
		placeholder: placeholder,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("service", "negotiation").Logger(),
	}
}

// Result is the outcome of a mutating action. Replayed is set when the client
// action id had already been recorded and nothing new was written.
type Result struct {
	Negotiation *negotiation.Negotiation `json:"negotiation"`
	Message     *negotiation.Message     `json:"message"`
	Replayed    bool                     `json:"replayed"`
}

// ProposeInput offers or counters a price.
type ProposeInput struct {
	NegotiationID  uuid.UUID
	CallerID       uuid.UUID
	Amount         decimal.Decimal
	IsCounter      bool
	ClientActionID *string
}

// AcceptInput accepts the standing offer. FinalPrice, when set, must match it.
type AcceptInput struct {
	NegotiationID  uuid.UUID
	CallerID       uuid.UUID
	FinalPrice     *decimal.Decimal
	ClientActionID *string
}

// ActionInput identifies a reject or cancel.
type ActionInput struct {
	NegotiationID  uuid.UUID
	CallerID       uuid.UUID
	ClientActionID *string
}

// MessageInput sends free text.
type MessageInput struct {
	NegotiationID  uuid.UUID
	CallerID       uuid.UUID
	Text           string
	ClientActionID *string
}

// Start opens a negotiation for the buyer in in.
func (s *Service) Start(ctx context.Context, in negotiation.StartInput) (*Result, error) {
	started := time.Now()
	if in.ClientActionID != nil {
		if res, err := s.replayStart(ctx, in); res != nil || err != nil {
			s.observe(ctx, "start", started, res, err)
			return res, err
		}
	}

	n, first, err := negotiation.Start(in, s.now())
	if err != nil {
		s.observe(ctx, "start", started, nil, err)
		return nil, err
	}
	if err := s.repo.CreateNegotiation(ctx, n, first); err != nil {
		if errors.Is(err, negotiation.ErrDuplicateAction) && in.ClientActionID != nil {
			res, rerr := s.replayStart(ctx, in)
			if res != nil || rerr != nil {
				s.observe(ctx, "start", started, res, rerr)
				return res, rerr
			}
		}
		err = negotiation.Persistence("create negotiation", err)
		s.observe(ctx, "start", started, nil, err)
		return nil, err
	}

	res := &Result{Negotiation: n, Message: first}
	s.logger.Info().
		Str("negotiation_id", n.ID.String()).
		Str("buyer_id", n.BuyerID.String()).
		Str("farmer_id", n.FarmerID.String()).
		Str("offer", n.CurrentOffer.String()).
		Msg("negotiation started")
	s.observe(ctx, "start", started, res, nil)
	return res, nil
}

// replayStart returns the negotiation the buyer already opened under the
// client action id of in, or nil. The id is refused when it opened a
// different negotiation.
func (s *Service) replayStart(ctx context.Context, in negotiation.StartInput) (*Result, error) {
	n, err := s.repo.FindByClientAction(ctx, in.BuyerID, *in.ClientActionID)
	if errors.Is(err, negotiation.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, negotiation.Persistence("find by client action", err)
	}
	log, err := s.repo.ListMessages(ctx, n.ID)
	if err != nil {
		return nil, negotiation.Persistence("list messages", err)
	}
	if !sameStart(n, log, in) {
		return nil, fmt.Errorf("%w: client action id already opened negotiation %s", negotiation.ErrDuplicateAction, n.ID)
	}
	return &Result{Negotiation: n, Message: log[0], Replayed: true}, nil
}

func sameStart(n *negotiation.Negotiation, log []*negotiation.Message, in negotiation.StartInput) bool {
	if n.FarmerID != in.FarmerID || n.Quantity != in.Quantity || !n.InitialPrice.Equal(in.InitialPrice) {
		return false
	}
	if (n.CropID == nil) != (in.CropID == nil) || (n.CropID != nil && *n.CropID != *in.CropID) {
		return false
	}
	if len(log) == 0 {
		return false
	}
	offer := in.OfferPrice
	return negotiation.Intent{Type: negotiation.MessageTypeOffer, Amount: &offer}.Matches(log[0])
}

// Propose counters the standing offer. IsCounter is advisory; the message
// type follows from the offer history.
func (s *Service) Propose(ctx context.Context, in ProposeInput) (*Result, error) {
	amount := in.Amount
	return s.act(ctx, "propose", in.NegotiationID, in.CallerID, in.ClientActionID,
		negotiation.Intent{Type: negotiation.MessageTypeOffer, Amount: &amount},
		func(n *negotiation.Negotiation) (*negotiation.Message, error) {
			if in.IsCounter != (n.CurrentOffer != nil) {
				s.logger.Debug().
					Str("negotiation_id", n.ID.String()).
					Bool("is_counter", in.IsCounter).
					Msg("counter flag disagrees with offer history")
			}
			return n.Propose(in.CallerID, in.Amount, s.now())
		})
}

// Accept closes the deal at the standing offer.
func (s *Service) Accept(ctx context.Context, in AcceptInput) (*Result, error) {
	return s.act(ctx, "accept", in.NegotiationID, in.CallerID, in.ClientActionID,
		negotiation.Intent{Type: negotiation.MessageTypeAccept, Amount: in.FinalPrice},
		func(n *negotiation.Negotiation) (*negotiation.Message, error) {
			return n.Accept(in.CallerID, in.FinalPrice, s.now())
		})
}

// Reject declines the standing offer.
func (s *Service) Reject(ctx context.Context, in ActionInput) (*Result, error) {
	return s.act(ctx, "reject", in.NegotiationID, in.CallerID, in.ClientActionID,
		negotiation.Intent{Type: negotiation.MessageTypeReject},
		func(n *negotiation.Negotiation) (*negotiation.Message, error) {
			return n.Reject(in.CallerID, s.now())
		})
}

// Cancel withdraws a pending negotiation.
func (s *Service) Cancel(ctx context.Context, in ActionInput) (*Result, error) {
	return s.act(ctx, "cancel", in.NegotiationID, in.CallerID, in.ClientActionID,
		negotiation.Intent{Type: negotiation.MessageTypeCancel},
		func(n *negotiation.Negotiation) (*negotiation.Message, error) {
			return n.Cancel(in.CallerID, s.now())
		})
}

// act runs step under the store's per-negotiation lock. A repeated client
// action id returns the recorded message instead of applying step again,
// provided it was recorded for the same intent.
func (s *Service) act(
	ctx context.Context,
	action string,
	id, caller uuid.UUID,
	key *string,
	intent negotiation.Intent,
	step func(n *negotiation.Negotiation) (*negotiation.Message, error),
) (*Result, error) {
	started := time.Now()
	var prior *negotiation.Message
	rec, msg, err := s.repo.Mutate(ctx, id, func(n *negotiation.Negotiation, log []*negotiation.Message) (*negotiation.Message, error) {
		if !n.IsParty(caller) {
			return nil, negotiation.ErrNotAuthorized
		}
		if key != nil {
			if recorded := findAction(log, caller, *key); recorded != nil {
				var err error
				prior, err = intent.CheckReplay(recorded)
				return nil, err
			}
		}
		m, err := step(n)
		if err != nil {
			return nil, err
		}
		m.ClientActionID = key
		return m, nil
	})
	if err != nil {
		if !negotiation.IsDomainError(err) {
			err = negotiation.Persistence(action, err)
		}
		s.observe(ctx, action, started, nil, err)
		return nil, err
	}

	res := &Result{Negotiation: rec, Message: msg}
	if prior != nil {
		res.Message, res.Replayed = prior, true
	}
	if !res.Replayed {
		ev := s.logger.Info().
			Str("negotiation_id", id.String()).
			Str("action", action).
			Str("actor", caller.String()).
			Str("status", string(rec.Status)).
			Int64("version", rec.Version)
		if rec.CurrentOffer != nil {
			ev = ev.Str("current_offer", rec.CurrentOffer.String())
		}
		ev.Msg("negotiation updated")
	}
	s.observe(ctx, action, started, res, nil)
	return res, nil
}

func findAction(log []*negotiation.Message, sender uuid.UUID, key string) *negotiation.Message {
	for _, m := range log {
		if m.SenderID == sender && m.ClientActionID != nil && *m.ClientActionID == key {
			return m
		}
	}
	return nil
}

// SendMessage appends a chat message. It never changes the negotiation header.
func (s *Service) SendMessage(ctx context.Context, in MessageInput) (*negotiation.Message, error) {
	started := time.Now()
	n, err := s.authorize(ctx, in.NegotiationID, in.CallerID)
	if err != nil {
		s.observe(ctx, "message", started, nil, err)
		return nil, err
	}
	msg, err := n.Say(in.CallerID, in.Text, s.now())
	if err != nil {
		s.observe(ctx, "message", started, nil, err)
		return nil, err
	}
	msg.ClientActionID = in.ClientActionID
	stored, err := s.repo.AppendMessage(ctx, msg)
	if err != nil {
		err = negotiation.Persistence("append message", err)
		s.observe(ctx, "message", started, nil, err)
		return nil, err
	}
	s.observe(ctx, "message", started, &Result{Message: stored}, nil)
	return stored, nil
}

// Get returns one negotiation visible to caller.
func (s *Service) Get(ctx context.Context, id, caller uuid.UUID) (*negotiation.Negotiation, error) {
	n, err := s.authorize(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	s.Enrich(ctx, n)
	return n, nil
}

// ListForUser returns the user's negotiations, most recently updated first,
// enriched with display names and listing metadata.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, role negotiation.Role) ([]*negotiation.Negotiation, error) {
	list, err := s.repo.ListNegotiationsForUser(ctx, userID, role)
	if err != nil {
		return nil, negotiation.Persistence("list negotiations", err)
	}
	s.Enrich(ctx, list...)
	return list, nil
}

// ListMessages returns the log of a negotiation in created_at order.
func (s *Service) ListMessages(ctx context.Context, id, caller uuid.UUID) ([]*negotiation.Message, error) {
	if _, err := s.authorize(ctx, id, caller); err != nil {
		return nil, err
	}
	log, err := s.repo.ListMessages(ctx, id)
	if err != nil {
		return nil, negotiation.Persistence("list messages", err)
	}
	negotiation.SortMessages(log)
	return log, nil
}

// MarkRead marks the counterparty's messages read for reader.
func (s *Service) MarkRead(ctx context.Context, id, reader uuid.UUID) (int64, error) {
	if _, err := s.authorize(ctx, id, reader); err != nil {
		return 0, err
	}
	marked, err := s.repo.MarkMessagesRead(ctx, id, reader)
	if err != nil {
		return 0, negotiation.Persistence("mark messages read", err)
	}
	return marked, nil
}

// ReconcileResult reports a consistency check of one negotiation.
type ReconcileResult struct {
	Negotiation *negotiation.Negotiation `json:"negotiation"`
	Repaired    bool                     `json:"repaired"`
	Mismatch    string                   `json:"mismatch,omitempty"`
}

// Reconcile replays the log of id and rewrites the header when it drifted.
// A log that cannot be replayed is reported as ErrLogMismatch and left as is.
func (s *Service) Reconcile(ctx context.Context, id uuid.UUID) (*ReconcileResult, error) {
	n, err := s.repo.GetNegotiation(ctx, id)
	if err != nil {
		return nil, negotiation.Persistence("get negotiation", err)
	}
	log, err := s.repo.ListMessages(ctx, id)
	if err != nil {
		return nil, negotiation.Persistence("list messages", err)
	}
	state, err := negotiation.Replay(n, log)
	if err != nil {
		s.logger.Error().Err(err).Str("negotiation_id", id.String()).Msg("log cannot be replayed")
		return nil, err
	}
	verr := negotiation.Verify(n, log)
	if verr == nil {
		return &ReconcileResult{Negotiation: n}, nil
	}

	repaired, err := s.repo.UpdateNegotiationFields(ctx, id, negotiation.PatchFromState(state, n.Version))
	if err != nil {
		return nil, negotiation.Persistence("repair negotiation", err)
	}
	s.logger.Warn().
		Str("negotiation_id", id.String()).
		Str("mismatch", verr.Error()).
		Msg("negotiation header repaired from log")
	return &ReconcileResult{Negotiation: repaired, Repaired: true, Mismatch: verr.Error()}, nil
}

// authorize loads id and checks that caller is one of its parties.
func (s *Service) authorize(ctx context.Context, id, caller uuid.UUID) (*negotiation.Negotiation, error) {
	n, err := s.repo.GetNegotiation(ctx, id)
	if err != nil {
		return nil, negotiation.Persistence("get negotiation", err)
	}
	if !n.IsParty(caller) {
		return nil, negotiation.ErrNotAuthorized
	}
	return n, nil
}

func (s *Service) observe(ctx context.Context, action string, started time.Time, res *Result, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case err != nil && negotiation.IsDomainError(err):
		outcome = metrics.OutcomeRejected
		s.logger.Debug().Err(err).Str("action", action).Msg("action rejected")
	case err != nil:
		outcome = metrics.OutcomeError
		s.logger.Error().Err(err).Str("action", action).Msg("action failed")
	case res != nil && res.Replayed:
		outcome = metrics.OutcomeDuplicate
	}
	s.metrics.Action(ctx, action, outcome, time.Since(started).Seconds())
}
