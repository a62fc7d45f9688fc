// Package session keeps client-side views of negotiations live: a chat view
// of one negotiation and an inbox of all of a participant's negotiations.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	appNegotiation "github.com/agrimarket/bargaining-hub/internal/application/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
)

var (
	ErrActionInFlight = errors.New("another action is still in flight")
	ErrClosed         = errors.New("session is closed")
)

// NegotiationService is the part of the negotiation service a session uses.
type NegotiationService interface {
	Get(ctx context.Context, id, caller uuid.UUID) (*negotiation.Negotiation, error)
	ListForUser(ctx context.Context, userID uuid.UUID, role negotiation.Role) ([]*negotiation.Negotiation, error)
	ListMessages(ctx context.Context, id, caller uuid.UUID) ([]*negotiation.Message, error)
	MarkRead(ctx context.Context, id, reader uuid.UUID) (int64, error)
	SendMessage(ctx context.Context, in appNegotiation.MessageInput) (*negotiation.Message, error)
	Propose(ctx context.Context, in appNegotiation.ProposeInput) (*appNegotiation.Result, error)
	Accept(ctx context.Context, in appNegotiation.AcceptInput) (*appNegotiation.Result, error)
	Reject(ctx context.Context, in appNegotiation.ActionInput) (*appNegotiation.Result, error)
	Cancel(ctx context.Context, in appNegotiation.ActionInput) (*appNegotiation.Result, error)
}

// ChatSession is one participant's live view of one negotiation.
type ChatSession struct {
	svc           NegotiationService
	sub           realtime.Subscription
	negotiationID uuid.UUID
	userID        uuid.UUID
	logger        zerolog.Logger

	mu       sync.RWMutex
	header   *negotiation.Negotiation
	messages []*negotiation.Message
	byID     map[string]*negotiation.Message

	inFlight atomic.Bool
	retry    *pendingAction
	retryMu  sync.Mutex

	updates   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// pendingAction remembers the client action id of a failed, retryable
// submission so an identical resubmission cannot apply twice.
type pendingAction struct {
	fingerprint string
	key         string
}

// Open loads the negotiation for userID, marks the counterparty's messages
// read and starts following changes. The caller must Close the session.
func Open(ctx context.Context, svc NegotiationService, broker realtime.Broker, negotiationID, userID uuid.UUID, logger zerolog.Logger) (*ChatSession, error) {
	// Subscribe before loading so nothing committed in between is missed.
	sub := broker.Subscribe(realtime.ForNegotiation(negotiationID))
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &ChatSession{
		svc:           svc,
		sub:           sub,
		negotiationID: negotiationID,
		userID:        userID,
		logger: logger.With().
			Str("component", "chat_session").
			Str("negotiation_id", negotiationID.String()).
			Logger(),
		byID:    make(map[string]*negotiation.Message),
		updates: make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if err := s.resync(ctx); err != nil {
		cancel()
		sub.Close()
		close(s.done)
		return nil, err
	}
	if _, err := svc.MarkRead(ctx, negotiationID, userID); err != nil {
		s.logger.Warn().Err(err).Msg("mark read on open")
	}
	go s.run(loopCtx)
	return s, nil
}

func (s *ChatSession) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.sub.Events():
			if !ok {
				return
			}
			if s.sub.Lagged() {
				if err := s.resync(ctx); err != nil {
					s.logger.Warn().Err(err).Msg("resync after lag")
				}
				continue
			}
			s.apply(ctx, e)
		}
	}
}

func (s *ChatSession) apply(ctx context.Context, e *realtime.Event) {
	switch e.Table {
	case realtime.TableNegotiations:
		if e.Negotiation != nil && s.mergeHeader(e.Negotiation) {
			s.notify()
		}
	case realtime.TableMessages:
		if e.Message == nil {
			return
		}
		if s.mergeMessage(e.Message) {
			s.notify()
		}
		if e.Type == realtime.EventInsert && e.Message.SenderID != s.userID && !e.Message.IsRead {
			if _, err := s.svc.MarkRead(ctx, s.negotiationID, s.userID); err != nil {
				s.logger.Warn().Err(err).Msg("mark incoming message read")
			}
		}
	}
}

// resync replaces the cached state with a fresh read.
func (s *ChatSession) resync(ctx context.Context) error {
	n, err := s.svc.Get(ctx, s.negotiationID, s.userID)
	if err != nil {
		return err
	}
	log, err := s.svc.ListMessages(ctx, s.negotiationID, s.userID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.header = n
	s.messages = s.messages[:0]
	s.byID = make(map[string]*negotiation.Message, len(log))
	for _, m := range log {
		s.messages = append(s.messages, m)
		s.byID[m.ID] = m
	}
	negotiation.SortMessages(s.messages)
	s.mu.Unlock()
	s.notify()
	return nil
}

// mergeHeader keeps n only if it is newer than the cached header.
func (s *ChatSession) mergeHeader(n *negotiation.Negotiation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.header != nil {
		if n.Version < s.header.Version {
			return false
		}
		if n.Version == s.header.Version && !n.UpdatedAt.After(s.header.UpdatedAt) {
			return false
		}
	}
	next := n.Clone()
	if s.header != nil {
		next.Listing, next.BuyerName, next.FarmerName = s.header.Listing, s.header.BuyerName, s.header.FarmerName
	}
	s.header = next
	return true
}

// mergeMessage inserts m, or applies its read flag when already present.
func (s *ChatSession) mergeMessage(m *negotiation.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[m.ID]; ok {
		if m.IsRead && !existing.IsRead {
			existing.IsRead = true
			return true
		}
		return false
	}
	c := m.Clone()
	s.byID[c.ID] = c
	s.messages = append(s.messages, c)
	if n := len(s.messages); n > 1 && c.Before(s.messages[n-2]) {
		negotiation.SortMessages(s.messages)
	}
	return true
}

func (s *ChatSession) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Updates signals that Messages or Negotiation changed. Signals coalesce.
func (s *ChatSession) Updates() <-chan struct{} { return s.updates }

// Negotiation returns a copy of the current header.
func (s *ChatSession) Negotiation() *negotiation.Negotiation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.Clone()
}

// Messages returns a copy of the log in created_at order.
func (s *ChatSession) Messages() []*negotiation.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*negotiation.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// CanAct reports whether the action controls should be enabled for the
// session's user. It is false while an action is in flight.
func (s *ChatSession) CanAct() bool {
	if s.inFlight.Load() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header != nil && s.header.CanAct(s.userID)
}

// CanCancel reports whether the user may withdraw the negotiation.
func (s *ChatSession) CanCancel() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header != nil && s.header.BuyerID == s.userID && s.header.Status == negotiation.StatusPending
}

func (s *ChatSession) SendMessage(ctx context.Context, text string) (*negotiation.Message, error) {
	var msg *negotiation.Message
	err := s.submit(ctx, "message:"+text, func(key string) error {
		m, err := s.svc.SendMessage(ctx, appNegotiation.MessageInput{
			NegotiationID: s.negotiationID, CallerID: s.userID, Text: text, ClientActionID: &key,
		})
		if err != nil {
			return err
		}
		msg = m
		if s.mergeMessage(m) {
			s.notify()
		}
		return nil
	})
	return msg, err
}

// SendOffer proposes amount. isCounter is advisory.
func (s *ChatSession) SendOffer(ctx context.Context, amount decimal.Decimal, isCounter bool) (*appNegotiation.Result, error) {
	return s.mutate(ctx, "offer:"+amount.String(), func(key string) (*appNegotiation.Result, error) {
		return s.svc.Propose(ctx, appNegotiation.ProposeInput{
			NegotiationID: s.negotiationID, CallerID: s.userID, Amount: amount, IsCounter: isCounter, ClientActionID: &key,
		})
	})
}

// AcceptOffer accepts the standing offer; finalPrice may be nil.
func (s *ChatSession) AcceptOffer(ctx context.Context, finalPrice *decimal.Decimal) (*appNegotiation.Result, error) {
	fp := "accept"
	if finalPrice != nil {
		fp += ":" + finalPrice.String()
	}
	return s.mutate(ctx, fp, func(key string) (*appNegotiation.Result, error) {
		return s.svc.Accept(ctx, appNegotiation.AcceptInput{
			NegotiationID: s.negotiationID, CallerID: s.userID, FinalPrice: finalPrice, ClientActionID: &key,
		})
	})
}

func (s *ChatSession) RejectOffer(ctx context.Context) (*appNegotiation.Result, error) {
	return s.mutate(ctx, "reject", func(key string) (*appNegotiation.Result, error) {
		return s.svc.Reject(ctx, appNegotiation.ActionInput{NegotiationID: s.negotiationID, CallerID: s.userID, ClientActionID: &key})
	})
}

func (s *ChatSession) CancelNegotiation(ctx context.Context) (*appNegotiation.Result, error) {
	return s.mutate(ctx, "cancel", func(key string) (*appNegotiation.Result, error) {
		return s.svc.Cancel(ctx, appNegotiation.ActionInput{NegotiationID: s.negotiationID, CallerID: s.userID, ClientActionID: &key})
	})
}

func (s *ChatSession) mutate(ctx context.Context, fingerprint string, call func(key string) (*appNegotiation.Result, error)) (*appNegotiation.Result, error) {
	var res *appNegotiation.Result
	err := s.submit(ctx, fingerprint, func(key string) error {
		r, err := call(key)
		if err != nil {
			if errors.Is(err, negotiation.ErrNotYourTurn) || errors.Is(err, negotiation.ErrNegotiationClosed) || errors.Is(err, negotiation.ErrNoActiveOffer) {
				if rerr := s.resync(ctx); rerr != nil {
					s.logger.Warn().Err(rerr).Msg("refresh after refused action")
				}
			}
			return err
		}
		res = r
		changed := false
		if r.Negotiation != nil && s.mergeHeader(r.Negotiation) {
			changed = true
		}
		if r.Message != nil && s.mergeMessage(r.Message) {
			changed = true
		}
		if changed {
			s.notify()
		}
		return nil
	})
	return res, err
}

// submit enforces one in-flight action at a time and picks the client
// action id, reusing the one of an identical submission that failed with a
// retryable error.
func (s *ChatSession) submit(ctx context.Context, fingerprint string, call func(key string) error) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrActionInFlight
	}
	defer s.inFlight.Store(false)

	s.retryMu.Lock()
	key := uuid.NewString()
	if s.retry != nil && s.retry.fingerprint == fingerprint {
		key = s.retry.key
	}
	s.retry = nil
	s.retryMu.Unlock()

	err := call(key)
	if err != nil && negotiation.IsRetryable(err) {
		s.retryMu.Lock()
		s.retry = &pendingAction{fingerprint: fingerprint, key: key}
		s.retryMu.Unlock()
	}
	return err
}

// Close stops following changes and releases the subscription.
func (s *ChatSession) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.sub.Close()
		<-s.done
	})
}
