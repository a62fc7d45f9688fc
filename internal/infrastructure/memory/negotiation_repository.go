// Package memory is an in-process negotiation store. It keeps the same
// commit semantics as the postgres store and publishes change events to a
// realtime.Publisher after each commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
)

type actionKey struct {
	scope uuid.UUID
	actor uuid.UUID
	key   string
}

type NegotiationRepository struct {
	mu           sync.RWMutex
	negotiations map[uuid.UUID]*negotiation.Negotiation
	messages     map[uuid.UUID][]*negotiation.Message
	actions      map[actionKey]string
	starts       map[actionKey]uuid.UUID
	locks        map[uuid.UUID]*sync.Mutex

	publisher realtime.Publisher
	now       func() time.Time
	logger    zerolog.Logger
}

func NewNegotiationRepository(publisher realtime.Publisher, logger zerolog.Logger) *NegotiationRepository {
	return &NegotiationRepository{
		negotiations: make(map[uuid.UUID]*negotiation.Negotiation),
		messages:     make(map[uuid.UUID][]*negotiation.Message),
		actions:      make(map[actionKey]string),
		starts:       make(map[actionKey]uuid.UUID),
		locks:        make(map[uuid.UUID]*sync.Mutex),
		publisher:    publisher,
		now:          time.Now,
		logger:       logger.With().Str("component", "memory_store").Logger(),
	}
}

// SetClock replaces the time source. Used by tests.
func (r *NegotiationRepository) SetClock(now func() time.Time) {
	r.now = now
}

// lockFor returns the write lock of one negotiation.
func (r *NegotiationRepository) lockFor(id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// stamp returns a created_at strictly after every message already in the log.
func (r *NegotiationRepository) stamp(log []*negotiation.Message) time.Time {
	t := r.now().UTC().Truncate(time.Microsecond)
	if n := len(log); n > 0 && !t.After(log[n-1].CreatedAt) {
		t = log[n-1].CreatedAt.Add(time.Microsecond)
	}
	return t
}

func (r *NegotiationRepository) CreateNegotiation(ctx context.Context, n *negotiation.Negotiation, first *negotiation.Message) error {
	if err := ctx.Err(); err != nil {
		return negotiation.Persistence("create negotiation", err)
	}
	if first == nil || first.NegotiationID != n.ID {
		return fmt.Errorf("%w: opening message must belong to the negotiation", negotiation.ErrInvalidMessage)
	}

	r.mu.Lock()
	if _, exists := r.negotiations[n.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: negotiation %s already exists", negotiation.ErrDuplicateAction, n.ID)
	}
	var startKey actionKey
	if n.ClientActionID != nil {
		startKey = actionKey{actor: n.BuyerID, key: *n.ClientActionID}
		if _, dup := r.starts[startKey]; dup {
			r.mu.Unlock()
			return negotiation.ErrDuplicateAction
		}
	}

	at := r.stamp(nil)
	rec := n.Clone()
	rec.Listing, rec.BuyerName, rec.FarmerName = nil, "", ""
	rec.CreatedAt, rec.UpdatedAt = at, at
	msg := first.Clone()
	msg.CreatedAt = at
	if msg.ID == "" {
		msg.ID = negotiation.NewMessageID(at)
	}

	r.negotiations[rec.ID] = rec
	r.messages[rec.ID] = []*negotiation.Message{msg}
	if n.ClientActionID != nil {
		r.starts[startKey] = rec.ID
		r.actions[actionKey{scope: rec.ID, actor: msg.SenderID, key: *n.ClientActionID}] = msg.ID
	}
	r.mu.Unlock()

	n.CreatedAt, n.UpdatedAt = at, at
	first.ID, first.CreatedAt = msg.ID, at
	r.publish(ctx, realtime.NegotiationChanged(realtime.EventInsert, rec), realtime.MessageAppended(rec, msg))
	return nil
}

func (r *NegotiationRepository) GetNegotiation(ctx context.Context, id uuid.UUID) (*negotiation.Negotiation, error) {
	if err := ctx.Err(); err != nil {
		return nil, negotiation.Persistence("get negotiation", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.negotiations[id]
	if !ok {
		return nil, negotiation.ErrNotFound
	}
	return n.Clone(), nil
}

func (r *NegotiationRepository) FindByClientAction(ctx context.Context, buyerID uuid.UUID, clientActionID string) (*negotiation.Negotiation, error) {
	if err := ctx.Err(); err != nil {
		return nil, negotiation.Persistence("find by client action", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.starts[actionKey{actor: buyerID, key: clientActionID}]
	if !ok {
		return nil, negotiation.ErrNotFound
	}
	return r.negotiations[id].Clone(), nil
}

func (r *NegotiationRepository) ListNegotiationsForUser(ctx context.Context, userID uuid.UUID, role negotiation.Role) ([]*negotiation.Negotiation, error) {
	if err := ctx.Err(); err != nil {
		return nil, negotiation.Persistence("list negotiations", err)
	}
	r.mu.RLock()
	out := make([]*negotiation.Negotiation, 0)
	for _, n := range r.negotiations {
		switch role {
		case negotiation.RoleBuyer:
			if n.BuyerID != userID {
				continue
			}
		case negotiation.RoleFarmer:
			if n.FarmerID != userID {
				continue
			}
		default:
			if !n.IsParty(userID) {
				continue
			}
		}
		out = append(out, n.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *NegotiationRepository) UpdateNegotiationFields(ctx context.Context, id uuid.UUID, patch negotiation.Patch) (*negotiation.Negotiation, error) {
	if err := ctx.Err(); err != nil {
		return nil, negotiation.Persistence("update negotiation", err)
	}
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	cur, ok := r.negotiations[id]
	if !ok {
		r.mu.Unlock()
		return nil, negotiation.ErrNotFound
	}
	if patch.ExpectedVersion != 0 && patch.ExpectedVersion != cur.Version {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: expected %d, have %d", negotiation.ErrVersionConflict, patch.ExpectedVersion, cur.Version)
	}
	next, err := patch.ApplyTo(cur, r.messages[id])
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	next.Version++
	next.UpdatedAt = r.stamp(r.messages[id])
	if !next.UpdatedAt.After(cur.UpdatedAt) {
		next.UpdatedAt = cur.UpdatedAt.Add(time.Microsecond)
	}
	r.negotiations[id] = next
	r.mu.Unlock()

	r.publish(ctx, realtime.NegotiationChanged(realtime.EventUpdate, next))
	return next.Clone(), nil
}

func (r *NegotiationRepository) AppendMessage(ctx context.Context, msg *negotiation.Message) (*negotiation.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, negotiation.Persistence("append message", err)
	}
	if msg.Type != negotiation.MessageTypeMessage {
		return nil, fmt.Errorf("%w: %s messages change state and must go through Mutate", negotiation.ErrInvalidMessage, msg.Type)
	}
	lock := r.lockFor(msg.NegotiationID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	n, ok := r.negotiations[msg.NegotiationID]
	if !ok {
		r.mu.Unlock()
		return nil, negotiation.ErrNotFound
	}
	if !n.IsParty(msg.SenderID) {
		r.mu.Unlock()
		return nil, negotiation.ErrNotAuthorized
	}
	if existing := r.findAction(msg); existing != nil {
		r.mu.Unlock()
		if _, err := negotiation.IntentOf(msg).CheckReplay(existing); err != nil {
			return nil, err
		}
		return existing.Clone(), nil
	}
	stored := r.insertLocked(msg)
	rec := n.Clone()
	r.mu.Unlock()

	r.publish(ctx, realtime.MessageAppended(rec, stored))
	return stored.Clone(), nil
}

// findAction returns the message already recorded under msg's client action id.
// Caller holds r.mu.
func (r *NegotiationRepository) findAction(msg *negotiation.Message) *negotiation.Message {
	if msg.ClientActionID == nil {
		return nil
	}
	id, ok := r.actions[actionKey{scope: msg.NegotiationID, actor: msg.SenderID, key: *msg.ClientActionID}]
	if !ok {
		return nil
	}
	for _, m := range r.messages[msg.NegotiationID] {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// insertLocked stamps and appends msg. Caller holds r.mu and the negotiation lock.
func (r *NegotiationRepository) insertLocked(msg *negotiation.Message) *negotiation.Message {
	log := r.messages[msg.NegotiationID]
	stored := msg.Clone()
	stored.CreatedAt = r.stamp(log)
	stored.IsRead = false
	if stored.ID == "" {
		stored.ID = negotiation.NewMessageID(stored.CreatedAt)
	}
	r.messages[msg.NegotiationID] = append(log, stored)
	if stored.ClientActionID != nil {
		r.actions[actionKey{scope: stored.NegotiationID, actor: stored.SenderID, key: *stored.ClientActionID}] = stored.ID
	}
	return stored
}

func (r *NegotiationRepository) ListMessages(ctx context.Context, negotiationID uuid.UUID) ([]*negotiation.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, negotiation.Persistence("list messages", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.negotiations[negotiationID]; !ok {
		return nil, negotiation.ErrNotFound
	}
	return cloneLog(r.messages[negotiationID]), nil
}

func (r *NegotiationRepository) MarkMessagesRead(ctx context.Context, negotiationID, readerID uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, negotiation.Persistence("mark messages read", err)
	}
	lock := r.lockFor(negotiationID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	n, ok := r.negotiations[negotiationID]
	if !ok {
		r.mu.Unlock()
		return 0, negotiation.ErrNotFound
	}
	var changed []*realtime.Event
	at := r.now().UTC()
	for _, m := range r.messages[negotiationID] {
		if m.SenderID == readerID || m.IsRead {
			continue
		}
		m.IsRead = true
		changed = append(changed, realtime.MessageRead(n, m, at))
	}
	r.mu.Unlock()

	r.publish(ctx, changed...)
	return int64(len(changed)), nil
}

// Mutate serializes fn against other writers of the same negotiation and
// commits its message and header update together.
func (r *NegotiationRepository) Mutate(ctx context.Context, id uuid.UUID, fn negotiation.MutateFunc) (*negotiation.Negotiation, *negotiation.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, negotiation.Persistence("mutate negotiation", err)
	}
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	cur, ok := r.negotiations[id]
	if !ok {
		r.mu.RUnlock()
		return nil, nil, negotiation.ErrNotFound
	}
	working := cur.Clone()
	log := cloneLog(r.messages[id])
	r.mu.RUnlock()

	msg, err := fn(working, log)
	if err != nil {
		return nil, nil, err
	}
	if msg == nil {
		return cur.Clone(), nil, nil
	}
	if msg.NegotiationID != id {
		return nil, nil, fmt.Errorf("%w: message belongs to %s", negotiation.ErrInvalidMessage, msg.NegotiationID)
	}
	mutates := msg.Type.MutatesState()
	if mutates && working.Version != cur.Version+1 {
		return nil, nil, fmt.Errorf("%w: expected version %d, got %d", negotiation.ErrVersionConflict, cur.Version+1, working.Version)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, negotiation.Persistence("mutate negotiation", err)
	}

	r.mu.Lock()
	if existing := r.findAction(msg); existing != nil {
		rec := r.negotiations[id].Clone()
		r.mu.Unlock()
		if _, err := negotiation.IntentOf(msg).CheckReplay(existing); err != nil {
			return nil, nil, err
		}
		return rec, existing.Clone(), nil
	}
	stored := r.insertLocked(msg)
	rec := cur
	if mutates {
		rec = cur.Clone()
		rec.CurrentOffer = working.CurrentOffer
		rec.OfferedBy = working.OfferedBy
		rec.Status = working.Status
		rec.FinalPrice = working.FinalPrice
		rec.Version = working.Version
		rec.UpdatedAt = stored.CreatedAt
		r.negotiations[id] = rec
	}
	rec = rec.Clone()
	r.mu.Unlock()

	events := []*realtime.Event{realtime.MessageAppended(rec, stored)}
	if mutates {
		events = append(events, realtime.NegotiationChanged(realtime.EventUpdate, rec))
	}
	r.publish(ctx, events...)
	return rec, stored.Clone(), nil
}

// publish hands committed changes to the publisher. The commit stands even
// when publishing fails; observers recover by re-fetching.
func (r *NegotiationRepository) publish(ctx context.Context, events ...*realtime.Event) {
	if r.publisher == nil || len(events) == 0 {
		return
	}
	if err := r.publisher.Publish(context.WithoutCancel(ctx), events...); err != nil {
		r.logger.Warn().Err(err).Int("events", len(events)).Msg("publish change events")
	}
}

func cloneLog(log []*negotiation.Message) []*negotiation.Message {
	out := make([]*negotiation.Message, len(log))
	for i, m := range log {
		out[i] = m.Clone()
	}
	return out
}
