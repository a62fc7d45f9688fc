package session

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
)

// Inbox is a participant's live list of negotiations, most recently updated
// first. Role narrows it to negotiations where the user has that role.
type Inbox struct {
	svc    NegotiationService
	sub    realtime.Subscription
	userID uuid.UUID
	role   negotiation.Role
	logger zerolog.Logger

	mu    sync.RWMutex
	items map[uuid.UUID]*negotiation.Negotiation

	updates   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// OpenInbox loads the user's negotiations and starts following changes.
func OpenInbox(ctx context.Context, svc NegotiationService, broker realtime.Broker, userID uuid.UUID, role negotiation.Role, logger zerolog.Logger) (*Inbox, error) {
	filter := realtime.ForParticipant(userID)
	filter.Tables = []realtime.Table{realtime.TableNegotiations}
	sub := broker.Subscribe(filter)
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	in := &Inbox{
		svc:     svc,
		sub:     sub,
		userID:  userID,
		role:    role,
		logger:  logger.With().Str("component", "inbox").Str("user_id", userID.String()).Logger(),
		items:   make(map[uuid.UUID]*negotiation.Negotiation),
		updates: make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if err := in.Refresh(ctx); err != nil {
		cancel()
		sub.Close()
		close(in.done)
		return nil, err
	}
	go in.run(loopCtx)
	return in, nil
}

func (in *Inbox) run(ctx context.Context) {
	defer close(in.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-in.sub.Events():
			if !ok {
				return
			}
			if in.sub.Lagged() {
				if err := in.Refresh(ctx); err != nil {
					in.logger.Warn().Err(err).Msg("refresh after lag")
				}
				continue
			}
			if e.Negotiation != nil {
				in.apply(ctx, e.Negotiation)
			}
		}
	}
}

func (in *Inbox) apply(ctx context.Context, n *negotiation.Negotiation) {
	if in.role != "" && n.RoleOf(in.userID) != in.role {
		return
	}
	in.mu.Lock()
	cached, ok := in.items[n.ID]
	if ok {
		if n.Version < cached.Version || (n.Version == cached.Version && !n.UpdatedAt.After(cached.UpdatedAt)) {
			in.mu.Unlock()
			return
		}
		next := n.Clone()
		next.Listing, next.BuyerName, next.FarmerName = cached.Listing, cached.BuyerName, cached.FarmerName
		in.items[n.ID] = next
		in.mu.Unlock()
		in.notify()
		return
	}
	in.mu.Unlock()

	// Unknown negotiation: fetch it enriched.
	fresh, err := in.svc.Get(ctx, n.ID, in.userID)
	if err != nil {
		in.logger.Warn().Err(err).Str("negotiation_id", n.ID.String()).Msg("fetch new negotiation")
		return
	}
	in.mu.Lock()
	if cur, ok := in.items[fresh.ID]; !ok || fresh.Version >= cur.Version {
		in.items[fresh.ID] = fresh
	}
	in.mu.Unlock()
	in.notify()
}

// Refresh replaces the cache with a fresh enriched read.
func (in *Inbox) Refresh(ctx context.Context) error {
	list, err := in.svc.ListForUser(ctx, in.userID, in.role)
	if err != nil {
		return err
	}
	items := make(map[uuid.UUID]*negotiation.Negotiation, len(list))
	for _, n := range list {
		items[n.ID] = n
	}
	in.mu.Lock()
	in.items = items
	in.mu.Unlock()
	in.notify()
	return nil
}

// List returns copies of the cached negotiations ordered by updated_at desc.
func (in *Inbox) List() []*negotiation.Negotiation {
	in.mu.RLock()
	out := make([]*negotiation.Negotiation, 0, len(in.items))
	for _, n := range in.items {
		out = append(out, n.Clone())
	}
	in.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (in *Inbox) notify() {
	select {
	case in.updates <- struct{}{}:
	default:
	}
}

// Updates signals that List changed. Signals coalesce.
func (in *Inbox) Updates() <-chan struct{} { return in.updates }

func (in *Inbox) Close() {
	in.closeOnce.Do(func() {
		in.cancel()
		in.sub.Close()
		<-in.done
	})
}
