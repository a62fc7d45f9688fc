package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...*realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) tables() []realtime.Table {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]realtime.Table, len(p.events))
	for i, e := range p.events {
		out[i] = e.Table
	}
	return out
}

func newStore(t *testing.T) (*NegotiationRepository, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	repo := NewNegotiationRepository(pub, zerolog.Nop())
	// A frozen clock forces the store to bump timestamps itself.
	frozen := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return frozen })
	return repo, pub
}

func seed(t *testing.T, repo *NegotiationRepository, key *string) *negotiation.Negotiation {
	t.Helper()
	n, first, err := negotiation.Start(negotiation.StartInput{
		BuyerID:        uuid.New(),
		FarmerID:       uuid.New(),
		InitialPrice:   decimal.NewFromInt(100),
		OfferPrice:     decimal.NewFromInt(85),
		Quantity:       10,
		ClientActionID: key,
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.CreateNegotiation(context.Background(), n, first))
	return n
}

func propose(caller uuid.UUID, amount int64) negotiation.MutateFunc {
	return func(n *negotiation.Negotiation, _ []*negotiation.Message) (*negotiation.Message, error) {
		return n.Propose(caller, decimal.NewFromInt(amount), time.Now())
	}
}

func TestCreateAndGet(t *testing.T) {
	repo, pub := newStore(t)
	ctx := context.Background()
	n := seed(t, repo, nil)

	got, err := repo.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusPending, got.Status)
	assert.True(t, got.CurrentOffer.Equal(decimal.NewFromInt(85)))

	log, err := repo.ListMessages(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, negotiation.MessageTypeOffer, log[0].Type)

	assert.Equal(t, []realtime.Table{realtime.TableNegotiations, realtime.TableMessages}, pub.tables())

	_, err = repo.GetNegotiation(ctx, uuid.New())
	assert.ErrorIs(t, err, negotiation.ErrNotFound)
}

func TestCreate_DuplicateClientAction(t *testing.T) {
	repo, _ := newStore(t)
	ctx := context.Background()
	key := "start-1"
	n := seed(t, repo, &key)

	dup, first, err := negotiation.Start(negotiation.StartInput{
		BuyerID: n.BuyerID, FarmerID: n.FarmerID,
		InitialPrice: decimal.NewFromInt(100), OfferPrice: decimal.NewFromInt(85), Quantity: 10,
		ClientActionID: &key,
	}, time.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, repo.CreateNegotiation(ctx, dup, first), negotiation.ErrDuplicateAction)

	found, err := repo.FindByClientAction(ctx, n.BuyerID, key)
	require.NoError(t, err)
	assert.Equal(t, n.ID, found.ID)
}

func TestMutate_CommitsMessageAndHeaderTogether(t *testing.T) {
	repo, pub := newStore(t)
	ctx := context.Background()
	n := seed(t, repo, nil)

	rec, msg, err := repo.Mutate(ctx, n.ID, propose(n.FarmerID, 90))
	require.NoError(t, err)
	assert.Equal(t, negotiation.MessageTypeCounterOffer, msg.Type)
	assert.Equal(t, negotiation.StatusActive, rec.Status)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, msg.CreatedAt, rec.UpdatedAt)

	log, err := repo.ListMessages(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.True(t, log[1].CreatedAt.After(log[0].CreatedAt), "store assigns increasing created_at")
	require.NoError(t, negotiation.Verify(rec, log))

	tables := pub.tables()
	assert.Equal(t, realtime.TableMessages, tables[len(tables)-2])
	assert.Equal(t, realtime.TableNegotiations, tables[len(tables)-1])
}

func TestMutate_RejectionLeavesNoTrace(t *testing.T) {
	repo, pub := newStore(t)
	ctx := context.Background()
	n := seed(t, repo, nil)
	before := len(pub.tables())

	_, _, err := repo.Mutate(ctx, n.ID, propose(n.BuyerID, 80))
	require.ErrorIs(t, err, negotiation.ErrNotYourTurn)

	log, err := repo.ListMessages(ctx, n.ID)
	require.NoError(t, err)
	assert.Len(t, log, 1)
	got, err := repo.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Len(t, pub.tables(), before)
}

func TestMutate_RequiresVersionBump(t *testing.T) {
	repo, _ := newStore(t)
	n := seed(t, repo, nil)

	_, _, err := repo.Mutate(context.Background(), n.ID, func(cur *negotiation.Negotiation, _ []*negotiation.Message) (*negotiation.Message, error) {
		msg, err := cur.Propose(cur.FarmerID, decimal.NewFromInt(90), time.Now())
		cur.Version = 1
		return msg, err
	})
	assert.ErrorIs(t, err, negotiation.ErrVersionConflict)
}

func TestMutate_ConcurrentCountersOnlyOneWins(t *testing.T) {
	repo, _ := newStore(t)
	ctx := context.Background()
	n := seed(t, repo, nil)
	_, _, err := repo.Mutate(ctx, n.ID, propose(n.FarmerID, 95))
	require.NoError(t, err)

	// Two buyer tabs race to counter the farmer's offer.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = repo.Mutate(ctx, n.ID, propose(n.BuyerID, int64(88+i)))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, negotiation.ErrNotYourTurn)
	}
	assert.Equal(t, 1, succeeded)

	rec, err := repo.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	log, err := repo.ListMessages(ctx, n.ID)
	require.NoError(t, err)
	assert.Len(t, log, 3)
	assert.Equal(t, n.BuyerID, *rec.OfferedBy)
	assert.True(t, rec.CurrentOffer.Equal(*log[2].OfferAmount))
	require.NoError(t, negotiation.Verify(rec, log))
}

func TestAppendMessage(t *testing.T) {
	repo, _ := newStore(t)
	ctx := context.Background()
	n := seed(t, repo, nil)
	key := "chat-1"

	msg, err := n.Say(n.FarmerID, "Fresh stock arrives Monday", time.Now())
	require.NoError(t, err)
	msg.ClientActionID = &key

	stored, err := repo.AppendMessage(ctx, msg)
	require.NoError(t, err)
	again, err := repo.AppendMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, again.ID)

	log, err := repo.ListMessages(ctx, n.ID)
	require.NoError(t, err)
	assert.Len(t, log, 2)

	got, err := repo.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version, "chat does not touch the header")

	t.Run("rejects state-changing types", func(t *testing.T) {
		offer := &negotiation.Message{NegotiationID: n.ID, SenderID: n.FarmerID, Type: negotiation.MessageTypeOffer}
		_, err := repo.AppendMessage(ctx, offer)
		assert.ErrorIs(t, err, negotiation.ErrInvalidMessage)
	})

	t.Run("rejects outsiders", func(t *testing.T) {
		body := "hi"
		_, err := repo.AppendMessage(ctx, &negotiation.Message{NegotiationID: n.ID, SenderID: uuid.New(), Body: &body, Type: negotiation.MessageTypeMessage})
		assert.ErrorIs(t, err, negotiation.ErrNotAuthorized)
	})
}

func TestMarkMessagesRead_Idempotent(t *testing.T) {
	repo, _ := newStore(t)
	ctx := context.Background()
	n := seed(t, repo, nil)
	_, _, err := repo.Mutate(ctx, n.ID, propose(n.FarmerID, 90))
	require.NoError(t, err)

	marked, err := repo.MarkMessagesRead(ctx, n.ID, n.FarmerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	marked, err = repo.MarkMessagesRead(ctx, n.ID, n.FarmerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), marked)

	log, err := repo.ListMessages(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, log[0].IsRead, "buyer's opening offer read by farmer")
	assert.False(t, log[1].IsRead, "farmer's own counter untouched")
}

func TestListNegotiationsForUser(t *testing.T) {
	repo, _ := newStore(t)
	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { clock = clock.Add(time.Second); return clock })

	farmer := uuid.New()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		n, first, err := negotiation.Start(negotiation.StartInput{
			BuyerID: uuid.New(), FarmerID: farmer,
			InitialPrice: decimal.NewFromInt(100), OfferPrice: decimal.NewFromInt(80), Quantity: 1,
		}, time.Now())
		require.NoError(t, err)
		require.NoError(t, repo.CreateNegotiation(ctx, n, first))
		ids = append(ids, n.ID)
	}
	// Touching the oldest moves it to the front.
	_, _, err := repo.Mutate(ctx, ids[0], propose(farmer, 90))
	require.NoError(t, err)

	list, err := repo.ListNegotiationsForUser(ctx, farmer, negotiation.RoleFarmer)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []uuid.UUID{ids[0], ids[2], ids[1]}, []uuid.UUID{list[0].ID, list[1].ID, list[2].ID})

	list, err = repo.ListNegotiationsForUser(ctx, farmer, negotiation.RoleBuyer)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUpdateNegotiationFields_CompareAndSwap(t *testing.T) {
	repo, _ := newStore(t)
	ctx := context.Background()
	n := seed(t, repo, nil)
	status := negotiation.StatusActive

	_, err := repo.UpdateNegotiationFields(ctx, n.ID, negotiation.Patch{Status: &status, ExpectedVersion: 7})
	assert.ErrorIs(t, err, negotiation.ErrVersionConflict)

	updated, err := repo.UpdateNegotiationFields(ctx, n.ID, negotiation.Patch{Status: &status, ExpectedVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusActive, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	_, err = repo.UpdateNegotiationFields(ctx, uuid.New(), negotiation.Patch{Status: &status})
	assert.ErrorIs(t, err, negotiation.ErrNotFound)
}

func TestCancelledContextIsPersistenceError(t *testing.T) {
	repo, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.GetNegotiation(ctx, uuid.New())
	assert.ErrorIs(t, err, negotiation.ErrPersistence)
	assert.True(t, negotiation.IsRetryable(err))
}

func TestUpdateNegotiationFields_GuardsHeader(t *testing.T) {
	ctx := context.Background()
	accepted := negotiation.StatusAccepted
	active := negotiation.StatusActive

	t.Run("terminal rows are closed", func(t *testing.T) {
		repo, _ := newStore(t)
		n := seed(t, repo, nil)
		_, _, err := repo.Mutate(ctx, n.ID, func(cur *negotiation.Negotiation, _ []*negotiation.Message) (*negotiation.Message, error) {
			return cur.Reject(cur.FarmerID, time.Now())
		})
		require.NoError(t, err)

		_, err = repo.UpdateNegotiationFields(ctx, n.ID, negotiation.Patch{Status: &active})
		assert.ErrorIs(t, err, negotiation.ErrNegotiationClosed)

		got, err := repo.GetNegotiation(ctx, n.ID)
		require.NoError(t, err)
		assert.Equal(t, negotiation.StatusRejected, got.Status)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("accepted needs a final price", func(t *testing.T) {
		repo, _ := newStore(t)
		n := seed(t, repo, nil)
		_, err := repo.UpdateNegotiationFields(ctx, n.ID, negotiation.Patch{Status: &accepted})
		assert.ErrorIs(t, err, negotiation.ErrInvalidOffer)

		price := decimal.NewFromInt(85)
		_, err = repo.UpdateNegotiationFields(ctx, n.ID, negotiation.Patch{FinalPrice: &price})
		assert.ErrorIs(t, err, negotiation.ErrInvalidOffer)
	})

	t.Run("offered by must be a party", func(t *testing.T) {
		repo, _ := newStore(t)
		n := seed(t, repo, nil)
		outsider := uuid.New()
		_, err := repo.UpdateNegotiationFields(ctx, n.ID, negotiation.Patch{OfferedBy: &outsider})
		assert.ErrorIs(t, err, negotiation.ErrNotAuthorized)

		got, err := repo.GetNegotiation(ctx, n.ID)
		require.NoError(t, err)
		assert.Equal(t, n.BuyerID, *got.OfferedBy)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("repair must match the log", func(t *testing.T) {
		repo, _ := newStore(t)
		n := seed(t, repo, nil)
		drift := decimal.NewFromInt(80)
		drifted, err := repo.UpdateNegotiationFields(ctx, n.ID, negotiation.Patch{CurrentOffer: &drift})
		require.NoError(t, err)

		log, err := repo.ListMessages(ctx, n.ID)
		require.NoError(t, err)
		require.ErrorIs(t, negotiation.Verify(drifted, log), negotiation.ErrLogMismatch)

		_, err = repo.UpdateNegotiationFields(ctx, n.ID, negotiation.Patch{Repair: true, Status: &active, ExpectedVersion: drifted.Version})
		assert.ErrorIs(t, err, negotiation.ErrLogMismatch)

		state, err := negotiation.Replay(drifted, log)
		require.NoError(t, err)
		repaired, err := repo.UpdateNegotiationFields(ctx, n.ID, negotiation.PatchFromState(state, drifted.Version))
		require.NoError(t, err)
		assert.True(t, repaired.CurrentOffer.Equal(decimal.NewFromInt(85)))
		assert.NoError(t, negotiation.Verify(repaired, log))
	})

	t.Run("repair reaches terminal rows", func(t *testing.T) {
		repo, _ := newStore(t)
		n := seed(t, repo, nil)
		rec, _, err := repo.Mutate(ctx, n.ID, func(cur *negotiation.Negotiation, _ []*negotiation.Message) (*negotiation.Message, error) {
			return cur.Cancel(cur.BuyerID, time.Now())
		})
		require.NoError(t, err)
		log, err := repo.ListMessages(ctx, n.ID)
		require.NoError(t, err)
		state, err := negotiation.Replay(rec, log)
		require.NoError(t, err)

		repaired, err := repo.UpdateNegotiationFields(ctx, n.ID, negotiation.PatchFromState(state, rec.Version))
		require.NoError(t, err)
		assert.Equal(t, negotiation.StatusCancelled, repaired.Status)
	})
}

func TestReusedClientActionIsRefused(t *testing.T) {
	repo, _ := newStore(t)
	ctx := context.Background()
	n := seed(t, repo, nil)
	key := "k1"

	msg, err := n.Say(n.BuyerID, "Can you deliver by Friday?", time.Now())
	require.NoError(t, err)
	msg.ClientActionID = &key
	_, err = repo.AppendMessage(ctx, msg)
	require.NoError(t, err)

	other, err := n.Say(n.BuyerID, "Never mind", time.Now())
	require.NoError(t, err)
	other.ClientActionID = &key
	_, err = repo.AppendMessage(ctx, other)
	assert.ErrorIs(t, err, negotiation.ErrDuplicateAction)

	_, _, err = repo.Mutate(ctx, n.ID, func(cur *negotiation.Negotiation, _ []*negotiation.Message) (*negotiation.Message, error) {
		m, err := cur.Cancel(cur.BuyerID, time.Now())
		if err != nil {
			return nil, err
		}
		m.ClientActionID = &key
		return m, nil
	})
	assert.ErrorIs(t, err, negotiation.ErrDuplicateAction)

	got, err := repo.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, negotiation.StatusPending, got.Status)
}
