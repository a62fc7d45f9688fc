package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
)

const negotiationColumns = `id, buyer_id, farmer_id, crop_id, quantity, initial_price, current_offer, offered_by,
	status, final_price, version, client_action_id, created_at, updated_at`

const messageColumns = `id, negotiation_id, sender_id, message, offer_amount, message_type, is_read, client_action_id, created_at`

// nextCreatedAt is the store-assigned message timestamp: the transaction's
// wall clock, pushed one microsecond past the latest message of the
// negotiation when the clock has not moved.
const nextCreatedAt = `GREATEST(clock_timestamp(),
	(SELECT max(created_at) + interval '1 microsecond' FROM negotiation_messages WHERE negotiation_id = $2))`

// NegotiationRepository implements negotiation.Repository. Every commit also
// writes its change events to the negotiation_events outbox.
type NegotiationRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewNegotiationRepository(pool *pgxpool.Pool, logger zerolog.Logger) *NegotiationRepository {
	return &NegotiationRepository{
		pool:   pool,
		logger: logger.With().Str("component", "postgres_store").Logger(),
	}
}

func (r *NegotiationRepository) CreateNegotiation(ctx context.Context, n *negotiation.Negotiation, first *negotiation.Message) error {
	if first == nil || first.NegotiationID != n.ID {
		return fmt.Errorf("%w: opening message must belong to the negotiation", negotiation.ErrInvalidMessage)
	}
	msg := first.Clone()
	if msg.ClientActionID == nil && n.ClientActionID != nil {
		k := *n.ClientActionID
		msg.ClientActionID = &k
	}

	var at time.Time
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO negotiations
			(id, buyer_id, farmer_id, crop_id, quantity, initial_price, current_offer, offered_by,
			 status, final_price, version, client_action_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, clock_timestamp(), clock_timestamp())
			RETURNING created_at
		`, n.ID, n.BuyerID, n.FarmerID, n.CropID, n.Quantity, n.InitialPrice, n.CurrentOffer, n.OfferedBy,
			n.Status, n.FinalPrice, n.Version, n.ClientActionID).Scan(&at); err != nil {
			return err
		}
		at = at.UTC()
		if msg.ID == "" {
			msg.ID = negotiation.NewMessageID(at)
		}
		msg.CreatedAt = at
		if _, err := tx.Exec(ctx, `
			INSERT INTO negotiation_messages (`+messageColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,false,$7,$8)
		`, msg.ID, msg.NegotiationID, msg.SenderID, msg.Body, msg.OfferAmount, msg.Type, msg.ClientActionID, at); err != nil {
			return err
		}

		rec := n.Clone()
		rec.Listing, rec.BuyerName, rec.FarmerName = nil, "", ""
		rec.CreatedAt, rec.UpdatedAt = at, at
		return insertEvents(ctx, tx,
			realtime.NegotiationChanged(realtime.EventInsert, rec),
			realtime.MessageAppended(rec, msg))
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", negotiation.ErrDuplicateAction, err)
		}
		return negotiation.Persistence("create negotiation", err)
	}
	n.CreatedAt, n.UpdatedAt = at, at
	first.ID, first.CreatedAt = msg.ID, at
	return nil
}

func (r *NegotiationRepository) GetNegotiation(ctx context.Context, id uuid.UUID) (*negotiation.Negotiation, error) {
	n, err := getNegotiation(ctx, r.pool, id, false)
	if err != nil {
		return nil, negotiation.Persistence("get negotiation", err)
	}
	return n, nil
}

func (r *NegotiationRepository) FindByClientAction(ctx context.Context, buyerID uuid.UUID, clientActionID string) (*negotiation.Negotiation, error) {
	n, err := scanNegotiation(r.pool.QueryRow(ctx, `
		SELECT `+negotiationColumns+`
		FROM negotiations
		WHERE buyer_id=$1 AND client_action_id=$2
	`, buyerID, clientActionID))
	if err != nil {
		return nil, negotiation.Persistence("find by client action", err)
	}
	return n, nil
}

func (r *NegotiationRepository) ListNegotiationsForUser(ctx context.Context, userID uuid.UUID, role negotiation.Role) ([]*negotiation.Negotiation, error) {
	where := "buyer_id=$1 OR farmer_id=$1"
	switch role {
	case negotiation.RoleBuyer:
		where = "buyer_id=$1"
	case negotiation.RoleFarmer:
		where = "farmer_id=$1"
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+negotiationColumns+`
		FROM negotiations
		WHERE `+where+`
		ORDER BY updated_at DESC, id ASC
	`, userID)
	if err != nil {
		return nil, negotiation.Persistence("list negotiations", err)
	}
	defer rows.Close()

	out := make([]*negotiation.Negotiation, 0)
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, negotiation.Persistence("list negotiations", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, negotiation.Persistence("list negotiations", err)
	}
	return out, nil
}

func (r *NegotiationRepository) UpdateNegotiationFields(ctx context.Context, id uuid.UUID, patch negotiation.Patch) (*negotiation.Negotiation, error) {
	var next *negotiation.Negotiation
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		cur, err := getNegotiation(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if patch.ExpectedVersion != 0 && patch.ExpectedVersion != cur.Version {
			return fmt.Errorf("%w: expected %d, have %d", negotiation.ErrVersionConflict, patch.ExpectedVersion, cur.Version)
		}
		var log []*negotiation.Message
		if patch.Repair {
			if log, err = listMessages(ctx, tx, id); err != nil {
				return err
			}
		}
		want, err := patch.ApplyTo(cur, log)
		if err != nil {
			return err
		}
		next, err = scanNegotiation(tx.QueryRow(ctx, `
			UPDATE negotiations SET
				current_offer = $2, offered_by = $3, status = $4, final_price = $5,
				version = version + 1,
				updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
			WHERE id=$1
			RETURNING `+negotiationColumns,
			id, want.CurrentOffer, want.OfferedBy, want.Status, want.FinalPrice))
		if err != nil {
			return err
		}
		return insertEvents(ctx, tx, realtime.NegotiationChanged(realtime.EventUpdate, next))
	})
	if err != nil {
		return nil, negotiation.Persistence("update negotiation", err)
	}
	return next, nil
}

func (r *NegotiationRepository) AppendMessage(ctx context.Context, msg *negotiation.Message) (*negotiation.Message, error) {
	if msg.Type != negotiation.MessageTypeMessage {
		return nil, fmt.Errorf("%w: %s messages change state and must go through Mutate", negotiation.ErrInvalidMessage, msg.Type)
	}
	var stored *negotiation.Message
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		n, err := getNegotiation(ctx, tx, msg.NegotiationID, true)
		if err != nil {
			return err
		}
		if !n.IsParty(msg.SenderID) {
			return negotiation.ErrNotAuthorized
		}
		if existing, err := findAction(ctx, tx, msg); err != nil || existing != nil {
			stored = existing
			return err
		}
		if stored, err = insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		return insertEvents(ctx, tx, realtime.MessageAppended(n, stored))
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", negotiation.ErrDuplicateAction, err)
		}
		return nil, negotiation.Persistence("append message", err)
	}
	return stored, nil
}

func (r *NegotiationRepository) ListMessages(ctx context.Context, negotiationID uuid.UUID) ([]*negotiation.Message, error) {
	if _, err := getNegotiation(ctx, r.pool, negotiationID, false); err != nil {
		return nil, negotiation.Persistence("list messages", err)
	}
	log, err := listMessages(ctx, r.pool, negotiationID)
	if err != nil {
		return nil, negotiation.Persistence("list messages", err)
	}
	return log, nil
}

func (r *NegotiationRepository) MarkMessagesRead(ctx context.Context, negotiationID, readerID uuid.UUID) (int64, error) {
	var marked int64
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		marked = 0
		n, err := getNegotiation(ctx, tx, negotiationID, false)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			UPDATE negotiation_messages
			SET is_read=true
			WHERE negotiation_id=$1 AND sender_id<>$2 AND NOT is_read
			RETURNING `+messageColumns,
			negotiationID, readerID)
		if err != nil {
			return err
		}
		msgs, err := collectMessages(rows)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		at := time.Now().UTC()
		events := make([]*realtime.Event, 0, len(msgs))
		for _, m := range msgs {
			events = append(events, realtime.MessageRead(n, m, at))
		}
		marked = int64(len(msgs))
		return insertEvents(ctx, tx, events...)
	})
	if err != nil {
		return 0, negotiation.Persistence("mark messages read", err)
	}
	return marked, nil
}

// Mutate locks the negotiation row, runs fn against it and its log and
// commits the message, the header and the outbox events in one transaction.
func (r *NegotiationRepository) Mutate(ctx context.Context, id uuid.UUID, fn negotiation.MutateFunc) (*negotiation.Negotiation, *negotiation.Message, error) {
	var (
		rec    *negotiation.Negotiation
		stored *negotiation.Message
	)
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		rec, stored = nil, nil
		cur, err := getNegotiation(ctx, tx, id, true)
		if err != nil {
			return err
		}
		log, err := listMessages(ctx, tx, id)
		if err != nil {
			return err
		}
		working := cur.Clone()
		msg, err := fn(working, log)
		if err != nil {
			return err
		}
		if msg == nil {
			rec = cur
			return nil
		}
		if msg.NegotiationID != id {
			return fmt.Errorf("%w: message belongs to %s", negotiation.ErrInvalidMessage, msg.NegotiationID)
		}
		mutates := msg.Type.MutatesState()
		if mutates && working.Version != cur.Version+1 {
			return fmt.Errorf("%w: expected version %d, got %d", negotiation.ErrVersionConflict, cur.Version+1, working.Version)
		}
		if existing, err := findAction(ctx, tx, msg); err != nil || existing != nil {
			rec, stored = cur, existing
			return err
		}
		if stored, err = insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		rec = cur
		events := []*realtime.Event{}
		if mutates {
			rec, err = scanNegotiation(tx.QueryRow(ctx, `
				UPDATE negotiations
				SET current_offer=$2, offered_by=$3, status=$4, final_price=$5, version=$6, updated_at=$7
				WHERE id=$1 AND version=$8
				RETURNING `+negotiationColumns,
				id, working.CurrentOffer, working.OfferedBy, working.Status, working.FinalPrice,
				working.Version, stored.CreatedAt, cur.Version))
			if errors.Is(err, negotiation.ErrNotFound) {
				return negotiation.ErrVersionConflict
			}
			if err != nil {
				return err
			}
		}
		events = append(events, realtime.MessageAppended(rec, stored))
		if mutates {
			events = append(events, realtime.NegotiationChanged(realtime.EventUpdate, rec))
		}
		return insertEvents(ctx, tx, events...)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%w: %v", negotiation.ErrDuplicateAction, err)
		}
		return nil, nil, negotiation.Persistence("mutate negotiation", err)
	}
	return rec, stored, nil
}

func getNegotiation(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*negotiation.Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanNegotiation(q.QueryRow(ctx, query, id))
}

func listMessages(ctx context.Context, q querier, negotiationID uuid.UUID) ([]*negotiation.Message, error) {
	rows, err := q.Query(ctx, `
		SELECT `+messageColumns+`
		FROM negotiation_messages
		WHERE negotiation_id=$1
		ORDER BY created_at ASC, id ASC
	`, negotiationID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// findAction returns the message already stored under msg's client action id.
func findAction(ctx context.Context, q querier, msg *negotiation.Message) (*negotiation.Message, error) {
	if msg.ClientActionID == nil {
		return nil, nil
	}
	m, err := scanMessage(q.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM negotiation_messages
		WHERE negotiation_id=$1 AND sender_id=$2 AND client_action_id=$3
	`, msg.NegotiationID, msg.SenderID, *msg.ClientActionID))
	if errors.Is(err, negotiation.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return negotiation.IntentOf(msg).CheckReplay(m)
}

func insertMessage(ctx context.Context, tx pgx.Tx, msg *negotiation.Message) (*negotiation.Message, error) {
	stored := msg.Clone()
	stored.IsRead = false
	if stored.ID == "" {
		stored.ID = negotiation.NewMessageID(time.Now())
	}
	var at time.Time
	if err := tx.QueryRow(ctx, `
		INSERT INTO negotiation_messages (`+messageColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,false,$7,`+nextCreatedAt+`)
		RETURNING created_at
	`, stored.ID, stored.NegotiationID, stored.SenderID, stored.Body, stored.OfferAmount, stored.Type, stored.ClientActionID).Scan(&at); err != nil {
		return nil, err
	}
	stored.CreatedAt = at.UTC()
	return stored, nil
}

// insertEvents appends change events to the outbox in one batch.
func insertEvents(ctx context.Context, tx pgx.Tx, events ...*realtime.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode change event: %w", err)
		}
		batch.Queue(`
			INSERT INTO negotiation_events (event_id, negotiation_id, payload)
			VALUES ($1,$2,$3)
		`, e.ID, e.NegotiationID, payload)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func scanNegotiation(row pgx.Row) (*negotiation.Negotiation, error) {
	var n negotiation.Negotiation
	var current, final decimal.NullDecimal
	if err := row.Scan(&n.ID, &n.BuyerID, &n.FarmerID, &n.CropID, &n.Quantity, &n.InitialPrice, &current, &n.OfferedBy,
		&n.Status, &final, &n.Version, &n.ClientActionID, &n.CreatedAt, &n.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, negotiation.ErrNotFound
		}
		return nil, err
	}
	if current.Valid {
		n.CurrentOffer = &current.Decimal
	}
	if final.Valid {
		n.FinalPrice = &final.Decimal
	}
	n.CreatedAt, n.UpdatedAt = n.CreatedAt.UTC(), n.UpdatedAt.UTC()
	return &n, nil
}

func scanMessage(row pgx.Row) (*negotiation.Message, error) {
	var m negotiation.Message
	var amount decimal.NullDecimal
	if err := row.Scan(&m.ID, &m.NegotiationID, &m.SenderID, &m.Body, &amount, &m.Type, &m.IsRead, &m.ClientActionID, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, negotiation.ErrNotFound
		}
		return nil, err
	}
	if amount.Valid {
		m.OfferAmount = &amount.Decimal
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func collectMessages(rows pgx.Rows) ([]*negotiation.Message, error) {
	defer rows.Close()
	out := make([]*negotiation.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
