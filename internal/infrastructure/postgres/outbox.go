package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
	"github.com/agrimarket/bargaining-hub/internal/infrastructure/metrics"
)

const defaultRelayBatch = 100

// OutboxRelay publishes committed change events from negotiation_events.
// Delivery is at-least-once: rows are marked only after Publish succeeds.
type OutboxRelay struct {
	pool      *pgxpool.Pool
	publisher realtime.Publisher
	batchSize int
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewOutboxRelay(pool *pgxpool.Pool, publisher realtime.Publisher, batchSize int, m *metrics.Metrics, logger zerolog.Logger) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = defaultRelayBatch
	}
	return &OutboxRelay{
		pool:      pool,
		publisher: publisher,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
	}
}

// RelayPending publishes one batch of unpublished events in id order and
// returns how many rows it settled. Rows locked by another relay are skipped.
func (o *OutboxRelay) RelayPending(ctx context.Context) (int, error) {
	settled := 0
	err := pgx.BeginFunc(ctx, o.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, payload
			FROM negotiation_events
			WHERE published_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, o.batchSize)
		if err != nil {
			return err
		}
		var (
			ids    []int64
			events []*realtime.Event
		)
		for rows.Next() {
			var id int64
			var payload []byte
			if err := rows.Scan(&id, &payload); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
			var e realtime.Event
			if err := json.Unmarshal(payload, &e); err != nil {
				o.logger.Error().Err(err).Int64("outbox_id", id).Msg("undecodable change event, skipping")
				continue
			}
			events = append(events, &e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if len(events) > 0 {
			if err := o.publisher.Publish(ctx, events...); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE negotiation_events SET published_at=now() WHERE id = ANY($1)
		`, ids); err != nil {
			return err
		}
		settled = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	o.metrics.Relayed(ctx, settled)
	return settled, nil
}

// Run relays on every tick until ctx is done. A full batch is followed
// immediately by another.
func (o *OutboxRelay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			n, err := o.RelayPending(ctx)
			if err != nil {
				if ctx.Err() == nil {
					o.logger.Warn().Err(err).Msg("relay outbox")
				}
				break
			}
			if n < o.batchSize {
				break
			}
		}
	}
}
