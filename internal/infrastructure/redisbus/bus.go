// Package redisbus carries change events between server instances over
// Redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
)

const DefaultPrefix = "agrimarket:negotiation"

// Bus publishes events to <prefix>:<negotiation_id> and relays every such
// channel into a local publisher.
type Bus struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewClient creates a Redis client.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func New(client *redis.Client, prefix string, logger zerolog.Logger) *Bus {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bus{
		client: client,
		prefix: strings.TrimSuffix(prefix, ":"),
		logger: logger.With().Str("component", "redis_bus").Logger(),
	}
}

func (b *Bus) channel(e *realtime.Event) string {
	return b.prefix + ":" + e.NegotiationID.String()
}

// Publish sends events in one pipeline.
func (b *Bus) Publish(ctx context.Context, events ...*realtime.Event) error {
	if len(events) == 0 {
		return nil
	}
	pipe := b.client.Pipeline()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode change event: %w", err)
		}
		pipe.Publish(ctx, b.channel(e), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish change events: %w", err)
	}
	return nil
}

// Run pattern-subscribes to every negotiation channel and hands decoded
// events to local until ctx is done. ready, if not nil, is closed once the
// subscription is confirmed.
func (b *Bus) Run(ctx context.Context, local realtime.Publisher, ready chan<- struct{}) error {
	ps := b.client.PSubscribe(ctx, b.prefix+":*")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s:*: %w", b.prefix, err)
	}
	if ready != nil {
		close(ready)
	}
	b.logger.Info().Str("pattern", b.prefix+":*").Msg("redis relay subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e realtime.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("undecodable change event")
				continue
			}
			if err := local.Publish(ctx, &e); err != nil {
				b.logger.Warn().Err(err).Str("event_id", e.ID).Msg("local fan-out failed")
			}
		}
	}
}

// Ping checks connectivity.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
