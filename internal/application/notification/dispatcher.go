// Package notification turns negotiation change events into user alerts.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/notification"
	"github.com/agrimarket/bargaining-hub/internal/domain/realtime"
	"github.com/agrimarket/bargaining-hub/internal/infrastructure/metrics"
)

const (
	dedupeWindow   = 4096
	dispatchBuffer = 1024
)

type compiledRule struct {
	rule notification.Rule
	cond *condition
}

// Dispatcher evaluates rules against every change event and delivers the
// resulting alerts to a sink. Delivery is best-effort: it subscribes with a
// buffer larger than a viewer's, and events the broker drops past that
// buffer produce no alerts.
type Dispatcher struct {
	broker  realtime.Broker
	sink    notification.Sink
	rules   []compiledRule
	buffer  int
	metrics *metrics.Metrics
	now     func() time.Time
	logger  zerolog.Logger

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewDispatcher compiles rules. An empty rule set selects the defaults.
func NewDispatcher(broker realtime.Broker, sink notification.Sink, rules []notification.Rule, m *metrics.Metrics, logger zerolog.Logger) (*Dispatcher, error) {
	if len(rules) == 0 {
		rules = notification.DefaultRules()
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		c, err := compileCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %w", notification.ErrInvalidRule, r.Name, err)
		}
		compiled = append(compiled, compiledRule{rule: r, cond: c})
	}
	return &Dispatcher{
		broker:  broker,
		sink:    sink,
		rules:   compiled,
		buffer:  dispatchBuffer,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With().Str("service", "notification").Logger(),
		seen:    make(map[string]struct{}),
	}, nil
}

// SetBuffer sizes the dispatcher's own subscription. It applies to the next
// Run.
func (d *Dispatcher) SetBuffer(n int) {
	if n > 0 {
		d.buffer = n
	}
}

func (d *Dispatcher) subscribe() realtime.Subscription {
	if b, ok := d.broker.(realtime.BufferedBroker); ok {
		return b.SubscribeBuffered(realtime.Filter{}, d.buffer)
	}
	return d.broker.Subscribe(realtime.Filter{})
}

// Run consumes every change event until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	sub := d.subscribe()
	defer sub.Close()
	d.logger.Info().Int("rules", len(d.rules)).Int("buffer", d.buffer).Msg("notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if sub.Lagged() {
				d.logger.Warn().Int("buffer", d.buffer).Msg("dispatcher lagged, alerts for dropped events are not delivered")
			}
			d.Handle(ctx, e)
		}
	}
}

// Handle evaluates every rule for both parties of e and delivers the alerts
// not seen before. It returns the delivered alerts.
func (d *Dispatcher) Handle(ctx context.Context, e *realtime.Event) []*notification.Alert {
	params, display := eventParams(e)
	var out []*notification.Alert
	for _, recipient := range []struct {
		id   uuid.UUID
		role negotiation.Role
	}{{e.BuyerID, negotiation.RoleBuyer}, {e.FarmerID, negotiation.RoleFarmer}} {
		params["recipient"] = recipient.id.String()
		params["recipient_role"] = string(recipient.role)
		for _, cr := range d.rules {
			ok, err := cr.cond.evaluate(params)
			if err != nil {
				d.logger.Warn().Err(err).Str("rule", cr.rule.Name).Str("event_id", e.ID).Msg("rule evaluation failed")
				continue
			}
			if !ok {
				continue
			}
			alert := notification.NewAlert(e.ID, cr.rule, recipient.id, e.NegotiationID, render(cr.rule.Body, display), d.now())
			if !d.markSeen(alert.DedupeKey()) {
				continue
			}
			if err := d.sink.Deliver(ctx, alert); err != nil {
				d.logger.Warn().Err(err).Str("rule", cr.rule.Name).Str("recipient", recipient.id.String()).Msg("alert delivery failed")
				continue
			}
			d.metrics.Alert(ctx, cr.rule.Name)
			out = append(out, alert)
		}
	}
	return out
}

// markSeen records key and reports whether it was new. Only the most recent
// keys are remembered.
func (d *Dispatcher) markSeen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	if len(d.order) > dedupeWindow {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return true
}

// eventParams builds the expression parameters and the strings available to
// alert bodies.
func eventParams(e *realtime.Event) (map[string]interface{}, map[string]string) {
	params := map[string]interface{}{
		"table":         string(e.Table),
		"event":         string(e.Type),
		"buyer_id":      e.BuyerID.String(),
		"farmer_id":     e.FarmerID.String(),
		"status":        "",
		"current_offer": 0.0,
		"offered_by":    "",
		"final_price":   0.0,
		"message_type":  "",
		"sender_id":     "",
	}
	display := map[string]string{}
	if n := e.Negotiation; n != nil {
		params["status"] = string(n.Status)
		if n.CurrentOffer != nil {
			params["current_offer"] = n.CurrentOffer.InexactFloat64()
			display["current_offer"] = n.CurrentOffer.String()
		}
		if n.OfferedBy != nil {
			params["offered_by"] = n.OfferedBy.String()
		}
		if n.FinalPrice != nil {
			params["final_price"] = n.FinalPrice.InexactFloat64()
			display["final_price"] = n.FinalPrice.String()
		}
	}
	if m := e.Message; m != nil {
		params["message_type"] = string(m.Type)
		params["sender_id"] = m.SenderID.String()
		if m.Body != nil {
			display["message"] = *m.Body
		}
	}
	return params, display
}

func render(body string, display map[string]string) string {
	if !strings.Contains(body, "{") {
		return body
	}
	pairs := make([]string, 0, len(display)*2)
	for k, v := range display {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(body)
}
