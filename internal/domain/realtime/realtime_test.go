package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
)

func TestFilterMatches(t *testing.T) {
	n := &negotiation.Negotiation{
		ID:           uuid.New(),
		BuyerID:      uuid.New(),
		FarmerID:     uuid.New(),
		InitialPrice: decimal.NewFromInt(100),
		Status:       negotiation.StatusPending,
		UpdatedAt:    time.Now(),
	}
	body := "hello"
	msg := &negotiation.Message{ID: "m1", NegotiationID: n.ID, SenderID: n.BuyerID, Body: &body, Type: negotiation.MessageTypeMessage, CreatedAt: time.Now()}

	update := NegotiationChanged(EventUpdate, n)
	insert := MessageAppended(n, msg)

	other := uuid.New()
	tests := []struct {
		name   string
		filter Filter
		event  *Event
		want   bool
	}{
		{"firehose", Filter{}, update, true},
		{"same negotiation", ForNegotiation(n.ID), insert, true},
		{"other negotiation", ForNegotiation(other), insert, false},
		{"buyer participant", ForParticipant(n.BuyerID), update, true},
		{"farmer participant", ForParticipant(n.FarmerID), insert, true},
		{"outsider", ForParticipant(other), update, false},
		{"nil participant", ForParticipant(uuid.Nil), update, false},
		{"table match", Filter{Tables: []Table{TableMessages}}, insert, true},
		{"table mismatch", Filter{Tables: []Table{TableMessages}}, update, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tt.event))
		})
	}
}

func TestEventsCarryCopies(t *testing.T) {
	offer := decimal.NewFromInt(85)
	n := &negotiation.Negotiation{ID: uuid.New(), BuyerID: uuid.New(), FarmerID: uuid.New(), CurrentOffer: &offer, UpdatedAt: time.Now()}

	e := NegotiationChanged(EventInsert, n)
	*n.CurrentOffer = decimal.NewFromInt(1)

	assert.True(t, e.Negotiation.CurrentOffer.Equal(decimal.NewFromInt(85)))
	assert.Equal(t, TableNegotiations, e.Table)
	assert.Equal(t, n.ID, e.NegotiationID)
	assert.NotEmpty(t, e.ID)
}
