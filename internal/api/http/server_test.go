package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appNegotiation "github.com/agrimarket/bargaining-hub/internal/application/negotiation"
	appNotification "github.com/agrimarket/bargaining-hub/internal/application/notification"
	"github.com/agrimarket/bargaining-hub/internal/domain/negotiation"
	"github.com/agrimarket/bargaining-hub/internal/domain/notification"
	"github.com/agrimarket/bargaining-hub/internal/infrastructure/memory"
	"github.com/agrimarket/bargaining-hub/internal/infrastructure/sse"
)

type fixture struct {
	hub     *sse.Hub
	svc     *appNegotiation.Service
	alerts  *appNotification.MemorySink
	handler http.Handler
	buyer   uuid.UUID
	farmer  uuid.UUID
}

func newFixture(t *testing.T, perSecond float64, burst int) *fixture {
	t.Helper()
	hub := sse.NewHub(16, nil, zerolog.Nop())
	t.Cleanup(hub.Stop)
	repo := memory.NewNegotiationRepository(hub, zerolog.Nop())
	dir := memory.NewDirectory()
	svc := appNegotiation.NewService(repo, dir, dir, nil, "Unknown", zerolog.Nop())
	alerts := appNotification.NewMemorySink(10)
	srv := NewServer(svc, hub, alerts, perSecond, burst, zerolog.Nop())
	f := &fixture{
		hub:     hub,
		svc:     svc,
		alerts:  alerts,
		handler: srv.Router(),
		buyer:   uuid.New(),
		farmer:  uuid.New(),
	}
	dir.PutProfile(f.buyer, "Asha")
	dir.PutProfile(f.farmer, "Ravi")
	return f
}

func (f *fixture) do(t *testing.T, method, path string, user uuid.UUID, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		reader = &buf
	}
	req := httptest.NewRequest(method, path, reader)
	if user != uuid.Nil {
		req.Header.Set(headerUserID, user.String())
	}
	if role != "" {
		req.Header.Set(headerRole, role)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) create(t *testing.T, key string) *appNegotiation.Result {
	t.Helper()
	body := map[string]interface{}{
		"farmerId": f.farmer, "initialPrice": "100", "offerPrice": "85", "quantity": 10,
	}
	if key != "" {
		body["clientActionId"] = key
	}
	rec := f.do(t, http.MethodPost, "/v1/negotiations", f.buyer, "buyer", body)
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, rec.Code, rec.Body.String())
	var res appNegotiation.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return &res
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRouter_RequiresCaller(t *testing.T) {
	f := newFixture(t, 100, 100)

	rec := f.do(t, http.MethodGet, "/v1/negotiations", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/negotiations", nil)
	req.Header.Set(headerUserID, "not-a-uuid")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/negotiations", f.buyer, "expert", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/healthz", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNegotiationFlow(t *testing.T) {
	f := newFixture(t, 100, 100)

	opened := f.create(t, "start-1")
	assert.False(t, opened.Replayed)
	assert.Equal(t, negotiation.StatusPending, opened.Negotiation.Status)
	id := opened.Negotiation.ID

	again := f.create(t, "start-1")
	assert.True(t, again.Replayed)
	assert.Equal(t, id, again.Negotiation.ID)

	base := "/v1/negotiations/" + id.String()
	rec := f.do(t, http.MethodPost, base+"/offers", f.farmer, "farmer", map[string]interface{}{"amount": "92", "isCounter": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var countered appNegotiation.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &countered))
	assert.Equal(t, negotiation.StatusActive, countered.Negotiation.Status)
	assert.True(t, countered.Negotiation.CurrentOffer.Equal(decimal.NewFromInt(92)))

	rec = f.do(t, http.MethodPost, base+"/accept", f.buyer, "", map[string]interface{}{"finalPrice": "90"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_OFFER", decodeError(t, rec)["error"])

	rec = f.do(t, http.MethodPost, base+"/accept", f.buyer, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var accepted appNegotiation.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, negotiation.StatusAccepted, accepted.Negotiation.Status)
	assert.True(t, accepted.Negotiation.FinalPrice.Equal(decimal.NewFromInt(92)))

	rec = f.do(t, http.MethodPost, base+"/offers", f.farmer, "", map[string]interface{}{"amount": "95"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NEGOTIATION_CLOSED", decodeError(t, rec)["error"])

	rec = f.do(t, http.MethodPost, base+"/messages", f.farmer, "", map[string]interface{}{"text": "Dispatching tomorrow"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, base+"/messages", f.buyer, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var log struct {
		Items []*negotiation.Message `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &log))
	require.Len(t, log.Items, 4)
	assert.Equal(t, negotiation.MessageTypeMessage, log.Items[3].Type)

	rec = f.do(t, http.MethodPost, base+"/read", f.buyer, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"marked":2}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, base, f.farmer, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got negotiation.Negotiation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Asha", got.BuyerName)

	rec = f.do(t, http.MethodPost, base+"/reconcile", f.buyer, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"repaired":false`)

	rec = f.do(t, http.MethodGet, "/v1/negotiations?role=farmer", f.farmer, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []*negotiation.Negotiation `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)

	rec = f.do(t, http.MethodGet, "/v1/negotiations?role=buyer", f.farmer, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Items)
}

func TestNegotiation_Errors(t *testing.T) {
	f := newFixture(t, 100, 100)
	id := f.create(t, "").Negotiation.ID
	base := "/v1/negotiations/" + id.String()

	rec := f.do(t, http.MethodPost, base+"/offers", f.buyer, "", map[string]interface{}{"amount": "88"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "NOT_YOUR_TURN", body["error"])
	assert.Equal(t, false, body["retryable"])

	rec = f.do(t, http.MethodGet, base, uuid.New(), "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/negotiations/"+uuid.New().String(), f.buyer, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/negotiations/nope", f.buyer, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/offers", f.farmer, "", map[string]interface{}{"amount": "90", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/negotiations", f.farmer, "farmer", map[string]interface{}{
		"farmerId": f.buyer, "initialPrice": "100", "offerPrice": "85", "quantity": 1,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/negotiations", f.buyer, "", map[string]interface{}{
		"farmerId": f.farmer, "initialPrice": "100", "offerPrice": "120", "quantity": 1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/messages", f.buyer, "", map[string]interface{}{"text": "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_MESSAGE", decodeError(t, rec)["error"])
}

func TestNegotiation_CancelIsBuyerOnly(t *testing.T) {
	f := newFixture(t, 100, 100)
	id := f.create(t, "").Negotiation.ID
	base := "/v1/negotiations/" + id.String()

	rec := f.do(t, http.MethodPost, base+"/cancel", f.farmer, "farmer", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, base+"/cancel", f.buyer, "buyer", map[string]interface{}{"clientActionId": "c-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res appNegotiation.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, negotiation.StatusCancelled, res.Negotiation.Status)

	// Replaying the same key is not a second cancel.
	rec = f.do(t, http.MethodPost, base+"/cancel", f.buyer, "buyer", map[string]interface{}{"clientActionId": "c-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Replayed)
}

func TestRouter_RateLimitsMutations(t *testing.T) {
	f := newFixture(t, 0.01, 1)
	id := f.create(t, "").Negotiation.ID

	rec := f.do(t, http.MethodPost, "/v1/negotiations/"+id.String()+"/reject", f.buyer, "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, rec)["error"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Reads are not limited; the counterparty has its own bucket.
	rec = f.do(t, http.MethodGet, "/v1/negotiations/"+id.String(), f.buyer, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/negotiations/"+id.String()+"/reject", f.farmer, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestListAlerts(t *testing.T) {
	f := newFixture(t, 100, 100)
	negID := uuid.New()
	for i := 0; i < 3; i++ {
		rule := notification.Rule{Name: fmt.Sprintf("rule_%d", i), Title: "New Message"}
		require.NoError(t, f.alerts.Deliver(context.Background(),
			notification.NewAlert(fmt.Sprintf("evt-%d", i), rule, f.farmer, negID, "hi", time.Now().UTC())))
	}

	rec := f.do(t, http.MethodGet, "/v1/alerts?limit=2", f.farmer, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Items []*notification.Alert `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 2)
	assert.Equal(t, "rule_2", out.Items[0].Rule)

	rec = f.do(t, http.MethodGet, "/v1/alerts", f.buyer, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"unread":0}`, rec.Body.String())
}

func TestReusedClientActionIDConflicts(t *testing.T) {
	f := newFixture(t, 100, 100)
	id := f.create(t, "").Negotiation.ID
	base := "/v1/negotiations/" + id.String()

	rec := f.do(t, http.MethodPost, base+"/offers", f.farmer, "", map[string]interface{}{"amount": "90", "clientActionId": "k1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, base+"/offers", f.buyer, "", map[string]interface{}{"amount": "88"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, base+"/accept", f.farmer, "", map[string]interface{}{"clientActionId": "k1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "DUPLICATE_ACTION", body["error"])
	assert.Equal(t, false, body["retryable"])

	rec = f.do(t, http.MethodGet, base, f.farmer, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var n negotiation.Negotiation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Equal(t, negotiation.StatusActive, n.Status)
}

func TestMarkAlertsRead(t *testing.T) {
	f := newFixture(t, 100, 100)
	negID := uuid.New()
	for i := 0; i < 2; i++ {
		rule := notification.Rule{Name: fmt.Sprintf("rule_%d", i), Title: "Counter Offer"}
		require.NoError(t, f.alerts.Deliver(context.Background(),
			notification.NewAlert(fmt.Sprintf("evt-%d", i), rule, f.farmer, negID, "₹90", time.Now().UTC())))
	}
	type page struct {
		Items  []*notification.Alert `json:"items"`
		Unread int                   `json:"unread"`
	}
	list := func() page {
		rec := f.do(t, http.MethodGet, "/v1/alerts", f.farmer, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var p page
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		return p
	}

	before := list()
	assert.Equal(t, 2, before.Unread)
	assert.False(t, before.Items[0].Read)

	rec := f.do(t, http.MethodPost, "/v1/alerts/read", f.farmer, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"marked":2}`, rec.Body.String())

	after := list()
	assert.Zero(t, after.Unread)
	for _, a := range after.Items {
		assert.True(t, a.Read)
	}

	rec = f.do(t, http.MethodPost, "/v1/alerts/read", f.farmer, "", nil)
	assert.JSONEq(t, `{"marked":0}`, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/v1/alerts/read", uuid.Nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamNegotiation(t *testing.T) {
	f := newFixture(t, 100, 100)
	id := f.create(t, "").Negotiation.ID
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/negotiations/"+id.String()+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set(headerUserID, f.farmer.String())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	_, err = f.svc.Propose(context.Background(), appNegotiation.ProposeInput{
		NegotiationID: id, CallerID: f.farmer, Amount: decimal.NewFromInt(93),
	})
	require.NoError(t, err)

	tables := map[string]bool{}
	for len(tables) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e struct {
			Table         string    `json:"table"`
			NegotiationID uuid.UUID `json:"negotiationId"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
		assert.Equal(t, id, e.NegotiationID)
		tables[e.Table] = true
	}
	assert.True(t, tables["negotiations"])
	assert.True(t, tables["negotiation_messages"])

	cancel()
	assert.Eventually(t, func() bool { return f.hub.SubscriptionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamNegotiation_RefusesOutsider(t *testing.T) {
	f := newFixture(t, 100, 100)
	id := f.create(t, "").Negotiation.ID

	rec := f.do(t, http.MethodGet, "/v1/negotiations/"+id.String()+"/stream", uuid.New(), "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, f.hub.SubscriptionCount())
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{negotiation.ErrInvalidOffer, http.StatusUnprocessableEntity, "INVALID_OFFER"},
		{fmt.Errorf("wrapped: %w", negotiation.ErrNotYourTurn), http.StatusConflict, "NOT_YOUR_TURN"},
		{negotiation.ErrNoActiveOffer, http.StatusConflict, "NO_ACTIVE_OFFER"},
		{negotiation.ErrNegotiationClosed, http.StatusConflict, "NEGOTIATION_CLOSED"},
		{negotiation.ErrNotAuthorized, http.StatusForbidden, "NOT_AUTHORIZED"},
		{negotiation.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{negotiation.Persistence("get", errors.New("conn reset")), http.StatusServiceUnavailable, "PERSISTENCE_ERROR"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
