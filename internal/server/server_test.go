package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmaliev/crypto/internal/engine"
	"github.com/vmaliev/crypto/internal/exchange"
	"github.com/vmaliev/crypto/internal/exchange/paper"
	"github.com/vmaliev/crypto/internal/logger"
	"github.com/vmaliev/crypto/internal/monitoring"
	"github.com/vmaliev/crypto/internal/notifications"
	"github.com/vmaliev/crypto/internal/signal"
	"github.com/vmaliev/crypto/internal/storage/memory"
	"github.com/vmaliev/crypto/pkg/types"
)

const testSecret = "s3cret"

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *engine.Engine) {
	t.Helper()
	venue := paper.New(exchange.PaperConfig{
		InitialBalance: 10000,
		Prices:         map[string]float64{"BTCUSDT": 45000},
	})
	cfg := engine.DefaultConfig()
	cfg.Symbols = []string{"BTCUSDT"}
	cfg.WebhookSecret = testSecret
	eng, err := engine.New(cfg, engine.Deps{
		Exchange: venue,
		Store:    memory.New(),
		Logger:   logger.NewNop(),
		Notifier: discard{},
	})
	require.NoError(t, err)
	eng.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })

	scfg := DefaultConfig()
	scfg.Addr = "127.0.0.1:0"
	if mutate != nil {
		mutate(&scfg)
	}
	return New(eng, scfg, logger.NewNop()), eng
}

func alert(action types.Action, secret string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"symbol":          "BTCUSDT",
		"action":          string(action),
		"signal_strength": "STRONG",
		"price":           45000,
		"mfi_value":       25,
		"rsi_value":       30,
		"timeframe":       "15m",
		"strategy":        "mfi_rsi",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"secret":          secret,
	})
	return body
}

func post(t *testing.T, h http.Handler, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookStatusMapping(t *testing.T) {
	tests := []struct {
		outcome string
		want    int
	}{
		{monitoring.OutcomeInvalid, http.StatusBadRequest},
		{monitoring.OutcomeUnauthorized, http.StatusUnauthorized},
		{monitoring.OutcomeDuplicate, http.StatusConflict},
		{monitoring.OutcomeIntakeHalted, http.StatusServiceUnavailable},
		{monitoring.OutcomeRiskRejected, http.StatusOK},
		{monitoring.OutcomeSafetyBlocked, http.StatusOK},
		{monitoring.OutcomeExecuted, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.outcome, func(t *testing.T) {
			assert.Equal(t, tt.want, webhookStatus(tt.outcome))
		})
	}
}

func TestWebhookExecutesSignal(t *testing.T) {
	srv, eng := newTestServer(t, nil)

	rec := post(t, srv.Handler(), "/webhook", alert(types.ActionBuy, testSecret), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out engine.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, monitoring.OutcomeExecuted, out.Status)
	assert.Equal(t, "BTCUSDT", out.Symbol)
	assert.Equal(t, 1, eng.Session().TradeCount)
}

func TestWebhookRedeliveryConflicts(t *testing.T) {
	srv, eng := newTestServer(t, nil)
	body := alert(types.ActionBuy, testSecret)

	require.Equal(t, http.StatusOK, post(t, srv.Handler(), "/webhook", body, nil).Code)
	rec := post(t, srv.Handler(), "/webhook", body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, 1, eng.Session().TradeCount)
}

func TestWebhookAuthentication(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := post(t, srv.Handler(), "/webhook", alert(types.ActionBuy, "wrong"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "signal_id")

	body := alert(types.ActionBuy, "")
	sig := hex.EncodeToString(signal.Sign([]byte(testSecret), body))
	rec = post(t, srv.Handler(), "/webhook", body, map[string]string{SignatureHeader: sig})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestWebhookRejectsInvalidPayload(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := post(t, srv.Handler(), "/webhook", []byte(`{"symbol":"BTCUSDT","secret":"s3cret"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var out engine.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, monitoring.OutcomeInvalid, out.Status)
	assert.NotEmpty(t, out.Reason)
}

func TestWebhookBodyLimit(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 16 })
	rec := post(t, srv.Handler(), "/webhook", alert(types.ActionBuy, testSecret), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhookRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) {
		c.WebhookBurst = 2
		c.WebhookRate = 0.001
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, post(t, srv.Handler(), "/webhook", []byte(`{}`), nil).Code)
	}
	assert.NotEqual(t, http.StatusTooManyRequests, codes[0])
	assert.NotEqual(t, http.StatusTooManyRequests, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestOperatorEndpoints(t *testing.T) {
	srv, eng := newTestServer(t, nil)
	h := srv.Handler()

	rec := post(t, h, "/emergency-stop", []byte(`{"reason":"maintenance"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status types.SafetyStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.EmergencyStopActive)
	assert.True(t, eng.SafetyStatus().EmergencyStopActive)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/emergency-stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, eng.SafetyStatus().EmergencyStopActive)

	rec = post(t, h, "/circuit-breaker/reset", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, h, "/intake/resume", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resumed":false}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, exchange.NamePaper, st.Exchange)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active"`)
}

func TestCloseAllEndpoint(t *testing.T) {
	srv, eng := newTestServer(t, nil)
	h := srv.Handler()

	require.Equal(t, http.StatusOK, post(t, h, "/webhook", alert(types.ActionBuy, testSecret), nil).Code)

	rec := post(t, h, "/positions/close-all", []byte(`{"reason":"test"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"closed":1}`, rec.Body.String())
	assert.Empty(t, eng.Status().Positions)
}

func TestOperatorToken(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.OperatorToken = "op-token" })
	h := srv.Handler()

	rec := post(t, h, "/emergency-stop", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, h, "/emergency-stop", nil, map[string]string{"Authorization": "Bearer op-token"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// The webhook authenticates with the signal secret, not the operator token.
	rec = post(t, h, "/webhook", alert(types.ActionBuy, testSecret), nil)
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()
	post(t, h, "/webhook", []byte(`{}`), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "webhook")
}

func TestEventStream(t *testing.T) {
	srv, eng := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	defer srv.Shutdown(context.Background())

	wsURL := "ws://" + srv.Addr() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.Hub().Clients() == 1 }, time.Second, 10*time.Millisecond)

	eng.ActivateEmergencyStop("stream test")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev engine.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, engine.EventSafety, ev.Type)
}

func TestStartShutdown(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	require.NoError(t, srv.Start(context.Background()))
	assert.Error(t, srv.Start(context.Background()))

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json"))

	require.NoError(t, srv.Shutdown(context.Background()))
	_, err = http.Get("http://" + srv.Addr() + "/health")
	assert.Error(t, err)
}

type discard struct{}

func (discard) Name() string { return "discard" }

func (discard) Send(context.Context, notifications.Message) error { return nil }
