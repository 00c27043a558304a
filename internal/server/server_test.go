// ABOUTME: HTTP tests for the server routes using httptest and a fake transport
// ABOUTME: Covers health, tenant auth, session lifecycle, push stream, webhooks and leads

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shyanukant/waflow-sub000/internal/auth"
	"github.com/shyanukant/waflow-sub000/internal/config"
	"github.com/shyanukant/waflow-sub000/internal/metrics"
	"github.com/shyanukant/waflow-sub000/internal/push"
	"github.com/shyanukant/waflow-sub000/internal/session"
	"github.com/shyanukant/waflow-sub000/internal/store"
	"github.com/shyanukant/waflow-sub000/internal/transport"
)

type linkConn struct {
	*transport.Emitter
}

func (c *linkConn) Send(ctx context.Context, to, text string) error { return nil }
func (c *linkConn) Logout(ctx context.Context) error                { return nil }
func (c *linkConn) Close() error {
	c.Emitter.Close()
	return nil
}

// linkDialer issues a link code on every dial, like a fresh device.
type linkDialer struct{}

func (linkDialer) Name() string { return "fake" }

func (linkDialer) Dial(ctx context.Context, sessionID string, creds []byte) (transport.Conn, error) {
	c := &linkConn{Emitter: transport.NewEmitter(4)}
	go c.Emit(transport.LinkCode{Code: "2@code," + sessionID})
	return c, nil
}

type fakeWebhooks struct {
	delivered chan string
}

func (f *fakeWebhooks) Verify(mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || token != "hook-secret" {
		return "", false
	}
	return challenge, true
}

func (f *fakeWebhooks) Deliver(sessionID string, payload []byte) (int, error) {
	f.delivered <- sessionID + ":" + string(payload)
	return 1, nil
}

type fixture struct {
	srv      *Server
	http     *httptest.Server
	store    *store.MockStore
	verifier *auth.JWTVerifier
	webhooks *fakeWebhooks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMockStore()
	verifier, err := auth.NewJWTVerifier([]byte("server-test-secret-with-32-bytes!!"))
	require.NoError(t, err)

	hub := push.NewHub(nil)
	mgr := session.NewManager(session.ManagerParams{
		Registry: transport.NewRegistry(linkDialer{}),
		Store:    st,
		Notifier: hub,
		Config:   session.Config{DefaultTransport: "fake", ReconnectDelay: 10 * time.Millisecond},
	})
	hooks := &fakeWebhooks{delivered: make(chan string, 1)}

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Metrics.Path = "/metrics"

	srv := NewWithComponents(Components{
		Config:   cfg,
		Store:    st,
		Manager:  mgr,
		Hub:      hub,
		Verifier: verifier,
		Webhooks: hooks,
		Metrics:  metrics.New(),
	})
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return &fixture{srv: srv, http: ts, store: st, verifier: verifier, webhooks: hooks}
}

func (f *fixture) token(t *testing.T, tenantID string, admin bool) string {
	t.Helper()
	tok, err := f.verifier.Generate(tenantID, admin, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token, body string) (*http.Response, string) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)

	resp, body = f.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready (0 live sessions)", body)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "go_goroutines")
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/sessions", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/sessions", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionLifecycleOverAPI(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "t1", false)

	resp, body := f.do(t, http.MethodPost, "/api/sessions", tok, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	var created sessionView
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	assert.Equal(t, "t1", created.SessionID, "session id defaults to the tenant id")
	assert.Equal(t, "t1", created.TenantID)
	assert.Equal(t, "fake", created.Transport)

	resp, body = f.do(t, http.MethodPost, "/api/sessions", tok, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, body)

	resp, body = f.do(t, http.MethodGet, "/api/sessions/t1", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var got sessionView
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Contains(t, []string{"initializing", "link_ready"}, got.Status)

	resp, body = f.do(t, http.MethodGet, "/api/sessions", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"sessionId":"t1"`)

	resp, _ = f.do(t, http.MethodDelete, "/api/sessions/t1", tok, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/sessions/t1", tok, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "disconnected", got.Status)
	assert.Equal(t, "idle", got.State, "finalized sessions leave the manager")

	resp, _ = f.do(t, http.MethodDelete, "/api/sessions/t1", tok, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionTenantIsolation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/sessions", f.token(t, "t1", false), "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	other := f.token(t, "t2", false)
	resp, _ = f.do(t, http.MethodGet, "/api/sessions/t1", other, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/sessions/t1", other, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/sessions", other, `{"sessionId":"t1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	admin := f.token(t, "ops", true)
	resp, _ = f.do(t, http.MethodGet, "/api/sessions/t1", admin, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateSessionErrors(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "t1", false)

	resp, _ := f.do(t, http.MethodPost, "/api/sessions", tok, `{"transport":"carrier-pigeon"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/sessions", tok, `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/sessions/missing", tok, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionEventsStream(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "t1", false)

	resp, _ := f.do(t, http.MethodPost, "/api/sessions", tok, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/sessions/t1/events?token=" + tok
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var evt push.Event
	require.NoError(t, wsjson.Read(ctx, conn, &evt))
	assert.Equal(t, push.TypeLinkCode, evt.Type)
	assert.Equal(t, "t1", evt.SessionID)
	assert.True(t, strings.HasPrefix(evt.LinkImageData, "data:image/png;base64,"))
}

func TestWebhookVerify(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/webhook/s1?hub.mode=subscribe&hub.verify_token=hook-secret&hub.challenge=12345", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "12345", body)

	resp, body = f.do(t, http.MethodGet, "/webhook/s1?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", "", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, body)
}

func TestWebhookDeliverAcksThenDelivers(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/webhook/s1", "", `{"object":"whatsapp_business_account"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case got := <-f.webhooks.delivered:
		assert.Equal(t, `s1:{"object":"whatsapp_business_account"}`, got)
	case <-time.After(2 * time.Second):
		t.Fatal("payload was not delivered")
	}
}

type gatedWebhooks struct {
	fakeWebhooks
	started chan struct{}
	release chan struct{}
}

func (g *gatedWebhooks) Deliver(sessionID string, payload []byte) (int, error) {
	close(g.started)
	<-g.release
	return 1, nil
}

func TestShutdownWaitsForWebhookDelivery(t *testing.T) {
	f := newFixture(t)
	hooks := &gatedWebhooks{started: make(chan struct{}), release: make(chan struct{})}
	f.srv.webhooks = hooks

	resp, _ := f.do(t, http.MethodPost, "/webhook/s1", "", `{"entry":[]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "acked while delivery is still running")

	select {
	case <-hooks.started:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never started")
	}

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.srv.waitInflight(short), context.DeadlineExceeded)

	close(hooks.release)

	ctx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.NoError(t, f.srv.waitInflight(ctx))
}

func TestWebhookDisabled(t *testing.T) {
	f := newFixture(t)
	f.srv.webhooks = nil
	handler := f.srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/s1", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListLeadsScopedToTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.CreateLead(ctx, &store.Lead{TenantID: "t1", CounterpartyID: "15551234567", Interest: "Hi", Source: "whatsapp"}))
	require.NoError(t, f.store.CreateLead(ctx, &store.Lead{TenantID: "t2", CounterpartyID: "15557654321", Interest: "Hello", Source: "whatsapp"}))

	resp, body := f.do(t, http.MethodGet, "/api/leads", f.token(t, "t1", false), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Leads []leadView `json:"leads"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.Len(t, out.Leads, 1)
	assert.Equal(t, "15551234567", out.Leads[0].CounterpartyID)

	resp, _ = f.do(t, http.MethodGet, "/api/leads?limit=abc", f.token(t, "t1", false), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/leads?tenant=t2", f.token(t, "ops", true), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "15557654321")
}
