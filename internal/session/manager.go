// ABOUTME: Manages per-tenant messaging sessions, their handles and supervisors
// ABOUTME: Enforces one live handle per session and per tenant, and restores sessions on startup

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shyanukant/waflow-sub000/internal/metrics"
	"github.com/shyanukant/waflow-sub000/internal/store"
	"github.com/shyanukant/waflow-sub000/internal/transport"
)

// ErrAlreadyActive indicates the session, or another session of the same
// tenant, already holds a live handle.
var ErrAlreadyActive = errors.New("session already active")

// ErrNotFound indicates no live or reconnecting session exists for the id.
var ErrNotFound = errors.New("session not found")

// ErrSessionNotFound is returned by Send when no live handle exists.
var ErrSessionNotFound = errors.New("no live connection for session")

// HandshakeError reports a failure to start a session's transport.
// It never triggers a reconnect.
type HandshakeError struct {
	SessionID string
	Transport string
	Err       error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("session %s: %s handshake failed: %v", e.SessionID, e.Transport, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Notifier pushes lifecycle notifications to the tenant's client.
type Notifier interface {
	LinkCode(sessionID, code string)
	Connected(sessionID, accountID, displayName string)
	Disconnected(sessionID, reason string)
}

// Inbound is a transport message tagged with its owning session.
type Inbound struct {
	SessionID string
	TenantID  string
	Transport string
	Message   transport.Message
}

// InboundHandler processes inbound messages. Each call runs on its own goroutine.
type InboundHandler interface {
	HandleInbound(ctx context.Context, in Inbound)
}

// Store is the persistence the manager needs.
type Store interface {
	store.SessionStore
	store.CredentialStore
}

// Config holds manager settings.
type Config struct {
	DefaultTransport string
	ReconnectDelay   time.Duration
}

// CreateRequest describes a session to start.
type CreateRequest struct {
	TenantID  string
	SessionID string // defaults to TenantID
	Transport string // defaults to Config.DefaultTransport

	// Credentials, when set, replace any stored credentials. Transports
	// without a link step (matrix, cloudapi) need them on first create.
	Credentials []byte
}

// Manager coordinates all sessions. Construct with NewManager.
type Manager struct {
	mu          sync.RWMutex
	handles     map[string]*Lifecycle // sessionID -> live handle
	supervisors map[string]*Lifecycle // sessionID -> running supervisor, live or reconnecting
	tenants     map[string]string     // tenantID -> sessionID holding a live handle

	registry *transport.Registry
	store    Store
	notifier Notifier
	handler  InboundHandler
	metrics  *metrics.Recorder
	cfg      Config
	logger   *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup // supervisors
	inflight sync.WaitGroup // inbound handlers
}

// ManagerParams holds dependencies for NewManager.
type ManagerParams struct {
	Registry *transport.Registry
	Store    Store
	Notifier Notifier
	Metrics  *metrics.Recorder
	Config   Config
	Logger   *slog.Logger
}

// NewManager creates a Manager. SetHandler must be called before sessions
// receive messages.
func NewManager(p ManagerParams) *Manager {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.Config.ReconnectDelay <= 0 {
		p.Config.ReconnectDelay = 5 * time.Second
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		handles:     make(map[string]*Lifecycle),
		supervisors: make(map[string]*Lifecycle),
		tenants:     make(map[string]string),
		registry:    p.Registry,
		store:       p.Store,
		notifier:    notifier,
		metrics:     p.Metrics,
		cfg:         p.Config,
		logger:      logger.With("component", "session"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetHandler installs the inbound message handler.
func (m *Manager) SetHandler(h InboundHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// CreateSession starts a session. It returns once the transport dial
// succeeds; the handshake continues on the session's supervisor.
func (m *Manager) CreateSession(ctx context.Context, req CreateRequest) (*Lifecycle, error) {
	return m.createSession(ctx, req, false)
}

func (m *Manager) createSession(ctx context.Context, req CreateRequest, restoring bool) (*Lifecycle, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if req.SessionID == "" {
		req.SessionID = req.TenantID
	}
	if req.Transport == "" {
		req.Transport = m.cfg.DefaultTransport
	}

	dialer, err := m.registry.Get(req.Transport)
	if err != nil {
		return nil, &HandshakeError{SessionID: req.SessionID, Transport: req.Transport, Err: err}
	}

	lc, err := m.reserve(req.TenantID, req.SessionID, dialer)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*Lifecycle, error) {
		lc.cancel()
		m.detach(lc)
		m.forget(lc)
		lc.setState(StateIdle)
		if !restoring {
			lc.persistStatus(store.SessionStatusDisconnected, store.SessionMetadata{
				Transport:  lc.Transport,
				LastReason: err.Error(),
			})
		}
		return nil, &HandshakeError{SessionID: lc.SessionID, Transport: lc.Transport, Err: err}
	}

	lc.setState(StateInitializing)
	if !restoring {
		lc.persistStatus(store.SessionStatusInitializing, store.SessionMetadata{Transport: lc.Transport})
	}

	creds := req.Credentials
	if creds == nil {
		creds, err = m.loadCredentials(ctx, lc.SessionID)
		if err != nil {
			return fail(err)
		}
	}

	conn, err := dialer.Dial(ctx, lc.SessionID, creds)
	if err != nil {
		return fail(err)
	}
	if !lc.attach(conn) {
		_ = conn.Close()
		return nil, &HandshakeError{SessionID: lc.SessionID, Transport: lc.Transport, Err: context.Canceled}
	}

	m.wg.Add(1)
	lc.supervised.Store(true)
	go lc.supervise(conn)

	lc.logger.Info("session started", "restoring", restoring)
	return lc, nil
}

// reserve registers a new lifecycle as the session's handle. A supervisor
// still waiting to reconnect the same session is replaced.
func (m *Manager) reserve(tenantID, sessionID string, dialer transport.Dialer) (*Lifecycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, live := m.handles[sessionID]; live {
		return nil, ErrAlreadyActive
	}
	if other, ok := m.tenants[tenantID]; ok && other != sessionID {
		return nil, ErrAlreadyActive
	}

	if old, ok := m.supervisors[sessionID]; ok {
		old.logger.Info("replacing reconnecting session")
		old.cancel()
	}

	lc := newLifecycle(m, tenantID, sessionID, dialer)
	m.handles[sessionID] = lc
	m.supervisors[sessionID] = lc
	m.tenants[tenantID] = sessionID
	m.metrics.SetLiveSessions(len(m.handles))
	return lc, nil
}

// reattach re-registers a reconnecting lifecycle. It fails if the session
// was replaced or stopped, or if the tenant linked another session meanwhile.
func (m *Manager) reattach(lc *Lifecycle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.supervisors[lc.SessionID] != lc || lc.closing.Load() || lc.ctx.Err() != nil {
		return false
	}
	if _, live := m.handles[lc.SessionID]; live {
		return false
	}
	if other, ok := m.tenants[lc.TenantID]; ok && other != lc.SessionID {
		delete(m.supervisors, lc.SessionID)
		return false
	}

	m.handles[lc.SessionID] = lc
	m.tenants[lc.TenantID] = lc.SessionID
	m.metrics.SetLiveSessions(len(m.handles))
	return true
}

// detach removes lc's handle if it is still the registered one.
func (m *Manager) detach(lc *Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachLocked(lc)
}

func (m *Manager) detachLocked(lc *Lifecycle) {
	if m.handles[lc.SessionID] != lc {
		return
	}
	delete(m.handles, lc.SessionID)
	if m.tenants[lc.TenantID] == lc.SessionID {
		delete(m.tenants, lc.TenantID)
	}
	m.metrics.SetLiveSessions(len(m.handles))
}

// forget drops lc's supervisor entry if it is still the registered one.
func (m *Manager) forget(lc *Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.supervisors[lc.SessionID] == lc {
		delete(m.supervisors, lc.SessionID)
	}
}

func (m *Manager) loadCredentials(ctx context.Context, sessionID string) ([]byte, error) {
	creds, err := m.store.GetCredentials(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	return creds, nil
}

// GetHandle returns the live handle for sessionID.
func (m *Manager) GetHandle(sessionID string) (*Lifecycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lc, ok := m.handles[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return lc, nil
}

// Status reports the state of a supervised session, live or reconnecting.
func (m *Manager) Status(sessionID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lc, ok := m.supervisors[sessionID]
	if !ok {
		return StateIdle, false
	}
	return lc.State(), true
}

// Send delivers text to a counterparty through the session's live handle.
func (m *Manager) Send(ctx context.Context, sessionID, counterpartyID, text string) error {
	lc, err := m.GetHandle(sessionID)
	if err != nil {
		return ErrSessionNotFound
	}
	return lc.Send(ctx, counterpartyID, text)
}

// DisconnectSession logs the session out and deregisters it. A session
// waiting to reconnect has its supervisor cancelled instead.
func (m *Manager) DisconnectSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	lc, live := m.handles[sessionID]
	sup, supervised := m.supervisors[sessionID]
	if live {
		lc.closing.Store(true)
		m.detachLocked(lc)
	} else if supervised {
		sup.closing.Store(true)
	}
	m.mu.Unlock()

	switch {
	case live:
		lc.setState(StateClosing)
		if conn := lc.currentConn(); conn != nil {
			if err := conn.Logout(ctx); err != nil {
				lc.logger.Warn("transport logout failed", "error", err)
			}
		}
		lc.cancel()
		m.waitDone(ctx, lc)
		lc.logger.Info("=== SESSION DISCONNECTED ===")
		lc.finalize("disconnected by tenant")
		return nil

	case supervised:
		sup.cancel()
		m.waitDone(ctx, sup)
		sup.logger.Info("=== SESSION DISCONNECTED ===", "while", "reconnecting")
		sup.finalize("disconnected by tenant")
		return nil

	default:
		return ErrNotFound
	}
}

// waitDone waits for lc's supervisor to exit, or for ctx. A lifecycle whose
// first dial never completed has no supervisor to wait for.
func (m *Manager) waitDone(ctx context.Context, lc *Lifecycle) {
	if !lc.supervised.Load() {
		return
	}
	select {
	case <-lc.done:
	case <-ctx.Done():
	}
}

// RestoreSessions recreates every session persisted as connected. A failure
// for one session is logged and does not stop the others.
func (m *Manager) RestoreSessions(ctx context.Context) (int, error) {
	sessions, err := m.store.ListSessionsByStatus(ctx, store.SessionStatusConnected)
	if err != nil {
		return 0, fmt.Errorf("listing connected sessions: %w", err)
	}

	restored := 0
	for _, s := range sessions {
		_, err := m.createSession(ctx, CreateRequest{
			TenantID:  s.TenantID,
			SessionID: s.ID,
			Transport: s.Metadata.Transport,
		}, true)
		if err != nil {
			m.logger.Error("failed to restore session",
				"session_id", s.ID,
				"tenant_id", s.TenantID,
				"error", err,
			)
			continue
		}
		restored++
	}

	m.logger.Info("sessions restored", "restored", restored, "total", len(sessions))
	return restored, nil
}

// dispatch hands an inbound message to the handler on its own goroutine.
func (m *Manager) dispatch(lc *Lifecycle, msg transport.Message) {
	m.mu.RLock()
	h := m.handler
	m.mu.RUnlock()
	if h == nil {
		lc.logger.Warn("no inbound handler installed, dropping message", "message_id", msg.ID)
		return
	}

	in := Inbound{
		SessionID: lc.SessionID,
		TenantID:  lc.TenantID,
		Transport: lc.Transport,
		Message:   msg,
	}

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		h.HandleInbound(m.ctx, in)
	}()
}

// LiveCount returns the number of live handles.
func (m *Manager) LiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// Shutdown stops every supervisor without logging sessions out, so they
// are restored on the next start, then waits for in-flight handlers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, lc := range m.supervisors {
		lc.closing.Store(true)
	}
	m.handles = make(map[string]*Lifecycle)
	m.supervisors = make(map[string]*Lifecycle)
	m.tenants = make(map[string]string)
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.metrics.SetLiveSessions(0)
		m.logger.Info("session manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions to stop: %w", ctx.Err())
	}
}

type nopNotifier struct{}

func (nopNotifier) LinkCode(string, string)          {}
func (nopNotifier) Connected(string, string, string) {}
func (nopNotifier) Disconnected(string, string)      {}
