// ABOUTME: Per-session connection lifecycle run by a supervisor goroutine
// ABOUTME: Consumes transport events one at a time and drives the reconnect policy

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shyanukant/waflow-sub000/internal/store"
	"github.com/shyanukant/waflow-sub000/internal/transport"
)

// persistTimeout bounds detached store writes made from the supervisor.
const persistTimeout = 5 * time.Second

// State is a lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateAwaitingLink
	StateConnected
	StateClosing
	StateReconnecting
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateAwaitingLink:
		return "awaiting_link"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Lifecycle wraps one session's transport connection. While registered in
// the Manager's handle map it is that session's ConnectionHandle.
type Lifecycle struct {
	SessionID string
	TenantID  string
	Transport string

	state      atomic.Int32
	closing    atomic.Bool
	supervised atomic.Bool

	mu   sync.RWMutex
	conn transport.Conn

	dialer transport.Dialer
	mgr    *Manager
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	finalizeOnce sync.Once
	logger       *slog.Logger
}

func newLifecycle(m *Manager, tenantID, sessionID string, dialer transport.Dialer) *Lifecycle {
	ctx, cancel := context.WithCancel(m.ctx)
	return &Lifecycle{
		SessionID: sessionID,
		TenantID:  tenantID,
		Transport: dialer.Name(),
		dialer:    dialer,
		mgr:       m,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger: m.logger.With(
			"session_id", sessionID,
			"tenant_id", tenantID,
			"transport", dialer.Name(),
		),
	}
}

// State returns the current lifecycle state.
func (lc *Lifecycle) State() State {
	return State(lc.state.Load())
}

func (lc *Lifecycle) setState(s State) {
	if State(lc.state.Swap(int32(s))) == s {
		return
	}
	lc.mgr.metrics.SessionTransition(s.String(), lc.Transport)
	lc.logger.Debug("session state changed", "state", s.String())
}

// Send delivers text through the live connection.
func (lc *Lifecycle) Send(ctx context.Context, to, text string) error {
	conn := lc.currentConn()
	if conn == nil {
		return ErrSessionNotFound
	}
	if err := conn.Send(ctx, to, text); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

func (lc *Lifecycle) currentConn() transport.Conn {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.conn
}

// attach binds conn unless the lifecycle was stopped while dialing.
func (lc *Lifecycle) attach(conn transport.Conn) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.ctx.Err() != nil || lc.closing.Load() {
		return false
	}
	lc.conn = conn
	return true
}

func (lc *Lifecycle) detachConn() {
	lc.mu.Lock()
	lc.conn = nil
	lc.mu.Unlock()
}

// supervise owns conn until the session logs out, is stopped, or is
// replaced. Non-logout closes schedule a fresh dial after the reconnect delay.
func (lc *Lifecycle) supervise(conn transport.Conn) {
	defer lc.mgr.wg.Done()
	defer close(lc.done)

	for {
		closed, ok := lc.pump(conn)
		lc.detachConn()
		_ = conn.Close()

		if !ok || lc.closing.Load() {
			// stopped by Disconnect or Shutdown; they own any finalization
			return
		}

		lc.mgr.detach(lc)

		if closed.LoggedOut {
			lc.logger.Info("=== SESSION LOGGED OUT ===", "reason", closed.Reason)
			lc.finalize(closed.Reason)
			return
		}

		lc.logger.Warn("connection closed, scheduling reconnect",
			"reason", closed.Reason,
			"delay", lc.mgr.cfg.ReconnectDelay,
		)
		lc.setState(StateReconnecting)

		next, ok := lc.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

// pump applies events from conn until it closes. ok is false when the
// lifecycle's context was cancelled first.
func (lc *Lifecycle) pump(conn transport.Conn) (closed transport.Closed, ok bool) {
	events := conn.Events()
	for {
		select {
		case <-lc.ctx.Done():
			return transport.Closed{}, false

		case evt, open := <-events:
			if !open {
				return transport.Closed{Reason: "event stream ended"}, true
			}

			switch e := evt.(type) {
			case transport.LinkCode:
				lc.onLinkCode(e)
			case transport.CredentialsUpdated:
				lc.onCredentials(e)
			case transport.Connected:
				lc.onConnected(e)
			case transport.Message:
				lc.mgr.dispatch(lc, e)
			case transport.Closed:
				return e, true
			}
		}
	}
}

// reconnect waits out the delay and redials, retrying dial failures with the
// same delay. It returns false if the session was stopped or replaced.
func (lc *Lifecycle) reconnect() (transport.Conn, bool) {
	timer := time.NewTimer(lc.mgr.cfg.ReconnectDelay)
	defer timer.Stop()

	for {
		select {
		case <-lc.ctx.Done():
			return nil, false
		case <-timer.C:
		}

		if !lc.mgr.reattach(lc) {
			lc.logger.Info("session replaced or stopped, abandoning reconnect")
			return nil, false
		}

		lc.setState(StateInitializing)
		creds, err := lc.mgr.loadCredentials(lc.ctx, lc.SessionID)
		if err == nil {
			var conn transport.Conn
			conn, err = lc.dialer.Dial(lc.ctx, lc.SessionID, creds)
			if err == nil {
				if lc.attach(conn) {
					lc.logger.Info("reconnect dialed")
					return conn, true
				}
				_ = conn.Close()
				return nil, false
			}
		}

		lc.mgr.detach(lc)
		lc.setState(StateReconnecting)
		lc.logger.Warn("reconnect failed, retrying", "error", err, "delay", lc.mgr.cfg.ReconnectDelay)
		timer.Reset(lc.mgr.cfg.ReconnectDelay)
	}
}

func (lc *Lifecycle) onLinkCode(e transport.LinkCode) {
	lc.setState(StateAwaitingLink)
	lc.logger.Info("link code issued")
	lc.mgr.notifier.LinkCode(lc.SessionID, e.Code)
	lc.persistStatus(store.SessionStatusLinkReady, store.SessionMetadata{Transport: lc.Transport})
}

func (lc *Lifecycle) onCredentials(e transport.CredentialsUpdated) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := lc.mgr.store.SaveCredentials(ctx, lc.SessionID, e.Data); err != nil {
		lc.logger.Error("failed to persist credentials", "error", err)
	}
}

func (lc *Lifecycle) onConnected(e transport.Connected) {
	lc.setState(StateConnected)
	lc.logger.Info("=== SESSION CONNECTED ===",
		"account_id", e.AccountID,
		"display_name", e.DisplayName,
	)
	lc.mgr.notifier.Connected(lc.SessionID, e.AccountID, e.DisplayName)
	lc.persistStatus(store.SessionStatusConnected, store.SessionMetadata{
		Transport:   lc.Transport,
		AccountID:   e.AccountID,
		DisplayName: e.DisplayName,
	})
}

// finalize runs the terminal logout steps exactly once.
func (lc *Lifecycle) finalize(reason string) {
	lc.finalizeOnce.Do(func() {
		lc.setState(StateLoggedOut)

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := lc.mgr.store.DeleteCredentials(ctx, lc.SessionID); err != nil {
			lc.logger.Error("failed to delete credentials", "error", err)
		}

		lc.mgr.notifier.Disconnected(lc.SessionID, reason)
		lc.persistStatus(store.SessionStatusDisconnected, store.SessionMetadata{
			Transport:  lc.Transport,
			LastReason: reason,
		})
		lc.mgr.forget(lc)
	})
}

// persistStatus writes the session row with a detached context. Failures are
// logged and swallowed.
func (lc *Lifecycle) persistStatus(status store.SessionStatus, meta store.SessionMetadata) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	err := lc.mgr.store.UpsertSession(ctx, &store.Session{
		ID:       lc.SessionID,
		TenantID: lc.TenantID,
		Status:   status,
		Metadata: meta,
	})
	if err != nil {
		lc.logger.Error("failed to persist session status", "status", status, "error", err)
	}
}
