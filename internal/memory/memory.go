// ABOUTME: Rolling per-counterparty conversation windows with lazy idle reset
// ABOUTME: Keys are scoped per tenant so one phone number gets a window per tenant

package memory

import (
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one turn of a conversation.
type Entry struct {
	Role Role
	Text string
	At   time.Time
}

// Key identifies a counterparty within a tenant.
type Key struct {
	TenantID       string
	CounterpartyID string
}

// Config sizes the windows.
type Config struct {
	WindowSize   int           // entries kept per counterparty (default 20)
	HistoryTurns int           // entries returned by History (default 8)
	IdleTimeout  time.Duration // inactivity after which a window is cleared (default 30m)

	Now func() time.Time // clock for activity stamps (default time.Now)
}

type window struct {
	entries      []Entry
	lastActivity time.Time
}

// Memory holds conversation windows. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	windows map[Key]*window
	cfg     Config
	now     func() time.Time
}

// New creates a Memory, filling zero config fields with defaults.
func New(cfg Config) *Memory {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 8
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Memory{
		windows: make(map[Key]*window),
		cfg:     cfg,
		now:     now,
	}
}

// Append adds a turn, evicting the oldest entries beyond the window size.
func (m *Memory) Append(key Key, role Role, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok {
		w = &window{}
		m.windows[key] = w
	}
	w.entries = append(w.entries, Entry{Role: role, Text: text, At: now})
	if over := len(w.entries) - m.cfg.WindowSize; over > 0 {
		w.entries = append(w.entries[:0:0], w.entries[over:]...)
	}
	w.lastActivity = now
}

// Touch records activity for key without adding a turn, so a conversation
// that never produced a reply still ages toward ResetIfIdle.
func (m *Memory) Touch(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok {
		w = &window{}
		m.windows[key] = w
	}
	w.lastActivity = m.now()
}

// History returns up to HistoryTurns most recent entries, oldest first.
func (m *Memory) History(key Key) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok {
		return nil
	}
	start := len(w.entries) - m.cfg.HistoryTurns
	if start < 0 {
		start = 0
	}
	out := make([]Entry, len(w.entries)-start)
	copy(out, w.entries[start:])
	return out
}

// Len returns the number of entries held for key.
func (m *Memory) Len(key Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[key]; ok {
		return len(w.entries)
	}
	return 0
}

// ResetIfIdle clears key's window when more than IdleTimeout has passed
// since its last activity. It reports whether a reset happened, in which
// case the caller should reset any state tied to the same conversation.
func (m *Memory) ResetIfIdle(key Key, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok {
		return false
	}
	if now.Sub(w.lastActivity) <= m.cfg.IdleTimeout {
		return false
	}
	delete(m.windows, key)
	return true
}

// Reset drops key's window unconditionally.
func (m *Memory) Reset(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
}
