// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	sessions      map[string]*Session // keyed by session ID
	credentials   map[string][]byte   // keyed by session ID
	agents        map[string]*Agent   // keyed by agent ID
	leads         map[string]*Lead    // keyed by "tenantID:counterpartyID"
	conversations []*ConversationLog

	// PingErr, if set, is returned from Ping.
	PingErr error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions:    make(map[string]*Session),
		credentials: make(map[string][]byte),
		agents:      make(map[string]*Agent),
		leads:       make(map[string]*Lead),
	}
}

func leadKey(tenantID, counterpartyID string) string {
	return tenantID + ":" + counterpartyID
}

// UpsertSession stores or replaces a session, preserving CreatedAt.
func (m *MockStore) UpsertSession(ctx context.Context, sess *Session) error {
	if !sess.Status.Valid() {
		return errors.New("invalid session status")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.sessions[sess.ID]; ok {
		sess.CreatedAt = existing.CreatedAt
	} else if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	s := *sess
	m.sessions[s.ID] = &s
	return nil
}

// GetSession retrieves a session by ID.
func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *s
	return &result, nil
}

// ListSessionsByStatus returns sessions with the given status, oldest first.
func (m *MockStore) ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Session
	for _, s := range m.sessions {
		if s.Status == status {
			c := *s
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListSessions returns a tenant's sessions; an empty tenantID lists all.
func (m *MockStore) ListSessions(ctx context.Context, tenantID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Session
	for _, s := range m.sessions {
		if tenantID == "" || s.TenantID == tenantID {
			c := *s
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// SaveCredentials stores a copy of the credential blob.
func (m *MockStore) SaveCredentials(ctx context.Context, sessionID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credentials[sessionID] = append([]byte(nil), data...)
	return nil
}

// GetCredentials returns a copy of the credential blob.
func (m *MockStore) GetCredentials(ctx context.Context, sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.credentials[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// DeleteCredentials removes the credential blob, if any.
func (m *MockStore) DeleteCredentials(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.credentials, sessionID)
	return nil
}

// SaveAgent stores an agent. Activating it deactivates the tenant's other agents.
func (m *MockStore) SaveAgent(ctx context.Context, a *Agent) error {
	if a.ID == "" || a.TenantID == "" {
		return errors.New("agent id and tenant id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if a.Active {
		for _, other := range m.agents {
			if other.TenantID == a.TenantID && other.ID != a.ID {
				other.Active = false
			}
		}
	}

	c := *a
	c.DocumentIDs = append([]string(nil), a.DocumentIDs...)
	m.agents[c.ID] = &c
	return nil
}

func copyAgent(a *Agent) *Agent {
	c := *a
	c.DocumentIDs = append([]string(nil), a.DocumentIDs...)
	return &c
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAgent(a), nil
}

// GetActiveAgent returns the tenant's active agent.
func (m *MockStore) GetActiveAgent(ctx context.Context, tenantID string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.agents {
		if a.TenantID == tenantID && a.Active {
			return copyAgent(a), nil
		}
	}
	return nil, ErrNotFound
}

// ListAgents returns the tenant's agents, most recently updated first.
func (m *MockStore) ListAgents(ctx context.Context, tenantID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Agent
	for _, a := range m.agents {
		if a.TenantID == tenantID {
			result = append(result, copyAgent(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// CreateLead stores a lead, enforcing uniqueness per tenant/counterparty.
func (m *MockStore) CreateLead(ctx context.Context, l *Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := leadKey(l.TenantID, l.CounterpartyID)
	if _, exists := m.leads[key]; exists {
		return ErrDuplicateLead
	}

	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = LeadStatusNew
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.UpdatedAt = l.CreatedAt

	c := *l
	m.leads[key] = &c
	return nil
}

// GetLead retrieves the lead for a tenant/counterparty pair.
func (m *MockStore) GetLead(ctx context.Context, tenantID, counterpartyID string) (*Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.leads[leadKey(tenantID, counterpartyID)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *l
	return &c, nil
}

// UpdateLeadContact sets the non-empty contact fields on an existing lead.
func (m *MockStore) UpdateLeadContact(ctx context.Context, tenantID, counterpartyID, name, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leads[leadKey(tenantID, counterpartyID)]
	if !ok {
		return ErrNotFound
	}
	if name != "" {
		l.Name = name
	}
	if email != "" {
		l.Email = email
	}
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// ListLeads returns the tenant's leads, newest first.
func (m *MockStore) ListLeads(ctx context.Context, tenantID string, limit int) ([]*Lead, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Lead
	for _, l := range m.leads {
		if l.TenantID == tenantID {
			c := *l
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SaveConversationLog appends a conversation log row.
func (m *MockStore) SaveConversationLog(ctx context.Context, cl *ConversationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cl.ID == "" {
		cl.ID = uuid.New().String()
	}
	if cl.CreatedAt.IsZero() {
		cl.CreatedAt = time.Now().UTC()
	}
	c := *cl
	m.conversations = append(m.conversations, &c)
	return nil
}

// ListConversationLogs returns the last `limit` logs for a counterparty, oldest first.
func (m *MockStore) ListConversationLogs(ctx context.Context, tenantID, counterpartyID string, limit int) ([]*ConversationLog, error) {
	if limit <= 0 {
		limit = 50
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ConversationLog
	for _, cl := range m.conversations {
		if cl.TenantID == tenantID && cl.CounterpartyID == counterpartyID {
			c := *cl
			result = append(result, &c)
		}
	}
	if len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
