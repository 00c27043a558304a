// ABOUTME: Store interfaces and data types for waflow persistence
// ABOUTME: Defines sessions, credentials, agents, leads and conversation logs

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateLead is returned when a lead already exists for the tenant/counterparty pair
var ErrDuplicateLead = errors.New("lead already exists")

// SessionStatus is the persisted status of a tenant's messaging link
type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusLinkReady    SessionStatus = "link_ready"
	SessionStatusConnected    SessionStatus = "connected"
	SessionStatusDisconnected SessionStatus = "disconnected"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusInitializing, SessionStatusLinkReady, SessionStatusConnected, SessionStatusDisconnected:
		return true
	}
	return false
}

// SessionMetadata is stored as JSON alongside the session row
type SessionMetadata struct {
	Transport   string `json:"transport,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	LastReason  string `json:"last_reason,omitempty"`
}

// Session is one tenant's link to the messaging network
type Session struct {
	ID        string
	TenantID  string
	Status    SessionStatus
	Metadata  SessionMetadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Agent is a tenant's bot configuration. At most one agent per tenant is active.
type Agent struct {
	ID                 string
	TenantID           string
	DisplayName        string
	Persona            string
	Tone               string
	Industry           string
	CustomInstructions string
	DocumentIDs        []string
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LeadStatus tracks a lead through the sales funnel
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusClosed    LeadStatus = "closed"
)

// Lead is a CRM-like record, unique per (TenantID, CounterpartyID)
type Lead struct {
	ID             string
	TenantID       string
	CounterpartyID string
	Name           string
	Email          string
	Interest       string
	Notes          string
	Status         LeadStatus
	Source         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ConversationLog is one processed exchange, kept for analytics
type ConversationLog struct {
	ID             string
	TenantID       string
	SessionID      string
	AgentID        string
	CounterpartyID string
	Inbound        string
	Reply          string
	Grounded       bool
	Passages       int
	Fallback       bool
	LatencyMS      int64
	CreatedAt      time.Time
}

// SessionStore persists session records
type SessionStore interface {
	UpsertSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]*Session, error)
	ListSessions(ctx context.Context, tenantID string) ([]*Session, error)
}

// CredentialStore persists per-session authentication material
type CredentialStore interface {
	SaveCredentials(ctx context.Context, sessionID string, data []byte) error
	GetCredentials(ctx context.Context, sessionID string) ([]byte, error)
	DeleteCredentials(ctx context.Context, sessionID string) error
}

// AgentStore persists tenant agent configurations
type AgentStore interface {
	SaveAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetActiveAgent(ctx context.Context, tenantID string) (*Agent, error)
	ListAgents(ctx context.Context, tenantID string) ([]*Agent, error)
}

// LeadStore persists lead records
type LeadStore interface {
	CreateLead(ctx context.Context, l *Lead) error
	GetLead(ctx context.Context, tenantID, counterpartyID string) (*Lead, error)
	UpdateLeadContact(ctx context.Context, tenantID, counterpartyID, name, email string) error
	ListLeads(ctx context.Context, tenantID string, limit int) ([]*Lead, error)
}

// ConversationLogStore persists conversation analytics rows
type ConversationLogStore interface {
	SaveConversationLog(ctx context.Context, l *ConversationLog) error
	ListConversationLogs(ctx context.Context, tenantID, counterpartyID string, limit int) ([]*ConversationLog, error)
}

// Store is the full persistence surface
type Store interface {
	SessionStore
	CredentialStore
	AgentStore
	LeadStore
	ConversationLogStore

	// Ping checks that the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
