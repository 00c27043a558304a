// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers sessions, credentials, agents, leads and conversation logs

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.UpsertSession(context.Background(), &Session{
		ID: "s1", TenantID: "t1", Status: SessionStatusConnected,
	}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusConnected, got.Status)
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	assert.NoError(t, store.Ping(context.Background()))
}

func TestUpsertSession_InsertAndUpdate(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	sess := &Session{
		ID:       "tenant-a",
		TenantID: "tenant-a",
		Status:   SessionStatusInitializing,
		Metadata: SessionMetadata{Transport: "whatsapp"},
	}
	require.NoError(t, store.UpsertSession(ctx, sess))
	created := sess.CreatedAt

	got, err := store.GetSession(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusInitializing, got.Status)
	assert.Equal(t, "whatsapp", got.Metadata.Transport)

	update := &Session{
		ID:       "tenant-a",
		TenantID: "tenant-a",
		Status:   SessionStatusConnected,
		Metadata: SessionMetadata{Transport: "whatsapp", AccountID: "15551234567", DisplayName: "Acme"},
	}
	require.NoError(t, store.UpsertSession(ctx, update))

	got, err = store.GetSession(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusConnected, got.Status)
	assert.Equal(t, "15551234567", got.Metadata.AccountID)
	assert.Equal(t, "Acme", got.Metadata.DisplayName)
	assert.Equal(t, created.Truncate(time.Second).Unix(), got.CreatedAt.Unix(), "created_at must survive updates")
}

func TestUpsertSession_InvalidStatus(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.UpsertSession(context.Background(), &Session{ID: "x", TenantID: "x", Status: "bogus"})
	assert.Error(t, err)
}

func TestGetSession_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListSessionsByStatus(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	statuses := []SessionStatus{
		SessionStatusConnected,
		SessionStatusDisconnected,
		SessionStatusConnected,
		SessionStatusLinkReady,
	}
	for i, st := range statuses {
		id := fmt.Sprintf("tenant-%d", i)
		require.NoError(t, store.UpsertSession(ctx, &Session{ID: id, TenantID: id, Status: st}))
	}

	connected, err := store.ListSessionsByStatus(ctx, SessionStatusConnected)
	require.NoError(t, err)
	require.Len(t, connected, 2)
	for _, s := range connected {
		assert.Equal(t, SessionStatusConnected, s.Status)
	}

	all, err := store.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	mine, err := store.ListSessions(ctx, "tenant-3")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, SessionStatusLinkReady, mine[0].Status)
}

func TestCredentials_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	_, err := store.GetCredentials(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveCredentials(ctx, "s1", []byte("first")))
	require.NoError(t, store.SaveCredentials(ctx, "s1", []byte("second")))

	data, err := store.GetCredentials(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	require.NoError(t, store.DeleteCredentials(ctx, "s1"))
	_, err = store.GetCredentials(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting again is fine
	assert.NoError(t, store.DeleteCredentials(ctx, "s1"))
}

func TestSaveAgent_SingleActivePerTenant(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	first := &Agent{ID: "a1", TenantID: "t1", DisplayName: "Sales", DocumentIDs: []string{"doc-1", "doc-2"}, Active: true}
	require.NoError(t, store.SaveAgent(ctx, first))

	other := &Agent{ID: "b1", TenantID: "t2", DisplayName: "Other", Active: true}
	require.NoError(t, store.SaveAgent(ctx, other))

	second := &Agent{ID: "a2", TenantID: "t1", DisplayName: "Support", Active: true}
	require.NoError(t, store.SaveAgent(ctx, second))

	active, err := store.GetActiveAgent(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "a2", active.ID)

	old, err := store.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, old.Active)
	assert.Equal(t, []string{"doc-1", "doc-2"}, old.DocumentIDs)

	otherActive, err := store.GetActiveAgent(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "b1", otherActive.ID, "other tenants are untouched")

	agents, err := store.ListAgents(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, agents, 2)
}

func TestGetActiveAgent_None(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveAgent(ctx, &Agent{ID: "a1", TenantID: "t1", DisplayName: "Idle"}))

	_, err := store.GetActiveAgent(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, got.DocumentIDs)
}

func TestSaveAgent_RequiresIDs(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	assert.Error(t, store.SaveAgent(context.Background(), &Agent{DisplayName: "nameless"}))
}

func TestCreateLead_Duplicate(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	lead := &Lead{TenantID: "t1", CounterpartyID: "15551234567", Interest: "pricing", Source: "whatsapp"}
	require.NoError(t, store.CreateLead(ctx, lead))
	assert.NotEmpty(t, lead.ID)
	assert.Equal(t, LeadStatusNew, lead.Status)

	dup := &Lead{TenantID: "t1", CounterpartyID: "15551234567", Interest: "again"}
	err := store.CreateLead(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateLead)

	// same counterparty, different tenant is a different lead
	assert.NoError(t, store.CreateLead(ctx, &Lead{TenantID: "t2", CounterpartyID: "15551234567"}))
}

func TestUpdateLeadContact(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.CreateLead(ctx, &Lead{TenantID: "t1", CounterpartyID: "c1", Interest: "demo"}))

	require.NoError(t, store.UpdateLeadContact(ctx, "t1", "c1", "", "ana@example.com"))
	require.NoError(t, store.UpdateLeadContact(ctx, "t1", "c1", "Ana", ""))

	got, err := store.GetLead(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
	assert.Equal(t, "ana@example.com", got.Email)
	assert.Equal(t, "demo", got.Interest)

	err = store.UpdateLeadContact(ctx, "t1", "nobody", "X", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListLeads_Limit(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateLead(ctx, &Lead{
			TenantID:       "t1",
			CounterpartyID: fmt.Sprintf("c%d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	leads, err := store.ListLeads(ctx, "t1", 3)
	require.NoError(t, err)
	require.Len(t, leads, 3)
	assert.Equal(t, "c4", leads[0].CounterpartyID, "newest first")
	assert.Equal(t, "c2", leads[2].CounterpartyID)
}

func TestConversationLogs_ChronologicalWindow(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveConversationLog(ctx, &ConversationLog{
			TenantID:       "t1",
			SessionID:      "t1",
			AgentID:        "a1",
			CounterpartyID: "c1",
			Inbound:        fmt.Sprintf("in-%d", i),
			Reply:          fmt.Sprintf("out-%d", i),
			Grounded:       i%2 == 0,
			Passages:       i,
			Fallback:       i == 4,
			LatencyMS:      int64(100 * i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	logs, err := store.ListConversationLogs(ctx, "t1", "c1", 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "in-2", logs[0].Inbound)
	assert.Equal(t, "in-4", logs[2].Inbound)
	assert.True(t, logs[0].Grounded)
	assert.True(t, logs[2].Fallback)
	assert.Equal(t, int64(400), logs[2].LatencyMS)
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}
