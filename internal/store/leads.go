// ABOUTME: Lead and conversation log persistence for the SQLite store
// ABOUTME: Leads are unique per tenant/counterparty; conversation logs are append-only

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateLead inserts a new lead.
// Returns ErrDuplicateLead if the tenant already has a lead for the counterparty.
func (s *SQLiteStore) CreateLead(ctx context.Context, l *Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = LeadStatusNew
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = l.CreatedAt

	query := `
		INSERT INTO leads (id, tenant_id, counterparty_id, name, email, interest, notes,
			status, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		l.ID, l.TenantID, l.CounterpartyID,
		nullString(l.Name), nullString(l.Email), l.Interest, nullString(l.Notes),
		string(l.Status), l.Source,
		formatTime(l.CreatedAt), formatTime(l.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateLead
		}
		return fmt.Errorf("inserting lead: %w", err)
	}

	s.logger.Debug("created lead", "tenant_id", l.TenantID, "counterparty", l.CounterpartyID)
	return nil
}

// GetLead retrieves the lead for a tenant/counterparty pair.
// Returns ErrNotFound if none exists.
func (s *SQLiteStore) GetLead(ctx context.Context, tenantID, counterpartyID string) (*Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads
		WHERE tenant_id = ? AND counterparty_id = ?`, tenantID, counterpartyID)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying lead: %w", err)
	}
	return l, nil
}

// UpdateLeadContact sets name and/or email on an existing lead.
// Empty arguments leave the stored value untouched.
func (s *SQLiteStore) UpdateLeadContact(ctx context.Context, tenantID, counterpartyID, name, email string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE leads SET
			name = COALESCE(?, name),
			email = COALESCE(?, email),
			updated_at = ?
		WHERE tenant_id = ? AND counterparty_id = ?`,
		nullString(name), nullString(email), formatTime(time.Now()), tenantID, counterpartyID,
	)
	if err != nil {
		return fmt.Errorf("updating lead contact: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLeads returns the tenant's leads, newest first.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListLeads(ctx context.Context, tenantID string, limit int) ([]*Lead, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads
		WHERE tenant_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying leads: %w", err)
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lead row: %w", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lead rows: %w", err)
	}
	return leads, nil
}

const leadColumns = `id, tenant_id, counterparty_id, name, email, interest, notes,
	status, source, created_at, updated_at`

func scanLead(row rowScanner) (*Lead, error) {
	var l Lead
	var name, email, notes sql.NullString
	var status, createdAt, updatedAt string

	if err := row.Scan(&l.ID, &l.TenantID, &l.CounterpartyID, &name, &email, &l.Interest, &notes,
		&status, &l.Source, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	l.Name = name.String
	l.Email = email.String
	l.Notes = notes.String
	l.Status = LeadStatus(status)

	var err error
	if l.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// SaveConversationLog appends a conversation analytics row.
func (s *SQLiteStore) SaveConversationLog(ctx context.Context, cl *ConversationLog) error {
	if cl.ID == "" {
		cl.ID = uuid.New().String()
	}
	if cl.CreatedAt.IsZero() {
		cl.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO conversation_logs (id, tenant_id, session_id, agent_id, counterparty_id,
			inbound, reply, grounded, passages, fallback, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		cl.ID, cl.TenantID, cl.SessionID, cl.AgentID, cl.CounterpartyID,
		cl.Inbound, cl.Reply, boolToInt(cl.Grounded), cl.Passages, boolToInt(cl.Fallback),
		cl.LatencyMS, formatTime(cl.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation log: %w", err)
	}
	return nil
}

// ListConversationLogs returns the most recent `limit` exchanges with a counterparty
// in chronological order (oldest first).
func (s *SQLiteStore) ListConversationLogs(ctx context.Context, tenantID, counterpartyID string, limit int) ([]*ConversationLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, session_id, agent_id, counterparty_id, inbound, reply,
			grounded, passages, fallback, latency_ms, created_at
		FROM (
			SELECT rowid AS rid, * FROM conversation_logs
			WHERE tenant_id = ? AND counterparty_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, rid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, counterpartyID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversation logs: %w", err)
	}
	defer rows.Close()

	var logs []*ConversationLog
	for rows.Next() {
		var cl ConversationLog
		var grounded, fallback int
		var createdAt string
		if err := rows.Scan(&cl.ID, &cl.TenantID, &cl.SessionID, &cl.AgentID, &cl.CounterpartyID,
			&cl.Inbound, &cl.Reply, &grounded, &cl.Passages, &fallback, &cl.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning conversation log row: %w", err)
		}
		cl.Grounded = grounded == 1
		cl.Fallback = fallback == 1
		if cl.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		logs = append(logs, &cl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation log rows: %w", err)
	}
	return logs, nil
}
