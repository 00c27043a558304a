// ABOUTME: Agent configuration persistence for the SQLite store
// ABOUTME: Document id lists are typed in Go and serialized to JSON only at this edge

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SaveAgent inserts or updates an agent. Saving an active agent deactivates
// every other agent of the same tenant in the same transaction.
func (s *SQLiteStore) SaveAgent(ctx context.Context, a *Agent) error {
	if a.ID == "" || a.TenantID == "" {
		return fmt.Errorf("agent id and tenant id are required")
	}

	docIDs := a.DocumentIDs
	if docIDs == nil {
		docIDs = []string{}
	}
	docJSON, err := json.Marshal(docIDs)
	if err != nil {
		return fmt.Errorf("encoding document ids: %w", err)
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if a.Active {
		if _, err := tx.ExecContext(ctx,
			`UPDATE agents SET active = 0, updated_at = ? WHERE tenant_id = ? AND id != ? AND active = 1`,
			formatTime(now), a.TenantID, a.ID,
		); err != nil {
			return fmt.Errorf("deactivating agents: %w", err)
		}
	}

	query := `
		INSERT INTO agents (id, tenant_id, display_name, persona, tone, industry,
			custom_instructions, document_ids_json, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			display_name = excluded.display_name,
			persona = excluded.persona,
			tone = excluded.tone,
			industry = excluded.industry,
			custom_instructions = excluded.custom_instructions,
			document_ids_json = excluded.document_ids_json,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query,
		a.ID, a.TenantID, a.DisplayName, a.Persona, a.Tone, a.Industry,
		a.CustomInstructions, string(docJSON), boolToInt(a.Active),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	); err != nil {
		return fmt.Errorf("saving agent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing agent: %w", err)
	}

	s.logger.Debug("saved agent", "agent_id", a.ID, "tenant_id", a.TenantID, "active", a.Active)
	return nil
}

const agentColumns = `id, tenant_id, display_name, persona, tone, industry,
	custom_instructions, document_ids_json, active, created_at, updated_at`

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var docJSON, createdAt, updatedAt string
	var active int

	if err := row.Scan(&a.ID, &a.TenantID, &a.DisplayName, &a.Persona, &a.Tone, &a.Industry,
		&a.CustomInstructions, &docJSON, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(docJSON), &a.DocumentIDs); err != nil {
		return nil, fmt.Errorf("decoding document ids: %w", err)
	}
	a.Active = active == 1

	var err error
	if a.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAgent retrieves an agent by id.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return a, nil
}

// GetActiveAgent returns the tenant's active agent, or ErrNotFound.
func (s *SQLiteStore) GetActiveAgent(ctx context.Context, tenantID string) (*Agent, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? AND active = 1
		 ORDER BY updated_at DESC LIMIT 1`, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active agent: %w", err)
	}
	return a, nil
}

// ListAgents returns all agents for a tenant, most recently updated first.
func (s *SQLiteStore) ListAgents(ctx context.Context, tenantID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE tenant_id = ? ORDER BY updated_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agents, nil
}
