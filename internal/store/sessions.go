// ABOUTME: Session and credential persistence for the SQLite store
// ABOUTME: Sessions are upserted by id; credentials are opaque per-session blobs

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// UpsertSession inserts or updates a session by id.
// CreatedAt is preserved on update; UpdatedAt is always refreshed.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *Session) error {
	if !sess.Status.Valid() {
		return fmt.Errorf("invalid session status %q", sess.Status)
	}

	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("encoding session metadata: %w", err)
	}

	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	query := `
		INSERT INTO sessions (id, tenant_id, status, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			status = excluded.status,
			metadata_json = excluded.metadata_json,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		sess.ID,
		sess.TenantID,
		string(sess.Status),
		string(meta),
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}

	s.logger.Debug("upserted session", "session_id", sess.ID, "status", sess.Status)
	return nil
}

const sessionColumns = `id, tenant_id, status, metadata_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var status, meta, createdAt, updatedAt string

	if err := row.Scan(&sess.ID, &sess.TenantID, &status, &meta, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	sess.Status = SessionStatus(status)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("decoding session metadata: %w", err)
		}
	}

	var err error
	if sess.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession retrieves a session by id.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// ListSessionsByStatus returns all sessions with the given status, oldest first.
func (s *SQLiteStore) ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]*Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at ASC`,
		string(status))
}

// ListSessions returns all sessions for a tenant. An empty tenantID lists every session.
func (s *SQLiteStore) ListSessions(ctx context.Context, tenantID string) ([]*Session, error) {
	if tenantID == "" {
		return s.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC`)
	}
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE tenant_id = ? ORDER BY updated_at DESC`,
		tenantID)
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// SaveCredentials saves or replaces the credential blob for a session.
func (s *SQLiteStore) SaveCredentials(ctx context.Context, sessionID string, data []byte) error {
	query := `
		INSERT OR REPLACE INTO session_credentials (session_id, data, updated_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, sessionID, data, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	s.logger.Debug("saved credentials", "session_id", sessionID, "size", len(data))
	return nil
}

// GetCredentials retrieves the credential blob for a session.
// Returns ErrNotFound if the session has no saved credentials.
func (s *SQLiteStore) GetCredentials(ctx context.Context, sessionID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM session_credentials WHERE session_id = ?`, sessionID,
	).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	return data, nil
}

// DeleteCredentials removes saved credentials. Deleting missing credentials is not an error.
func (s *SQLiteStore) DeleteCredentials(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_credentials WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	s.logger.Debug("deleted credentials", "session_id", sessionID)
	return nil
}
