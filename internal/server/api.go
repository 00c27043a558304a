// ABOUTME: Tenant API handlers for sessions, the push stream and captured leads
// ABOUTME: Every handler scopes access to the caller's tenant unless the token is admin

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shyanukant/waflow-sub000/internal/auth"
	"github.com/shyanukant/waflow-sub000/internal/session"
	"github.com/shyanukant/waflow-sub000/internal/store"
	"github.com/shyanukant/waflow-sub000/internal/transport"
)

const maxRequestBody = 1 << 20

type createSessionRequest struct {
	SessionID   string          `json:"sessionId"`
	Transport   string          `json:"transport"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

type sessionView struct {
	SessionID   string    `json:"sessionId"`
	TenantID    string    `json:"tenantId"`
	Status      string    `json:"status,omitempty"`
	State       string    `json:"state"`
	Transport   string    `json:"transport,omitempty"`
	AccountID   string    `json:"accountId,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	LastReason  string    `json:"lastReason,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

type leadView struct {
	CounterpartyID string    `json:"counterpartyId"`
	Name           string    `json:"name,omitempty"`
	Email          string    `json:"email,omitempty"`
	Interest       string    `json:"interest"`
	Status         string    `json:"status"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (s *Server) viewSession(rec *store.Session) sessionView {
	v := sessionView{
		SessionID:   rec.ID,
		TenantID:    rec.TenantID,
		Status:      string(rec.Status),
		Transport:   rec.Metadata.Transport,
		AccountID:   rec.Metadata.AccountID,
		DisplayName: rec.Metadata.DisplayName,
		LastReason:  rec.Metadata.LastReason,
		UpdatedAt:   rec.UpdatedAt,
	}
	state, _ := s.manager.Status(rec.ID)
	v.State = state.String()
	return v
}

// tenantScope returns the tenant a listing applies to. Admins may pick one
// with ?tenant=.
func tenantScope(r *http.Request, id *auth.Identity) string {
	if id.Admin {
		if t := r.URL.Query().Get("tenant"); t != "" {
			return t
		}
	}
	return id.TenantID
}

// authorizeSession loads the session row and checks the caller may act on
// it. It writes the error response and returns false on failure.
func (s *Server) authorizeSession(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	id := auth.FromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	rec, err := s.store.GetSession(r.Context(), sessionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "session not found")
		return nil, false
	case err != nil:
		s.logger.Error("failed to load session", "session_id", sessionID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}

	// foreign sessions look the same as missing ones
	if !id.CanAccess(rec.TenantID) {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return rec, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())

	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	tenantID := tenantScope(r, id)
	if req.SessionID != "" && req.SessionID != tenantID {
		existing, err := s.store.GetSession(r.Context(), req.SessionID)
		if err == nil && !id.CanAccess(existing.TenantID) {
			writeJSONError(w, http.StatusConflict, "session id belongs to another tenant")
			return
		}
	}

	var creds []byte
	if len(req.Credentials) > 0 && string(req.Credentials) != "null" {
		creds = req.Credentials
	}

	lc, err := s.manager.CreateSession(r.Context(), session.CreateRequest{
		TenantID:    tenantID,
		SessionID:   req.SessionID,
		Transport:   req.Transport,
		Credentials: creds,
	})
	if err != nil {
		var hsErr *session.HandshakeError
		switch {
		case errors.Is(err, session.ErrAlreadyActive):
			writeJSONError(w, http.StatusConflict, "session already active")
		case errors.Is(err, transport.ErrUnknownTransport):
			writeJSONError(w, http.StatusBadRequest, "unknown transport")
		case errors.Is(err, transport.ErrCredentialsRequired), errors.Is(err, transport.ErrMalformedCredentials):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &hsErr):
			writeJSONError(w, http.StatusBadGateway, err.Error())
		default:
			s.logger.Error("failed to create session", "tenant_id", tenantID, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, sessionView{
		SessionID: lc.SessionID,
		TenantID:  lc.TenantID,
		State:     lc.State().String(),
		Transport: lc.Transport,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())

	recs, err := s.store.ListSessions(r.Context(), tenantScope(r, id))
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]sessionView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, s.viewSession(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.authorizeSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.viewSession(rec))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.authorizeSession(w, r)
	if !ok {
		return
	}

	if err := s.manager.DisconnectSession(r.Context(), rec.ID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "session is not running")
			return
		}
		s.logger.Error("failed to disconnect session", "session_id", rec.ID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionEvents upgrades to the push stream. Browsers cannot set
// headers on WebSocket upgrades, so the token may come from ?token=.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.authorizeSession(w, r)
	if !ok {
		return
	}
	s.hub.ServeWS(w, r, rec.ID)
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	leads, err := s.store.ListLeads(r.Context(), tenantScope(r, id), limit)
	if err != nil {
		s.logger.Error("failed to list leads", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]leadView, 0, len(leads))
	for _, l := range leads {
		views = append(views, leadView{
			CounterpartyID: l.CounterpartyID,
			Name:           l.Name,
			Email:          l.Email,
			Interest:       l.Interest,
			Status:         string(l.Status),
			Source:         l.Source,
			CreatedAt:      l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": views})
}
