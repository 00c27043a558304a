// ABOUTME: Public webhook endpoint for the Cloud API transport
// ABOUTME: GET answers the subscription handshake; POST acks first and delivers afterwards

package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	challenge, ok := s.webhooks.Verify(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if !ok {
		s.logger.Warn("webhook verification rejected", "session_id", chi.URLParam(r, "sessionID"))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleWebhookDeliver acknowledges with 200 before processing so the sender
// does not retry slow deliveries.
func (s *Server) handleWebhookDeliver(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		http.NotFound(w, r)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	w.WriteHeader(http.StatusOK)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		n, err := s.webhooks.Deliver(sessionID, payload)
		if err != nil {
			s.logger.Warn("webhook delivery failed", "session_id", sessionID, "error", err)
			return
		}
		s.logger.Debug("webhook delivered", "session_id", sessionID, "messages", n)
	}()
}
