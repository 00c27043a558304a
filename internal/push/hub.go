// ABOUTME: In-memory fan-out hub for per-session lifecycle notifications
// ABOUTME: Remembers the latest event per session so late subscribers catch up

package push

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 16
)

// Event types pushed to tenant clients.
const (
	TypeLinkCode     = "link_code"
	TypeConnected    = "connected"
	TypeDisconnected = "disconnected"
)

// Event is the JSON shape delivered over the push channel.
type Event struct {
	Type                  string `json:"type"`
	SessionID             string `json:"sessionId"`
	LinkImageData         string `json:"linkImageData,omitempty"`
	CounterpartyDisplayID string `json:"counterpartyDisplayId,omitempty"`
	DisplayName           string `json:"displayName,omitempty"`
	Reason                string `json:"reason,omitempty"`
}

// Hub provides in-memory pub/sub keyed by session ID.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // sessionID -> subID -> ch
	latest      map[string]Event
	closed      bool
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan Event),
		latest:      make(map[string]Event),
		logger:      logger.With("component", "push"),
	}
}

// Subscribe registers for events on sessionID. If an event was already
// published for the session, it is the first value on the channel. The
// subscription is removed when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := h.subscribers[sessionID]; !ok {
		h.subscribers[sessionID] = make(map[string]chan Event)
	}
	h.subscribers[sessionID][subID] = ch
	if last, ok := h.latest[sessionID]; ok {
		ch <- last
	}
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "session_id", sessionID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(sessionID, subID)
	}()

	return ch, subID
}

// Publish records evt as the session's latest event and fans it out.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.latest[evt.SessionID] = evt
	h.mu.Unlock()

	// sends happen under the read lock so Unsubscribe cannot close a channel mid-send
	h.mu.RLock()
	defer h.mu.RUnlock()

	for subID, ch := range h.subscribers[evt.SessionID] {
		select {
		case ch <- evt:
		default:
			h.logger.Debug("dropped event for slow subscriber",
				"session_id", evt.SessionID,
				"sub_id", subID,
				"type", evt.Type)
		}
	}
}

// Latest returns the most recent event published for sessionID.
func (h *Hub) Latest(sessionID string) (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	evt, ok := h.latest[sessionID]
	return evt, ok
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(sessionID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[sessionID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, sessionID)
	}

	h.logger.Debug("subscriber removed", "session_id", sessionID, "sub_id", subID)
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, sessionID)
	}
	h.closed = true
}

// LinkCode renders code as a PNG data URL and publishes it.
func (h *Hub) LinkCode(sessionID, code string) {
	img, err := LinkImage(code)
	if err != nil {
		h.logger.Error("failed to render link code", "session_id", sessionID, "error", err)
		return
	}
	h.Publish(Event{Type: TypeLinkCode, SessionID: sessionID, LinkImageData: img})
}

// Connected publishes a connected notification.
func (h *Hub) Connected(sessionID, accountID, displayName string) {
	h.Publish(Event{
		Type:                  TypeConnected,
		SessionID:             sessionID,
		CounterpartyDisplayID: accountID,
		DisplayName:           displayName,
	})
}

// Disconnected publishes a terminal disconnect notification.
func (h *Hub) Disconnected(sessionID, reason string) {
	h.Publish(Event{Type: TypeDisconnected, SessionID: sessionID, Reason: reason})
}
