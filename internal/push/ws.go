// ABOUTME: WebSocket endpoint streaming a session's push events to a tenant client
// ABOUTME: One JSON text frame per event; the stream ends when either side goes away

package push

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// writeTimeout bounds a single frame write to a slow client.
const writeTimeout = 10 * time.Second

// ServeWS upgrades the request and streams events for sessionID until the
// client disconnects or the hub closes. Authorization happens upstream.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("failed to accept websocket", "session_id", sessionID, "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "session_id", sessionID, "error", closeErr)
		}
	}()

	// clients never send; CloseRead cancels ctx when they hang up
	ctx := ws.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, _ := h.Subscribe(ctx, sessionID)
	h.logger.Debug("push stream opened", "session_id", sessionID, "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, ws, evt)
			writeCancel()
			if err != nil {
				h.logger.Debug("push write failed", "session_id", sessionID, "error", err)
				return
			}
		}
	}
}
