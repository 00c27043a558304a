// ABOUTME: Tests for the push hub, QR rendering and the WebSocket stream
// ABOUTME: Covers fan-out, late-subscriber replay, unsubscribe and slow-subscriber drops

package push

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_FanOutBySession(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a1, _ := hub.Subscribe(ctx, "s1")
	a2, _ := hub.Subscribe(ctx, "s1")
	b, _ := hub.Subscribe(ctx, "s2")

	hub.Connected("s1", "15551234567", "Acme")

	for _, ch := range []<-chan Event{a1, a2} {
		evt := recv(t, ch)
		assert.Equal(t, TypeConnected, evt.Type)
		assert.Equal(t, "15551234567", evt.CounterpartyDisplayID)
		assert.Equal(t, "Acme", evt.DisplayName)
	}

	select {
	case evt := <-b:
		t.Fatalf("unexpected event for other session: %+v", evt)
	default:
	}
}

func TestHub_LateSubscriberGetsLatest(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	hub.LinkCode("s1", "2@first")
	hub.Disconnected("s1", "logged out")

	ch, _ := hub.Subscribe(context.Background(), "s1")
	evt := recv(t, ch)
	assert.Equal(t, TypeDisconnected, evt.Type)
	assert.Equal(t, "logged out", evt.Reason)

	latest, ok := hub.Latest("s1")
	require.True(t, ok)
	assert.Equal(t, TypeDisconnected, latest.Type)

	_, ok = hub.Latest("nobody")
	assert.False(t, ok)
}

func TestHub_UnsubscribeOnContextCancel(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := hub.Subscribe(ctx, "s1")
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// publishing afterwards must not panic
	hub.Disconnected("s1", "bye")
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	ch, _ := hub.Subscribe(context.Background(), "s1")
	for i := 0; i < subscriberBufferSize*2; i++ {
		hub.Disconnected("s1", "x")
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestHub_CloseClosesSubscribers(t *testing.T) {
	hub := NewHub(nil)
	ch, _ := hub.Subscribe(context.Background(), "s1")
	hub.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := hub.Subscribe(context.Background(), "s1")
	_, ok = <-late
	assert.False(t, ok)
}

func TestLinkImage(t *testing.T) {
	img, err := LinkImage("2@abc,def,ghi")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(img, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(img, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(raw[:4]))

	_, err = LinkImage("")
	assert.Error(t, err)
}

func TestHub_LinkCodePublishesImage(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	ch, _ := hub.Subscribe(context.Background(), "s1")
	hub.LinkCode("s1", "2@code")

	evt := recv(t, ch)
	assert.Equal(t, TypeLinkCode, evt.Type)
	assert.Equal(t, "s1", evt.SessionID)
	assert.True(t, strings.HasPrefix(evt.LinkImageData, "data:image/png;base64,"))
}

func TestServeWS_StreamsEvents(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	hub.LinkCode("s1", "2@code")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, "s1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first Event
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, TypeLinkCode, first.Type, "latest event replayed on connect")

	hub.Connected("s1", "15551234567", "Acme")

	var second Event
	require.NoError(t, wsjson.Read(ctx, conn, &second))
	assert.Equal(t, TypeConnected, second.Type)
	assert.Equal(t, "s1", second.SessionID)
}
