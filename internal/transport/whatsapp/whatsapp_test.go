// ABOUTME: Tests for whatsmeow event conversion and recipient parsing
// ABOUTME: Exercises the pure mapping functions without opening a socket

package whatsapp

import (
	"bytes"
	"log/slog"
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shyanukant/waflow-sub000/internal/transport"
)

func newMessageEvent(chat, sender types.JID, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   chat,
				Sender: sender,
			},
			ID: "ABC123",
		},
		Message: msg,
	}
}

func TestConvertMessage_PlainText(t *testing.T) {
	sender := types.NewJID("15551234567", types.DefaultUserServer)
	evt := newMessageEvent(sender, sender, &waE2E.Message{Conversation: proto.String("Hi")})

	got := convertMessage(evt)
	assert.Equal(t, "ABC123", got.ID)
	assert.Equal(t, "15551234567@s.whatsapp.net", got.SenderID)
	assert.Equal(t, "Hi", got.Text)
	assert.Equal(t, transport.KindText, got.Kind)
	assert.False(t, got.IsGroup)
	assert.False(t, got.IsBroadcast)
}

func TestConvertMessage_ExtendedText(t *testing.T) {
	sender := types.NewJID("15551234567", types.DefaultUserServer)
	evt := newMessageEvent(sender, sender, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("see https://example.com")},
	})

	got := convertMessage(evt)
	assert.Equal(t, "see https://example.com", got.Text)
	assert.Equal(t, transport.KindText, got.Kind)
}

func TestConvertMessage_GroupAndBroadcast(t *testing.T) {
	sender := types.NewJID("15551234567", types.DefaultUserServer)

	group := newMessageEvent(types.NewJID("120363000000", types.GroupServer), sender,
		&waE2E.Message{Conversation: proto.String("hello all")})
	assert.True(t, convertMessage(group).IsGroup)

	status := newMessageEvent(types.StatusBroadcastJID, sender,
		&waE2E.Message{Conversation: proto.String("story")})
	assert.True(t, convertMessage(status).IsBroadcast)
}

func TestConvertMessage_Media(t *testing.T) {
	sender := types.NewJID("15551234567", types.DefaultUserServer)
	evt := newMessageEvent(sender, sender, &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}})

	got := convertMessage(evt)
	assert.Equal(t, transport.KindMedia, got.Kind)
	assert.Empty(t, got.Text)
}

func TestConvertMessage_DeviceSuffixStripped(t *testing.T) {
	sender := types.JID{User: "15551234567", Device: 3, Server: types.DefaultUserServer}
	evt := newMessageEvent(sender.ToNonAD(), sender, &waE2E.Message{Conversation: proto.String("x")})

	assert.Equal(t, "15551234567@s.whatsapp.net", convertMessage(evt).SenderID)
}

func TestRecipientJID(t *testing.T) {
	jid, err := recipientJID("15551234567")
	require.NoError(t, err)
	assert.Equal(t, types.NewJID("15551234567", types.DefaultUserServer), jid)

	jid, err = recipientJID("15551234567@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "15551234567", jid.User)
}

func TestLoggerAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	wl := NewLogger(logger, "client").Sub("socket")
	wl.Infof("connected to %s", "edge")
	wl.Debugf("frame %d", 7)

	out := buf.String()
	assert.Contains(t, out, "connected to edge")
	assert.Contains(t, out, "frame 7")
	assert.Contains(t, out, "module=client")
	assert.Contains(t, out, "submodule=socket")
}
