// ABOUTME: Matrix transport built on mautrix, logging in with an access token
// ABOUTME: Syncs room messages into transport events and replies with markdown-rendered HTML

package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/shyanukant/waflow-sub000/internal/transport"
)

// Name is the transport identifier recorded in session metadata.
const Name = "matrix"

// networkTimeout bounds individual Matrix API calls made outside a caller context.
const networkTimeout = 10 * time.Second

// Credentials is the JSON credential blob for a Matrix session.
type Credentials struct {
	Homeserver  string `json:"homeserver"`
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
}

// ParseCredentials decodes and validates a credential blob.
func ParseCredentials(data []byte) (*Credentials, error) {
	if len(data) == 0 {
		return nil, transport.ErrCredentialsRequired
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrMalformedCredentials, err)
	}

	var missing []string
	if c.Homeserver == "" {
		missing = append(missing, "homeserver")
	}
	if c.UserID == "" {
		missing = append(missing, "user_id")
	}
	if c.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", transport.ErrMalformedCredentials, strings.Join(missing, ", "))
	}
	return &c, nil
}

// Dialer logs Matrix accounts in from supplied access tokens.
type Dialer struct {
	buffer int
	logger *slog.Logger
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer creates a Matrix dialer.
func NewDialer(buffer int, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{buffer: buffer, logger: logger.With("component", "matrix")}
}

// Name implements transport.Dialer.
func (d *Dialer) Name() string { return Name }

// Dial validates the token with /whoami and starts the sync loop.
// Matrix has no link step, so the connection reports Connected right away.
func (d *Dialer) Dial(ctx context.Context, sessionID string, creds []byte) (transport.Conn, error) {
	c, err := ParseCredentials(creds)
	if err != nil {
		return nil, err
	}

	client, err := mautrix.NewClient(c.Homeserver, id.UserID(c.UserID), c.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	who, err := client.Whoami(ctx)
	if err != nil {
		return nil, fmt.Errorf("verifying matrix token: %w", err)
	}

	syncCtx, cancel := context.WithCancel(context.Background())
	conn := &conn{
		client:  client,
		self:    who.UserID,
		emitter: transport.NewEmitter(d.buffer),
		rooms:   make(map[string]id.RoomID),
		cancel:  cancel,
		logger:  d.logger.With("session_id", sessionID, "user_id", who.UserID.String()),
	}

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		cancel()
		return nil, fmt.Errorf("unexpected syncer type: %T", client.Syncer)
	}
	syncer.OnSync(client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, conn.handleMessage)
	syncer.OnEventType(event.StateMember, conn.handleMembership)

	go conn.run(syncCtx, creds)
	return conn, nil
}

type conn struct {
	client  *mautrix.Client
	self    id.UserID
	emitter *transport.Emitter
	cancel  context.CancelFunc
	logger  *slog.Logger

	// last room each counterparty wrote from; replies go there
	mu    sync.RWMutex
	rooms map[string]id.RoomID

	closing sync.Once
}

func (c *conn) run(ctx context.Context, creds []byte) {
	c.emitter.Emit(transport.CredentialsUpdated{Data: creds})
	c.emitter.Emit(transport.Connected{AccountID: c.self.String(), DisplayName: c.self.Localpart()})

	err := c.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return
	}

	reason := "sync stopped"
	if err != nil {
		reason = err.Error()
	}
	c.emitter.Emit(transport.Closed{
		Reason:    reason,
		LoggedOut: errors.Is(err, mautrix.MUnknownToken),
	})
}

func (c *conn) handleMessage(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	msg := transport.Message{
		ID:       evt.ID.String(),
		SenderID: evt.Sender.String(),
		FromMe:   evt.Sender == c.self,
		Kind:     transport.KindOther,
	}

	switch content.MsgType {
	case event.MsgText:
		msg.Kind = transport.KindText
		msg.Text = content.Body
	case event.MsgImage, event.MsgVideo, event.MsgAudio, event.MsgFile:
		msg.Kind = transport.KindMedia
	case event.MsgNotice:
		// bot notices are never answered
		return
	}

	if !msg.FromMe {
		c.mu.Lock()
		c.rooms[msg.SenderID] = evt.RoomID
		c.mu.Unlock()
	}

	c.emitter.Emit(msg)
}

// handleMembership auto-joins rooms the account is invited to, so new
// counterparties can start a direct chat.
func (c *conn) handleMembership(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite || evt.GetStateKey() != c.self.String() {
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := c.client.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		c.logger.Warn("failed to join invited room", "room", evt.RoomID.String(), "error", err)
		return
	}
	c.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

func (c *conn) Events() <-chan transport.Event {
	return c.emitter.Events()
}

// Send accepts either a room ID or a user ID that has written to us before.
func (c *conn) Send(ctx context.Context, to, text string) error {
	select {
	case <-c.emitter.Done():
		return transport.ErrClosed
	default:
	}

	roomID, err := c.resolveRoom(to)
	if err != nil {
		return err
	}

	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if html, ok := renderMarkdown(text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}

	if _, err := c.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content); err != nil {
		return fmt.Errorf("sending matrix message: %w", err)
	}
	return nil
}

func (c *conn) resolveRoom(to string) (id.RoomID, error) {
	if strings.HasPrefix(to, "!") {
		return id.RoomID(to), nil
	}

	c.mu.RLock()
	room, ok := c.rooms[to]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no room known for %s", to)
	}
	return room, nil
}

func (c *conn) Logout(ctx context.Context) error {
	c.client.StopSync()
	if _, err := c.client.Logout(ctx); err != nil {
		return fmt.Errorf("logging out of matrix: %w", err)
	}
	return nil
}

func (c *conn) Close() error {
	c.closing.Do(func() {
		c.cancel()
		c.client.StopSync()
		c.emitter.Close()
	})
	return nil
}

// renderMarkdown converts reply markdown to HTML. It reports false when the
// output would add nothing over the plain body.
func renderMarkdown(text string) (string, bool) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", false
	}

	html := strings.TrimSpace(buf.String())
	plain := "<p>" + text + "</p>"
	if html == "" || html == plain {
		return "", false
	}
	return html, true
}
