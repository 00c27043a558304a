// ABOUTME: WhatsApp multi-device transport built on whatsmeow
// ABOUTME: Device keys live in a sqlstore container; session credentials are the device JID

package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/shyanukant/waflow-sub000/internal/transport"
)

// Name is the transport identifier recorded in session metadata.
const Name = "whatsapp"

// Dialer opens whatsmeow clients backed by a shared device container.
type Dialer struct {
	container *sqlstore.Container
	buffer    int
	logger    *slog.Logger
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer opens (or creates) the device store at storePath.
func NewDialer(ctx context.Context, storePath string, buffer int, logger *slog.Logger) (*Dialer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "whatsapp")

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", storePath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, NewLogger(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("opening whatsapp device store: %w", err)
	}

	return &Dialer{container: container, buffer: buffer, logger: logger}, nil
}

// Name implements transport.Dialer.
func (d *Dialer) Name() string { return Name }

// Close releases the device store.
func (d *Dialer) Close() error {
	return d.container.Close()
}

// Dial starts a whatsmeow client for sessionID. With nil creds a fresh device
// is created and link codes are emitted until the tenant scans one.
func (d *Dialer) Dial(ctx context.Context, sessionID string, creds []byte) (transport.Conn, error) {
	device, err := d.loadDevice(ctx, creds)
	if err != nil {
		return nil, err
	}

	log := d.logger.With("session_id", sessionID)
	cli := whatsmeow.NewClient(device, NewLogger(log, "client"))
	// the session supervisor owns reconnects
	cli.EnableAutoReconnect = false

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		cli:     cli,
		emitter: transport.NewEmitter(d.buffer),
		cancel:  cancel,
		logger:  log,
	}
	cli.AddEventHandler(c.handleEvent)

	if cli.Store.ID == nil {
		qrCh, err := cli.GetQRChannel(connCtx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("requesting link codes: %w", err)
		}
		go c.pumpLinkCodes(qrCh)
	}

	if err := cli.Connect(); err != nil {
		cancel()
		c.emitter.Close()
		return nil, fmt.Errorf("connecting to whatsapp: %w", err)
	}

	return c, nil
}

func (d *Dialer) loadDevice(ctx context.Context, creds []byte) (*store.Device, error) {
	if len(creds) == 0 {
		return d.container.NewDevice(), nil
	}

	jid, err := types.ParseJID(strings.TrimSpace(string(creds)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrMalformedCredentials, err)
	}

	device, err := d.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("loading device %s: %w", jid, err)
	}
	if device == nil {
		return nil, fmt.Errorf("%w: device %s not in store", transport.ErrMalformedCredentials, jid)
	}
	return device, nil
}

type conn struct {
	cli     *whatsmeow.Client
	emitter *transport.Emitter
	cancel  context.CancelFunc
	logger  *slog.Logger

	closeOnce sync.Once
}

func (c *conn) Events() <-chan transport.Event {
	return c.emitter.Events()
}

func (c *conn) Send(ctx context.Context, to, text string) error {
	select {
	case <-c.emitter.Done():
		return transport.ErrClosed
	default:
	}

	jid, err := recipientJID(to)
	if err != nil {
		return err
	}

	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := c.cli.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("sending whatsapp message: %w", err)
	}
	return nil
}

func (c *conn) Logout(ctx context.Context) error {
	if err := c.cli.Logout(ctx); err != nil {
		if errors.Is(err, whatsmeow.ErrNotLoggedIn) {
			c.cli.Disconnect()
			return nil
		}
		return fmt.Errorf("logging out of whatsapp: %w", err)
	}
	return nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.cli.Disconnect()
		c.emitter.Close()
	})
	return nil
}

// recipientJID accepts either a full JID or a bare phone number.
func recipientJID(to string) (types.JID, error) {
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("parsing recipient %q: %w", to, err)
		}
		return jid, nil
	}
	return types.NewJID(to, types.DefaultUserServer), nil
}

func (c *conn) pumpLinkCodes(qrCh <-chan whatsmeow.QRChannelItem) {
	for item := range qrCh {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.emitter.Emit(transport.LinkCode{Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			c.logger.Info("link code scanned")
		case whatsmeow.QRChannelTimeout.Event:
			c.emitter.Emit(transport.Closed{Reason: "link codes expired"})
		case whatsmeow.QRChannelEventError:
			c.emitter.Emit(transport.Closed{Reason: fmt.Sprintf("pairing failed: %v", item.Error)})
		default:
			c.emitter.Emit(transport.Closed{Reason: "pairing failed: " + item.Event})
		}
	}
}

func (c *conn) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		c.emitter.Emit(transport.CredentialsUpdated{Data: []byte(e.ID.String())})

	case *events.Connected:
		var account string
		if id := c.cli.Store.ID; id != nil {
			account = id.User
		}
		c.emitter.Emit(transport.Connected{AccountID: account, DisplayName: c.cli.Store.PushName})

	case *events.LoggedOut:
		c.emitter.Emit(transport.Closed{Reason: e.Reason.String(), LoggedOut: true})

	case *events.ConnectFailure:
		c.emitter.Emit(transport.Closed{Reason: e.Reason.String(), LoggedOut: e.Reason.IsLoggedOut()})

	case *events.StreamReplaced:
		c.emitter.Emit(transport.Closed{Reason: "stream replaced"})

	case *events.TemporaryBan:
		c.emitter.Emit(transport.Closed{Reason: e.String()})

	case *events.ClientOutdated:
		c.emitter.Emit(transport.Closed{Reason: "client outdated"})

	case *events.Disconnected:
		c.emitter.Emit(transport.Closed{Reason: "connection lost"})

	case *events.KeepAliveTimeout:
		c.logger.Warn("keepalive timeout", "errors", e.ErrorCount)

	case *events.Message:
		c.emitter.Emit(convertMessage(e))
	}
}

func convertMessage(e *events.Message) transport.Message {
	msg := transport.Message{
		ID:          e.Info.ID,
		SenderID:    e.Info.Sender.ToNonAD().String(),
		FromMe:      e.Info.IsFromMe,
		IsGroup:     e.Info.IsGroup || e.Info.Chat.Server == types.GroupServer,
		IsBroadcast: e.Info.Chat.IsBroadcastList() || e.Info.Chat.Server == types.BroadcastServer,
		Kind:        transport.KindOther,
	}

	// hidden-user senders carry the phone number in SenderAlt
	if e.Info.Sender.Server == types.HiddenUserServer && !e.Info.SenderAlt.IsEmpty() {
		msg.SenderID = e.Info.SenderAlt.ToNonAD().String()
	}

	m := e.Message
	switch {
	case m.GetConversation() != "":
		msg.Text = m.GetConversation()
		msg.Kind = transport.KindText
	case m.GetExtendedTextMessage().GetText() != "":
		msg.Text = m.GetExtendedTextMessage().GetText()
		msg.Kind = transport.KindText
	case m.GetImageMessage() != nil, m.GetVideoMessage() != nil, m.GetAudioMessage() != nil,
		m.GetDocumentMessage() != nil, m.GetStickerMessage() != nil:
		msg.Kind = transport.KindMedia
	}
	return msg
}
