// ABOUTME: Webhook-driven WhatsApp Cloud API transport
// ABOUTME: Inbound deliveries arrive over HTTP and are injected into the live conn; replies go through the Graph API

package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shyanukant/waflow-sub000/internal/transport"
)

// Name is the transport identifier recorded in session metadata.
const Name = "cloudapi"

// ErrNoConnection is returned when a webhook delivery targets a session with no live conn.
var ErrNoConnection = errors.New("no live connection for session")

// Credentials is the JSON credential blob for a Cloud API session.
type Credentials struct {
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"access_token"`
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
	if c.PhoneNumberID == "" || c.AccessToken == "" {
		return nil, fmt.Errorf("%w: phone_number_id and access_token are required", transport.ErrMalformedCredentials)
	}
	return &c, nil
}

// Config holds the Cloud API dialer settings.
type Config struct {
	VerifyToken string
	GraphURL    string
	APIVersion  string
	Buffer      int
	HTTPClient  *http.Client
}

// Dialer creates webhook-backed conns and routes deliveries to them.
type Dialer struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*conn
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer creates a Cloud API dialer.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.GraphURL = strings.TrimRight(cfg.GraphURL, "/")
	return &Dialer{
		cfg:    cfg,
		logger: logger.With("component", "cloudapi"),
		conns:  make(map[string]*conn),
	}
}

// Name implements transport.Dialer.
func (d *Dialer) Name() string { return Name }

// Dial registers a conn for sessionID. There is no socket or link step, so
// the conn reports Connected immediately.
func (d *Dialer) Dial(ctx context.Context, sessionID string, creds []byte) (transport.Conn, error) {
	c, err := ParseCredentials(creds)
	if err != nil {
		return nil, err
	}

	cn := &conn{
		dialer:    d,
		sessionID: sessionID,
		creds:     *c,
		emitter:   transport.NewEmitter(d.cfg.Buffer),
	}

	d.mu.Lock()
	if old, ok := d.conns[sessionID]; ok {
		d.mu.Unlock()
		_ = old.Close()
		d.mu.Lock()
	}
	d.conns[sessionID] = cn
	d.mu.Unlock()

	go func() {
		cn.emitter.Emit(transport.CredentialsUpdated{Data: creds})
		cn.emitter.Emit(transport.Connected{AccountID: c.PhoneNumberID})
	}()

	return cn, nil
}

// Verify answers the webhook subscription handshake. The challenge is
// returned only when mode is "subscribe" and the token matches.
func (d *Dialer) Verify(mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || d.cfg.VerifyToken == "" || token != d.cfg.VerifyToken {
		return "", false
	}
	return challenge, true
}

// Deliver parses a webhook payload and injects its messages into the
// session's live conn.
func (d *Dialer) Deliver(sessionID string, payload []byte) (int, error) {
	d.mu.RLock()
	cn, ok := d.conns[sessionID]
	d.mu.RUnlock()
	if !ok {
		return 0, ErrNoConnection
	}

	msgs, err := ParseWebhook(payload)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, m := range msgs {
		if cn.emitter.Emit(m) {
			delivered++
		}
	}
	return delivered, nil
}

func (d *Dialer) unregister(c *conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conns[c.sessionID] == c {
		delete(d.conns, c.sessionID)
	}
}

// webhookPayload is the subset of the Cloud API notification body we consume.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWebhook extracts inbound messages from a notification body. Status
// updates carry no messages and yield an empty slice.
func ParseWebhook(payload []byte) ([]transport.Message, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decoding webhook payload: %w", err)
	}

	var out []transport.Message
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				msg := transport.Message{
					ID:       m.ID,
					SenderID: m.From,
					Kind:     transport.KindOther,
				}
				switch m.Type {
				case "text":
					msg.Kind = transport.KindText
					msg.Text = m.Text.Body
				case "image", "video", "audio", "document", "sticker":
					msg.Kind = transport.KindMedia
				}
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

type conn struct {
	dialer    *Dialer
	sessionID string
	creds     Credentials
	emitter   *transport.Emitter
	closeOnce sync.Once
}

func (c *conn) Events() <-chan transport.Event {
	return c.emitter.Events()
}

type sendRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Send posts a text message through the Graph API.
func (c *conn) Send(ctx context.Context, to, text string) error {
	select {
	case <-c.emitter.Done():
		return transport.ErrClosed
	default:
	}

	body := sendRequest{MessagingProduct: "whatsapp", To: to, Type: "text"}
	body.Text.Body = text
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.dialer.cfg.GraphURL, c.dialer.cfg.APIVersion, c.creds.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.creds.AccessToken)

	resp, err := c.dialer.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending cloud api message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("cloud api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Logout forgets the conn. Cloud API tokens are managed in Meta's console,
// so there is nothing to revoke remotely.
func (c *conn) Logout(ctx context.Context) error {
	c.dialer.unregister(c)
	return nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.dialer.unregister(c)
		c.emitter.Close()
	})
	return nil
}
