// ABOUTME: Transport abstraction between the session supervisor and a messaging network
// ABOUTME: Dialers open Conns; Conns emit Events on a bounded channel and accept outbound text

package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrCredentialsRequired is returned by Dial when a transport cannot mint its
// own credentials and none were supplied.
var ErrCredentialsRequired = errors.New("credentials required")

// ErrMalformedCredentials is returned by Dial when stored credentials cannot be decoded.
var ErrMalformedCredentials = errors.New("malformed credentials")

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("connection closed")

// ErrUnknownTransport is returned by the registry for unregistered names.
var ErrUnknownTransport = errors.New("unknown transport")

// Dialer opens connections for one transport kind.
type Dialer interface {
	// Name is the transport identifier stored in session metadata ("whatsapp", "matrix", ...).
	Name() string

	// Dial starts a handshake for sessionID using previously saved credentials
	// (nil for a fresh link). It returns once the connection attempt is underway;
	// the handshake outcome arrives as Events.
	Dial(ctx context.Context, sessionID string, creds []byte) (Conn, error)
}

// Conn is one live transport connection.
type Conn interface {
	// Events returns the connection's event stream. It is closed after Close.
	Events() <-chan Event

	// Send delivers a plain-text message to a counterparty.
	Send(ctx context.Context, to, text string) error

	// Logout revokes the link on the remote side. Callers still Close the
	// conn afterwards; no Closed event is guaranteed.
	Logout(ctx context.Context) error

	// Close tears down the connection without revoking the link.
	Close() error
}

// Event is the sealed set of transport notifications.
type Event interface {
	isEvent()
}

// LinkCode carries a one-time code the tenant must scan to link a device.
type LinkCode struct {
	Code string
}

// CredentialsUpdated carries new credential material to persist.
type CredentialsUpdated struct {
	Data []byte
}

// Connected signals a completed handshake.
type Connected struct {
	AccountID   string
	DisplayName string
}

// Closed signals the connection ended. LoggedOut distinguishes an explicit
// unlink from network churn.
type Closed struct {
	Reason    string
	LoggedOut bool
}

// MessageKind classifies inbound payloads.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindMedia MessageKind = "media"
	KindOther MessageKind = "other"
)

// Message is an inbound message from a counterparty.
type Message struct {
	ID          string
	SenderID    string
	Text        string
	FromMe      bool
	IsGroup     bool
	IsBroadcast bool
	Kind        MessageKind
}

func (LinkCode) isEvent()           {}
func (CredentialsUpdated) isEvent() {}
func (Connected) isEvent()          {}
func (Closed) isEvent()             {}
func (Message) isEvent()            {}

// Registry maps transport names to dialers.
type Registry struct {
	mu      sync.RWMutex
	dialers map[string]Dialer
}

// NewRegistry creates a registry holding the given dialers.
func NewRegistry(dialers ...Dialer) *Registry {
	r := &Registry{dialers: make(map[string]Dialer)}
	for _, d := range dialers {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a dialer under its Name.
func (r *Registry) Register(d Dialer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[d.Name()] = d
}

// Get returns the dialer registered under name.
func (r *Registry) Get(name string) (Dialer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.dialers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, name)
	}
	return d, nil
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.dialers))
	for name := range r.dialers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
