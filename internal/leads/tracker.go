// ABOUTME: Per-counterparty lead capture state machine
// ABOUTME: Creates lead records, saves extracted contact fields and decides which prompts to inject

package leads

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shyanukant/waflow-sub000/internal/metrics"
	"github.com/shyanukant/waflow-sub000/internal/store"
)

// interestLimit caps the interest field copied from the first message.
const interestLimit = 200

const persistTimeout = 5 * time.Second

// Key identifies a counterparty within a tenant.
type Key struct {
	TenantID       string
	CounterpartyID string
}

// Flags is the capture progress for one counterparty. Ask flags only move
// from false to true until Reset, and only once a request was issued.
type Flags struct {
	HasLead    bool
	HasName    bool
	HasEmail   bool
	AskedName  bool
	AskedEmail bool
}

// Directives tells the reply generator what to ask for this turn.
type Directives struct {
	RequestEmail bool
	RequestName  bool
	Intent       bool
	NeedsDetail  bool
	Name         string // known or just extracted name, if any
}

// Instructions renders the directives as prompt lines.
func (d Directives) Instructions() []string {
	var out []string
	if d.Name != "" {
		out = append(out, "The customer's name is "+d.Name+". Address them by name when natural.")
	}
	if d.RequestEmail {
		out = append(out, "Politely ask the customer for their email address so the team can follow up with details.")
	}
	if d.RequestName {
		out = append(out, "Politely ask the customer for their name.")
	}
	return out
}

// Empty reports whether there is nothing to inject.
func (d Directives) Empty() bool {
	return len(d.Instructions()) == 0
}

type entry struct {
	flags Flags
	name  string
}

// Tracker holds lead state for every counterparty. Callers serialize Process
// per key; the tracker itself only guards its map.
type Tracker struct {
	mu      sync.Mutex
	states  map[Key]*entry
	store   store.LeadStore
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewTracker creates a Tracker backed by s.
func NewTracker(s store.LeadStore, m *metrics.Recorder, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		states:  make(map[Key]*entry),
		store:   s,
		metrics: m,
		logger:  logger.With("component", "leads"),
	}
}

// Process runs one inbound message through the capture steps and returns
// the prompt directives for the reply. Store failures are logged and the
// message still gets directives. Requests in the result stay pending until
// MarkAsked records that a reply carrying them was produced.
func (t *Tracker) Process(ctx context.Context, key Key, source, text string) Directives {
	e := t.touch(ctx, key)
	logger := t.logger.With("tenant_id", key.TenantID, "counterparty_id", key.CounterpartyID)

	if !e.flags.HasLead {
		t.createLead(ctx, key, source, text, e, logger)
	}

	name, nameOK := ExtractName(text)
	email, emailOK := ExtractEmail(text)
	var saveName, saveEmail string
	if nameOK && !e.flags.HasName {
		saveName = name
	}
	if emailOK && !e.flags.HasEmail {
		saveEmail = email
	}
	if saveName != "" || saveEmail != "" {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		err := t.store.UpdateLeadContact(pctx, key.TenantID, key.CounterpartyID, saveName, saveEmail)
		cancel()
		if err != nil {
			logger.Error("failed to save lead contact", "error", err)
		} else {
			if saveName != "" {
				e.flags.HasName = true
				e.name = saveName
			}
			if saveEmail != "" {
				e.flags.HasEmail = true
			}
			logger.Info("lead contact captured", "name", saveName != "", "email", saveEmail != "")
		}
	}

	d := Directives{
		Intent:      HasIntent(text),
		NeedsDetail: NeedsDetail(text),
		Name:        e.name,
	}

	if !e.flags.HasEmail && (d.Intent || d.NeedsDetail) && !e.flags.AskedEmail {
		d.RequestEmail = true
	}
	if !e.flags.HasName && d.Intent && !e.flags.AskedName {
		d.RequestName = true
	}

	t.mu.Lock()
	t.states[key] = e
	t.mu.Unlock()

	return d
}

// touch returns a copy of key's state, seeding it from the stored lead on
// the first touch of an epoch.
func (t *Tracker) touch(ctx context.Context, key Key) *entry {
	t.mu.Lock()
	if e, ok := t.states[key]; ok {
		cp := *e
		t.mu.Unlock()
		return &cp
	}
	t.mu.Unlock()

	e := &entry{}
	lead, err := t.store.GetLead(ctx, key.TenantID, key.CounterpartyID)
	switch {
	case err == nil:
		e.flags.HasLead = true
		e.flags.HasName = lead.Name != ""
		e.flags.HasEmail = lead.Email != ""
		e.name = lead.Name
	case !errors.Is(err, store.ErrNotFound):
		t.logger.Warn("failed to seed lead state", "tenant_id", key.TenantID, "error", err)
	}
	return e
}

func (t *Tracker) createLead(ctx context.Context, key Key, source, text string, e *entry, logger *slog.Logger) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := t.store.CreateLead(pctx, &store.Lead{
		TenantID:       key.TenantID,
		CounterpartyID: key.CounterpartyID,
		Interest:       truncateRunes(strings.TrimSpace(text), interestLimit),
		Status:         store.LeadStatusNew,
		Source:         source,
	})
	switch {
	case err == nil:
		e.flags.HasLead = true
		t.metrics.LeadCreated(source)
		logger.Info("=== LEAD CREATED ===", "source", source)
	case errors.Is(err, store.ErrDuplicateLead):
		e.flags.HasLead = true
	default:
		logger.Error("failed to create lead", "error", err)
	}
}

// MarkAsked records the requests in d as issued for key's epoch.
func (t *Tracker) MarkAsked(key Key, d Directives) {
	if !d.RequestEmail && !d.RequestName {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.states[key]
	if !ok {
		return
	}
	if d.RequestEmail {
		e.flags.AskedEmail = true
	}
	if d.RequestName {
		e.flags.AskedName = true
	}
}

// Flags returns key's current flags.
func (t *Tracker) Flags(key Key) (Flags, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.states[key]
	if !ok {
		return Flags{}, false
	}
	return e.flags, true
}

// Reset ends key's epoch. The next Process re-seeds from the store.
func (t *Tracker) Reset(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key)
}
