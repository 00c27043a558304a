// ABOUTME: Inbound message pipeline from transport event to sent reply
// ABOUTME: Filters, normalizes, updates memory and lead state, generates and logs

package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shyanukant/waflow-sub000/internal/dedupe"
	"github.com/shyanukant/waflow-sub000/internal/knowledge"
	"github.com/shyanukant/waflow-sub000/internal/leads"
	"github.com/shyanukant/waflow-sub000/internal/memory"
	"github.com/shyanukant/waflow-sub000/internal/metrics"
	"github.com/shyanukant/waflow-sub000/internal/responder"
	"github.com/shyanukant/waflow-sub000/internal/session"
	"github.com/shyanukant/waflow-sub000/internal/store"
	"github.com/shyanukant/waflow-sub000/internal/transport"
)

const persistTimeout = 5 * time.Second

// Reasons a message is not answered. Also used as metric labels.
const (
	ReasonNotText         = "not_text"
	ReasonBroadcast       = "broadcast"
	ReasonGroup           = "group"
	ReasonFromMe          = "from_me"
	ReasonDuplicate       = "duplicate"
	ReasonInvalidSender   = "invalid_sender"
	ReasonNoAgent         = "no_agent"
	ReasonNotConfigured   = "retrieval_not_configured"
	ReasonAgentLookupFail = "agent_lookup_failed"
)

// Outcome is the result of routing one inbound event.
type Outcome struct {
	Routed   bool
	Reason   string // set when not routed
	Reply    string
	SendErr  error
	Fallback bool
}

// Generator produces a reply for a message.
type Generator interface {
	Generate(ctx context.Context, in responder.Input) (responder.Result, error)
}

// Sender delivers a reply through the owning session.
type Sender interface {
	Send(ctx context.Context, sessionID, counterpartyID, text string) error
}

// Store is the persistence the router reads and writes.
type Store interface {
	store.AgentStore
	store.ConversationLogStore
}

// Router processes inbound messages. It implements session.InboundHandler.
type Router struct {
	store     Store
	memory    *memory.Memory
	leads     *leads.Tracker
	generator Generator
	sender    Sender
	dedupe    *dedupe.Cache
	metrics   *metrics.Recorder
	locks     *keyedMutex
	now       func() time.Time
	logger    *slog.Logger
}

// Params holds dependencies for New.
type Params struct {
	Store     Store
	Memory    *memory.Memory
	Leads     *leads.Tracker
	Generator Generator
	Sender    Sender
	Dedupe    *dedupe.Cache // optional
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

// New creates a Router.
func New(p Params) *Router {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:     p.Store,
		memory:    p.Memory,
		leads:     p.Leads,
		generator: p.Generator,
		sender:    p.Sender,
		dedupe:    p.Dedupe,
		metrics:   p.Metrics,
		locks:     newKeyedMutex(),
		now:       time.Now,
		logger:    logger.With("component", "router"),
	}
}

// HandleInbound routes in and discards the outcome.
func (r *Router) HandleInbound(ctx context.Context, in session.Inbound) {
	r.Route(ctx, in)
}

// Route runs the full pipeline for one inbound event.
func (r *Router) Route(ctx context.Context, in session.Inbound) Outcome {
	msg := in.Message
	logger := r.logger.With("session_id", in.SessionID, "tenant_id", in.TenantID, "message_id", msg.ID)

	if reason := ignoreReason(msg); reason != "" {
		return r.ignore(logger, reason)
	}
	if r.dedupe != nil && r.dedupe.Seen(in.SessionID, msg.ID) {
		return r.ignore(logger, ReasonDuplicate)
	}

	counterparty, ok := normalizerFor(in.Transport)(msg.SenderID)
	if !ok {
		return r.ignore(logger, ReasonInvalidSender)
	}
	logger = logger.With("counterparty_id", counterparty)

	unlock := r.locks.Lock(in.TenantID + "|" + counterparty)
	defer unlock()

	memKey := memory.Key{TenantID: in.TenantID, CounterpartyID: counterparty}
	leadKey := leads.Key{TenantID: in.TenantID, CounterpartyID: counterparty}

	if r.memory.ResetIfIdle(memKey, r.now()) {
		r.leads.Reset(leadKey)
		logger.Info("conversation idle, state reset")
	}

	agent, err := r.store.GetActiveAgent(ctx, in.TenantID)
	if errors.Is(err, store.ErrNotFound) {
		return r.ignore(logger, ReasonNoAgent)
	}
	if err != nil {
		logger.Error("failed to load active agent", "error", err)
		return r.ignore(logger, ReasonAgentLookupFail)
	}

	text := strings.TrimSpace(msg.Text)
	directives := r.leads.Process(ctx, leadKey, in.Transport, text)
	r.memory.Touch(memKey)
	history := r.memory.History(memKey)

	result, err := r.generator.Generate(ctx, responder.Input{
		Agent:   agent,
		Message: text,
		History: history,
		Lead:    directives,
	})
	if errors.Is(err, knowledge.ErrNotConfigured) {
		logger.Error("retrieval not configured for tenant, dropping message")
		return r.ignore(logger, ReasonNotConfigured)
	}
	if err != nil {
		logger.Error("generation failed", "error", err)
		result = responder.Result{Text: responder.FallbackReply, Fallback: true, FallbackCause: "error"}
	}
	if !result.Fallback {
		r.leads.MarkAsked(leadKey, directives)
	}

	r.memory.Append(memKey, memory.RoleUser, text)
	r.memory.Append(memKey, memory.RoleAssistant, result.Text)

	out := Outcome{Routed: true, Reply: result.Text, Fallback: result.Fallback}
	if err := r.sender.Send(ctx, in.SessionID, msg.SenderID, result.Text); err != nil {
		out.SendErr = err
		logger.Warn("failed to send reply", "error", err)
	} else {
		logger.Info("reply sent",
			"grounded", result.Grounded,
			"passages", result.Passages,
			"fallback", result.Fallback,
			"latency_ms", result.Latency.Milliseconds(),
		)
	}
	r.metrics.MessageRouted(in.Transport)

	r.saveLog(ctx, logger, &store.ConversationLog{
		TenantID:       in.TenantID,
		SessionID:      in.SessionID,
		AgentID:        agent.ID,
		CounterpartyID: counterparty,
		Inbound:        text,
		Reply:          result.Text,
		Grounded:       result.Grounded,
		Passages:       result.Passages,
		Fallback:       result.Fallback,
		LatencyMS:      result.Latency.Milliseconds(),
	})

	return out
}

func ignoreReason(msg transport.Message) string {
	switch {
	case msg.FromMe:
		return ReasonFromMe
	case msg.IsBroadcast:
		return ReasonBroadcast
	case msg.IsGroup:
		return ReasonGroup
	case msg.Kind != transport.KindText || strings.TrimSpace(msg.Text) == "":
		return ReasonNotText
	}
	return ""
}

func (r *Router) ignore(logger *slog.Logger, reason string) Outcome {
	r.metrics.MessageIgnored(reason)
	logger.Debug("message ignored", "reason", reason)
	return Outcome{Reason: reason}
}

// saveLog persists the turn with a detached context; failures are logged.
func (r *Router) saveLog(ctx context.Context, logger *slog.Logger, l *store.ConversationLog) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := r.store.SaveConversationLog(pctx, l); err != nil {
		logger.Error("failed to save conversation log", "error", err)
	}
}
