// ABOUTME: Grounded reply generation with retrieval, prompt assembly and fallback
// ABOUTME: Model failures never escape; they become the fixed acknowledgment

package responder

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shyanukant/waflow-sub000/internal/knowledge"
	"github.com/shyanukant/waflow-sub000/internal/leads"
	"github.com/shyanukant/waflow-sub000/internal/llm"
	"github.com/shyanukant/waflow-sub000/internal/memory"
	"github.com/shyanukant/waflow-sub000/internal/metrics"
	"github.com/shyanukant/waflow-sub000/internal/store"
)

// FallbackReply is sent whenever the model cannot produce a reply.
const FallbackReply = "Thanks for your message! Our team will get back to you shortly."

// Config tunes retrieval and generation.
type Config struct {
	TopK             int           // passages requested (default 5)
	MinScore         float64       // passages must score strictly above this (default 0.3)
	MaxContextTokens int           // grounding budget (default 3000)
	HistoryTurns     int           // history entries sent to the model (default 8)
	Timeout          time.Duration // model call timeout (default 30s)
	MaxTokens        int
	Temperature      float64
}

// Input is one reply request.
type Input struct {
	Agent   *store.Agent
	Message string
	History []memory.Entry
	Lead    leads.Directives
}

// Result describes the produced reply.
type Result struct {
	Text          string
	Grounded      bool
	Passages      int
	Fallback      bool
	FallbackCause string
	Latency       time.Duration
}

// Generator produces replies. A nil retriever generates without grounding.
type Generator struct {
	retriever knowledge.Retriever
	model     llm.Completer
	tokens    *llm.TokenCounter
	metrics   *metrics.Recorder
	cfg       Config
	logger    *slog.Logger
}

// Params holds dependencies for New.
type Params struct {
	Retriever knowledge.Retriever
	Model     llm.Completer
	Tokens    *llm.TokenCounter
	Metrics   *metrics.Recorder
	Config    Config
	Logger    *slog.Logger
}

// New creates a Generator.
func New(p Params) *Generator {
	cfg := p.Config
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = 0.3
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 3000
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		retriever: p.Retriever,
		model:     p.Model,
		tokens:    p.Tokens,
		metrics:   p.Metrics,
		cfg:       cfg,
		logger:    logger.With("component", "responder"),
	}
}

// Generate builds a grounded prompt and asks the model for a reply. It only
// returns an error when retrieval is not configured for the tenant; every
// model failure yields FallbackReply instead.
func (g *Generator) Generate(ctx context.Context, in Input) (Result, error) {
	start := time.Now()
	logger := g.logger.With("tenant_id", in.Agent.TenantID, "agent_id", in.Agent.ID)

	var passages []knowledge.Passage
	if g.retriever != nil {
		found, err := g.retriever.Search(ctx, in.Agent.TenantID, in.Message, g.cfg.TopK, in.Agent.DocumentIDs)
		switch {
		case errors.Is(err, knowledge.ErrNotConfigured):
			return Result{}, err
		case err != nil:
			logger.Warn("retrieval failed, answering without context", "error", err)
		default:
			passages = FilterPassages(found, g.cfg.MinScore)
		}
	}

	groundingContext, used := BuildContext(passages, g.tokens, g.cfg.MaxContextTokens)
	system := BuildSystemPrompt(in.Agent, groundingContext, in.Lead.Instructions())

	history := in.History
	if len(history) > g.cfg.HistoryTurns {
		history = history[len(history)-g.cfg.HistoryTurns:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, h := range history {
		role := llm.RoleUser
		if h.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: h.Text})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: in.Message})

	res := Result{Grounded: used > 0, Passages: used}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	text, err := g.model.Complete(callCtx, llm.Request{
		System:      system,
		Messages:    msgs,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	text = strings.TrimSpace(text)

	switch {
	case err != nil:
		res.FallbackCause = fallbackCause(callCtx, err)
		logger.Warn("generation failed, sending fallback", "cause", res.FallbackCause, "error", err)
	case text == "":
		res.FallbackCause = "empty"
		logger.Warn("model returned empty reply, sending fallback")
	}

	if res.FallbackCause != "" {
		res.Text = FallbackReply
		res.Fallback = true
	} else {
		res.Text = text
	}

	res.Latency = time.Since(start)
	g.metrics.ObserveGeneration(res.Latency, res.FallbackCause)
	return res, nil
}

func fallbackCause(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, llm.ErrEmptyResponse):
		return "empty"
	default:
		return "error"
	}
}
