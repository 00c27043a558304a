// ABOUTME: Ollama adapter for locally hosted models
// ABOUTME: Uses the non-streaming chat endpoint

package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama completes with a local Ollama server.
type Ollama struct {
	client *api.Client
	cfg    Config
}

// NewOllama creates an Ollama completer. An empty BaseURL uses the local default.
func NewOllama(cfg Config) (*Ollama, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = defaultOllamaURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing ollama url %q: %w", raw, err)
	}
	return &Ollama{client: api.NewClient(u, http.DefaultClient), cfg: cfg}, nil
}

func (c *Ollama) Model() string { return c.cfg.Model }

func (c *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Content})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.cfg.Model,
		Messages: msgs,
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": maxTokens(req, c.cfg.MaxTokens),
		},
	}
	if t := temperature(req, c.cfg); t > 0 {
		chatReq.Options["temperature"] = t
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama completion: %w", err)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
