// ABOUTME: Retrieval of tenant knowledge passages for grounded replies
// ABOUTME: Embeds the query with OpenAI and queries an HTTP vector index

package knowledge

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
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNotConfigured indicates the tenant has no knowledge index.
var ErrNotConfigured = errors.New("knowledge retrieval not configured for tenant")

// Passage is one retrieved chunk of tenant content.
type Passage struct {
	ID         string
	DocumentID string
	Score      float64
	Content    string
}

// Retriever searches a tenant's knowledge store.
type Retriever interface {
	Search(ctx context.Context, tenantID, query string, topK int, documentIDs []string) ([]Passage, error)
}

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OpenAIEmbedder embeds text with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
}

// NewOpenAIEmbedder creates an embedder for model.
func NewOpenAIEmbedder(apiKey, model string, opts ...option.RequestOption) *OpenAIEmbedder {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIEmbedder{client: openai.NewClient(all...), model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding query: no vectors returned")
	}
	return resp.Data[0].Embedding, nil
}

// IndexConfig configures an HTTP vector index.
type IndexConfig struct {
	URL        string // base URL; queries POST to {URL}/query
	APIKey     string
	HTTPClient *http.Client
}

// HTTPIndex queries a namespace-per-tenant vector index over HTTP.
type HTTPIndex struct {
	cfg      IndexConfig
	embedder Embedder
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPIndex creates a Retriever over an HTTP index.
func NewHTTPIndex(cfg IndexConfig, embedder Embedder, logger *slog.Logger) *HTTPIndex {
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPIndex{
		cfg:      cfg,
		embedder: embedder,
		client:   client,
		logger:   logger.With("component", "knowledge"),
	}
}

type queryRequest struct {
	Namespace       string         `json:"namespace"`
	Vector          []float64      `json:"vector"`
	TopK            int            `json:"topK"`
	IncludeMetadata bool           `json:"includeMetadata"`
	Filter          map[string]any `json:"filter,omitempty"`
}

type queryResponse struct {
	Matches []struct {
		ID       string  `json:"id"`
		Score    float64 `json:"score"`
		Metadata struct {
			Text       string `json:"text"`
			DocumentID string `json:"document_id"`
		} `json:"metadata"`
	} `json:"matches"`
}

// Search embeds query and returns up to topK passages from the tenant's
// namespace. A missing namespace reports ErrNotConfigured.
func (x *HTTPIndex) Search(ctx context.Context, tenantID, query string, topK int, documentIDs []string) ([]Passage, error) {
	if x.cfg.URL == "" || tenantID == "" {
		return nil, ErrNotConfigured
	}

	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	qr := queryRequest{
		Namespace:       tenantID,
		Vector:          vec,
		TopK:            topK,
		IncludeMetadata: true,
	}
	if len(documentIDs) > 0 {
		qr.Filter = map[string]any{"document_id": map[string]any{"$in": documentIDs}}
	}
	body, err := json.Marshal(qr)
	if err != nil {
		return nil, fmt.Errorf("encoding index query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(x.cfg.URL, "/")+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if x.cfg.APIKey != "" {
		req.Header.Set("Api-Key", x.cfg.APIKey)
	}

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotConfigured
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("index returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding index response: %w", err)
	}

	passages := make([]Passage, 0, len(out.Matches))
	for _, m := range out.Matches {
		if m.Metadata.Text == "" {
			continue
		}
		passages = append(passages, Passage{
			ID:         m.ID,
			DocumentID: m.Metadata.DocumentID,
			Score:      m.Score,
			Content:    m.Metadata.Text,
		})
	}
	x.logger.Debug("index query", "tenant_id", tenantID, "matches", len(passages))
	return passages, nil
}
