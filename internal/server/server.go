// ABOUTME: Server orchestrator that wires stores, transports, sessions and the reply pipeline
// ABOUTME: Owns the HTTP listener (plain TCP or tailscale) and the shutdown order

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"tailscale.com/tsnet"

	"github.com/shyanukant/waflow-sub000/internal/auth"
	"github.com/shyanukant/waflow-sub000/internal/config"
	"github.com/shyanukant/waflow-sub000/internal/dedupe"
	"github.com/shyanukant/waflow-sub000/internal/knowledge"
	"github.com/shyanukant/waflow-sub000/internal/leads"
	"github.com/shyanukant/waflow-sub000/internal/llm"
	"github.com/shyanukant/waflow-sub000/internal/memory"
	"github.com/shyanukant/waflow-sub000/internal/metrics"
	"github.com/shyanukant/waflow-sub000/internal/push"
	"github.com/shyanukant/waflow-sub000/internal/responder"
	"github.com/shyanukant/waflow-sub000/internal/router"
	"github.com/shyanukant/waflow-sub000/internal/session"
	"github.com/shyanukant/waflow-sub000/internal/store"
	"github.com/shyanukant/waflow-sub000/internal/transport"
	"github.com/shyanukant/waflow-sub000/internal/transport/cloudapi"
	"github.com/shyanukant/waflow-sub000/internal/transport/matrix"
	"github.com/shyanukant/waflow-sub000/internal/transport/whatsapp"
)

// WebhookReceiver accepts deliveries for webhook-driven transports.
type WebhookReceiver interface {
	Verify(mode, token, challenge string) (string, bool)
	Deliver(sessionID string, payload []byte) (int, error)
}

// Server runs the waflow HTTP surface and owns every long-lived component.
type Server struct {
	cfg      *config.Config
	store    store.Store
	manager  *session.Manager
	hub      *push.Hub
	verifier auth.TokenVerifier
	webhooks WebhookReceiver
	metrics  *metrics.Recorder
	dedupe   *dedupe.Cache
	closers  []namedCloser

	// webhook deliveries still running after their ack
	inflight sync.WaitGroup

	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Components are the pre-built parts a Server serves. New assembles them
// from config; tests supply their own.
type Components struct {
	Config   *config.Config
	Store    store.Store
	Manager  *session.Manager
	Hub      *push.Hub
	Verifier auth.TokenVerifier
	Webhooks WebhookReceiver // nil when no webhook transport is enabled
	Metrics  *metrics.Recorder
	Dedupe   *dedupe.Cache
	Logger   *slog.Logger
}

// initStore opens the primary store, honoring WAFLOW_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WAFLOW_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// buildRegistry creates a dialer for every enabled transport. The returned
// closers release transport-owned resources on shutdown.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*transport.Registry, *cloudapi.Dialer, []namedCloser, error) {
	registry := transport.NewRegistry()
	var closers []namedCloser
	var cloud *cloudapi.Dialer

	if cfg.WhatsApp.Enabled {
		wa, err := whatsapp.NewDialer(ctx, cfg.WhatsApp.StorePath, cfg.Sessions.EventBuffer, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		registry.Register(wa)
		closers = append(closers, namedCloser{"whatsapp device store", wa})
	}
	if cfg.Matrix.Enabled {
		registry.Register(matrix.NewDialer(cfg.Sessions.EventBuffer, logger))
	}
	if cfg.CloudAPI.Enabled {
		cloud = cloudapi.NewDialer(cloudapi.Config{
			VerifyToken: cfg.CloudAPI.VerifyToken,
			GraphURL:    cfg.CloudAPI.GraphURL,
			APIVersion:  cfg.CloudAPI.APIVersion,
			Buffer:      cfg.Sessions.EventBuffer,
		}, logger)
		registry.Register(cloud)
	}

	logger.Info("transports registered", "transports", registry.Names())
	return registry, cloud, closers, nil
}

// buildRetriever returns nil when knowledge retrieval is disabled, which
// makes the generator answer without grounding.
func buildRetriever(cfg *config.Config, logger *slog.Logger) knowledge.Retriever {
	if !cfg.Knowledge.Enabled {
		logger.Warn("knowledge retrieval disabled, replies will not be grounded")
		return nil
	}
	embedder := knowledge.NewOpenAIEmbedder(cfg.Knowledge.EmbeddingAPIKey, cfg.Knowledge.EmbeddingModel)
	return knowledge.NewHTTPIndex(knowledge.IndexConfig{
		URL:    cfg.Knowledge.IndexURL,
		APIKey: cfg.Knowledge.IndexAPIKey,
	}, embedder, logger)
}

// New creates a Server with every component constructed from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		_ = sqlStore.Close()
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	registry, cloud, closers, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		_ = sqlStore.Close()
		return nil, err
	}

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.New()
	}

	hub := push.NewHub(logger.With("component", "push"))
	manager := session.NewManager(session.ManagerParams{
		Registry: registry,
		Store:    sqlStore,
		Notifier: hub,
		Metrics:  rec,
		Config: session.Config{
			DefaultTransport: cfg.Sessions.DefaultTransport,
			ReconnectDelay:   cfg.Sessions.ReconnectDelay,
		},
		Logger: logger.With("component", "sessions"),
	})

	model, err := llm.New(ctx, llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		_ = sqlStore.Close()
		return nil, fmt.Errorf("creating language model: %w", err)
	}
	tokens, err := llm.NewTokenCounter()
	if err != nil {
		// budgets fall back to a character estimate
		logger.Warn("token counter unavailable", "error", err)
	}

	generator := responder.New(responder.Params{
		Retriever: buildRetriever(cfg, logger),
		Model:     model,
		Tokens:    tokens,
		Metrics:   rec,
		Config: responder.Config{
			TopK:             cfg.Knowledge.TopK,
			MinScore:         cfg.Knowledge.MinScore,
			MaxContextTokens: cfg.Knowledge.MaxContextTokens,
			HistoryTurns:     cfg.Conversation.HistoryTurns,
			Timeout:          cfg.LLM.Timeout,
			MaxTokens:        cfg.LLM.MaxTokens,
			Temperature:      cfg.LLM.Temperature,
		},
		Logger: logger.With("component", "responder"),
	})

	dedupeCache := dedupe.New(cfg.Conversation.DedupeTTL, 0)
	msgRouter := router.New(router.Params{
		Store: sqlStore,
		Memory: memory.New(memory.Config{
			WindowSize:   cfg.Conversation.WindowSize,
			HistoryTurns: cfg.Conversation.HistoryTurns,
			IdleTimeout:  cfg.Conversation.IdleTimeout,
		}),
		Leads:     leads.NewTracker(sqlStore, rec, logger.With("component", "leads")),
		Generator: generator,
		Sender:    manager,
		Dedupe:    dedupeCache,
		Metrics:   rec,
		Logger:    logger,
	})
	manager.SetHandler(msgRouter)

	logger.Info("reply pipeline ready",
		"llm_provider", cfg.LLM.Provider,
		"llm_model", model.Model(),
		"knowledge", cfg.Knowledge.Enabled,
	)

	comps := Components{
		Config:   cfg,
		Store:    sqlStore,
		Manager:  manager,
		Hub:      hub,
		Verifier: verifier,
		Metrics:  rec,
		Dedupe:   dedupeCache,
		Logger:   logger,
	}
	// a nil *cloudapi.Dialer must stay a nil interface
	if cloud != nil {
		comps.Webhooks = cloud
	}

	srv := NewWithComponents(comps)
	srv.closers = closers
	return srv, nil
}

// NewWithComponents creates a Server around already-built components.
func NewWithComponents(c Components) *Server {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      c.Config,
		store:    c.Store,
		manager:  c.Manager,
		hub:      c.Hub,
		verifier: c.Verifier,
		webhooks: c.Webhooks,
		metrics:  c.Metrics,
		dedupe:   c.Dedupe,
		logger:   logger.With("component", "server"),
	}
	s.httpServer = &http.Server{
		Addr:              c.Config.Server.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Manager exposes the session manager, for startup restore.
func (s *Server) Manager() *session.Manager {
	return s.manager
}

// setupListener creates the HTTP listener based on configuration.
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.cfg.Tailscale.Enabled {
		if s.cfg.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.cfg.Server.HTTPAddr,
			)
		}
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run serves HTTP and blocks until ctx is canceled or the server fails.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	// the run context is already canceled
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, stops every session supervisor without
// logging out, and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "webhook drain", s.waitInflight(ctx))
	errs = appendCloseError(errs, "session shutdown", s.manager.Shutdown(ctx))

	if s.hub != nil {
		s.hub.Close()
	}
	if s.dedupe != nil {
		s.dedupe.Close()
	}
	for _, c := range s.closers {
		errs = appendCloseError(errs, c.name+" close", c.c.Close())
	}
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	return errors.Join(errs...)
}

// waitInflight blocks until acknowledged webhook deliveries finish or ctx ends.
func (s *Server) waitInflight(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
