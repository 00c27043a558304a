// ABOUTME: Configuration loading and parsing for waflow
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete waflow configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale" toml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Auth         AuthConfig         `yaml:"auth" toml:"auth"`
	Sessions     SessionsConfig     `yaml:"sessions" toml:"sessions"`
	WhatsApp     WhatsAppConfig     `yaml:"whatsapp" toml:"whatsapp"`
	Matrix       MatrixConfig       `yaml:"matrix" toml:"matrix"`
	CloudAPI     CloudAPIConfig     `yaml:"cloudapi" toml:"cloudapi"`
	LLM          LLMConfig          `yaml:"llm" toml:"llm"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge" toml:"knowledge"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration.
// Funnel exposes the webhook endpoint publicly over HTTPS.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// SessionsConfig controls the connection lifecycle
type SessionsConfig struct {
	DefaultTransport string `yaml:"default_transport" toml:"default_transport"`
	RestoreOnStart   bool   `yaml:"restore_on_start" toml:"restore_on_start"`
	EventBuffer      int    `yaml:"event_buffer" toml:"event_buffer"`

	ReconnectDelay    time.Duration `yaml:"-" toml:"-"`
	ReconnectDelayRaw string        `yaml:"reconnect_delay" toml:"reconnect_delay"`
}

// WhatsAppConfig configures the multi-device socket transport
type WhatsAppConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	StorePath string `yaml:"store_path" toml:"store_path"`
}

// MatrixConfig configures the Matrix transport.
// Per-session credentials are supplied when the session is created.
type MatrixConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// CloudAPIConfig configures the webhook-based alternate transport
type CloudAPIConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	VerifyToken string `yaml:"verify_token" toml:"verify_token"`
	GraphURL    string `yaml:"graph_url" toml:"graph_url"`
	APIVersion  string `yaml:"api_version" toml:"api_version"`
}

// LLMConfig selects and configures the language model provider
type LLMConfig struct {
	Provider    string  `yaml:"provider" toml:"provider"`
	Model       string  `yaml:"model" toml:"model"`
	APIKey      string  `yaml:"api_key" toml:"api_key"`
	BaseURL     string  `yaml:"base_url" toml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// KnowledgeConfig configures retrieval against the tenant knowledge store
type KnowledgeConfig struct {
	Enabled          bool    `yaml:"enabled" toml:"enabled"`
	IndexURL         string  `yaml:"index_url" toml:"index_url"`
	IndexAPIKey      string  `yaml:"index_api_key" toml:"index_api_key"`
	EmbeddingModel   string  `yaml:"embedding_model" toml:"embedding_model"`
	EmbeddingAPIKey  string  `yaml:"embedding_api_key" toml:"embedding_api_key"`
	TopK             int     `yaml:"top_k" toml:"top_k"`
	MinScore         float64 `yaml:"min_score" toml:"min_score"`
	MaxContextTokens int     `yaml:"max_context_tokens" toml:"max_context_tokens"`
}

// ConversationConfig controls in-memory conversation windows
type ConversationConfig struct {
	WindowSize   int `yaml:"window_size" toml:"window_size"`
	HistoryTurns int `yaml:"history_turns" toml:"history_turns"`

	IdleTimeout    time.Duration `yaml:"-" toml:"-"`
	IdleTimeoutRaw string        `yaml:"idle_timeout" toml:"idle_timeout"`
	DedupeTTL      time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw   string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration bytes. ext selects the format (".toml" or YAML otherwise).
func Parse(data []byte, ext string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(ext, ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Sessions.DefaultTransport == "" {
		c.Sessions.DefaultTransport = "whatsapp"
	}
	if c.Sessions.ReconnectDelay == 0 {
		c.Sessions.ReconnectDelay = 5 * time.Second
	}
	if c.Sessions.EventBuffer <= 0 {
		c.Sessions.EventBuffer = 32
	}
	if c.WhatsApp.StorePath == "" && c.Database.Path != "" {
		c.WhatsApp.StorePath = filepath.Join(filepath.Dir(c.Database.Path), "whatsapp-devices.db")
	}
	if c.CloudAPI.GraphURL == "" {
		c.CloudAPI.GraphURL = "https://graph.facebook.com"
	}
	if c.CloudAPI.APIVersion == "" {
		c.CloudAPI.APIVersion = "v21.0"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 30 * time.Second
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 500
	}
	if c.Knowledge.TopK <= 0 {
		c.Knowledge.TopK = 5
	}
	if c.Knowledge.MinScore == 0 {
		c.Knowledge.MinScore = 0.3
	}
	if c.Knowledge.MaxContextTokens <= 0 {
		c.Knowledge.MaxContextTokens = 3000
	}
	if c.Knowledge.EmbeddingModel == "" {
		c.Knowledge.EmbeddingModel = "text-embedding-3-small"
	}
	if c.Conversation.WindowSize <= 0 {
		c.Conversation.WindowSize = 20
	}
	if c.Conversation.HistoryTurns <= 0 {
		c.Conversation.HistoryTurns = 8
	}
	if c.Conversation.IdleTimeout == 0 {
		c.Conversation.IdleTimeout = 30 * time.Minute
	}
	if c.Conversation.DedupeTTL == 0 {
		c.Conversation.DedupeTTL = 10 * time.Minute
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}

	if !c.WhatsApp.Enabled && !c.Matrix.Enabled && !c.CloudAPI.Enabled {
		return fmt.Errorf("at least one transport (whatsapp, matrix, cloudapi) must be enabled")
	}
	if !c.transportEnabled(c.Sessions.DefaultTransport) {
		return fmt.Errorf("sessions.default_transport %q is not enabled", c.Sessions.DefaultTransport)
	}

	if c.CloudAPI.Enabled && c.CloudAPI.VerifyToken == "" {
		return fmt.Errorf("cloudapi.verify_token is required when cloudapi is enabled")
	}

	switch c.LLM.Provider {
	case "openai", "anthropic", "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for provider %q", c.LLM.Provider)
		}
	case "ollama":
	case "":
		return fmt.Errorf("llm.provider is required")
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}

	if c.Knowledge.Enabled {
		if c.Knowledge.IndexURL == "" {
			return fmt.Errorf("knowledge.index_url is required when knowledge is enabled")
		}
		if c.Knowledge.EmbeddingAPIKey == "" {
			return fmt.Errorf("knowledge.embedding_api_key is required when knowledge is enabled")
		}
	}
	if c.Knowledge.MinScore < 0 || c.Knowledge.MinScore >= 1 {
		return fmt.Errorf("knowledge.min_score must be in [0, 1)")
	}

	return nil
}

func (c *Config) transportEnabled(name string) bool {
	switch name {
	case "whatsapp":
		return c.WhatsApp.Enabled
	case "matrix":
		return c.Matrix.Enabled
	case "cloudapi":
		return c.CloudAPI.Enabled
	}
	return false
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sessions.reconnect_delay", cfg.Sessions.ReconnectDelayRaw, &cfg.Sessions.ReconnectDelay},
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"conversation.idle_timeout", cfg.Conversation.IdleTimeoutRaw, &cfg.Conversation.IdleTimeout},
		{"conversation.dedupe_ttl", cfg.Conversation.DedupeTTLRaw, &cfg.Conversation.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
