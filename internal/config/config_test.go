// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./data/waflow.db"

auth:
  jwt_secret: "`+testSecret+`"

sessions:
  reconnect_delay: "7s"
  restore_on_start: true

whatsapp:
  enabled: true

cloudapi:
  enabled: true
  verify_token: "hub-secret"

llm:
  provider: "openai"
  model: "gpt-4o-mini"
  api_key: "sk-test"
  timeout: "20s"

knowledge:
  enabled: true
  index_url: "http://index.local"
  embedding_api_key: "sk-embed"

conversation:
  idle_timeout: "45m"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "./data/waflow.db", cfg.Database.Path)
	assert.Equal(t, 7*time.Second, cfg.Sessions.ReconnectDelay)
	assert.True(t, cfg.Sessions.RestoreOnStart)
	assert.Equal(t, "whatsapp", cfg.Sessions.DefaultTransport)
	assert.Equal(t, filepath.Join("data", "whatsapp-devices.db"), cfg.WhatsApp.StorePath)
	assert.Equal(t, 20*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 45*time.Minute, cfg.Conversation.IdleTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "/tmp/waflow.db"
auth:
  jwt_secret: "`+testSecret+`"
whatsapp:
  enabled: true
llm:
  provider: "ollama"
  model: "llama3"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Sessions.ReconnectDelay)
	assert.Equal(t, 32, cfg.Sessions.EventBuffer)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 5, cfg.Knowledge.TopK)
	assert.InDelta(t, 0.3, cfg.Knowledge.MinScore, 1e-9)
	assert.Equal(t, 20, cfg.Conversation.WindowSize)
	assert.Equal(t, 8, cfg.Conversation.HistoryTurns)
	assert.Equal(t, 30*time.Minute, cfg.Conversation.IdleTimeout)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "https://graph.facebook.com", cfg.CloudAPI.GraphURL)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:9000"

[database]
path = "/tmp/waflow.db"

[auth]
jwt_secret = "`+testSecret+`"

[sessions]
default_transport = "matrix"
reconnect_delay = "3s"

[matrix]
enabled = true

[llm]
provider = "anthropic"
model = "claude-sonnet-4-5"
api_key = "key"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "matrix", cfg.Sessions.DefaultTransport)
	assert.Equal(t, 3*time.Second, cfg.Sessions.ReconnectDelay)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("WAFLOW_TEST_SECRET", testSecret)
	t.Setenv("WAFLOW_TEST_KEY", "sk-from-env")

	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "/tmp/waflow.db"
auth:
  jwt_secret: "${WAFLOW_TEST_SECRET}"
whatsapp:
  enabled: true
llm:
  provider: "openai"
  model: "gpt-4o-mini"
  api_key: "${WAFLOW_TEST_KEY}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want %q", cfg.LLM.APIKey, "sk-from-env")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: ":8080"
database:
  path: "/tmp/waflow.db"
sessions:
  reconnect_delay: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sessions.reconnect_delay")
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	base := func(extra string) string {
		return `
server:
  http_addr: ":8080"
database:
  path: "/tmp/waflow.db"
` + extra
	}

	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
database:
  path: "/tmp/waflow.db"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing database path",
			configContent: `
server:
  http_addr: ":8080"
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name:          "missing jwt secret",
			configContent: base(""),
			wantErrSubstr: "auth.jwt_secret is required",
		},
		{
			name: "short jwt secret",
			configContent: base(`
auth:
  jwt_secret: "short"
`),
			wantErrSubstr: "at least 32 characters",
		},
		{
			name: "no transport",
			configContent: base(`
auth:
  jwt_secret: "` + testSecret + `"
`),
			wantErrSubstr: "at least one transport",
		},
		{
			name: "default transport disabled",
			configContent: base(`
auth:
  jwt_secret: "` + testSecret + `"
sessions:
  default_transport: "matrix"
whatsapp:
  enabled: true
`),
			wantErrSubstr: `sessions.default_transport "matrix" is not enabled`,
		},
		{
			name: "cloudapi without verify token",
			configContent: base(`
auth:
  jwt_secret: "` + testSecret + `"
sessions:
  default_transport: "cloudapi"
cloudapi:
  enabled: true
`),
			wantErrSubstr: "cloudapi.verify_token is required",
		},
		{
			name: "unknown provider",
			configContent: base(`
auth:
  jwt_secret: "` + testSecret + `"
whatsapp:
  enabled: true
llm:
  provider: "parrot"
  model: "x"
`),
			wantErrSubstr: `llm.provider "parrot" is not supported`,
		},
		{
			name: "knowledge without index",
			configContent: base(`
auth:
  jwt_secret: "` + testSecret + `"
whatsapp:
  enabled: true
llm:
  provider: "ollama"
  model: "llama3"
knowledge:
  enabled: true
`),
			wantErrSubstr: "knowledge.index_url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.configContent)

			_, err := Load(path)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single env var", "${FOO}", "bar"},
		{"env var with surrounding text", "prefix-${FOO}-suffix", "prefix-bar-suffix"},
		{"multiple env vars", "${FOO}/${BAZ}", "bar/qux"},
		{"no env vars", "no-vars-here", "no-vars-here"},
		{"unset env var", "${WAFLOW_UNSET_VAR}", ""},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidate_TailscaleConfig(t *testing.T) {
	valid := func() Config {
		return Config{
			Database: DatabaseConfig{Path: "./test.db"},
			Auth:     AuthConfig{JWTSecret: testSecret},
			Sessions: SessionsConfig{DefaultTransport: "whatsapp"},
			WhatsApp: WhatsAppConfig{Enabled: true},
			LLM:      LLMConfig{Provider: "ollama", Model: "llama3"},
		}
	}

	cfg := valid()
	cfg.Tailscale = TailscaleConfig{Enabled: true, Hostname: "waflow"}
	assert.NoError(t, cfg.Validate(), "tailscale enabled allows empty server address")

	cfg = valid()
	cfg.Tailscale = TailscaleConfig{Enabled: true}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tailscale.hostname is required")

	cfg = valid()
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.http_addr is required")
}
