// ABOUTME: Tests for CLI helpers: config path resolution, init rendering and agent files
// ABOUTME: Rendered configs are fed back through config.Parse to prove they validate

package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shyanukant/waflow-sub000/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		configFlag = "/tmp/flag.yaml"
		t.Cleanup(func() { configFlag = "" })
		t.Setenv("WAFLOW_CONFIG", "/tmp/env.yaml")
		assert.Equal(t, "/tmp/flag.yaml", getConfigPath())
	})

	t.Run("env var", func(t *testing.T) {
		t.Setenv("WAFLOW_CONFIG", "/tmp/env.yaml")
		assert.Equal(t, "/tmp/env.yaml", getConfigPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("WAFLOW_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		assert.Equal(t, filepath.Join("/xdg", "waflow", "config.yaml"), getConfigPath())
	})

	t.Run("home fallback", func(t *testing.T) {
		t.Setenv("WAFLOW_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "/home/someone")
		assert.Equal(t, filepath.Join("/home/someone", ".config", "waflow", "config.yaml"), getConfigPath())
	})
}

func TestRenderConfigValidates(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	secret, err := randomSecret()
	require.NoError(t, err)

	rendered := renderConfig(initAnswers{
		HTTPAddr:  "localhost:8080",
		DBPath:    filepath.Join(t.TempDir(), "waflow.db"),
		JWTSecret: secret,
		Transport: "whatsapp",
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		APIKeyEnv: "OPENAI_API_KEY",
		LogLevel:  "info",
		LogFormat: "text",
	})

	cfg, err := config.Parse([]byte(rendered), ".yaml")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.True(t, cfg.WhatsApp.Enabled)
	assert.False(t, cfg.Matrix.Enabled)
	assert.True(t, cfg.Sessions.RestoreOnStart)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
}

func TestRunInitWithDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	target := filepath.Join(dir, "cfg", "config.yaml")

	// path answer then defaults for everything else
	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(target+"\n"), &out))
	assert.Contains(t, out.String(), "Config written to "+target)
}

func TestParseAgent(t *testing.T) {
	agent, err := parseAgent([]byte(`
tenant_id: acme
display_name: Acme Assistant
persona: friendly sales rep
document_ids: [doc-1, doc-2]
`))
	require.NoError(t, err)
	assert.NotEmpty(t, agent.ID, "id is generated")
	assert.Equal(t, "acme", agent.TenantID)
	assert.True(t, agent.Active, "active by default")
	assert.Equal(t, []string{"doc-1", "doc-2"}, agent.DocumentIDs)

	agent, err = parseAgent([]byte("id: a1\ntenant_id: acme\ndisplay_name: X\nactive: false\n"))
	require.NoError(t, err)
	assert.Equal(t, "a1", agent.ID)
	assert.False(t, agent.Active)

	_, err = parseAgent([]byte("display_name: X\n"))
	assert.ErrorContains(t, err, "tenant_id")

	_, err = parseAgent([]byte("tenant_id: [\n"))
	assert.Error(t, err)
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "info"}, &buf)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))) })

	logger.With("component", "router").WithGroup("msg").Info("routed", "id", "m1")
	logger.Debug("hidden")

	line := buf.String()
	assert.Contains(t, line, "INF routed")
	assert.Contains(t, line, "component=router")
	assert.Contains(t, line, "msg.id=m1")
	assert.NotContains(t, line, "hidden")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
