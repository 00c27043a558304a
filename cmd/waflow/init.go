// ABOUTME: init command: interactive config file setup
// ABOUTME: Generates a random JWT secret and writes a YAML config with sensible defaults

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new config file interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// initAnswers are the values collected by runInit.
type initAnswers struct {
	HTTPAddr    string
	DBPath      string
	JWTSecret   string
	Transport   string
	VerifyToken string
	Provider    string
	Model       string
	APIKeyEnv   string
	Tailscale   bool
	TSHostname  string
	TSFunnel    bool
	LogLevel    string
	LogFormat   string
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "waflow configuration setup")
	fmt.Fprintln(out, "==========================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	secret, err := randomSecret()
	if err != nil {
		return err
	}
	a := initAnswers{JWTSecret: secret}

	fmt.Fprintln(out, "\n--- Server ---")
	a.HTTPAddr = prompt(reader, out, "HTTP address", "localhost:8080")
	a.DBPath = prompt(reader, out, "SQLite database path", filepath.Join(getDataPath(), "waflow.db"))

	fmt.Fprintln(out, "\n--- Transport ---")
	a.Transport = prompt(reader, out, "Default transport (whatsapp/matrix/cloudapi)", "whatsapp")
	if a.Transport == "cloudapi" {
		a.VerifyToken = prompt(reader, out, "Webhook verify token", "")
	}

	fmt.Fprintln(out, "\n--- Language model ---")
	a.Provider = prompt(reader, out, "Provider (openai/anthropic/gemini/ollama)", "openai")
	a.Model = prompt(reader, out, "Model", defaultModel(a.Provider))
	if a.Provider != "ollama" {
		a.APIKeyEnv = prompt(reader, out, "Env var holding the API key", strings.ToUpper(a.Provider)+"_API_KEY")
	}

	fmt.Fprintln(out, "\n--- Tailscale ---")
	a.Tailscale = yes(prompt(reader, out, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TSHostname = prompt(reader, out, "Tailscale hostname", "waflow")
		a.TSFunnel = yes(prompt(reader, out, "Enable Funnel (public webhook)?", "no"))
	}

	fmt.Fprintln(out, "\n--- Logging ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nNext:")
	fmt.Fprintln(out, "  waflow agent put agent.yaml")
	fmt.Fprintln(out, "  waflow serve")
	return nil
}

func defaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "gemini":
		return "gemini-2.5-flash"
	case "ollama":
		return "llama3.1"
	default:
		return "gpt-4o-mini"
	}
}

func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# waflow configuration\n")
	b.WriteString("# Generated by waflow init\n\n")

	fmt.Fprintf(&b, "server:\n  http_addr: %q\n\n", a.HTTPAddr)
	fmt.Fprintf(&b, "database:\n  path: %q\n\n", a.DBPath)
	fmt.Fprintf(&b, "auth:\n  jwt_secret: %q\n\n", a.JWTSecret)

	b.WriteString("sessions:\n")
	fmt.Fprintf(&b, "  default_transport: %q\n", a.Transport)
	b.WriteString("  reconnect_delay: \"5s\"\n")
	b.WriteString("  restore_on_start: true\n\n")

	fmt.Fprintf(&b, "whatsapp:\n  enabled: %t\n\n", a.Transport == "whatsapp")
	fmt.Fprintf(&b, "matrix:\n  enabled: %t\n\n", a.Transport == "matrix")
	fmt.Fprintf(&b, "cloudapi:\n  enabled: %t\n", a.Transport == "cloudapi")
	if a.VerifyToken != "" {
		fmt.Fprintf(&b, "  verify_token: %q\n", a.VerifyToken)
	}
	b.WriteString("\n")

	b.WriteString("llm:\n")
	fmt.Fprintf(&b, "  provider: %q\n", a.Provider)
	fmt.Fprintf(&b, "  model: %q\n", a.Model)
	if a.APIKeyEnv != "" {
		fmt.Fprintf(&b, "  api_key: \"${%s}\"\n", a.APIKeyEnv)
	}
	b.WriteString("  timeout: \"30s\"\n\n")

	b.WriteString("knowledge:\n  enabled: false\n\n")

	b.WriteString("conversation:\n")
	b.WriteString("  window_size: 20\n")
	b.WriteString("  idle_timeout: \"30m\"\n\n")

	fmt.Fprintf(&b, "tailscale:\n  enabled: %t\n", a.Tailscale)
	if a.Tailscale {
		fmt.Fprintf(&b, "  hostname: %q\n", a.TSHostname)
		fmt.Fprintf(&b, "  funnel: %t\n", a.TSFunnel)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "logging:\n  level: %q\n  format: %q\n\n", a.LogLevel, a.LogFormat)
	b.WriteString("metrics:\n  enabled: true\n  path: \"/metrics\"\n")
	return b.String()
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// EOF keeps the default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
