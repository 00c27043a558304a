// ABOUTME: Entry point for the waflow CLI
// ABOUTME: Root cobra command, config path resolution and shared helpers for subcommands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shyanukant/waflow-sub000/internal/config"
	"github.com/shyanukant/waflow-sub000/internal/store"
)

// Version is set at build time.
var version = "dev"

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "waflow",
	Short: "Multi-tenant messaging sales assistant",
	Long: `waflow links tenant messaging accounts (WhatsApp, Matrix, Cloud API),
answers inbound customers with a grounded language model, and captures leads.

Quick Start:
  waflow init                       # write a config file
  waflow agent put acme-agent.yaml  # seed a tenant's assistant
  waflow token acme                 # mint a tenant API token
  waflow serve                      # start the server`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// a missing .env is normal
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default $WAFLOW_CONFIG or ~/.config/waflow/config.yaml)")
	rootCmd.AddCommand(serveCmd, initCmd, healthCmd, tokenCmd, sessionsCmd, agentCmd, leadsCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the path to the config file.
// Priority: --config > WAFLOW_CONFIG > XDG_CONFIG_HOME/waflow/config.yaml > ~/.config/waflow/config.yaml
func getConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	if envPath := os.Getenv("WAFLOW_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "waflow", "config.yaml")
}

// getDataPath returns the waflow data directory.
// Priority: XDG_DATA_HOME/waflow > ~/.local/share/waflow
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "waflow")
}

func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

// openStore opens the configured database directly, for offline admin commands.
func openStore() (*store.SQLiteStore, *config.Config, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WAFLOW_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return s, cfg, nil
}
