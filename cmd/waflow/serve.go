// ABOUTME: serve command: prints the banner, builds the server and runs until signalled
// ABOUTME: Restores persisted sessions first when sessions.restore_on_start is set

package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shyanukant/waflow-sub000/internal/server"
)

const banner = `
                __ _
 __      ____ _/ _| | _____      __
 \ \ /\ / / _' | |_| |/ _ \ \ /\ / /
  \ V  V / (_| |  _| | (_) \ V  V /
   \_/\_/ \__,_|_| |_|\___/ \_/\_/
`

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the waflow server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Transports: %s\n", strings.Join(enabledTransports(cfg.WhatsApp.Enabled, cfg.Matrix.Enabled, cfg.CloudAPI.Enabled), ", "))
	green.Print("    ▶ ")
	fmt.Printf("Model:      %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale:  ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if !cfg.Knowledge.Enabled {
		yellow.Print("    ! ")
		fmt.Println("Knowledge retrieval disabled; replies are not grounded")
	}
	fmt.Println()

	logger.Info("starting waflow",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"default_transport", cfg.Sessions.DefaultTransport,
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	if cfg.Sessions.RestoreOnStart {
		if _, err := srv.Manager().RestoreSessions(ctx); err != nil {
			logger.Error("session restore failed", "error", err)
		}
	}

	return srv.Run(ctx)
}

func enabledTransports(whatsapp, matrix, cloudapi bool) []string {
	var names []string
	if whatsapp {
		names = append(names, "whatsapp")
	}
	if matrix {
		names = append(names, "matrix")
	}
	if cloudapi {
		names = append(names, "cloudapi")
	}
	return names
}
