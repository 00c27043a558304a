// ABOUTME: Operator commands: health, token, sessions, agent put|show and leads
// ABOUTME: All but health work directly against the configured database

package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shyanukant/waflow-sub000/internal/auth"
	"github.com/shyanukant/waflow-sub000/internal/store"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	},
}

var (
	tokenAdmin bool
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <tenant-id>",
	Short: "Mint a tenant API token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating JWT verifier: %w", err)
		}
		token, err := verifier.Generate(args[0], tokenAdmin, tokenTTL)
		if err != nil {
			return fmt.Errorf("generating token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var sessionsTenant string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted sessions for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		sessions, err := s.ListSessions(cmd.Context(), sessionsTenant)
		if err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), sessions)
		return nil
	},
}

var leadsLimit int

var leadsCmd = &cobra.Command{
	Use:   "leads <tenant-id>",
	Short: "List captured leads for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		leads, err := s.ListLeads(cmd.Context(), args[0], leadsLimit)
		if err != nil {
			return err
		}
		printLeads(cmd.OutOrStdout(), leads)
		return nil
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage tenant assistant configurations",
}

var agentPutCmd = &cobra.Command{
	Use:   "put <file.yaml>",
	Short: "Create or update an agent from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading agent file: %w", err)
		}
		agent, err := parseAgent(data)
		if err != nil {
			return err
		}

		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.SaveAgent(cmd.Context(), agent); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Saved agent %s for tenant %s (active: %t)\n",
			agent.ID, agent.TenantID, agent.Active)
		return nil
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show <tenant-id>",
	Short: "Print a tenant's active agent as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		agent, err := s.GetActiveAgent(cmd.Context(), args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("tenant %s has no active agent", args[0])
		}
		if err != nil {
			return err
		}

		out, err := yaml.Marshal(agentToFile(agent))
		if err != nil {
			return fmt.Errorf("encoding agent: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "grant cross-tenant admin access")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime (0 for no expiry)")

	sessionsCmd.Flags().StringVar(&sessionsTenant, "tenant", "", "tenant id (required)")
	_ = sessionsCmd.MarkFlagRequired("tenant")

	leadsCmd.Flags().IntVar(&leadsLimit, "limit", 50, "maximum leads to list")

	agentCmd.AddCommand(agentPutCmd, agentShowCmd)
}

// agentFile is the YAML shape accepted by agent put.
type agentFile struct {
	ID                 string   `yaml:"id,omitempty"`
	TenantID           string   `yaml:"tenant_id"`
	DisplayName        string   `yaml:"display_name"`
	Persona            string   `yaml:"persona,omitempty"`
	Tone               string   `yaml:"tone,omitempty"`
	Industry           string   `yaml:"industry,omitempty"`
	CustomInstructions string   `yaml:"custom_instructions,omitempty"`
	DocumentIDs        []string `yaml:"document_ids,omitempty"`
	Active             *bool    `yaml:"active,omitempty"`
}

// parseAgent decodes an agent file. A missing id is generated and a
// missing active flag means active.
func parseAgent(data []byte) (*store.Agent, error) {
	var f agentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing agent file: %w", err)
	}
	if f.TenantID == "" {
		return nil, errors.New("agent file: tenant_id is required")
	}
	if f.DisplayName == "" {
		return nil, errors.New("agent file: display_name is required")
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	active := true
	if f.Active != nil {
		active = *f.Active
	}
	return &store.Agent{
		ID:                 f.ID,
		TenantID:           f.TenantID,
		DisplayName:        f.DisplayName,
		Persona:            f.Persona,
		Tone:               f.Tone,
		Industry:           f.Industry,
		CustomInstructions: f.CustomInstructions,
		DocumentIDs:        f.DocumentIDs,
		Active:             active,
	}, nil
}

func agentToFile(a *store.Agent) agentFile {
	active := a.Active
	return agentFile{
		ID:                 a.ID,
		TenantID:           a.TenantID,
		DisplayName:        a.DisplayName,
		Persona:            a.Persona,
		Tone:               a.Tone,
		Industry:           a.Industry,
		CustomInstructions: a.CustomInstructions,
		DocumentIDs:        a.DocumentIDs,
		Active:             &active,
	}
}

func printSessions(out io.Writer, sessions []*store.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tTRANSPORT\tSTATUS\tACCOUNT\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Metadata.Transport, s.Status, s.Metadata.AccountID,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func printLeads(out io.Writer, leads []*store.Lead) {
	if len(leads) == 0 {
		fmt.Fprintln(out, "No leads.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COUNTERPARTY\tNAME\tEMAIL\tSTATUS\tSOURCE\tINTEREST")
	for _, l := range leads {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.CounterpartyID, dash(l.Name), dash(l.Email), l.Status, l.Source, clip(l.Interest, 40))
	}
	_ = w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
