// Package configcmd implements the `shadowdb config` command group.
package configcmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shadowdb/shadowdb/cmd/shadowdb/shared"
	"github.com/shadowdb/shadowdb/internal/config"
)

const configTemplate = `# shadowdb configuration

backend: sqlite                 # sqlite | postgres | mysql
table: agent_memories

embedding:
  provider: ollama               # ollama | openai | voyage | gemini | command
  model: nomic-embed-text
  # apiKey: sk-...               # required for openai/voyage/gemini

search:
  maxResults: 6
  minScore: 0.005

writes:
  enabled: true
  autoEmbed: true
  retention:
    purgeAfterDays: 30

primer:
  enabled: true
  mode: first-run                # always | first-run | digest
`

// Command implements `shadowdb config`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the config command group.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "config",
		Short: "Show or manage configuration",
		RunE:  c.runShow,
	}
	c.cmd.AddCommand(
		newConfigInit(),
		newSetConnection(),
		newClearConnection(),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) runShow(cmd *cobra.Command, _ []string) error {
	path, err := config.DefaultConfigPath()
	if err != nil {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	conn, source := config.ResolveConnection(c.ctx.Connection)

	data := map[string]any{
		"backend": cfg.Backend,
		"table":   cfg.Table,
		"embedding": map[string]any{
			"provider": cfg.Embedding.Provider,
			"model":    cfg.Embedding.Model,
			"apiKey":   redactAPIKey(cfg.Embedding.APIKey),
		},
		"writes": map[string]any{
			"enabled":              cfg.Writes.Enabled,
			"autoEmbed":            cfg.Writes.AutoEmbed,
			"retentionPurgeAfterDays": cfg.Writes.Retention.PurgeAfterDays,
		},
		"primer": map[string]any{
			"enabled": cfg.Primer.Enabled,
			"mode":    cfg.Primer.Mode,
		},
		"connection":        conn,
		"connection_source": source,
		"config_path":       path,
	}
	b, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(b))
	return nil
}

func newConfigInit() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintf(out, "Config already exists at %s\n", path)
				fmt.Fprintln(out, "Use --force to overwrite.")
				return nil
			}
			if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(out, "Created %s\n", path)
			fmt.Fprintln(out, "Edit the file to configure your backend and embedding provider.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")
	return cmd
}

func newSetConnection() *cobra.Command {
	return &cobra.Command{
		Use:   "set-connection <conn>",
		Short: "Persist a connection string (used when SHADOWDB_URL/DATABASE_URL are unset)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := config.SetPersistedConnection(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Persisted connection: %s\n", resolved)
			fmt.Fprintln(out, "Override anytime with SHADOWDB_URL.")
			return nil
		},
	}
}

func newClearConnection() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-connection",
		Short: "Remove the persisted connection string from global config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			changed, err := config.ClearPersistedConnection()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if changed {
				fmt.Fprintln(out, "Cleared persisted connection setting.")
			} else {
				fmt.Fprintln(out, "No persisted connection setting was found.")
			}
			return nil
		},
	}
}

func redactAPIKey(key string) string {
	if key != "" {
		return "<redacted>"
	}
	return ""
}
