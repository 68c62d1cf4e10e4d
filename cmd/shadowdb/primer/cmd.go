// Package primercmd implements the `shadowdb primer` command.
package primercmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowdb/shadowdb/cmd/shadowdb/shared"
)

// Command implements `shadowdb primer`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	sessionKey string
	model      string
}

// New creates the primer command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "primer",
		Short: "Print the primer context block, if one is due for this session",
		RunE:  c.run,
	}

	f := c.cmd.Flags()
	f.StringVar(&c.sessionKey, "session", "", "Session key for inject-policy tracking")
	f.StringVar(&c.model, "model", "", "Model name, for per-model character budgets")

	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	f, err := c.ctx.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer f.Close()

	envelope, ok := f.GetPrimerContext(cmd.Context(), c.sessionKey, c.model)
	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintln(out, "No primer context to inject this turn.")
		return nil
	}

	fmt.Fprintf(out, "<primer-context source=\"shadowdb\" digest=%q truncated=%q>\n", envelope.Digest, truncatedAttr(envelope.Truncated))
	fmt.Fprintln(out, envelope.Text)
	fmt.Fprintln(out, "</primer-context>")
	return nil
}

func truncatedAttr(truncated bool) string {
	if truncated {
		return "true"
	}
	return "false"
}
