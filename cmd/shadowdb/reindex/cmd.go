// Package reindexcmd implements the `shadowdb reindex` command.
package reindexcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowdb/shadowdb/cmd/shadowdb/shared"
)

// Command implements `shadowdb reindex`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	batchSize int
}

// New creates the reindex command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed every live record with the configured embedding provider",
		RunE:  c.run,
	}
	c.cmd.Flags().IntVar(&c.batchSize, "batch-size", 100, "Number of records fetched per sweep page")
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

	out := cmd.OutOrStdout()
	result, err := f.Reindex(cmd.Context(), c.batchSize, func(done int) {
		fmt.Fprintf(out, "\r  %d processed", done)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Re-indexed %d records with %s (%d dims)\n", result.Count, result.Label, result.Dim)
	return nil
}
