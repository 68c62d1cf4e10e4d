// Package searchcmd implements the `shadowdb search` command.
package searchcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowdb/shadowdb/cmd/shadowdb/shared"
)

// Command implements `shadowdb search`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	maxResults int
	minScore   float64
}

// New creates the search command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "search <query>",
		Short: "Search records using hybrid vector/text/fuzzy/recency search",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}

	f := c.cmd.Flags()
	f.IntVar(&c.maxResults, "max-results", 0, "Maximum number of results (default from config)")
	f.Float64Var(&c.minScore, "min-score", -1, "Score floor (default from config)")

	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, args []string) error {
	f, err := c.ctx.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer f.Close()

	results, err := f.Search(cmd.Context(), args[0], c.maxResults, c.minScore)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	for i, r := range results {
		fmt.Fprintf(out, "\n[%d] %s (score: %.4f)\n", i+1, r.VirtualPath, r.Score)
		fmt.Fprintf(out, "    %s\n", r.Citation)
		fmt.Fprintf(out, "    %s\n", r.Snippet)
	}
	return nil
}
