// Package sessionscmd implements the `shadowdb sessions` command.
package sessionscmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shadowdb/shadowdb/cmd/shadowdb/shared"
)

// Command implements `shadowdb sessions`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	limit    int
	category string
}

// New creates the sessions command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "sessions",
		Short: "List recently written records, optionally scoped to a category",
		RunE:  c.run,
	}

	f := c.cmd.Flags()
	f.IntVar(&c.limit, "limit", 10, "Maximum number of records to show (capped at 20)")
	f.StringVar(&c.category, "category", "", "Filter by category")

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

	path := "shadowdb"
	if c.category != "" {
		path = "shadowdb/" + c.category
	}

	got, err := f.GetByPath(cmd.Context(), path, nil, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if got.Text == "" {
		fmt.Fprintln(out, "No records found.")
		return nil
	}

	entries := strings.Split(got.Text, "\n\n")
	limit := c.limit
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}

	fmt.Fprintln(out, "\nRecent records:")
	for _, entry := range entries[:limit] {
		fmt.Fprintf(out, "  %s\n", entry)
	}
	return nil
}
