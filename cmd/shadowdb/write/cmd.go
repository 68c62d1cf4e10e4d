// Package writecmd implements the `shadowdb write` command.
package writecmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shadowdb/shadowdb/cmd/shadowdb/shared"
	"github.com/shadowdb/shadowdb/internal/write"
)

// Command implements `shadowdb write`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	category string
	title    string
	tags     string
}

// New creates the write command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "write <content>",
		Short: "Store a new record",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}

	f := c.cmd.Flags()
	f.StringVar(&c.category, "category", "", "Category, defaults to \"general\"")
	f.StringVar(&c.title, "title", "", "Short title")
	f.StringVar(&c.tags, "tags", "", "Comma-separated tags")

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

	content := args[0]
	in := write.Input{Content: &content, Tags: splitCSV(c.tags)}
	if c.category != "" {
		in.Category = &c.category
	}
	if c.title != "" {
		in.Title = &c.title
	}

	result, err := f.Write(cmd.Context(), in)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote record %d at %s (embedded: %v)\n", result.ID, result.Path, result.Embedded)
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
