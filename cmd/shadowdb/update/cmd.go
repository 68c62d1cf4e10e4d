// Package updatecmd implements the `shadowdb update` command.
package updatecmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shadowdb/shadowdb/cmd/shadowdb/shared"
	"github.com/shadowdb/shadowdb/internal/write"
)

// Command implements `shadowdb update`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	content  string
	category string
	title    string
	tags     string
}

// New creates the update command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "update <id>",
		Short: "Update an existing record's content/category/title/tags",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}

	f := c.cmd.Flags()
	f.StringVar(&c.content, "content", "", "Replacement content")
	f.StringVar(&c.category, "category", "", "Replacement category")
	f.StringVar(&c.title, "title", "", "Replacement title")
	f.StringVar(&c.tags, "tags", "", "Replacement comma-separated tags")

	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", args[0], err)
	}

	f, err := c.ctx.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer f.Close()

	var in write.Input
	if cmd.Flags().Changed("content") {
		in.Content = &c.content
	}
	if cmd.Flags().Changed("category") {
		in.Category = &c.category
	}
	if cmd.Flags().Changed("title") {
		in.Title = &c.title
	}
	if cmd.Flags().Changed("tags") {
		in.Tags = splitCSV(c.tags)
	}

	result, err := f.Update(cmd.Context(), id, in)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Updated record %d (embedded: %v)\n", result.ID, result.Embedded)
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return []string{}
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
