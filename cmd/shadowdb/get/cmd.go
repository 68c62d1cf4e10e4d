// Package getcmd implements the `shadowdb get` command.
package getcmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shadowdb/shadowdb/cmd/shadowdb/shared"
)

// Command implements `shadowdb get`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	from  int
	lines int
}

// New creates the get command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "get <id-or-virtual-path>",
		Short: "Fetch a record by id or virtual path (shadowdb/{category}/{id}, shadowdb/{category}, or shadowdb)",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}

	f := c.cmd.Flags()
	f.IntVar(&c.from, "from", 0, "1-based starting line")
	f.IntVar(&c.lines, "lines", 0, "Number of lines to return from --from")

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

	out := cmd.OutOrStdout()

	if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
		got, ok, err := f.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(out, "No record found for id %d\n", id)
			return nil
		}
		fmt.Fprintln(out, got.Text)
		return nil
	}

	var from, lines *int
	if c.from > 0 {
		from = &c.from
	}
	if c.lines > 0 {
		lines = &c.lines
	}
	got, err := f.GetByPath(cmd.Context(), args[0], from, lines)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, got.Text)
	return nil
}
