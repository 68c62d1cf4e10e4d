// Package undeletecmd implements the `shadowdb undelete` command.
package undeletecmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shadowdb/shadowdb/cmd/shadowdb/shared"
)

// Command implements `shadowdb undelete`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the undelete command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "undelete <id>",
		Short: "Restore a soft-deleted record by id (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}
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

	result, err := f.Undelete(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Message)
	return nil
}
