// Package pingcmd implements the `shadowdb ping` command.
package pingcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shadowdb/shadowdb/cmd/shadowdb/shared"
)

// Command implements `shadowdb ping`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the ping command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "ping",
		Short: "Check whether the backend is reachable",
		RunE:  c.run,
	}
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

	if f.Ping(cmd.Context()) {
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	}
	return fmt.Errorf("backend unreachable")
}
