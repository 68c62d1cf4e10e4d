// Package rootcmd wires the root cobra.Command for the shadowdb CLI binary.
package rootcmd

import (
	"github.com/spf13/cobra"

	configcmd "github.com/shadowdb/shadowdb/cmd/shadowdb/config"
	deletecmd "github.com/shadowdb/shadowdb/cmd/shadowdb/delete"
	getcmd "github.com/shadowdb/shadowdb/cmd/shadowdb/get"
	mcpcmd "github.com/shadowdb/shadowdb/cmd/shadowdb/mcp"
	pingcmd "github.com/shadowdb/shadowdb/cmd/shadowdb/ping"
	primercmd "github.com/shadowdb/shadowdb/cmd/shadowdb/primer"
	reindexcmd "github.com/shadowdb/shadowdb/cmd/shadowdb/reindex"
	searchcmd "github.com/shadowdb/shadowdb/cmd/shadowdb/search"
	sessionscmd "github.com/shadowdb/shadowdb/cmd/shadowdb/sessions"
	setupcmd "github.com/shadowdb/shadowdb/cmd/shadowdb/setup"
	"github.com/shadowdb/shadowdb/cmd/shadowdb/shared"
	undeletecmd "github.com/shadowdb/shadowdb/cmd/shadowdb/undelete"
	uninstallcmd "github.com/shadowdb/shadowdb/cmd/shadowdb/uninstall"
	updatecmd "github.com/shadowdb/shadowdb/cmd/shadowdb/update"
	writecmd "github.com/shadowdb/shadowdb/cmd/shadowdb/write"
)

// New creates and returns the root cobra.Command for the shadowdb CLI.
func New() *cobra.Command {
	ctx := &shared.Context{}

	root := &cobra.Command{
		Use:           "shadowdb",
		Short:         "shadowdb — database-backed memory for coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, _ []string) error { return cmd.Help() },
	}

	root.PersistentFlags().StringVar(
		&ctx.Connection, "connection", "",
		"Override the backend connection string (default: SHADOWDB_URL/DATABASE_URL env → persisted config → local sqlite file)",
	)

	root.AddCommand(
		writecmd.New(ctx).Cmd(),
		searchcmd.New(ctx).Cmd(),
		getcmd.New(ctx).Cmd(),
		updatecmd.New(ctx).Cmd(),
		deletecmd.New(ctx).Cmd(),
		undeletecmd.New(ctx).Cmd(),
		pingcmd.New(ctx).Cmd(),
		primercmd.New(ctx).Cmd(),
		sessionscmd.New(ctx).Cmd(),
		reindexcmd.New(ctx).Cmd(),
		configcmd.New(ctx).Cmd(),
		mcpcmd.New(ctx).Cmd(),
		setupcmd.New(ctx).Cmd(),
		uninstallcmd.New(ctx).Cmd(),
	)

	return root
}
