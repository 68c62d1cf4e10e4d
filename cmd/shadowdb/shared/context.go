// Package shared holds the context passed to all CLI commands.
package shared

import (
	"context"

	"github.com/shadowdb/shadowdb/internal/config"
	"github.com/shadowdb/shadowdb/internal/facade"
)

// Context carries global CLI state (flags set on the root command).
type Context struct {
	// Connection overrides the resolved connection string.
	// When empty, resolution falls through to SHADOWDB_URL/DATABASE_URL →
	// persisted config → a locally-socketed sqlite default.
	Connection string
}

// Open resolves configuration and connection, then opens a Facade. Callers
// are responsible for closing it.
func (c *Context) Open(ctx context.Context) (*facade.Facade, error) {
	conn, _ := config.ResolveConnection(c.Connection)
	path, err := config.DefaultConfigPath()
	if err != nil {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return facade.Open(ctx, cfg, conn)
}
