// Package mcp provides the stdio MCP server exposing shadowdb's record
// operations to coding agents.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/shadowdb/shadowdb/internal/buildinfo"
	"github.com/shadowdb/shadowdb/internal/config"
	"github.com/shadowdb/shadowdb/internal/facade"
	"github.com/shadowdb/shadowdb/internal/models"
	"github.com/shadowdb/shadowdb/internal/write"
)

const searchDescription = `Search stored records using hybrid vector/text/fuzzy/recency search. Returns matching records ranked by fused relevance. Call this at the start of a session or whenever the user's request may relate to something recorded before.` //nolint:lll

const writeDescription = `Store a new record for future sessions. Call this whenever you make a decision, fix a bug, or learn something a future session should know. content is required; category/title/tags are optional.` //nolint:lll

const getDescription = `Fetch one record by numeric id, or by its virtual path (shadowdb/{category}/{id} for one record, shadowdb/{category} or bare shadowdb for a recent-20 listing).` //nolint:lll

const primerDescription = `Fetch the primer context block for this session, if one is due to be (re)injected under the configured primer policy.` //nolint:lll

// NewServer creates and registers all shadowdb tools on a new MCP server.
// It is intentionally separate from Serve so that tests and other callers
// can obtain a fully configured server without committing to the stdio
// transport.
func NewServer(f *facade.Facade) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("shadowdb", buildinfo.Version)
	registerTools(s, f)
	return s
}

// Serve opens a facade from the resolved connection and config and starts
// the stdio MCP server, blocking until stdin closes.
func Serve(ctx context.Context, connArg string) error {
	conn, _ := config.ResolveConnection(connArg)
	path, err := config.DefaultConfigPath()
	if err != nil {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("mcp: load config: %w", err)
	}
	f, err := facade.Open(ctx, cfg, conn)
	if err != nil {
		return fmt.Errorf("mcp: open facade: %w", err)
	}
	defer f.Close()

	return mcpserver.ServeStdio(NewServer(f))
}

// registerTools wires the host-facing operations into the server. reindex
// is deliberately absent here: it is a maintenance operation exposed only
// through the CLI, not something an agent session should trigger mid-turn.
func registerTools(s *mcpserver.MCPServer, f *facade.Facade) {
	s.AddTool(mcp.NewTool("shadowdb_search",
		mcp.WithDescription(searchDescription),
		mcp.WithString("query", mcp.Description("Search terms."), mcp.Required()),
		mcp.WithNumber("maxResults", mcp.Description("Max results (default 6).")),
		mcp.WithNumber("minScore", mcp.Description("Score floor (default 0.005).")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleSearch(ctx, f, req)
	})

	s.AddTool(mcp.NewTool("shadowdb_write",
		mcp.WithDescription(writeDescription),
		mcp.WithString("content", mcp.Description("The record body."), mcp.Required()),
		mcp.WithString("category", mcp.Description("Category, defaults to \"general\".")),
		mcp.WithString("title", mcp.Description("Short title.")),
		mcp.WithArray("tags", mcp.Description("Relevant tags."), mcp.WithStringItems()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleWrite(ctx, f, req)
	})

	s.AddTool(mcp.NewTool("shadowdb_update",
		mcp.WithDescription("Update an existing record's content/category/title/tags by id. At least one field must be supplied."),
		mcp.WithNumber("id", mcp.Description("Record id."), mcp.Required()),
		mcp.WithString("content", mcp.Description("Replacement content.")),
		mcp.WithString("category", mcp.Description("Replacement category.")),
		mcp.WithString("title", mcp.Description("Replacement title.")),
		mcp.WithArray("tags", mcp.Description("Replacement tags."), mcp.WithStringItems()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleUpdate(ctx, f, req)
	})

	s.AddTool(mcp.NewTool("shadowdb_get",
		mcp.WithDescription(getDescription),
		mcp.WithNumber("id", mcp.Description("Record id. Mutually exclusive with path.")),
		mcp.WithString("path", mcp.Description("Virtual path. Mutually exclusive with id.")),
		mcp.WithNumber("from", mcp.Description("1-based starting line, optional.")),
		mcp.WithNumber("lines", mcp.Description("Number of lines to return from `from`, optional.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleGet(ctx, f, req)
	})

	s.AddTool(mcp.NewTool("shadowdb_delete",
		mcp.WithDescription("Soft-delete a record by id. Idempotent: deleting an already-deleted record succeeds."),
		mcp.WithNumber("id", mcp.Description("Record id."), mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleDelete(ctx, f, req)
	})

	s.AddTool(mcp.NewTool("shadowdb_undelete",
		mcp.WithDescription("Restore a soft-deleted record by id. Idempotent: undeleting a live record succeeds."),
		mcp.WithNumber("id", mcp.Description("Record id."), mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleUndelete(ctx, f, req)
	})

	s.AddTool(mcp.NewTool("shadowdb_ping",
		mcp.WithDescription("Check whether the backend is reachable."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]any{"ok": f.Ping(ctx)})
	})

	s.AddTool(mcp.NewTool("shadowdb_primer",
		mcp.WithDescription(primerDescription),
		mcp.WithString("sessionKey", mcp.Description("Opaque session identifier for inject-policy tracking.")),
		mcp.WithString("model", mcp.Description("Model name, for per-model character budgets.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handlePrimer(ctx, f, req)
	})
}

// ---------------------------------------------------------------------------
// Tool handlers
// ---------------------------------------------------------------------------

func handleSearch(ctx context.Context, f *facade.Facade, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	maxResults := req.GetInt("maxResults", 0)
	minScore := req.GetFloat("minScore", -1)

	results, err := f.Search(ctx, query, maxResults, minScore)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	clean := make([]map[string]any, 0, len(results))
	for _, r := range results {
		clean = append(clean, map[string]any{
			"path":     r.VirtualPath,
			"score":    r.Score,
			"snippet":  r.Snippet,
			"source":   r.Source,
			"citation": r.Citation,
		})
	}
	return jsonResult(clean)
}

func handleWrite(ctx context.Context, f *facade.Facade, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := req.GetString("content", "")
	category := req.GetString("category", "")
	title := req.GetString("title", "")
	tags := req.GetStringSlice("tags", nil)

	in := write.Input{Content: &content, Tags: tags}
	if category != "" {
		in.Category = &category
	}
	if title != "" {
		in.Title = &title
	}

	result, err := f.Write(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(writeResultJSON(result))
}

func handleUpdate(ctx context.Context, f *facade.Facade, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := int64(req.GetInt("id", 0))

	var in write.Input
	if v := req.GetString("content", ""); v != "" {
		in.Content = &v
	}
	if v := req.GetString("category", ""); v != "" {
		in.Category = &v
	}
	if v := req.GetString("title", ""); v != "" {
		in.Title = &v
	}
	if v := req.GetStringSlice("tags", nil); v != nil {
		in.Tags = v
	}

	result, err := f.Update(ctx, id, in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(writeResultJSON(result))
}

func handleGet(ctx context.Context, f *facade.Facade, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var from, lines *int
	if v := req.GetInt("from", 0); v > 0 {
		from = &v
	}
	if v := req.GetInt("lines", 0); v > 0 {
		lines = &v
	}

	if path := req.GetString("path", ""); path != "" {
		got, err := f.GetByPath(ctx, path, from, lines)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"text": got.Text, "path": got.Path})
	}

	id := int64(req.GetInt("id", 0))
	got, ok, err := f.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !ok {
		return jsonResult(map[string]any{"found": false})
	}
	return jsonResult(map[string]any{"found": true, "text": got.Text, "path": got.Path})
}

func handleDelete(ctx context.Context, f *facade.Facade, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := int64(req.GetInt("id", 0))
	result, err := f.Delete(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(writeResultJSON(result))
}

func handleUndelete(ctx context.Context, f *facade.Facade, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := int64(req.GetInt("id", 0))
	result, err := f.Undelete(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(writeResultJSON(result))
}

func handlePrimer(ctx context.Context, f *facade.Facade, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionKey := req.GetString("sessionKey", "")
	model := req.GetString("model", "")

	envelope, ok := f.GetPrimerContext(ctx, sessionKey, model)
	if !ok {
		return jsonResult(map[string]any{"present": false})
	}
	return jsonResult(map[string]any{
		"present":   true,
		"text":      envelope.Text,
		"digest":    envelope.Digest,
		"truncated": envelope.Truncated,
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeResultJSON(r *models.WriteResult) map[string]any {
	return map[string]any{
		"ok":       r.OK,
		"id":       r.ID,
		"path":     r.Path,
		"embedded": r.Embedded,
		"message":  r.Message,
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
