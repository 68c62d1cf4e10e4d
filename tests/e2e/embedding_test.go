// Package e2e_test — end-to-end embedding pipeline tests.
//
// Each test exercises the full write→embed→vector-index path using
// lightweight in-process mock HTTP servers instead of real provider APIs.
package e2e_test

import (
	"context"
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/shadowdb/shadowdb/internal/write"
)

// ---------------------------------------------------------------------------
// CLI — write
// ---------------------------------------------------------------------------

// TestCLIWriteWithEmbedding_HappyPath verifies that the CLI write command
// successfully embeds the record via each configured provider and reports
// embedded: true in the output.
func TestCLIWriteWithEmbedding_HappyPath(t *testing.T) {
	c := qt.New(t)

	for _, tc := range embeddingCases {
		c.Run(tc.provider, func(c *qt.C) {
			srv := tc.startSrv(c.TB)
			home := c.TB.TempDir()
			c.TB.Setenv("HOME", home)
			writeEmbeddingCfg(c.TB, home, tc.provider, srv.URL)

			out, err := runCmd(c.TB, home+"/shadowdb.db", "write",
				"Testing the embedding pipeline with "+tc.provider,
				"--title", "Embedding pipeline test",
				"--category", "pattern",
			)
			c.Assert(err, qt.IsNil)
			c.Assert(out, qt.Contains, "embedded: true")
		})
	}
}

// ---------------------------------------------------------------------------
// CLI — search (vector path)
// ---------------------------------------------------------------------------

// TestCLISearchWithEmbedding_HappyPath writes a record with embeddings
// enabled and then searches for it, exercising the vector search path
// end-to-end.
func TestCLISearchWithEmbedding_HappyPath(t *testing.T) {
	c := qt.New(t)

	for _, tc := range embeddingCases {
		c.Run(tc.provider, func(c *qt.C) {
			srv := tc.startSrv(c.TB)
			home := c.TB.TempDir()
			c.TB.Setenv("HOME", home)
			writeEmbeddingCfg(c.TB, home, tc.provider, srv.URL)

			conn := home + "/shadowdb.db"
			_, writeErr := runCmd(c.TB, conn, "write",
				"Verifying vector search with "+tc.provider,
				"--title", "Vector search test",
				"--category", "learning",
			)
			c.Assert(writeErr, qt.IsNil)

			out, err := runCmd(c.TB, conn, "search", "vector search")
			c.Assert(err, qt.IsNil)
			c.Assert(out, qt.Contains, "Vector search test")
		})
	}
}

// ---------------------------------------------------------------------------
// MCP — write
// ---------------------------------------------------------------------------

// TestMCPWriteWithEmbedding_HappyPath verifies that the shadowdb_write tool
// successfully embeds the record via each configured provider.
func TestMCPWriteWithEmbedding_HappyPath(t *testing.T) {
	c := qt.New(t)

	for _, tc := range embeddingCases {
		c.Run(tc.provider, func(c *qt.C) {
			srv := tc.startSrv(c.TB)
			cl := newMCPClientWithEmbedding(c, tc.provider, srv.URL)

			text := callTool(c, cl, "shadowdb_write", map[string]any{
				"content":  "Testing MCP embedding pipeline with " + tc.provider,
				"title":    "MCP embedding test",
				"category": "pattern",
			})

			var written map[string]any
			c.Assert(json.Unmarshal([]byte(text), &written), qt.IsNil)
			c.Assert(written["embedded"], qt.Equals, true)
			c.Assert(written["id"], qt.IsNotNil)
		})
	}
}

// ---------------------------------------------------------------------------
// MCP — search (vector path)
// ---------------------------------------------------------------------------

// TestMCPSearchWithEmbedding_HappyPath writes a record with embeddings
// enabled and searches via shadowdb_search to exercise the vector search
// path.
func TestMCPSearchWithEmbedding_HappyPath(t *testing.T) {
	c := qt.New(t)

	for _, tc := range embeddingCases {
		c.Run(tc.provider, func(c *qt.C) {
			srv := tc.startSrv(c.TB)
			cl := newMCPClientWithEmbedding(c, tc.provider, srv.URL)

			callTool(c, cl, "shadowdb_write", map[string]any{
				"content":  "Verifying MCP vector search with " + tc.provider,
				"title":    "MCP vector search test",
				"category": "learning",
			})

			text := callTool(c, cl, "shadowdb_search", map[string]any{
				"query": "vector search",
			})

			var results []map[string]any
			c.Assert(json.Unmarshal([]byte(text), &results), qt.IsNil)
			c.Assert(len(results) > 0, qt.IsTrue)
		})
	}
}

// ---------------------------------------------------------------------------
// Reindex
// ---------------------------------------------------------------------------

// TestReindex_HappyPath writes a record with no dispatcher configured, then
// reindexes it through a newly attached provider and confirms the embedding
// now lands via write.Core.Reindex directly.
func TestReindex_HappyPath(t *testing.T) {
	c := qt.New(t)

	srv := embeddingCases[0].startSrv(c.TB)
	f := newFacadeWithEmbedding(c, "ollama", srv.URL)

	content := "content written before the dispatcher pass"
	_, err := f.Write(context.Background(), write.Input{Content: &content})
	c.Assert(err, qt.IsNil)

	result, err := f.Reindex(context.Background(), 10, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(result.Count, qt.Equals, 1)
}
