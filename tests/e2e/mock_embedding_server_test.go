// Package e2e_test — shared mock HTTP server helpers for embedding provider
// tests. These helpers let e2e tests exercise the full write→embed→vector-index
// pipeline without calling real external embedding APIs.
package e2e_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/shadowdb/shadowdb/internal/config"
	"github.com/shadowdb/shadowdb/internal/facade"
	internalmcp "github.com/shadowdb/shadowdb/internal/mcp"
)

// fixedEmbeddingVec is the deterministic vector returned by every mock
// embedding server. Four dimensions keeps tests fast; production models use
// 384-3072.
var fixedEmbeddingVec = []float32{0.1, 0.2, 0.3, 0.4}

// embeddingCase describes one provider variant for table-driven embedding tests.
type embeddingCase struct {
	provider string
	startSrv func(tb testing.TB) *httptest.Server
}

// embeddingCases is the canonical table of provider variants shared across all
// CLI and MCP embedding tests.
var embeddingCases = []embeddingCase{
	{
		provider: "ollama",
		startSrv: func(tb testing.TB) *httptest.Server { return newOllamaMockServer(tb, "test-model") },
	},
	{
		provider: "openai",
		startSrv: func(tb testing.TB) *httptest.Server { return newOpenAIMockServer(tb) },
	},
	{
		provider: "openai-compatible",
		startSrv: func(tb testing.TB) *httptest.Server { return newOpenAIMockServer(tb) },
	},
}

// newOllamaMockServer starts a test HTTP server mimicking the Ollama embedding
// API. It responds to POST /api/embeddings with fixedEmbeddingVec.
// Cleanup is registered on tb automatically.
func newOllamaMockServer(tb testing.TB, model string) *httptest.Server {
	tb.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{{"name": model, "model": model}},
		})
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": fixedEmbeddingVec})
	})

	srv := httptest.NewServer(mux)
	tb.Cleanup(srv.Close)
	return srv
}

// newOpenAIMockServer starts a test HTTP server mimicking the OpenAI
// embeddings API (POST /embeddings). It builds a correctly-indexed data
// entry for every input text in the request body, returning
// fixedEmbeddingVec for each. The same server covers openai-compatible
// providers, which use the identical wire format.
// Cleanup is registered on tb automatically.
func newOpenAIMockServer(tb testing.TB) *httptest.Server {
	tb.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody struct {
			Input []string `json:"input"`
		}
		err := json.NewDecoder(r.Body).Decode(&reqBody)
		if err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		data := make([]map[string]any, len(reqBody.Input))
		for i := range reqBody.Input {
			data[i] = map[string]any{"index": i, "embedding": fixedEmbeddingVec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	tb.Cleanup(srv.Close)
	return srv
}

// writeEmbeddingCfg writes a config.yaml under home/.config/shadowdb that
// configures the named embedding provider to use baseURL, with dimensions
// fixed at 4 to match fixedEmbeddingVec. openai/openai-compatible require a
// non-empty API key, so a placeholder is always supplied.
func writeEmbeddingCfg(tb testing.TB, home, provider, baseURL string) {
	tb.Helper()

	dir := filepath.Join(home, ".config", "shadowdb")
	if err := os.MkdirAll(dir, 0o700); err != nil { // #nosec G301 -- test fixture directory
		tb.Fatalf("writeEmbeddingCfg: mkdir: %v", err)
	}

	content := fmt.Sprintf(
		"backend: sqlite\nembedding:\n  provider: %s\n  model: test-model\n  dimensions: 4\n  baseUrl: %s\n  apiKey: test-key\n",
		provider, baseURL,
	)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		tb.Fatalf("writeEmbeddingCfg: %v", err)
	}
}

// newFacadeWithEmbedding opens a Facade directly against a temp sqlite file,
// configured to use the named embedding provider against baseURL. Unlike the
// CLI path, this bypasses config.DefaultConfigPath entirely.
func newFacadeWithEmbedding(c *qt.C, provider, baseURL string) *facade.Facade {
	c.TB.Helper()

	cfg := config.Default()
	cfg.Embedding.Provider = provider
	cfg.Embedding.Model = "test-model"
	cfg.Embedding.Dimensions = 4
	cfg.Embedding.BaseURL = baseURL
	cfg.Embedding.APIKey = "test-key"

	conn := filepath.Join(c.TB.TempDir(), "shadowdb.db")
	f, err := facade.Open(context.Background(), cfg, conn)
	c.Assert(err, qt.IsNil)
	c.TB.Cleanup(func() { _ = f.Close() })

	return f
}

// newMCPClientWithEmbedding creates an in-process MCP client backed by a
// fresh Facade whose embedding provider is configured to use baseURL.
func newMCPClientWithEmbedding(c *qt.C, provider, baseURL string) *mcpclient.Client {
	c.TB.Helper()

	f := newFacadeWithEmbedding(c, provider, baseURL)

	cl, err := mcpclient.NewInProcessClient(internalmcp.NewServer(f))
	c.Assert(err, qt.IsNil)
	c.TB.Cleanup(func() { _ = cl.Close() })

	c.Assert(cl.Start(context.Background()), qt.IsNil)

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "e2e-test", Version: "0.0.1"}
	_, err = cl.Initialize(context.Background(), initReq)
	c.Assert(err, qt.IsNil)

	return cl
}
