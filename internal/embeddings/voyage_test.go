package embeddings_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/shadowdb/shadowdb/internal/embeddings"
)

func TestVoyageEmbed_HappyPath(t *testing.T) {
	c := qt.New(t)

	var capturedAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.4,0.5]}]}`))
	}))
	defer srv.Close()

	v := embeddings.NewVoyage("voyage-3-lite", "voy-key", srv.URL, "query")
	got, err := v.Embed(context.Background(), "hello")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, []float32{0.4, 0.5})
	c.Assert(capturedAuth, qt.Equals, "Bearer voy-key")
}

func TestVoyageEmbed_FailurePath(t *testing.T) {
	c := qt.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := embeddings.NewVoyage("voyage-3-lite", "bad", srv.URL, "")
	got, err := v.Embed(context.Background(), "hello")
	c.Assert(err, qt.IsNotNil)
	c.Assert(got, qt.IsNil)
}
