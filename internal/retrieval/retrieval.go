// Package retrieval implements hybrid search over a backend.Backend: vector,
// lexical, and fuzzy legs fused by Reciprocal Rank Fusion, with a recency
// boost applied over the fused candidate set.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shadowdb/shadowdb/internal/backend"
	"github.com/shadowdb/shadowdb/internal/embeddings"
	"github.com/shadowdb/shadowdb/internal/memerr"
	"github.com/shadowdb/shadowdb/internal/models"
)

// RRF tuning constants. k is the standard Reciprocal Rank Fusion damping
// constant; the per-leg weights reflect how much each signal is trusted
// relative to the others.
const (
	RRFK = 60

	VectorWeight   = 0.7
	TextWeight     = 0.3
	FuzzyWeight    = 0.2
	RecencyWeight  = 0.15
	MinScoreFloor  = 0.001
	OverfetchRatio = 5

	SnippetChars = 700
)

// Options configures a Search call.
type Options struct {
	Limit         int
	MinScore      float64 // combined with MinScoreFloor via max()
	Table         string  // used to build the citation; defaults to backend.DefaultTable
	VectorWeight  float64 // 0 means VectorWeight
	TextWeight    float64 // 0 means TextWeight
	RecencyWeight float64 // 0 means RecencyWeight
}

// candidate accumulates RRF contributions for one record across legs.
type candidate struct {
	hit   models.RankedHit
	score float64
}

// Search runs the vector/text/fuzzy legs against b (vector only when
// dispatcher is non-nil), fuses them via RRF, applies a recency boost, and
// returns the top Options.Limit hits above the score floor. A configured
// dispatcher that fails to embed the query propagates its error to the
// caller rather than silently degrading — only an absent dispatcher skips
// the vector leg. A failing text or fuzzy leg, by contrast, contributes
// nothing and never fails the call; search still returns whatever the
// other legs found.
func Search(ctx context.Context, b backend.Backend, dispatcher *embeddings.Dispatcher, query string, opts Options) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, memerr.Wrap(memerr.EmptyQuery, "retrieval.Search", nil)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	fetchN := limit * OverfetchRatio

	vectorWeight, textWeight, recencyWeight := opts.VectorWeight, opts.TextWeight, opts.RecencyWeight
	if vectorWeight <= 0 {
		vectorWeight = VectorWeight
	}
	if textWeight <= 0 {
		textWeight = TextWeight
	}
	if recencyWeight <= 0 {
		recencyWeight = RecencyWeight
	}

	table := opts.Table
	if table == "" {
		table = backend.DefaultTable
	}

	combined := make(map[int64]*candidate)

	if dispatcher != nil {
		vec, err := dispatcher.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		if hits, err := b.VectorSearch(ctx, vec, fetchN); err == nil {
			fuse(combined, hits, vectorWeight)
		}
	}

	if hits, err := b.TextSearch(ctx, query, fetchN); err == nil {
		fuse(combined, hits, textWeight)
	}

	if hits, err := b.FuzzySearch(ctx, query, fetchN); err == nil {
		fuse(combined, hits, FuzzyWeight)
	}

	applyRecencyBoost(combined, recencyWeight)

	floor := opts.MinScore
	if floor < MinScoreFloor {
		floor = MinScoreFloor
	}

	now := time.Now()
	results := make([]models.SearchResult, 0, len(combined))
	for _, c := range combined {
		if c.score <= floor {
			continue
		}
		results = append(results, toSearchResult(c, table, now))
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// fuse adds weight/(RRFK+rank) to each hit's running score, keyed by ID.
// hit.Rank is 1-based and best-first, as every backend.Backend leg returns.
func fuse(combined map[int64]*candidate, hits []models.RankedHit, weight float64) {
	for _, hit := range hits {
		c, ok := combined[hit.ID]
		if !ok {
			c = &candidate{hit: hit}
			combined[hit.ID] = c
		}
		c.score += weight / float64(RRFK+hit.Rank)
	}
}

// applyRecencyBoost ranks the fused candidate set by CreatedAt (most recent
// first, hits with no timestamp ranked last) and adds a further RRF term
// using that rank — recency is a boost over the union of the other legs'
// results, not a fourth backend query.
func applyRecencyBoost(combined map[int64]*candidate, recencyWeight float64) {
	ordered := make([]*candidate, 0, len(combined))
	for _, c := range combined {
		ordered = append(ordered, c)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.hit.HasCreated != b.hit.HasCreated {
			return a.hit.HasCreated
		}
		return a.hit.CreatedAt.After(b.hit.CreatedAt)
	})
	for i, c := range ordered {
		if !c.hit.HasCreated {
			continue
		}
		c.score += recencyWeight / float64(RRFK+i+1)
	}
}

func toSearchResult(c *candidate, table string, now time.Time) models.SearchResult {
	path := virtualPath(c.hit.ID, c.hit.Category)
	category := c.hit.Category
	if category == "" {
		category = models.DefaultCategory
	}
	return models.SearchResult{
		VirtualPath: path,
		Score:       c.score,
		Snippet:     snippet(category, c.hit.Content, c.hit.CreatedAt, c.hit.HasCreated, now),
		Source:      "hybrid",
		Citation:    fmt.Sprintf("shadowdb:%s#%d", table, c.hit.ID),
	}
}

func virtualPath(id int64, category string) string {
	if category == "" {
		category = models.DefaultCategory
	}
	return "shadowdb/" + category + "/" + strconv.FormatInt(id, 10)
}

// snippet renders the "[{category}] | {relative_age}" header on its own
// line followed by up to SnippetChars characters of content.
func snippet(category, content string, createdAt time.Time, hasCreated bool, now time.Time) string {
	age := "unknown age"
	if hasCreated {
		age = relativeAge(now.Sub(createdAt))
	}
	header := "[" + category + "] | " + age

	r := []rune(strings.TrimSpace(content))
	body := string(r)
	if len(r) > SnippetChars {
		body = string(r[:SnippetChars]) + "…"
	}
	return header + "\n" + body
}

// relativeAge formats d the way a host-facing snippet header expects:
// "just now" under a minute, then minutes, hours (under a day), days
// (under two weeks), weeks (under nine), months (under a year), years.
func relativeAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 14*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	case d < 9*7*24*time.Hour:
		return fmt.Sprintf("%dw ago", int(d/(7*24*time.Hour)))
	case d < 12*30*24*time.Hour:
		return fmt.Sprintf("%dmo ago", int(d/(30*24*time.Hour)))
	default:
		return fmt.Sprintf("%dy ago", int(d/(365*24*time.Hour)))
	}
}
