// Package facade exposes the nine host-facing operations — search, get,
// getByPath, write, update, delete, undelete, ping, getPrimerContext — over
// a single configured backend, owning the Embedding Dispatcher, the
// Backend Driver, and the per-session primer injection map the way the
// spec's Plugin Facade is defined: the one component with process
// lifetime, everything else borrows references from it.
package facade

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shadowdb/shadowdb/internal/backend"
	"github.com/shadowdb/shadowdb/internal/backend/mysql"
	"github.com/shadowdb/shadowdb/internal/backend/postgres"
	"github.com/shadowdb/shadowdb/internal/backend/sqlite"
	"github.com/shadowdb/shadowdb/internal/config"
	"github.com/shadowdb/shadowdb/internal/embeddings"
	"github.com/shadowdb/shadowdb/internal/memerr"
	"github.com/shadowdb/shadowdb/internal/models"
	"github.com/shadowdb/shadowdb/internal/primer"
	"github.com/shadowdb/shadowdb/internal/redaction"
	"github.com/shadowdb/shadowdb/internal/retrieval"
	"github.com/shadowdb/shadowdb/internal/write"
)

const recentListingLimit = 20

// Facade is the single entrypoint a host embeds: it owns the backend
// connection, the embedding dispatcher, the write/lifecycle core, and the
// session injection map for primer re-emission decisions.
type Facade struct {
	backend    backend.Backend
	dispatcher *embeddings.Dispatcher
	write      *write.Core
	sessions   *primer.Sessions

	table          string
	searchOpts     retrieval.Options
	primerEnabled  bool
	primerMode     primer.InjectMode
	primerMaxChars int
	primerBudgets  []primer.ModelBudget
	primerCacheTTL time.Duration
}

// Open connects the backend named by cfg.Backend using conn, constructs the
// dispatcher and write core from cfg, and runs the retention purge once (if
// writes are enabled and a purge window is configured) before returning.
func Open(ctx context.Context, cfg *config.Config, conn string) (*Facade, error) {
	dimensions := cfg.Embedding.Dimensions
	if dimensions <= 0 {
		dimensions = embeddings.DefaultDimensions
	}

	var b backend.Backend
	var err error
	switch strings.ToLower(cfg.Backend) {
	case "postgres", "postgresql":
		b, err = postgres.Open(ctx, conn, dimensions)
	case "mysql":
		b, err = mysql.Open(ctx, conn, dimensions)
	case "sqlite", "":
		b, err = sqlite.Open(conn, dimensions)
	default:
		return nil, memerr.Wrap(memerr.ConfigMalformed, "facade.Open", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "facade.Open", err)
	}

	var dispatcher *embeddings.Dispatcher
	if cfg.Embedding.Provider != "" {
		dispatcher = embeddings.New(cfg.Embedding.ToDispatcherConfig())
	}

	table := cfg.Table
	if table == "" {
		table = backend.DefaultTable
	}

	var redactPatterns []*regexp.Regexp
	if path, err := shadowdbIgnorePath(); err == nil {
		if patterns, err := redaction.LoadShadowDBIgnore(path); err == nil {
			redactPatterns = patterns
		}
	}

	f := &Facade{
		backend:    b,
		dispatcher: dispatcher,
		sessions:   primer.NewSessions(),
		table:      table,
		searchOpts: retrieval.Options{
			Limit:         cfg.Search.MaxResults,
			MinScore:      cfg.Search.MinScore,
			Table:         table,
			VectorWeight:  cfg.Search.VectorWeight,
			TextWeight:    cfg.Search.TextWeight,
			RecencyWeight: cfg.Search.RecencyWeight,
		},
		primerEnabled:  cfg.Primer.Enabled,
		primerMode:     normalizeMode(cfg.Primer.Mode),
		primerMaxChars: cfg.Primer.MaxChars,
		primerCacheTTL: time.Duration(cfg.Primer.CacheTTLMs) * time.Millisecond,
	}
	for _, mb := range cfg.Primer.MaxCharsByModel {
		f.primerBudgets = append(f.primerBudgets, primer.ModelBudget{Substring: mb.Substring, MaxChars: mb.MaxChars})
	}

	f.write = &write.Core{
		Backend:                 b,
		Dispatcher:              dispatcher,
		AutoEmbed:               cfg.Writes.AutoEmbed,
		RetentionPurgeAfterDays: cfg.Writes.Retention.PurgeAfterDays,
		RedactPatterns:          redactPatterns,
	}

	if cfg.Writes.Enabled && cfg.Writes.Retention.PurgeAfterDays > 0 {
		if _, err := f.write.RunRetentionPurge(ctx); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// NewForTest builds a Facade directly from a backend and write core,
// bypassing Open's driver selection and connection dialing. Exported for
// tests in other packages that need a Facade over a fake backend; not
// meant for host use.
func NewForTest(b backend.Backend, w *write.Core) *Facade {
	return &Facade{
		backend:       b,
		write:         w,
		sessions:      primer.NewSessions(),
		table:         backend.DefaultTable,
		searchOpts:    retrieval.Options{Table: backend.DefaultTable},
		primerEnabled: true,
		primerMode:    primer.FirstRun,
	}
}

func normalizeMode(mode string) primer.InjectMode {
	switch primer.InjectMode(mode) {
	case primer.Always, primer.FirstRun, primer.DigestMode:
		return primer.InjectMode(mode)
	default:
		return primer.FirstRun
	}
}

func shadowdbIgnorePath() (string, error) {
	return ".shadowdbignore", nil
}

// Close releases the backend's connection pool.
func (f *Facade) Close() error {
	return f.backend.Close()
}

// Ping reports whether the backend is reachable.
func (f *Facade) Ping(ctx context.Context) bool {
	return f.backend.Ping(ctx) == nil
}

// Search runs hybrid search. maxResults <= 0 and minScore < 0 fall back to
// the facade's configured defaults.
func (f *Facade) Search(ctx context.Context, query string, maxResults int, minScore float64) ([]models.SearchResult, error) {
	opts := f.searchOpts
	if maxResults > 0 {
		opts.Limit = maxResults
	}
	if minScore >= 0 {
		opts.MinScore = minScore
	}
	return retrieval.Search(ctx, f.backend, f.dispatcher, query, opts)
}

// Get fetches a live record by id. ok is false when the record is absent
// or soft-deleted (soft-deleted records are invisible to reads).
func (f *Facade) Get(ctx context.Context, id int64) (*models.GetResult, bool, error) {
	mem, err := f.backend.Get(ctx, id)
	if err != nil {
		return nil, false, memerr.Wrap(memerr.BackendUnavailable, "facade.Get", err)
	}
	if mem == nil || !mem.Live() {
		return nil, false, nil
	}
	return &models.GetResult{Text: mem.Content, Path: mem.VirtualPath()}, true, nil
}

// GetByPath resolves the virtual path grammar: "shadowdb/{category}/{id}"
// fetches one record, "shadowdb/{category}" and bare "shadowdb" list the
// most recent records in or across categories. from/lines (both optional,
// 1-based, inclusive) slice the resolved text by line when set.
func (f *Facade) GetByPath(ctx context.Context, path string, from, lines *int) (*models.GetResult, error) {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) == 0 || segments[0] != "shadowdb" {
		return nil, memerr.Wrap(memerr.InvalidInput, "facade.GetByPath", fmt.Errorf("path must start with shadowdb"))
	}
	segments = segments[1:]

	var result *models.GetResult
	switch len(segments) {
	case 0:
		r, err := f.listRecent(ctx, "")
		if err != nil {
			return nil, err
		}
		result = r
	case 1:
		last := segments[0]
		if last != "" && isAllDigits(last) {
			return nil, memerr.Wrap(memerr.InvalidInput, "facade.GetByPath", fmt.Errorf("a bare id requires a category segment"))
		}
		r, err := f.listRecent(ctx, last)
		if err != nil {
			return nil, err
		}
		result = r
	case 2:
		category, idStr := segments[0], segments[1]
		if !isAllDigits(idStr) {
			return nil, memerr.Wrap(memerr.InvalidInput, "facade.GetByPath", fmt.Errorf("final path segment must be a record id"))
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, memerr.Wrap(memerr.InvalidInput, "facade.GetByPath", err)
		}
		got, ok, err := f.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, memerr.Wrap(memerr.NotFound, "facade.GetByPath", nil)
		}
		if got.Path != "shadowdb/"+category+"/"+idStr {
			return nil, memerr.Wrap(memerr.NotFound, "facade.GetByPath", fmt.Errorf("record %d is not in category %q", id, category))
		}
		result = got
	default:
		return nil, memerr.Wrap(memerr.InvalidInput, "facade.GetByPath", fmt.Errorf("too many path segments"))
	}

	result.Text = sliceLines(result.Text, from, lines)
	return result, nil
}

func (f *Facade) listRecent(ctx context.Context, category string) (*models.GetResult, error) {
	rows, err := f.backend.ListRecent(ctx, category, recentListingLimit)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "facade.GetByPath", err)
	}
	path := "shadowdb"
	if category != "" {
		path = "shadowdb/" + category
	}
	var b strings.Builder
	for i, m := range rows {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s", m.VirtualPath(), m.Content)
	}
	return &models.GetResult{Text: b.String(), Path: path}, nil
}

// Write, Update, Delete, and Undelete delegate directly to the write core.
func (f *Facade) Write(ctx context.Context, in write.Input) (*models.WriteResult, error) {
	return f.write.Write(ctx, in)
}

func (f *Facade) Update(ctx context.Context, id int64, in write.Input) (*models.WriteResult, error) {
	return f.write.Update(ctx, id, in)
}

func (f *Facade) Delete(ctx context.Context, id int64) (*models.WriteResult, error) {
	return f.write.Delete(ctx, id)
}

func (f *Facade) Undelete(ctx context.Context, id int64) (*models.WriteResult, error) {
	return f.write.Undelete(ctx, id)
}

// Reindex re-embeds every live record through the configured dispatcher.
// It is a maintenance operation, not one of the nine host-facing
// operations, and is meant to be driven from the CLI only.
func (f *Facade) Reindex(ctx context.Context, batchSize int, progress func(done int)) (*write.ReindexResult, error) {
	return f.write.Reindex(ctx, batchSize, progress)
}

// PrimerEnvelope is the host-facing primer bundle: the rendered text and
// metadata needed to build the `<primer-context>` wrapper.
type PrimerEnvelope struct {
	Text      string
	Digest    string
	Truncated bool
}

// GetPrimerContext assembles primer context and, if sessionKey is
// non-empty, consults the session map to decide whether this turn should
// actually (re)inject it. model is matched against the configured
// per-model character budgets; an empty model uses the flat maxChars
// config or primer.DefaultMaxChars. Returns (nil, false) whenever primer
// injection is disabled, there is nothing to show, or the inject policy
// says skip.
func (f *Facade) GetPrimerContext(ctx context.Context, sessionKey, model string) (*PrimerEnvelope, bool) {
	if !f.primerEnabled {
		return nil, false
	}

	maxChars := f.primerMaxChars
	if model != "" && len(f.primerBudgets) > 0 {
		maxChars = primer.MaxCharsForModel(model, f.primerBudgets)
	}

	assembled, err := primer.Assemble(ctx, f.backend, maxChars)
	if err != nil || assembled == nil {
		return nil, false
	}

	if sessionKey != "" {
		if !f.sessions.CheckAndRecord(f.primerMode, sessionKey, assembled.Digest, f.primerCacheTTL, time.Now()) {
			return nil, false
		}
	}

	return &PrimerEnvelope{Text: assembled.Text, Digest: assembled.Digest, Truncated: assembled.Truncated}, true
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// sliceLines applies an optional 1-based, inclusive [from, from+lines) line
// range to text. Both from and lines are optional; either or both being nil
// leaves that bound unconstrained.
func sliceLines(text string, from, lines *int) string {
	if from == nil && lines == nil {
		return text
	}
	all := strings.Split(text, "\n")

	start := 0
	if from != nil && *from > 1 {
		start = *from - 1
	}
	if start > len(all) {
		start = len(all)
	}

	end := len(all)
	if lines != nil {
		want := start + *lines
		if want < end {
			end = want
		}
	}
	if end < start {
		end = start
	}

	return strings.Join(all[start:end], "\n")
}
