// Package backend defines the polymorphic storage interface implemented by
// the sqlite, postgres, and mysql drivers, plus the shared pool defaults
// every driver applies to its underlying *sql.DB.
package backend

import (
	"context"
	"time"

	"github.com/shadowdb/shadowdb/internal/models"
)

// Pool defaults applied uniformly by every driver. A single shadowdb process
// is expected to serve one host at a time, so the pool stays small.
const (
	MaxOpenConns   = 3
	MaxIdleTime    = 30 * time.Second
	ConnectTimeout = 5 * time.Second
	DefaultTable   = "memories"
)

// Backend is the storage contract a driver (sqlite, postgres, mysql) must
// satisfy. All methods operate on live and soft-deleted rows except where
// documented otherwise; callers apply the deleted_at filter semantics they
// need at the call site.
type Backend interface {
	// Ping verifies connectivity and that the schema is usable.
	Ping(ctx context.Context) error
	// Close releases the underlying connection pool.
	Close() error

	// Insert creates a new row and returns the assigned ID. CreatedAt and
	// UpdatedAt on mem are used verbatim; callers set them before calling.
	Insert(ctx context.Context, mem *models.Memory) (int64, error)

	// Get fetches one live-or-deleted row by exact ID. Returns
	// (nil, nil) when no such row exists.
	Get(ctx context.Context, id int64) (*models.Memory, error)

	// GetMeta fetches just the ID and DeletedAt of a row, for state-machine
	// checks that don't need the full content. Returns (nil, nil) when no
	// such row exists.
	GetMeta(ctx context.Context, id int64) (*models.RecordMeta, error)

	// Update applies a non-empty patch to a live row. Returns memerr.NotFound
	// (wrapped) when the row doesn't exist, and memerr.Deleted (wrapped)
	// when it exists but is soft-deleted.
	Update(ctx context.Context, id int64, patch models.Patch) error

	// StoreEmbedding persists a vector for an existing row. It is a
	// best-effort, separate step from Insert/Update so embedding failures
	// never block the write they accompany.
	StoreEmbedding(ctx context.Context, id int64, vector []float32) error

	// SoftDelete sets deleted_at on a live row. Returns memerr.NotFound if
	// the row doesn't exist; is a no-op (nil error) if already deleted.
	SoftDelete(ctx context.Context, id int64) error

	// Restore clears deleted_at on a soft-deleted row. Returns
	// memerr.NotFound if the row doesn't exist; is a no-op if already live.
	Restore(ctx context.Context, id int64) error

	// PurgeExpired hard-deletes rows whose deleted_at is older than cutoff.
	// Returns the number of rows removed.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)

	// ListRecent returns up to limit live rows ordered by created_at desc,
	// optionally filtered by category (ignored when empty).
	ListRecent(ctx context.Context, category string, limit int) ([]models.Memory, error)

	// ListAll returns every live row ordered by id ascending, for a full
	// reindex sweep. afterID paginates: pass 0 for the first page, then the
	// last returned row's ID to fetch the next; an empty result means the
	// sweep is complete.
	ListAll(ctx context.Context, afterID int64, limit int) ([]models.Memory, error)

	// ListForPrimer returns every live row flagged for primer inclusion,
	// ordered by priority ascending then key ascending. Backends without a dedicated
	// primer flag treat every live row as eligible.
	ListForPrimer(ctx context.Context) ([]models.PrimerRow, error)

	// VectorSearch ranks live rows by similarity to queryVec, best-first,
	// returning up to limit hits. Backends without vector support return
	// (nil, nil).
	VectorSearch(ctx context.Context, queryVec []float32, limit int) ([]models.RankedHit, error)

	// TextSearch ranks live rows by lexical relevance to query, best-first,
	// returning up to limit hits.
	TextSearch(ctx context.Context, query string, limit int) ([]models.RankedHit, error)

	// FuzzySearch ranks live rows by approximate/trigram similarity to
	// query, best-first, returning up to limit hits. Backends without a
	// dedicated fuzzy index may satisfy this with a looser TextSearch.
	FuzzySearch(ctx context.Context, query string, limit int) ([]models.RankedHit, error)
}
