// Package sqlite implements the backend.Backend contract on top of SQLite,
// using FTS5 for lexical search and sqlite-vec for approximate nearest
// neighbour vector search.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver with database/sql

	"github.com/shadowdb/shadowdb/internal/backend"
	"github.com/shadowdb/shadowdb/internal/memerr"
	"github.com/shadowdb/shadowdb/internal/models"
)

func init() { //nolint:gochecknoinits // registers sqlite-vec extension with go-sqlite3 before any connection opens
	vec.Auto()
}

// Backend wraps a *sql.DB opened against a SQLite file.
type Backend struct {
	db  *sql.DB
	dim int // vector dimension once known; 0 until EnsureVectorTable
}

var _ backend.Backend = (*Backend)(nil)

// Open opens (or creates) the SQLite database at path, applies the schema,
// and returns a ready Backend. dimensions, when > 0, creates the vec0
// virtual table up front; pass 0 to defer it until the first embedding
// arrives via EnsureVectorTable.
func Open(path string, dimensions int) (*Backend, error) {
	dsn := path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.Open", err)
	}
	sqldb.SetMaxOpenConns(backend.MaxOpenConns)
	sqldb.SetConnMaxIdleTime(backend.MaxIdleTime)

	b := &Backend{db: sqldb}
	if err := b.createSchema(); err != nil {
		_ = sqldb.Close()
		return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.Open createSchema", err)
	}
	if dimensions > 0 {
		if err := b.EnsureVectorTable(dimensions); err != nil {
			_ = sqldb.Close()
			return nil, err
		}
	}
	return b, nil
}

// Ping verifies the underlying connection is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "sqlite.Ping", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (b *Backend) Close() error { return b.db.Close() }

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

func (b *Backend) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			content    TEXT NOT NULL,
			title      TEXT,
			category   TEXT NOT NULL DEFAULT 'general',
			record_type TEXT NOT NULL DEFAULT 'fact',
			tags       TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT,
			primer     INTEGER NOT NULL DEFAULT 0,
			priority   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			title, content, category, tags,
			content='memories', content_rowid='id',
			tokenize='porter unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, title, content, category, tags)
			VALUES (new.id, new.title, new.content, new.category, new.tags);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, title, content, category, tags)
			VALUES ('delete', old.id, old.title, old.content, old.category, old.tags);
			INSERT INTO memories_fts(rowid, title, content, category, tags)
			VALUES (new.id, new.title, new.content, new.category, new.tags);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, title, content, category, tags)
			VALUES ('delete', old.id, old.title, old.content, old.category, old.tags);
		END`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := b.db.Exec(s); err != nil {
			return fmt.Errorf("createSchema exec: %w\nSQL: %s", err, s)
		}
	}

	if dim, ok, err := b.embeddingDim(); err == nil && ok {
		if err := b.createVecTable(dim); err != nil {
			return fmt.Errorf("createSchema createVecTable: %w", err)
		}
		b.dim = dim
	}
	return nil
}

func (b *Backend) createVecTable(dim int) error {
	_, err := b.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_vec USING vec0(
			rowid INTEGER PRIMARY KEY,
			embedding float[%d]
		)`, dim,
	))
	return err
}

func (b *Backend) hasVecTable() (bool, error) {
	var name string
	err := b.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name='memories_vec'`,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) embeddingDim() (int, bool, error) {
	val, ok, err := b.getMeta("embedding_dim")
	if !ok || err != nil {
		return 0, false, err
	}
	var dim int
	if _, err := fmt.Sscanf(val, "%d", &dim); err != nil {
		return 0, false, err
	}
	return dim, true, nil
}

// EnsureVectorTable creates the vec0 table with the given dimension if it
// does not already exist, and returns a *memerr.DimensionMismatchError
// (wrapped under memerr.DimensionMismatch) if a different dimension was
// already persisted.
func (b *Backend) EnsureVectorTable(dim int) error {
	stored, ok, err := b.embeddingDim()
	if err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "sqlite.EnsureVectorTable", err)
	}
	if !ok {
		if err := b.setMeta("embedding_dim", fmt.Sprintf("%d", dim)); err != nil {
			return memerr.Wrap(memerr.BackendUnavailable, "sqlite.EnsureVectorTable", err)
		}
		if err := b.createVecTable(dim); err != nil {
			return memerr.Wrap(memerr.BackendUnavailable, "sqlite.EnsureVectorTable", err)
		}
		b.dim = dim
		return nil
	}
	if stored != dim {
		return &memerr.DimensionMismatchError{Expected: stored, Observed: dim, Label: "sqlite store"}
	}
	b.dim = dim
	return nil
}

func (b *Backend) getMeta(key string) (string, bool, error) {
	var val string
	err := b.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (b *Backend) setMeta(key, value string) error {
	_, err := b.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value)
	return err
}

// ---------------------------------------------------------------------------
// CRUD
// ---------------------------------------------------------------------------

// Insert creates a new row and returns the assigned ID.
func (b *Backend) Insert(ctx context.Context, mem *models.Memory) (int64, error) {
	tagsJSON, err := json.Marshal(mem.Tags)
	if err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO memories (content, title, category, record_type, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mem.Content, mem.Title, mem.Category, mem.RecordType, string(tagsJSON),
		mem.CreatedAt.UTC().Format(time.RFC3339Nano), mem.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, memerr.Wrap(memerr.BackendUnavailable, "sqlite.Insert", err)
	}
	return res.LastInsertId()
}

// Get fetches one row by exact ID, live or deleted.
func (b *Backend) Get(ctx context.Context, id int64) (*models.Memory, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, content, title, category, record_type, tags, created_at, updated_at, deleted_at
		FROM memories WHERE id = ?`, id)
	mem, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.Get", err)
	}
	return mem, nil
}

// GetMeta fetches just the ID and DeletedAt of a row.
func (b *Backend) GetMeta(ctx context.Context, id int64) (*models.RecordMeta, error) {
	var deletedAt sql.NullString
	err := b.db.QueryRowContext(ctx, `SELECT deleted_at FROM memories WHERE id = ?`, id).Scan(&deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.GetMeta", err)
	}
	meta := &models.RecordMeta{ID: id}
	if deletedAt.Valid && deletedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, deletedAt.String)
		if err == nil {
			meta.DeletedAt = &t
		}
	}
	return meta, nil
}

// Update applies a non-empty patch to a live row.
func (b *Backend) Update(ctx context.Context, id int64, patch models.Patch) error {
	meta, err := b.GetMeta(ctx, id)
	if err != nil {
		return err
	}
	if meta == nil {
		return memerr.Wrap(memerr.NotFound, "sqlite.Update", nil)
	}
	if meta.DeletedAt != nil {
		return memerr.Wrap(memerr.Deleted, "sqlite.Update", nil)
	}

	sets := []string{"updated_at = ?"}
	params := []any{time.Now().UTC().Format(time.RFC3339Nano)}
	if patch.Content != nil {
		sets = append(sets, "content = ?")
		params = append(params, *patch.Content)
	}
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		params = append(params, *patch.Title)
	}
	if patch.Category != nil {
		sets = append(sets, "category = ?")
		params = append(params, *patch.Category)
	}
	if patch.Tags != nil {
		tagsJSON, err := json.Marshal(patch.Tags)
		if err != nil {
			return err
		}
		sets = append(sets, "tags = ?")
		params = append(params, string(tagsJSON))
	}
	params = append(params, id)
	q := "UPDATE memories SET " + strings.Join(sets, ", ") + " WHERE id = ?" // #nosec G202 -- SET clause columns are hardcoded; values flow through ? bound parameters
	if _, err := b.db.ExecContext(ctx, q, params...); err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "sqlite.Update", err)
	}
	return nil
}

// StoreEmbedding persists a vector for an existing row.
func (b *Backend) StoreEmbedding(ctx context.Context, id int64, vector []float32) error {
	ok, err := b.hasVecTable()
	if err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "sqlite.StoreEmbedding", err)
	}
	if !ok {
		if err := b.EnsureVectorTable(len(vector)); err != nil {
			return err
		}
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memories_vec (rowid, embedding) VALUES (?, ?)`,
		id, float32sToBytes(vector),
	)
	if err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "sqlite.StoreEmbedding", err)
	}
	return nil
}

// SoftDelete sets deleted_at on a live row.
func (b *Backend) SoftDelete(ctx context.Context, id int64) error {
	meta, err := b.GetMeta(ctx, id)
	if err != nil {
		return err
	}
	if meta == nil {
		return memerr.Wrap(memerr.NotFound, "sqlite.SoftDelete", nil)
	}
	if meta.DeletedAt != nil {
		return nil
	}
	_, err = b.db.ExecContext(ctx, `UPDATE memories SET deleted_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "sqlite.SoftDelete", err)
	}
	return nil
}

// Restore clears deleted_at on a soft-deleted row.
func (b *Backend) Restore(ctx context.Context, id int64) error {
	meta, err := b.GetMeta(ctx, id)
	if err != nil {
		return err
	}
	if meta == nil {
		return memerr.Wrap(memerr.NotFound, "sqlite.Restore", nil)
	}
	if meta.DeletedAt == nil {
		return nil
	}
	_, err = b.db.ExecContext(ctx, `UPDATE memories SET deleted_at = NULL WHERE id = ?`, id)
	if err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "sqlite.Restore", err)
	}
	return nil
}

// PurgeExpired hard-deletes soft-deleted rows older than cutoff.
func (b *Backend) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, memerr.Wrap(memerr.BackendUnavailable, "sqlite.PurgeExpired", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, memerr.Wrap(memerr.BackendUnavailable, "sqlite.PurgeExpired", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, memerr.Wrap(memerr.BackendUnavailable, "sqlite.PurgeExpired", err)
	}

	for _, id := range ids {
		if _, err := b.db.ExecContext(ctx, `DELETE FROM memories_vec WHERE rowid = ?`, id); err != nil {
			continue // vec table may not exist; best-effort cleanup
		}
	}
	if len(ids) > 0 {
		if _, err := b.db.ExecContext(ctx,
			`DELETE FROM memories WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
			cutoff.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return 0, memerr.Wrap(memerr.BackendUnavailable, "sqlite.PurgeExpired", err)
		}
	}
	return len(ids), nil
}

// ---------------------------------------------------------------------------
// Read paths
// ---------------------------------------------------------------------------

// ListRecent returns up to limit live rows ordered by created_at desc.
func (b *Backend) ListRecent(ctx context.Context, category string, limit int) ([]models.Memory, error) {
	q := `SELECT id, content, title, category, record_type, tags, created_at, updated_at, deleted_at
		FROM memories WHERE deleted_at IS NULL`
	var params []any
	if category != "" {
		q += " AND category = ?"
		params = append(params, category)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	params = append(params, limit)

	rows, err := b.db.QueryContext(ctx, q, params...) // #nosec G202 -- WHERE clause uses hardcoded column names only; values flow through ? bound parameters
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.ListRecent", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListAll returns up to limit live rows with id > afterID, ordered by id
// ascending, for keyset-paginated reindex sweeps.
func (b *Backend) ListAll(ctx context.Context, afterID int64, limit int) ([]models.Memory, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, content, title, category, record_type, tags, created_at, updated_at, deleted_at
		FROM memories WHERE deleted_at IS NULL AND id > ?
		ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.ListAll", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListForPrimer returns every live row flagged primer=1, ordered by
// priority ascending then key (category) ascending.
func (b *Backend) ListForPrimer(ctx context.Context) ([]models.PrimerRow, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, category, content, priority
		FROM memories
		WHERE deleted_at IS NULL AND primer = 1
		ORDER BY priority ASC, category ASC`)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.ListForPrimer", err)
	}
	defer rows.Close()

	var out []models.PrimerRow
	for rows.Next() {
		var id int64
		var category, content string
		var priority int
		if err := rows.Scan(&id, &category, &content, &priority); err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.ListForPrimer", err)
		}
		out = append(out, models.PrimerRow{
			Key:      category,
			Content:  content,
			Priority: priority,
			Enabled:  true,
		})
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

// TextSearch runs an FTS5 BM25 query over title/content/category/tags.
func (b *Backend) TextSearch(ctx context.Context, query string, limit int) ([]models.RankedHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	ftsQuery := ftsMatchExpr(query)

	rows, err := b.db.QueryContext(ctx, `
		SELECT m.id, m.category, m.title, m.content, m.created_at, -fts.rank AS score
		FROM memories_fts fts
		JOIN memories m ON m.id = fts.rowid
		WHERE fts.memories_fts MATCH ? AND m.deleted_at IS NULL
		ORDER BY fts.rank
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.TextSearch", err)
	}
	defer rows.Close()
	return scanRankedHits(rows)
}

// FuzzySearch reuses the FTS5 index with a looser, prefix-only expansion;
// SQLite has no dedicated trigram extension wired in, so this is the
// nearest approximation available to the driver.
func (b *Backend) FuzzySearch(ctx context.Context, query string, limit int) ([]models.RankedHit, error) {
	return b.TextSearch(ctx, query, limit)
}

// VectorSearch runs an approximate nearest-neighbour query via sqlite-vec.
func (b *Backend) VectorSearch(ctx context.Context, queryVec []float32, limit int) ([]models.RankedHit, error) {
	ok, err := b.hasVecTable()
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.VectorSearch", err)
	}
	if !ok {
		return nil, nil
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT m.id, m.category, m.title, m.content, m.created_at, v.distance
		FROM memories_vec v
		JOIN memories m ON m.id = v.rowid
		WHERE v.embedding MATCH ? AND k = ? AND m.deleted_at IS NULL
		ORDER BY v.distance`,
		float32sToBytes(queryVec), limit,
	)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.VectorSearch", err)
	}
	defer rows.Close()
	return scanRankedHits(rows)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func ftsMatchExpr(query string) string {
	terms := strings.Fields(query)
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"*`
	}
	return strings.Join(parts, " OR ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*models.Memory, error) {
	var mem models.Memory
	var title, tagsJSON sql.NullString
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	if err := row.Scan(&mem.ID, &mem.Content, &title, &mem.Category, &mem.RecordType,
		&tagsJSON, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	mem.Title = title.String
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &mem.Tags)
	}
	mem.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	mem.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if deletedAt.Valid && deletedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, deletedAt.String)
		if err == nil {
			mem.DeletedAt = &t
		}
	}
	return &mem, nil
}

func scanMemories(rows *sql.Rows) ([]models.Memory, error) {
	var out []models.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.scanMemories", err)
		}
		out = append(out, *mem)
	}
	return out, rows.Err()
}

func scanRankedHits(rows *sql.Rows) ([]models.RankedHit, error) {
	var out []models.RankedHit
	rank := 0
	for rows.Next() {
		rank++
		var hit models.RankedHit
		var createdAt string
		if err := rows.Scan(&hit.ID, &hit.Category, &hit.Title, &hit.Content, &createdAt, &hit.RawScore); err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "sqlite.scanRankedHits", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			hit.CreatedAt = t
			hit.HasCreated = true
		}
		hit.Rank = rank
		out = append(out, hit)
	}
	return out, rows.Err()
}

func float32sToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
