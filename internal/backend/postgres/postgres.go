// Package postgres implements the backend.Backend contract on top of
// PostgreSQL with the pgvector extension for similarity search, a tsvector
// column for lexical search, and pg_trgm for fuzzy search.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/shadowdb/shadowdb/internal/backend"
	"github.com/shadowdb/shadowdb/internal/memerr"
	"github.com/shadowdb/shadowdb/internal/models"
)

// Backend wraps a *pgxpool.Pool opened against a PostgreSQL database.
type Backend struct {
	pool  *pgxpool.Pool
	table string
	dim   int
}

var _ backend.Backend = (*Backend)(nil)

// Open connects to dsn, caps the pool per backend.MaxOpenConns, and ensures
// the schema (table, indexes, pgvector/pg_trgm extensions) exists.
// dimensions must be > 0: unlike SQLite, the column type is fixed at
// creation time and cannot be deferred.
func Open(ctx context.Context, dsn string, dimensions int) (*Backend, error) {
	cfg, err := pgxpool.ParseConfig(DSNWithDefaults(dsn))
	if err != nil {
		return nil, memerr.Wrap(memerr.ConfigMalformed, "postgres.Open", err)
	}
	cfg.MaxConns = backend.MaxOpenConns
	cfg.MaxConnIdleTime = backend.MaxIdleTime
	cfg.ConnConfig.ConnectTimeout = backend.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.Open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.Open ping", err)
	}

	b := &Backend{pool: pool, table: backend.DefaultTable, dim: dimensions}
	if err := b.createSchema(ctx); err != nil {
		pool.Close()
		return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.Open createSchema", err)
	}
	return b, nil
}

func (b *Backend) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          BIGSERIAL PRIMARY KEY,
			content     TEXT NOT NULL,
			title       TEXT,
			category    TEXT NOT NULL DEFAULT 'general',
			record_type TEXT NOT NULL DEFAULT 'fact',
			tags        JSONB,
			embedding   vector(%d),
			content_tsv TSVECTOR,
			primer      BOOLEAN NOT NULL DEFAULT FALSE,
			priority    INTEGER NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			deleted_at  TIMESTAMPTZ
		)`, b.table, b.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tsv_idx ON %s USING GIN (content_tsv)`, b.table, b.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_trgm_idx ON %s USING GIN (content gin_trgm_ops)`, b.table, b.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, b.table, b.table),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s_tsv_trigger() RETURNS trigger AS $$
			BEGIN
				new.content_tsv := to_tsvector('english', coalesce(new.title, '') || ' ' || new.content);
				RETURN new;
			END
		$$ LANGUAGE plpgsql`, b.table),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_tsv_update ON %s`, b.table, b.table),
		fmt.Sprintf(`CREATE TRIGGER %s_tsv_update BEFORE INSERT OR UPDATE ON %s
			FOR EACH ROW EXECUTE FUNCTION %s_tsv_trigger()`, b.table, b.table, b.table),
	}
	for _, s := range stmts {
		if _, err := b.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("exec: %w\nSQL: %s", err, s)
		}
	}
	return nil
}

// Ping verifies connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "postgres.Ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

// Insert creates a new row and returns the assigned ID.
func (b *Backend) Insert(ctx context.Context, mem *models.Memory) (int64, error) {
	tagsJSON, err := json.Marshal(mem.Tags)
	if err != nil {
		return 0, err
	}
	var id int64
	q := fmt.Sprintf(`INSERT INTO %s (content, title, category, record_type, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`, b.table)
	err = b.pool.QueryRow(ctx, q, mem.Content, mem.Title, mem.Category, mem.RecordType,
		string(tagsJSON), mem.CreatedAt, mem.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, memerr.Wrap(memerr.BackendUnavailable, "postgres.Insert", err)
	}
	return id, nil
}

// Get fetches one row by exact ID, live or deleted.
func (b *Backend) Get(ctx context.Context, id int64) (*models.Memory, error) {
	q := fmt.Sprintf(`SELECT id, content, title, category, record_type, tags, created_at, updated_at, deleted_at
		FROM %s WHERE id = $1`, b.table)
	row := b.pool.QueryRow(ctx, q, id)
	mem, err := scanMemory(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.Get", err)
	}
	return mem, nil
}

// GetMeta fetches just the ID and DeletedAt of a row.
func (b *Backend) GetMeta(ctx context.Context, id int64) (*models.RecordMeta, error) {
	q := fmt.Sprintf(`SELECT deleted_at FROM %s WHERE id = $1`, b.table)
	var deletedAt *time.Time
	err := b.pool.QueryRow(ctx, q, id).Scan(&deletedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.GetMeta", err)
	}
	return &models.RecordMeta{ID: id, DeletedAt: deletedAt}, nil
}

// Update applies a non-empty patch to a live row.
func (b *Backend) Update(ctx context.Context, id int64, patch models.Patch) error {
	meta, err := b.GetMeta(ctx, id)
	if err != nil {
		return err
	}
	if meta == nil {
		return memerr.Wrap(memerr.NotFound, "postgres.Update", nil)
	}
	if meta.DeletedAt != nil {
		return memerr.Wrap(memerr.Deleted, "postgres.Update", nil)
	}

	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	next := 2
	if patch.Content != nil {
		sets = append(sets, fmt.Sprintf("content = $%d", next))
		args = append(args, *patch.Content)
		next++
	}
	if patch.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", next))
		args = append(args, *patch.Title)
		next++
	}
	if patch.Category != nil {
		sets = append(sets, fmt.Sprintf("category = $%d", next))
		args = append(args, *patch.Category)
		next++
	}
	if patch.Tags != nil {
		tagsJSON, err := json.Marshal(patch.Tags)
		if err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("tags = $%d", next))
		args = append(args, string(tagsJSON))
		next++
	}
	args = append(args, id)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", b.table, strings.Join(sets, ", "), next) // #nosec G202 -- SET clause columns are hardcoded; values flow through $N bound parameters
	if _, err := b.pool.Exec(ctx, q, args...); err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "postgres.Update", err)
	}
	return nil
}

// StoreEmbedding persists a vector for an existing row.
func (b *Backend) StoreEmbedding(ctx context.Context, id int64, vector []float32) error {
	q := fmt.Sprintf(`UPDATE %s SET embedding = $1 WHERE id = $2`, b.table)
	if _, err := b.pool.Exec(ctx, q, pgvector.NewVector(vector), id); err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "postgres.StoreEmbedding", err)
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
		return memerr.Wrap(memerr.NotFound, "postgres.SoftDelete", nil)
	}
	if meta.DeletedAt != nil {
		return nil
	}
	q := fmt.Sprintf(`UPDATE %s SET deleted_at = $1 WHERE id = $2`, b.table)
	if _, err := b.pool.Exec(ctx, q, time.Now().UTC(), id); err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "postgres.SoftDelete", err)
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
		return memerr.Wrap(memerr.NotFound, "postgres.Restore", nil)
	}
	if meta.DeletedAt == nil {
		return nil
	}
	q := fmt.Sprintf(`UPDATE %s SET deleted_at = NULL WHERE id = $1`, b.table)
	if _, err := b.pool.Exec(ctx, q, id); err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "postgres.Restore", err)
	}
	return nil
}

// PurgeExpired hard-deletes soft-deleted rows older than cutoff.
func (b *Backend) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE deleted_at IS NOT NULL AND deleted_at < $1`, b.table)
	tag, err := b.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, memerr.Wrap(memerr.BackendUnavailable, "postgres.PurgeExpired", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListRecent returns up to limit live rows ordered by created_at desc.
func (b *Backend) ListRecent(ctx context.Context, category string, limit int) ([]models.Memory, error) {
	q := fmt.Sprintf(`SELECT id, content, title, category, record_type, tags, created_at, updated_at, deleted_at
		FROM %s WHERE deleted_at IS NULL`, b.table)
	args := []any{}
	if category != "" {
		q += " AND category = $1"
		args = append(args, category)
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := b.pool.Query(ctx, q, args...) // #nosec G202 -- WHERE clause uses hardcoded column names only; values flow through $N bound parameters
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.ListRecent", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListAll returns up to limit live rows with id > afterID, ordered by id
// ascending, for keyset-paginated reindex sweeps.
func (b *Backend) ListAll(ctx context.Context, afterID int64, limit int) ([]models.Memory, error) {
	q := fmt.Sprintf(`SELECT id, content, title, category, record_type, tags, created_at, updated_at, deleted_at
		FROM %s WHERE deleted_at IS NULL AND id > $1 ORDER BY id ASC LIMIT $2`, b.table)
	rows, err := b.pool.Query(ctx, q, afterID, limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.ListAll", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListForPrimer returns every live row flagged primer=true.
func (b *Backend) ListForPrimer(ctx context.Context) ([]models.PrimerRow, error) {
	q := fmt.Sprintf(`SELECT category, content, priority FROM %s
		WHERE deleted_at IS NULL AND primer = TRUE
		ORDER BY priority ASC, category ASC`, b.table)
	rows, err := b.pool.Query(ctx, q)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.ListForPrimer", err)
	}
	defer rows.Close()

	var out []models.PrimerRow
	for rows.Next() {
		var category, content string
		var priority int
		if err := rows.Scan(&category, &content, &priority); err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.ListForPrimer", err)
		}
		out = append(out, models.PrimerRow{Key: category, Content: content, Priority: priority, Enabled: true})
	}
	return out, rows.Err()
}

// TextSearch ranks rows by tsvector rank against plainto_tsquery(query).
func (b *Backend) TextSearch(ctx context.Context, query string, limit int) ([]models.RankedHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT id, category, title, content, created_at,
			ts_rank_cd(content_tsv, plainto_tsquery('english', $1)) AS score
		FROM %s
		WHERE deleted_at IS NULL AND content_tsv @@ plainto_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $2`, b.table)
	rows, err := b.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.TextSearch", err)
	}
	defer rows.Close()
	return scanRankedHits(rows)
}

// FuzzySearch ranks rows by pg_trgm similarity against query.
func (b *Backend) FuzzySearch(ctx context.Context, query string, limit int) ([]models.RankedHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT id, category, title, content, created_at,
			similarity(content, $1) AS score
		FROM %s
		WHERE deleted_at IS NULL AND content %% $1
		ORDER BY score DESC
		LIMIT $2`, b.table)
	rows, err := b.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.FuzzySearch", err)
	}
	defer rows.Close()
	return scanRankedHits(rows)
}

// VectorSearch ranks rows by cosine distance to queryVec.
func (b *Backend) VectorSearch(ctx context.Context, queryVec []float32, limit int) ([]models.RankedHit, error) {
	q := fmt.Sprintf(`SELECT id, category, title, content, created_at,
			1 - (embedding <=> $1) AS score
		FROM %s
		WHERE deleted_at IS NULL AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, b.table)
	rows, err := b.pool.Query(ctx, q, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.VectorSearch", err)
	}
	defer rows.Close()
	return scanRankedHits(rows)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*models.Memory, error) {
	var mem models.Memory
	var title *string
	var tagsJSON []byte
	if err := row.Scan(&mem.ID, &mem.Content, &title, &mem.Category, &mem.RecordType,
		&tagsJSON, &mem.CreatedAt, &mem.UpdatedAt, &mem.DeletedAt); err != nil {
		return nil, err
	}
	if title != nil {
		mem.Title = *title
	}
	if len(tagsJSON) > 0 {
		_ = json.Unmarshal(tagsJSON, &mem.Tags)
	}
	return &mem, nil
}

func scanMemories(rows pgx.Rows) ([]models.Memory, error) {
	var out []models.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.scanMemories", err)
		}
		out = append(out, *mem)
	}
	return out, rows.Err()
}

func scanRankedHits(rows pgx.Rows) ([]models.RankedHit, error) {
	var out []models.RankedHit
	rank := 0
	for rows.Next() {
		rank++
		var hit models.RankedHit
		var title *string
		if err := rows.Scan(&hit.ID, &hit.Category, &title, &hit.Content, &hit.CreatedAt, &hit.RawScore); err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "postgres.scanRankedHits", err)
		}
		if title != nil {
			hit.Title = *title
		}
		hit.HasCreated = true
		hit.Rank = rank
		out = append(out, hit)
	}
	return out, rows.Err()
}

// DSNWithDefaults appends shadowdb's preferred sslmode and connect_timeout
// query parameters to dsn when the caller did not already specify them.
func DSNWithDefaults(dsn string) string {
	if strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "sslmode=prefer&connect_timeout=" + strconv.Itoa(int(backend.ConnectTimeout.Seconds()))
}
