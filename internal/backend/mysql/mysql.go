// Package mysql implements the backend.Backend contract on top of MySQL
// 9.2+, using its native VECTOR column type plus a FULLTEXT index for
// lexical search. There is no dedicated fuzzy/trigram index in MySQL, so
// FuzzySearch falls back to a looser FULLTEXT boolean-mode query.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers the mysql driver with database/sql

	"github.com/shadowdb/shadowdb/internal/backend"
	"github.com/shadowdb/shadowdb/internal/memerr"
	"github.com/shadowdb/shadowdb/internal/models"
)

// Backend wraps a *sql.DB opened against a MySQL database.
type Backend struct {
	db    *sql.DB
	table string
	dim   int
}

var _ backend.Backend = (*Backend)(nil)

// Open connects to dsn (a go-sql-driver/mysql DSN, e.g.
// "user:pass@tcp(host:3306)/dbname?parseTime=true"), caps the pool per
// backend.MaxOpenConns, and ensures the schema exists. dimensions must be
// > 0: the VECTOR column width is fixed at creation time.
func Open(ctx context.Context, dsn string, dimensions int) (*Backend, error) {
	sqldb, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, memerr.Wrap(memerr.ConfigMalformed, "mysql.Open", err)
	}
	sqldb.SetMaxOpenConns(backend.MaxOpenConns)
	sqldb.SetConnMaxIdleTime(backend.MaxIdleTime)

	connCtx, cancel := context.WithTimeout(ctx, backend.ConnectTimeout)
	defer cancel()
	if err := sqldb.PingContext(connCtx); err != nil {
		sqldb.Close()
		return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.Open ping", err)
	}

	b := &Backend{db: sqldb, table: backend.DefaultTable, dim: dimensions}
	if err := b.createSchema(ctx); err != nil {
		sqldb.Close()
		return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.Open createSchema", err)
	}
	return b, nil
}

func (b *Backend) createSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          BIGINT AUTO_INCREMENT PRIMARY KEY,
			content     LONGTEXT NOT NULL,
			title       VARCHAR(500),
			category    VARCHAR(100) NOT NULL DEFAULT 'general',
			record_type VARCHAR(50) NOT NULL DEFAULT 'fact',
			tags        JSON,
			embedding   VECTOR(%d),
			primer      TINYINT(1) NOT NULL DEFAULT 0,
			priority    INT NOT NULL DEFAULT 0,
			created_at  DATETIME(6) NOT NULL,
			updated_at  DATETIME(6) NOT NULL,
			deleted_at  DATETIME(6) NULL,
			FULLTEXT idx_%s_text (title, content),
			INDEX idx_%s_category (category),
			INDEX idx_%s_deleted (deleted_at)
		) ENGINE=InnoDB`, b.table, b.table, b.table, b.table),
	}
	for _, s := range stmts {
		if _, err := b.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec: %w\nSQL: %s", err, s)
		}
	}
	return nil
}

// Ping verifies connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "mysql.Ping", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (b *Backend) Close() error { return b.db.Close() }

// Insert creates a new row and returns the assigned ID.
func (b *Backend) Insert(ctx context.Context, mem *models.Memory) (int64, error) {
	tagsJSON, err := json.Marshal(mem.Tags)
	if err != nil {
		return 0, err
	}
	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (content, title, category, record_type, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, b.table),
		mem.Content, mem.Title, mem.Category, mem.RecordType, string(tagsJSON),
		mem.CreatedAt.UTC(), mem.UpdatedAt.UTC(),
	)
	if err != nil {
		return 0, memerr.Wrap(memerr.BackendUnavailable, "mysql.Insert", err)
	}
	return res.LastInsertId()
}

// Get fetches one row by exact ID, live or deleted.
func (b *Backend) Get(ctx context.Context, id int64) (*models.Memory, error) {
	row := b.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, content, title, category, record_type, tags, created_at, updated_at, deleted_at
		FROM %s WHERE id = ?`, b.table), id)
	mem, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.Get", err)
	}
	return mem, nil
}

// GetMeta fetches just the ID and DeletedAt of a row.
func (b *Backend) GetMeta(ctx context.Context, id int64) (*models.RecordMeta, error) {
	var deletedAt sql.NullTime
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT deleted_at FROM %s WHERE id = ?`, b.table), id).Scan(&deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.GetMeta", err)
	}
	meta := &models.RecordMeta{ID: id}
	if deletedAt.Valid {
		t := deletedAt.Time
		meta.DeletedAt = &t
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
		return memerr.Wrap(memerr.NotFound, "mysql.Update", nil)
	}
	if meta.DeletedAt != nil {
		return memerr.Wrap(memerr.Deleted, "mysql.Update", nil)
	}

	sets := []string{"updated_at = ?"}
	params := []any{time.Now().UTC()}
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
	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", b.table, strings.Join(sets, ", ")) // #nosec G202 -- SET clause columns are hardcoded; values flow through ? bound parameters
	if _, err := b.db.ExecContext(ctx, q, params...); err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "mysql.Update", err)
	}
	return nil
}

// StoreEmbedding persists a vector for an existing row.
func (b *Backend) StoreEmbedding(ctx context.Context, id int64, vector []float32) error {
	q := fmt.Sprintf(`UPDATE %s SET embedding = STRING_TO_VECTOR(?) WHERE id = ?`, b.table)
	if _, err := b.db.ExecContext(ctx, q, vectorLiteral(vector), id); err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "mysql.StoreEmbedding", err)
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
		return memerr.Wrap(memerr.NotFound, "mysql.SoftDelete", nil)
	}
	if meta.DeletedAt != nil {
		return nil
	}
	_, err = b.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET deleted_at = ? WHERE id = ?`, b.table),
		time.Now().UTC(), id)
	if err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "mysql.SoftDelete", err)
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
		return memerr.Wrap(memerr.NotFound, "mysql.Restore", nil)
	}
	if meta.DeletedAt == nil {
		return nil
	}
	_, err = b.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET deleted_at = NULL WHERE id = ?`, b.table), id)
	if err != nil {
		return memerr.Wrap(memerr.BackendUnavailable, "mysql.Restore", err)
	}
	return nil
}

// PurgeExpired hard-deletes soft-deleted rows older than cutoff.
func (b *Backend) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE deleted_at IS NOT NULL AND deleted_at < ?`, b.table),
		cutoff.UTC())
	if err != nil {
		return 0, memerr.Wrap(memerr.BackendUnavailable, "mysql.PurgeExpired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, memerr.Wrap(memerr.BackendUnavailable, "mysql.PurgeExpired", err)
	}
	return int(n), nil
}

// ListRecent returns up to limit live rows ordered by created_at desc.
func (b *Backend) ListRecent(ctx context.Context, category string, limit int) ([]models.Memory, error) {
	q := fmt.Sprintf(`SELECT id, content, title, category, record_type, tags, created_at, updated_at, deleted_at
		FROM %s WHERE deleted_at IS NULL`, b.table)
	var params []any
	if category != "" {
		q += " AND category = ?"
		params = append(params, category)
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	params = append(params, limit)

	rows, err := b.db.QueryContext(ctx, q, params...) // #nosec G202 -- WHERE clause uses hardcoded column names only; values flow through ? bound parameters
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.ListRecent", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListAll returns up to limit live rows with id > afterID, ordered by id
// ascending, for keyset-paginated reindex sweeps.
func (b *Backend) ListAll(ctx context.Context, afterID int64, limit int) ([]models.Memory, error) {
	q := fmt.Sprintf(`SELECT id, content, title, category, record_type, tags, created_at, updated_at, deleted_at
		FROM %s WHERE deleted_at IS NULL AND id > ? ORDER BY id ASC LIMIT ?`, b.table)
	rows, err := b.db.QueryContext(ctx, q, afterID, limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.ListAll", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListForPrimer returns every live row flagged primer=1.
func (b *Backend) ListForPrimer(ctx context.Context) ([]models.PrimerRow, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT category, content, priority FROM %s
		WHERE deleted_at IS NULL AND primer = 1
		ORDER BY priority ASC, category ASC`, b.table))
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.ListForPrimer", err)
	}
	defer rows.Close()

	var out []models.PrimerRow
	for rows.Next() {
		var category, content string
		var priority int
		if err := rows.Scan(&category, &content, &priority); err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.ListForPrimer", err)
		}
		out = append(out, models.PrimerRow{Key: category, Content: content, Priority: priority, Enabled: true})
	}
	return out, rows.Err()
}

// TextSearch ranks rows by FULLTEXT natural-language relevance.
func (b *Backend) TextSearch(ctx context.Context, query string, limit int) ([]models.RankedHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT id, category, title, content, created_at,
			MATCH(title, content) AGAINST (? IN NATURAL LANGUAGE MODE) AS score
		FROM %s
		WHERE deleted_at IS NULL AND MATCH(title, content) AGAINST (? IN NATURAL LANGUAGE MODE)
		ORDER BY score DESC
		LIMIT ?`, b.table)
	rows, err := b.db.QueryContext(ctx, q, query, query, limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.TextSearch", err)
	}
	defer rows.Close()
	return scanRankedHits(rows)
}

// FuzzySearch widens the FULLTEXT query to boolean mode with trailing
// wildcards per term, approximating fuzzy matching without a trigram index.
func (b *Backend) FuzzySearch(ctx context.Context, query string, limit int) ([]models.RankedHit, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = "+" + strings.ReplaceAll(t, `"`, "") + "*"
	}
	boolQuery := strings.Join(parts, " ")

	q := fmt.Sprintf(`SELECT id, category, title, content, created_at,
			MATCH(title, content) AGAINST (? IN BOOLEAN MODE) AS score
		FROM %s
		WHERE deleted_at IS NULL AND MATCH(title, content) AGAINST (? IN BOOLEAN MODE)
		ORDER BY score DESC
		LIMIT ?`, b.table)
	rows, err := b.db.QueryContext(ctx, q, boolQuery, boolQuery, limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.FuzzySearch", err)
	}
	defer rows.Close()
	return scanRankedHits(rows)
}

// VectorSearch ranks rows by native VECTOR distance.
func (b *Backend) VectorSearch(ctx context.Context, queryVec []float32, limit int) ([]models.RankedHit, error) {
	q := fmt.Sprintf(`SELECT id, category, title, content, created_at,
			1 - DISTANCE(embedding, STRING_TO_VECTOR(?), 'COSINE') AS score
		FROM %s
		WHERE deleted_at IS NULL AND embedding IS NOT NULL
		ORDER BY score DESC
		LIMIT ?`, b.table)
	rows, err := b.db.QueryContext(ctx, q, vectorLiteral(queryVec), limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.VectorSearch", err)
	}
	defer rows.Close()
	return scanRankedHits(rows)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*models.Memory, error) {
	var mem models.Memory
	var title sql.NullString
	var tagsJSON sql.NullString
	var deletedAt sql.NullTime
	if err := row.Scan(&mem.ID, &mem.Content, &title, &mem.Category, &mem.RecordType,
		&tagsJSON, &mem.CreatedAt, &mem.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	mem.Title = title.String
	if tagsJSON.Valid && tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &mem.Tags)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		mem.DeletedAt = &t
	}
	return &mem, nil
}

func scanMemories(rows *sql.Rows) ([]models.Memory, error) {
	var out []models.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.scanMemories", err)
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
		var title sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&hit.ID, &hit.Category, &title, &hit.Content, &createdAt, &hit.RawScore); err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "mysql.scanRankedHits", err)
		}
		hit.Title = title.String
		hit.CreatedAt = createdAt
		hit.HasCreated = true
		hit.Rank = rank
		out = append(out, hit)
	}
	return out, rows.Err()
}

// vectorLiteral renders a []float32 as the MySQL VECTOR string literal
// format expected by STRING_TO_VECTOR: "[0.1,0.2,0.3]".
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", f)
	}
	sb.WriteByte(']')
	return sb.String()
}
