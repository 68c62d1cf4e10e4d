package facade_test

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/shadowdb/shadowdb/internal/backend"
	"github.com/shadowdb/shadowdb/internal/facade"
	"github.com/shadowdb/shadowdb/internal/memerr"
	"github.com/shadowdb/shadowdb/internal/models"
	"github.com/shadowdb/shadowdb/internal/write"
)

// memBackend is a minimal in-memory backend.Backend, enough to drive
// GetByPath's category/recent-listing grammar alongside plain Get/Write.
type memBackend struct {
	mu     sync.Mutex
	rows   map[int64]*models.Memory
	nextID int64
}

func newMemBackend() *memBackend {
	return &memBackend{rows: make(map[int64]*models.Memory)}
}

func (b *memBackend) Insert(ctx context.Context, mem *models.Memory) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	cp := *mem
	cp.ID = b.nextID
	b.rows[b.nextID] = &cp
	return b.nextID, nil
}

func (b *memBackend) Get(ctx context.Context, id int64) (*models.Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (b *memBackend) GetMeta(ctx context.Context, id int64) (*models.RecordMeta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.rows[id]
	if !ok {
		return nil, nil
	}
	return &models.RecordMeta{ID: m.ID, DeletedAt: m.DeletedAt}, nil
}

func (b *memBackend) Update(ctx context.Context, id int64, patch models.Patch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.rows[id]
	if !ok {
		return memerr.Wrap(memerr.NotFound, "memBackend.Update", nil)
	}
	if patch.Content != nil {
		m.Content = *patch.Content
	}
	return nil
}

func (b *memBackend) StoreEmbedding(ctx context.Context, id int64, vector []float32) error {
	return nil
}

func (b *memBackend) SoftDelete(ctx context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now().UTC()
	b.rows[id].DeletedAt = &now
	return nil
}

func (b *memBackend) Restore(ctx context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[id].DeletedAt = nil
	return nil
}

func (b *memBackend) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (b *memBackend) ListRecent(ctx context.Context, category string, limit int) ([]models.Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Memory
	for _, m := range b.rows {
		if m.DeletedAt != nil {
			continue
		}
		if category != "" && m.Category != category {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *memBackend) ListAll(ctx context.Context, afterID int64, limit int) ([]models.Memory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Memory
	for _, m := range b.rows {
		if m.DeletedAt != nil || m.ID <= afterID {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *memBackend) ListForPrimer(ctx context.Context) ([]models.PrimerRow, error) {
	return nil, nil
}

func (b *memBackend) Ping(ctx context.Context) error { return nil }
func (b *memBackend) Close() error                   { return nil }
func (b *memBackend) VectorSearch(ctx context.Context, q []float32, limit int) ([]models.RankedHit, error) {
	return nil, nil
}
func (b *memBackend) TextSearch(ctx context.Context, query string, limit int) ([]models.RankedHit, error) {
	return nil, nil
}
func (b *memBackend) FuzzySearch(ctx context.Context, query string, limit int) ([]models.RankedHit, error) {
	return nil, nil
}

var _ backend.Backend = (*memBackend)(nil)

// newFacade builds a Facade directly against a memBackend, bypassing Open
// (which dials a real backend driver): the facade's exported behavior is
// what's under test here, not backend construction.
func newFacade(b *memBackend) *facade.Facade {
	return facade.NewForTest(b, &write.Core{Backend: b})
}

func TestFacade_GetByPath(t *testing.T) {
	c := qt.New(t)
	b := newMemBackend()
	id, err := b.Insert(context.Background(), &models.Memory{Content: "hello there", Category: "notes", CreatedAt: time.Now()})
	c.Assert(err, qt.IsNil)
	f := newFacade(b)

	c.Run("category/id resolves one record", func(c *qt.C) {
		got, err := f.GetByPath(context.Background(), "shadowdb/notes/"+itoa(id), nil, nil)
		c.Assert(err, qt.IsNil)
		c.Assert(got.Text, qt.Equals, "hello there")
		c.Assert(got.Path, qt.Equals, "shadowdb/notes/"+itoa(id))
	})

	c.Run("wrong category for a real id is not found", func(c *qt.C) {
		_, err := f.GetByPath(context.Background(), "shadowdb/other/"+itoa(id), nil, nil)
		c.Assert(err, qt.ErrorIs, memerr.NotFound)
	})

	c.Run("category alone lists recent records in that category", func(c *qt.C) {
		got, err := f.GetByPath(context.Background(), "shadowdb/notes", nil, nil)
		c.Assert(err, qt.IsNil)
		c.Assert(got.Path, qt.Equals, "shadowdb/notes")
		c.Assert(got.Text, qt.Contains, "hello there")
	})

	c.Run("bare shadowdb lists recent records across categories", func(c *qt.C) {
		got, err := f.GetByPath(context.Background(), "shadowdb", nil, nil)
		c.Assert(err, qt.IsNil)
		c.Assert(got.Path, qt.Equals, "shadowdb")
	})

	c.Run("a bare numeric segment with no category is rejected", func(c *qt.C) {
		_, err := f.GetByPath(context.Background(), "shadowdb/"+itoa(id), nil, nil)
		c.Assert(err, qt.ErrorIs, memerr.InvalidInput)
	})

	c.Run("too many segments is rejected", func(c *qt.C) {
		_, err := f.GetByPath(context.Background(), "shadowdb/notes/"+itoa(id)+"/extra", nil, nil)
		c.Assert(err, qt.ErrorIs, memerr.InvalidInput)
	})
}

func TestFacade_Get(t *testing.T) {
	c := qt.New(t)
	b := newMemBackend()
	id, _ := b.Insert(context.Background(), &models.Memory{Content: "fact one", Category: "general", CreatedAt: time.Now()})
	f := newFacade(b)

	c.Run("a live record is returned", func(c *qt.C) {
		got, ok, err := f.Get(context.Background(), id)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsTrue)
		c.Assert(got.Text, qt.Equals, "fact one")
	})

	c.Run("a missing id is not found, not an error", func(c *qt.C) {
		_, ok, err := f.Get(context.Background(), 99999)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsFalse)
	})

	c.Run("a soft-deleted record is invisible", func(c *qt.C) {
		c.Assert(b.SoftDelete(context.Background(), id), qt.IsNil)
		_, ok, err := f.Get(context.Background(), id)
		c.Assert(err, qt.IsNil)
		c.Assert(ok, qt.IsFalse)
	})
}

func TestFacade_WriteDeleteUndelete(t *testing.T) {
	c := qt.New(t)
	b := newMemBackend()
	f := newFacade(b)

	content := "a new record"
	written, err := f.Write(context.Background(), write.Input{Content: &content})
	c.Assert(err, qt.IsNil)
	c.Assert(written.OK, qt.IsTrue)

	deleted, err := f.Delete(context.Background(), written.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(deleted.OK, qt.IsTrue)

	_, ok, err := f.Get(context.Background(), written.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	undeleted, err := f.Undelete(context.Background(), written.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(undeleted.OK, qt.IsTrue)

	_, ok, err = f.Get(context.Background(), written.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
}

func TestFacade_Ping(t *testing.T) {
	c := qt.New(t)
	f := newFacade(newMemBackend())
	c.Assert(f.Ping(context.Background()), qt.IsTrue)
}

func TestFacade_SliceLines(t *testing.T) {
	c := qt.New(t)
	b := newMemBackend()
	id, _ := b.Insert(context.Background(), &models.Memory{Content: "line1\nline2\nline3\nline4", Category: "notes", CreatedAt: time.Now()})
	f := newFacade(b)

	from, lines := 2, 2
	got, err := f.GetByPath(context.Background(), "shadowdb/notes/"+itoa(id), &from, &lines)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Text, qt.Equals, "line2\nline3")
}

func TestFacade_Reindex(t *testing.T) {
	c := qt.New(t)
	b := newMemBackend()
	f := newFacade(b)

	_, err := f.Write(context.Background(), write.Input{Content: strPtr("x")})
	c.Assert(err, qt.IsNil)

	// No dispatcher configured on the underlying core: Reindex surfaces the
	// same ConfigMalformed error write.Core.Reindex returns, confirming this
	// is a plain delegation with no facade-level short-circuit.
	_, err = f.Reindex(context.Background(), 10, nil)
	c.Assert(err, qt.ErrorIs, memerr.ConfigMalformed)
}

func strPtr(s string) *string { return &s }

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
