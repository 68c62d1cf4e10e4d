package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	qt "github.com/frankban/quicktest"

	"github.com/shadowdb/shadowdb/internal/memerr"
	"github.com/shadowdb/shadowdb/internal/models"
)

func newMockBackend(t *testing.T) (*Backend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Backend{db: db, table: "memories", dim: 768}, mock
}

func TestInsert_HappyPath(t *testing.T) {
	c := qt.New(t)
	b, mock := newMockBackend(t)

	mock.ExpectExec("INSERT INTO memories").
		WithArgs("hello", "Title", "general", "fact", "[]", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(42, 1))

	now := time.Now().UTC()
	id, err := b.Insert(context.Background(), &models.Memory{
		Content: "hello", Title: "Title", Category: "general", RecordType: "fact",
		CreatedAt: now, UpdatedAt: now,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, int64(42))
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestGet_HappyPath(t *testing.T) {
	c := qt.New(t)
	b, mock := newMockBackend(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "content", "title", "category", "record_type", "tags", "created_at", "updated_at", "deleted_at"}).
		AddRow(int64(1), "body", "T", "general", "fact", "[\"a\"]", now, now, nil)
	mock.ExpectQuery("SELECT id, content, title, category, record_type, tags, created_at, updated_at, deleted_at").
		WithArgs(int64(1)).
		WillReturnRows(rows)

	mem, err := b.Get(context.Background(), 1)
	c.Assert(err, qt.IsNil)
	c.Assert(mem, qt.IsNotNil)
	c.Assert(mem.Content, qt.Equals, "body")
	c.Assert(mem.Tags, qt.DeepEquals, []string{"a"})
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestGet_FailurePath(t *testing.T) {
	c := qt.New(t)
	b, mock := newMockBackend(t)

	mock.ExpectQuery("SELECT id, content, title, category, record_type, tags, created_at, updated_at, deleted_at").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "title", "category", "record_type", "tags", "created_at", "updated_at", "deleted_at"}))

	mem, err := b.Get(context.Background(), 99)
	c.Assert(err, qt.IsNil)
	c.Assert(mem, qt.IsNil)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestUpdate_FailurePath(t *testing.T) {
	c := qt.New(t)
	b, mock := newMockBackend(t)

	mock.ExpectQuery("SELECT deleted_at FROM memories").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"deleted_at"}))

	content := "x"
	err := b.Update(context.Background(), 5, models.Patch{Content: &content})
	c.Assert(err, qt.ErrorIs, memerr.NotFound)
	c.Assert(mock.ExpectationsWereMet(), qt.IsNil)
}

func TestVectorLiteral(t *testing.T) {
	c := qt.New(t)
	c.Assert(vectorLiteral([]float32{0.1, 0.2, 0.3}), qt.Equals, "[0.1,0.2,0.3]")
	c.Assert(vectorLiteral(nil), qt.Equals, "[]")
}
