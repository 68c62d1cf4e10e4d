// Package write implements the create/update/soft-delete/restore/purge state
// machine over a backend.Backend, sequencing insert-then-embed with
// fail-open embedding the way the teacher sequences Save/Reindex.
package write

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"regexp"

	"github.com/shadowdb/shadowdb/internal/backend"
	"github.com/shadowdb/shadowdb/internal/embeddings"
	"github.com/shadowdb/shadowdb/internal/memerr"
	"github.com/shadowdb/shadowdb/internal/models"
	"github.com/shadowdb/shadowdb/internal/redaction"
)

// Core sequences writes against a backend.Backend, embedding best-effort via
// dispatcher when autoEmbed is true. dispatcher may be nil (embedding is
// skipped, not attempted).
type Core struct {
	Backend    backend.Backend
	Dispatcher *embeddings.Dispatcher
	AutoEmbed  bool

	// RetentionPurgeAfterDays gates runRetentionPurge; 0 disables it.
	RetentionPurgeAfterDays int

	// RedactPatterns is applied (alongside the built-in layers) to content
	// and title before sanitization, typically loaded from a
	// .shadowdbignore file at startup. Nil disables the extra layer.
	RedactPatterns []*regexp.Regexp
}

// Input is the caller-supplied content of a write or update call.
type Input struct {
	Content  *string
	Category *string
	Title    *string
	Tags     []string // nil means "not provided" for update; write treats nil as "no tags"
}

// Write validates and sanitizes in, inserts a new record, and (fail-open)
// embeds it. content is required; category/title/tags are optional.
func (c *Core) Write(ctx context.Context, in Input) (*models.WriteResult, error) {
	if in.Content == nil {
		return nil, memerr.Wrap(memerr.InvalidInput, "write.Write", fmt.Errorf("content is required"))
	}
	content := strings.TrimSpace(c.redact(*in.Content))
	if err := validateContent(content); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	mem := &models.Memory{
		Content:    content,
		Category:   models.SanitizeCategory(deref(in.Category)),
		Title:      models.SanitizeTitle(c.redact(deref(in.Title))),
		RecordType: models.DefaultRecordType,
		Tags:       models.SanitizeTags(in.Tags),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	id, err := c.Backend.Insert(ctx, mem)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "write.Write", err)
	}
	mem.ID = id

	embedded := c.embed(ctx, id, mem.Content)

	return &models.WriteResult{
		OK:       true,
		ID:       id,
		Path:     mem.VirtualPath(),
		Embedded: embedded,
	}, nil
}

// Update loads the record, fails if it's missing or soft-deleted, builds a
// patch from whichever fields were provided, and applies it. A content
// change re-embeds (fail-open) the same way Write does.
func (c *Core) Update(ctx context.Context, id int64, in Input) (*models.WriteResult, error) {
	meta, err := c.Backend.GetMeta(ctx, id)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "write.Update", err)
	}
	if meta == nil {
		return nil, memerr.Wrap(memerr.NotFound, "write.Update", nil)
	}
	if meta.DeletedAt != nil {
		return nil, memerr.Wrap(memerr.Deleted, "write.Update", nil)
	}

	patch := models.Patch{}
	contentChanged := false
	var newContent string

	if in.Content != nil {
		newContent = strings.TrimSpace(c.redact(*in.Content))
		if err := validateContent(newContent); err != nil {
			return nil, err
		}
		patch.Content = &newContent
		contentChanged = true
	}
	if in.Title != nil {
		title := models.SanitizeTitle(c.redact(*in.Title))
		patch.Title = &title
	}
	if in.Category != nil {
		category := models.SanitizeCategory(*in.Category)
		patch.Category = &category
	}
	if in.Tags != nil {
		patch.Tags = models.SanitizeTags(in.Tags)
	}

	if patch.Empty() {
		return nil, memerr.Wrap(memerr.NothingToUpdate, "write.Update", nil)
	}

	if err := c.Backend.Update(ctx, id, patch); err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "write.Update", err)
	}

	embedded := false
	if contentChanged {
		embedded = c.embed(ctx, id, newContent)
	}

	path := (&models.Memory{ID: id}).VirtualPath()
	if mem, err := c.Backend.Get(ctx, id); err == nil && mem != nil {
		path = mem.VirtualPath()
	}

	return &models.WriteResult{
		OK:       true,
		ID:       id,
		Path:     path,
		Embedded: embedded,
	}, nil
}

// Delete soft-deletes a record. Already-deleted records return success
// idempotently. message carries the configured retention window.
func (c *Core) Delete(ctx context.Context, id int64) (*models.WriteResult, error) {
	meta, err := c.Backend.GetMeta(ctx, id)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "write.Delete", err)
	}
	if meta == nil {
		return nil, memerr.Wrap(memerr.NotFound, "write.Delete", nil)
	}

	msg := "deleted"
	if meta.DeletedAt == nil {
		if err := c.Backend.SoftDelete(ctx, id); err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "write.Delete", err)
		}
		if c.RetentionPurgeAfterDays > 0 {
			msg = fmt.Sprintf("deleted; permanently removed after %d days unless undeleted", c.RetentionPurgeAfterDays)
		}
	} else {
		msg = "already deleted"
	}

	return &models.WriteResult{OK: true, ID: id, Message: msg}, nil
}

// Undelete clears deleted_at. Already-live records return success
// idempotently.
func (c *Core) Undelete(ctx context.Context, id int64) (*models.WriteResult, error) {
	meta, err := c.Backend.GetMeta(ctx, id)
	if err != nil {
		return nil, memerr.Wrap(memerr.BackendUnavailable, "write.Undelete", err)
	}
	if meta == nil {
		return nil, memerr.Wrap(memerr.NotFound, "write.Undelete", nil)
	}

	msg := "restored"
	if meta.DeletedAt != nil {
		if err := c.Backend.Restore(ctx, id); err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "write.Undelete", err)
		}
	} else {
		msg = "already live"
	}

	return &models.WriteResult{OK: true, ID: id, Message: msg}, nil
}

// RunRetentionPurge hard-deletes soft-deleted rows older than
// RetentionPurgeAfterDays. A non-positive RetentionPurgeAfterDays is a no-op.
// This is the only code path in the engine that removes rows permanently.
func (c *Core) RunRetentionPurge(ctx context.Context) (int, error) {
	if c.RetentionPurgeAfterDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -c.RetentionPurgeAfterDays)
	n, err := c.Backend.PurgeExpired(ctx, cutoff)
	if err != nil {
		return 0, memerr.Wrap(memerr.BackendUnavailable, "write.RunRetentionPurge", err)
	}
	slog.Info("retention purge complete", "count", n, "purge_after_days", c.RetentionPurgeAfterDays)
	return n, nil
}

// embed attempts to embed and store content's vector under id. It never
// returns an error: failures are logged and reported as embedded=false, per
// the fail-open write-path contract.
func (c *Core) embed(ctx context.Context, id int64, content string) bool {
	if !c.AutoEmbed || c.Dispatcher == nil {
		return false
	}
	vec, err := c.Dispatcher.Embed(ctx, content)
	if err != nil {
		slog.Warn("write: embedding failed, record remains lexically searchable", "id", id, "err", err)
		return false
	}
	if err := c.Backend.StoreEmbedding(ctx, id, vec); err != nil {
		slog.Warn("write: store embedding failed", "id", id, "err", err)
		return false
	}
	return true
}

// redact applies the built-in and caller-supplied secret-redaction layers.
func (c *Core) redact(text string) string {
	return redaction.Redact(text, c.RedactPatterns)
}

// ReindexResult summarizes a full re-embedding sweep.
type ReindexResult struct {
	Count int
	Label string
	Dim   int
}

// Reindex re-embeds every live record through the configured dispatcher,
// paging through Backend.ListAll in batches of batchSize and reporting
// progress after each record. Unlike Write/Update's fail-open embed, a
// per-record embedding failure here is logged and skipped, not silently
// ignored — the sweep's purpose is re-embedding, so failures are worth
// surfacing via the log even though the sweep itself still completes.
func (c *Core) Reindex(ctx context.Context, batchSize int, progress func(done int)) (*ReindexResult, error) {
	if c.Dispatcher == nil {
		return nil, memerr.Wrap(memerr.ConfigMalformed, "write.Reindex", fmt.Errorf("no embedding provider configured"))
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	var afterID int64
	count := 0
	dim := 0
	for {
		batch, err := c.Backend.ListAll(ctx, afterID, batchSize)
		if err != nil {
			return nil, memerr.Wrap(memerr.BackendUnavailable, "write.Reindex", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, mem := range batch {
			vec, err := c.Dispatcher.Embed(ctx, mem.Content)
			if err != nil {
				slog.Warn("write: reindex embedding failed", "id", mem.ID, "err", err)
			} else if err := c.Backend.StoreEmbedding(ctx, mem.ID, vec); err != nil {
				slog.Warn("write: reindex store embedding failed", "id", mem.ID, "err", err)
			} else {
				dim = len(vec)
			}
			count++
			afterID = mem.ID
			if progress != nil {
				progress(count)
			}
		}
	}

	return &ReindexResult{Count: count, Label: c.Dispatcher.Label(), Dim: dim}, nil
}

func validateContent(content string) error {
	if content == "" {
		return memerr.Wrap(memerr.InvalidInput, "write", fmt.Errorf("content must not be empty"))
	}
	if len([]rune(content)) > models.MaxContentChars {
		return memerr.Wrap(memerr.InvalidInput, "write", fmt.Errorf("content exceeds %d characters", models.MaxContentChars))
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
