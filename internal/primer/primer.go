// Package primer assembles front-loaded context from primer rows and
// decides, per host turn and session, whether that context should be
// (re)injected.
package primer

import (
	"context"
	"crypto/sha1" //#nosec G505 -- digest is a cache-invalidation fingerprint, not a security control
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shadowdb/shadowdb/internal/backend"
)

// DefaultMaxChars is used when the host supplies no model-specific budget.
const DefaultMaxChars = 4000

const truncationSuffix = "\n\n[...primer context truncated...]"

// Boundary search windows, in order of preference, for clean truncation.
const (
	sectionWindow   = 500
	paragraphWindow = 300
	sentenceWindow  = 200
	wordWindow      = 100
)

// Context is the assembled primer payload returned to a host turn.
type Context struct {
	Text       string
	Digest     string
	TotalChars int
	RowCount   int
	Truncated  bool
}

// Assemble fetches primer rows from b, renders and joins them, and truncates
// cleanly to maxChars. It returns (nil, nil) when there are no rows to show
// (an absent table or empty row set is not an error).
func Assemble(ctx context.Context, b backend.Backend, maxChars int) (*Context, error) {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	rows, err := b.ListForPrimer(ctx)
	if err != nil {
		return nil, nil //nolint:nilerr // a missing primer table/columns is not an error, per spec
	}

	var sections []string
	for _, r := range rows {
		if !r.Enabled {
			continue
		}
		content := strings.TrimSpace(r.Content)
		if content == "" {
			continue
		}
		sections = append(sections, "## "+r.Key+"\n"+content)
	}
	if len(sections) == 0 {
		return nil, nil
	}

	joined := strings.Join(sections, "\n\n")
	digest := sha1Digest(joined)

	text := joined
	truncated := false
	if len([]rune(joined)) > maxChars {
		text = truncateClean(joined, maxChars) + truncationSuffix
		truncated = true
	}

	return &Context{
		Text:       text,
		Digest:     digest,
		TotalChars: len([]rune(joined)),
		RowCount:   len(sections),
		Truncated:  truncated,
	}, nil
}

// sha1Digest returns the first 16 hex characters of the SHA-1 sum of text.
func sha1Digest(text string) string {
	sum := sha1.Sum([]byte(text)) //#nosec G401 -- fingerprint only, not a security control
	return fmt.Sprintf("%x", sum)[:16]
}

// truncateClean cuts joined at or before the maxChars-th rune, preferring a
// section, paragraph, sentence, then word boundary within the window for
// each, falling back to a hard cut at maxChars.
func truncateClean(joined string, maxChars int) string {
	runes := []rune(joined)
	if len(runes) <= maxChars {
		return joined
	}
	head := string(runes[:maxChars])

	if cut, ok := lastBoundary(head, maxChars, "\n## ", sectionWindow); ok {
		return head[:cut]
	}
	if cut, ok := lastBoundary(head, maxChars, "\n\n", paragraphWindow); ok {
		return head[:cut]
	}
	for _, sep := range []string{". ", ".\n", "\n"} {
		if cut, ok := lastBoundary(head, maxChars, sep, sentenceWindow); ok {
			return head[:cut]
		}
	}
	if cut, ok := lastBoundary(head, maxChars, " ", wordWindow); ok {
		return head[:cut]
	}
	return head
}

// lastBoundary finds the last occurrence of sep in head and reports whether
// it lies within window runes of maxChars. The returned cut index includes
// sep (the break keeps text up to and including the separator as rendered,
// matching "prefer a boundary, trim the remainder").
func lastBoundary(head string, maxChars int, sep string, window int) (int, bool) {
	idx := strings.LastIndex(head, sep)
	if idx < 0 {
		return 0, false
	}
	cut := idx + len(sep)
	cutRunes := len([]rune(head[:cut]))
	if maxChars-cutRunes > window {
		return 0, false
	}
	return cut, true
}

// InjectMode is the per-turn injection policy.
type InjectMode string

const (
	Always     InjectMode = "always"
	FirstRun   InjectMode = "first-run"
	DigestMode InjectMode = "digest"
)

// sessionState is what's recorded per session key on each injection.
type sessionState struct {
	digest string
	at     time.Time
}

// maxSessions bounds the session map; exceeding it evicts the oldest
// evictionStride entries by timestamp.
const (
	maxSessions    = 5000
	evictionStride = 1000
)

// Sessions tracks per-session injection history for the digest/first-run
// inject policies. Safe for concurrent use: a mutex guards the map, and
// CheckAndRecord runs the decide-then-record sequence as one critical
// section so concurrent turn-start hooks across sessions never race.
type Sessions struct {
	mu    sync.Mutex
	state map[string]sessionState
}

// NewSessions returns an empty session tracker.
func NewSessions() *Sessions {
	return &Sessions{state: make(map[string]sessionState)}
}

// CheckAndRecord reports whether the primer context should be (re)injected
// for sessionKey under mode, given the freshly assembled digest and
// cacheTTL (only consulted in digest mode; <= 0 disables time-based
// refresh). When it returns true, it also records (digest, now) under
// sessionKey before returning, evicting the oldest evictionStride entries
// if the map exceeds maxSessions. The whole check-then-record sequence
// runs under a single lock.
func (s *Sessions) CheckAndRecord(mode InjectMode, sessionKey, digest string, cacheTTL time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.shouldInjectLocked(mode, sessionKey, digest, cacheTTL) {
		return false
	}
	s.recordLocked(sessionKey, digest, now)
	return true
}

func (s *Sessions) shouldInjectLocked(mode InjectMode, sessionKey, digest string, cacheTTL time.Duration) bool {
	switch mode {
	case Always:
		return true
	case FirstRun:
		_, seen := s.state[sessionKey]
		return !seen
	case DigestMode:
		prev, seen := s.state[sessionKey]
		if !seen {
			return true
		}
		if prev.digest != digest {
			return true
		}
		if cacheTTL > 0 && time.Since(prev.at) >= cacheTTL {
			return true
		}
		return false
	default:
		return true
	}
}

func (s *Sessions) recordLocked(sessionKey, digest string, now time.Time) {
	s.state[sessionKey] = sessionState{digest: digest, at: now}
	if len(s.state) > maxSessions {
		s.evictOldest(evictionStride)
	}
}

func (s *Sessions) evictOldest(n int) {
	type entry struct {
		key string
		at  time.Time
	}
	entries := make([]entry, 0, len(s.state))
	for k, v := range s.state {
		entries = append(entries, entry{k, v.at})
	}
	// Partial selection sort is sufficient: n is a small fixed fraction of
	// the map and this runs only when the map is already oversized.
	for i := 0; i < n && i < len(entries); i++ {
		oldest := i
		for j := i + 1; j < len(entries); j++ {
			if entries[j].at.Before(entries[oldest].at) {
				oldest = j
			}
		}
		entries[i], entries[oldest] = entries[oldest], entries[i]
		delete(s.state, entries[i].key)
	}
}

// MaxCharsForModel resolves the host's per-model character budget by
// substring match against model (case-insensitive), in the insertion order
// of budgets. The first match wins; an invalid (non-positive) match is
// ignored and the scan continues. DefaultMaxChars is returned when no entry
// matches or none is configured.
func MaxCharsForModel(model string, budgets []ModelBudget) int {
	model = strings.ToLower(model)
	for _, b := range budgets {
		if b.MaxChars <= 0 {
			continue
		}
		if strings.Contains(model, strings.ToLower(b.Substring)) {
			return b.MaxChars
		}
	}
	return DefaultMaxChars
}

// ModelBudget is one entry of the host's maxCharsByModel configuration.
type ModelBudget struct {
	Substring string
	MaxChars  int
}
