// Package memerr defines the taxonomic error kinds shared by every layer of
// the memory engine (embeddings, backends, retrieval, write/lifecycle).
package memerr

import (
	"errors"
	"fmt"
)

// Kind is a taxonomic error category. Kinds are sentinel values: callers use
// errors.Is(err, memerr.NotFound) rather than comparing error strings.
type Kind error

var (
	// InvalidInput covers empty content, content too long, or no fields
	// provided to update.
	InvalidInput Kind = errors.New("invalid input")
	// NotFound covers an id not present in the backend.
	NotFound Kind = errors.New("not found")
	// Deleted covers an update attempted on a soft-deleted record.
	Deleted Kind = errors.New("record is soft-deleted; undelete first")
	// ProviderAuth covers a missing API key for a cloud embedding provider.
	ProviderAuth Kind = errors.New("embedding provider authentication failed")
	// ProviderTransport covers an HTTP or subprocess failure in the dispatcher.
	ProviderTransport Kind = errors.New("embedding provider transport error")
	// DimensionMismatch covers a provider returning a wrong-length vector.
	DimensionMismatch Kind = errors.New("embedding dimension mismatch")
	// BackendUnavailable covers a ping/query failure against the store.
	BackendUnavailable Kind = errors.New("backend unavailable")
	// ConfigMalformed covers unparseable configuration.
	ConfigMalformed Kind = errors.New("configuration malformed")
	// EmptyQuery covers a search call whose query is empty after trimming.
	EmptyQuery Kind = errors.New("query is empty")
	// NothingToUpdate covers an update call whose patch carries no fields.
	NothingToUpdate Kind = errors.New("no fields provided to update")
)

// Wrap attaches op context to err while preserving errors.Is matching against
// the sentinel kind.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, kind)
	}
	return fmt.Errorf("%s: %w: %v", op, kind, err)
}

// DimensionMismatchError carries the detail required by spec §4.1: expected
// and observed dimensions plus the "provider:model" label.
type DimensionMismatchError struct {
	Expected int
	Observed int
	Label    string // "provider:model"
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (%s)", e.Expected, e.Observed, e.Label)
}

// Unwrap lets errors.Is(err, memerr.DimensionMismatch) succeed.
func (e *DimensionMismatchError) Unwrap() error { return DimensionMismatch }
