// Package extractor turns an opaque SourceAdapter into a lazy, paginated
// stream of raw source records.
package extractor

import (
	"context"
	"time"
)

// RawRecord is an untyped record as returned by a source adapter, distinct
// from the canonical domain.LandRecord the Normalizer produces. Keeping this
// type separate from LandRecord is deliberate: adapters speak whatever shape
// their upstream system returns, and normalization is the only place that
// shape gets reconciled into the canonical schema.
type RawRecord map[string]any

// Filter narrows a Query call; UpdatedAfter is set for incremental extraction.
type Filter struct {
	UpdatedAfter *time.Time
}

// Paging requests one page of results.
type Paging struct {
	Limit  int
	Offset int
}

// Pagination describes a Query response's position in the full result set.
// Total is a pointer because some adapters cannot cheaply report it.
type Pagination struct {
	Total   *int
	HasMore bool
}

// QueryResult is one page of raw records plus pagination metadata.
type QueryResult struct {
	Data       []RawRecord
	Pagination Pagination
}

// SourceAdapter is the external collaborator each concrete source (MLHCP,
// NRA, OARG, ...) implements. The pipeline core depends only on this
// interface.
type SourceAdapter interface {
	// Name identifies the source for metrics, logging, and breaker naming.
	Name() string
	Query(ctx context.Context, filter Filter, paging Paging) (QueryResult, error)
	GetByID(ctx context.Context, id string) (RawRecord, bool, error)
	// IsValidRecord gates a raw record before it is handed to the normalizer.
	// Rejected records are reported as ExtractErrors rather than failing the stream.
	IsValidRecord(record RawRecord) bool
}

// ExtractError records a per-record rejection during extraction; these never
// fail the stream.
type ExtractError struct {
	Source    string
	RecordRef string
	Reason    string
	Retryable bool
}
