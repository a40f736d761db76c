// Package testsupport provides in-memory reference implementations of the
// pipeline's external collaborator interfaces, used by integration tests
// that exercise the orchestrator without a real source system, alert
// transport, or encryption backend.
package testsupport

import (
	"context"
	"sync"

	"github.com/landrecords-sl/etl-pipeline/internal/extractor"
)

// FakeAdapter is an in-memory extractor.SourceAdapter backed by a fixed slice
// of records, paginated the same way a real adapter would be.
type FakeAdapter struct {
	name    string
	mu      sync.Mutex
	records []extractor.RawRecord
	fail    error
}

// NewFakeAdapter constructs a FakeAdapter serving records under name.
func NewFakeAdapter(name string, records ...extractor.RawRecord) *FakeAdapter {
	return &FakeAdapter{name: name, records: records}
}

// FailNextQuery makes the next Query call return err exactly once.
func (a *FakeAdapter) FailNextQuery(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = err
}

// Name implements extractor.SourceAdapter.
func (a *FakeAdapter) Name() string { return a.name }

// Query implements extractor.SourceAdapter, paginating the in-memory slice.
// The fixture does not model per-record update timestamps, so an
// incremental Filter narrows nothing; tests that need incremental behavior
// construct a smaller fixture instead.
func (a *FakeAdapter) Query(_ context.Context, _ extractor.Filter, paging extractor.Paging) (extractor.QueryResult, error) {
	a.mu.Lock()
	if a.fail != nil {
		err := a.fail
		a.fail = nil
		a.mu.Unlock()
		return extractor.QueryResult{}, err
	}
	records := a.records
	a.mu.Unlock()

	start := paging.Offset
	if start > len(records) {
		start = len(records)
	}
	end := start + paging.Limit
	if end > len(records) {
		end = len(records)
	}
	page := records[start:end]

	total := len(records)
	return extractor.QueryResult{
		Data:       page,
		Pagination: extractor.Pagination{Total: &total, HasMore: end < len(records)},
	}, nil
}

// GetByID implements extractor.SourceAdapter.
func (a *FakeAdapter) GetByID(_ context.Context, id string) (extractor.RawRecord, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.records {
		if rid, _ := r["id"].(string); rid == id {
			return r, true, nil
		}
	}
	return nil, false, nil
}

// IsValidRecord implements extractor.SourceAdapter, accepting any record with
// a non-empty parcelNumber.
func (a *FakeAdapter) IsValidRecord(record extractor.RawRecord) bool {
	pn, _ := record["parcelNumber"].(string)
	return pn != ""
}
