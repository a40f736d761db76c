// Package watermark tracks the "extract since T" boundary each source needs
// for incremental extraction.
package watermark

import (
	"context"
	"time"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
)

// Store persists and retrieves a pipeline's Watermark.
type Store interface {
	Get(ctx context.Context, pipelineName string) (domain.Watermark, error)
	Set(ctx context.Context, pipelineName string, mark domain.Watermark) error
}

// Advance returns a copy of mark with source's LastExtractedAt bumped to at,
// used by the orchestrator for every configured source once a run completes.
func Advance(mark domain.Watermark, source string, at time.Time) domain.Watermark {
	next := domain.Watermark{LastSuccessfulRunAt: mark.LastSuccessfulRunAt, LastExtractedAt: make(map[string]time.Time, len(mark.LastExtractedAt)+1)}
	for k, v := range mark.LastExtractedAt {
		next.LastExtractedAt[k] = v
	}
	next.LastExtractedAt[source] = at
	return next
}
