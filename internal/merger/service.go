package merger

import (
	"context"
	"time"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
)

// Merged pairs a reconciled record with the consistency issues the merge
// itself surfaced, ready for the loader or a batch quality accumulator.
type Merged struct {
	Record domain.LandRecord
	Issues []domain.QualityIssue
}

// Service drives a Window + Merger pair over a channel of normalized,
// single-source records, emitting Merged records as groups flush.
type Service struct {
	merger     *Merger
	window     *Window
	sweepEvery time.Duration
}

// NewService constructs a Service with the given window options; a zero
// sweepEvery disables periodic staleness flushing (only completeness and
// end-of-input flushes apply).
func NewService(opts WindowOptions, sweepEvery time.Duration) *Service {
	return &Service{merger: New(), window: NewWindow(opts), sweepEvery: sweepEvery}
}

// Run consumes in until it is closed or ctx is cancelled, emitting a Merged
// value on the returned channel for every flushed group (completeness,
// staleness sweep, eviction, or end-of-input). The output channel is closed
// once in is drained and all remaining groups have been flushed.
func (s *Service) Run(ctx context.Context, in <-chan domain.LandRecord) <-chan Merged {
	out := make(chan Merged, 1)

	go func() {
		defer close(out)

		var ticker *time.Ticker
		var tick <-chan time.Time
		if s.sweepEvery > 0 {
			ticker = time.NewTicker(s.sweepEvery)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return

			case rec, ok := <-in:
				if !ok {
					for _, g := range s.window.Flush() {
						if !s.emit(ctx, out, g) {
							return
						}
					}
					return
				}
				for _, g := range s.window.Add(rec) {
					if !s.emit(ctx, out, g) {
						return
					}
				}

			case <-tick:
				for _, g := range s.window.Sweep() {
					if !s.emit(ctx, out, g) {
						return
					}
				}
			}
		}
	}()

	return out
}

func (s *Service) emit(ctx context.Context, out chan<- Merged, g Group) bool {
	if len(g.Records) == 0 {
		return true
	}
	record, issues := s.merger.Merge(g)
	select {
	case out <- Merged{Record: record, Issues: issues}:
		return true
	case <-ctx.Done():
		return false
	}
}
