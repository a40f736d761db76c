package extractor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	pipelineerrors "github.com/landrecords-sl/etl-pipeline/internal/errors"
	"github.com/landrecords-sl/etl-pipeline/internal/resilience"
)

// DefaultPageSize is used when a source adapter doesn't specify one.
const DefaultPageSize = 100

// DefaultPoliteDelay is the pause inserted between successive page calls.
const DefaultPoliteDelay = 100 * time.Millisecond

// Progress reports extraction progress for a single source. Percentage is
// -1 when Total is unavailable (the spec's "unknown" progress state).
type Progress struct {
	Source     string
	Extracted  int
	Total      *int
	Percentage float64
}

// Item is one element of an extraction stream: either a RawRecord or a
// non-fatal ExtractError for a rejected record.
type Item struct {
	Record RawRecord
	Err    *ExtractError
}

// Config configures an Extractor instance.
type Config struct {
	PageSize     int
	PoliteDelay  time.Duration
	RetryOptions resilience.RetryOptions
	BreakerName  string
	OnProgress   func(Progress)
	// PollSchedule is an optional cron expression describing how often an
	// external scheduler should trigger incremental extraction for this
	// source. The Extractor itself never schedules anything — it is driven
	// by Orchestrator.Run. New does not validate it; callers run
	// ValidatePollSchedule to catch a malformed hint before it reaches
	// whatever out-of-process scheduler reads it.
	PollSchedule string
}

// ValidatePollSchedule reports whether schedule parses as a standard
// five-field cron expression, for callers that want to validate an operator-
// supplied PollSchedule before handing it to an external scheduler.
func ValidatePollSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	_, err := cron.ParseStandard(schedule)
	return err
}

// Extractor turns a SourceAdapter into a lazy sequence of domain records,
// guarded by a per-source circuit breaker and retry executor.
type Extractor struct {
	adapter SourceAdapter
	cfg     Config
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryExecutor
	limiter *rate.Limiter
}

// New constructs an Extractor around adapter. breaker is looked up by the
// caller (typically via a shared resilience.Factory keyed "extractor-<source>").
func New(adapter SourceAdapter, breaker *resilience.CircuitBreaker, cfg Config) *Extractor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.PoliteDelay <= 0 {
		cfg.PoliteDelay = DefaultPoliteDelay
	}
	retryOpts := cfg.RetryOptions
	if retryOpts.MaxAttempts <= 0 {
		retryOpts = resilience.RetryOptions{
			MaxAttempts:    3,
			InitialDelay:   time.Second,
			MaxDelay:       30 * time.Second,
			Multiplier:     2,
			JitterFraction: 0.25,
		}
	}

	var every time.Duration
	if cfg.PoliteDelay > 0 {
		every = cfg.PoliteDelay
	}
	limiter := rate.NewLimiter(rate.Every(every), 1)

	return &Extractor{
		adapter: adapter,
		cfg:     cfg,
		breaker: breaker,
		retry:   resilience.NewRetryExecutor(retryOpts),
		limiter: limiter,
	}
}

// ExtractAll pages through the entire source, emitting items on the returned
// channel until the adapter signals end-of-input or ctx is cancelled. The
// channel is closed when extraction finishes.
func (e *Extractor) ExtractAll(ctx context.Context) <-chan Item {
	return e.extract(ctx, Filter{})
}

// ExtractIncremental pages through records updated after since. A nil since
// is equivalent to ExtractAll.
func (e *Extractor) ExtractIncremental(ctx context.Context, since *time.Time) <-chan Item {
	return e.extract(ctx, Filter{UpdatedAfter: since})
}

func (e *Extractor) extract(ctx context.Context, filter Filter) <-chan Item {
	out := make(chan Item, e.cfg.PageSize)

	go func() {
		defer close(out)

		offset := 0
		extracted := 0
		var total *int
		first := true

		for {
			if ctx.Err() != nil {
				return
			}

			res, err := e.page(ctx, filter, Paging{Limit: e.cfg.PageSize, Offset: offset})
			if err != nil {
				// Permanent failure of a page fails the whole source stream.
				out <- Item{Err: &ExtractError{
					Source:    e.adapter.Name(),
					RecordRef: fmt.Sprintf("offset:%d", offset),
					Reason:    err.Error(),
					Retryable: pipelineerrors.IsRetryable(err),
				}}
				return
			}
			// First page response also supplies the total-estimate used for
			// progress reporting; subsequent pages don't re-report it.
			if first {
				total = res.Pagination.Total
				first = false
			}

			for _, rec := range res.Data {
				if !e.adapter.IsValidRecord(rec) {
					out <- Item{Err: &ExtractError{
						Source: e.adapter.Name(),
						Reason: "record failed adapter validation",
					}}
					continue
				}
				select {
				case out <- Item{Record: rec}:
				case <-ctx.Done():
					return
				}
			}

			extracted += len(res.Data)
			e.reportProgress(extracted, total)

			if !res.Pagination.HasMore || len(res.Data) < e.cfg.PageSize {
				return
			}
			offset += len(res.Data)

			if err := e.limiter.Wait(ctx); err != nil {
				return
			}
		}
	}()

	return out
}

func (e *Extractor) page(ctx context.Context, filter Filter, paging Paging) (QueryResult, error) {
	var result QueryResult
	runErr := e.breaker.Execute(ctx, func(ctx context.Context) error {
		return e.retry.Run(ctx, func(ctx context.Context) error {
			res, err := e.adapter.Query(ctx, filter, paging)
			if err != nil {
				return pipelineerrors.TransientSource(e.adapter.Name(), err)
			}
			result = res
			return nil
		})
	})
	return result, runErr
}

func (e *Extractor) reportProgress(extracted int, total *int) {
	if e.cfg.OnProgress == nil {
		return
	}
	p := Progress{Source: e.adapter.Name(), Extracted: extracted, Total: total, Percentage: -1}
	if total != nil && *total > 0 {
		p.Percentage = float64(extracted) / float64(*total) * 100
	}
	e.cfg.OnProgress(p)
}
