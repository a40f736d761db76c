// Package orchestrator drives one end-to-end pipeline run: fan out
// extractors, normalize, merge, feed the loader, and report progress on a
// typed event channel.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
	pipelineerrors "github.com/landrecords-sl/etl-pipeline/internal/errors"
	"github.com/landrecords-sl/etl-pipeline/internal/extractor"
	"github.com/landrecords-sl/etl-pipeline/internal/framework"
	"github.com/landrecords-sl/etl-pipeline/internal/loader"
	"github.com/landrecords-sl/etl-pipeline/internal/logging"
	"github.com/landrecords-sl/etl-pipeline/internal/merger"
	"github.com/landrecords-sl/etl-pipeline/internal/metrics"
	"github.com/landrecords-sl/etl-pipeline/internal/normalizer"
	"github.com/landrecords-sl/etl-pipeline/internal/watermark"
)

// Source pairs a named extractor with the source system it speaks for.
type Source struct {
	System    domain.SourceSystem
	Extractor *extractor.Extractor
}

// LoadBatchSize bounds how many merged records accumulate before a flush to
// the loader, and sizes the buffered channel of normalized records. The
// merger window's size comes from Config.Merger, not from this constant.
const LoadBatchSize = 50

// Config wires an Orchestrator's collaborators.
type Config struct {
	PipelineName string
	Sources      []Source
	Normalizer   *normalizer.Normalizer
	Merger       merger.WindowOptions
	Loader       *loader.Loader
	Watermarks   watermark.Store
	Metrics      *metrics.Registry
	AlertSink    domain.AlertSink
	Logger       *logging.Logger
}

// Orchestrator is the pipeline's run-level state machine: IDLE -> RUNNING ->
// (COMPLETED | FAILED), with RUNNING <-> PAUSED while a run is active.
type Orchestrator struct {
	*framework.ServiceBase
	cfg Config

	mu         sync.Mutex
	status     domain.RunStatus
	currentRun *domain.PipelineRun
	pauseGate  chan struct{} // closed while paused; nil/open while running
	cancel     context.CancelFunc

	events chan Event
}

// New constructs an idle Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.PipelineName == "" {
		cfg.PipelineName = "land-records-etl"
	}
	return &Orchestrator{
		ServiceBase: framework.NewServiceBase(cfg.PipelineName),
		cfg:         cfg,
		status:      domain.StatusIdle,
		events:      make(chan Event, 64),
	}
}

// Events returns the orchestrator's lifecycle event stream. Callers must
// drain it; events are dropped (never blocked on) once the buffer is full.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Status returns the orchestrator's current run status.
func (o *Orchestrator) Status() domain.RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// CurrentRun returns a copy of the in-progress or most recently finished run.
func (o *Orchestrator) CurrentRun() *domain.PipelineRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.currentRun == nil {
		return nil
	}
	run := *o.currentRun
	return &run
}

// Run executes one pipeline pass in the given mode. It blocks until the run
// finishes, is cancelled via ctx, or is rejected because another run is
// already active.
func (o *Orchestrator) Run(ctx context.Context, mode domain.Mode) (domain.PipelineRun, error) {
	o.mu.Lock()
	if o.status == domain.StatusRunning || o.status == domain.StatusPaused {
		runID := ""
		if o.currentRun != nil {
			runID = o.currentRun.RunID
		}
		o.mu.Unlock()
		return domain.PipelineRun{}, pipelineerrors.AlreadyRunning(runID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	runID := logging.NewRunID()
	run := &domain.PipelineRun{RunID: runID, Mode: mode, Status: domain.StatusRunning, StartTime: time.Now()}
	o.currentRun = run
	o.status = domain.StatusRunning
	o.cancel = cancel
	o.pauseGate = nil
	o.mu.Unlock()

	o.MarkStarted()
	runCtx = logging.WithRunID(runCtx, runID)
	o.emit(Event{Type: EventRunStart, RunID: runID, Timestamp: time.Now()})
	if o.cfg.Logger != nil {
		o.cfg.Logger.LogStageTransition(runCtx, string(domain.StatusIdle), string(domain.StatusRunning))
	}

	finished := o.execute(runCtx, run, mode)

	o.mu.Lock()
	o.status = finished.Status
	o.currentRun = finished
	o.cancel = nil
	o.mu.Unlock()

	if finished.Status == domain.StatusFailed {
		o.emit(Event{Type: EventRunError, RunID: runID, Timestamp: time.Now()})
	} else {
		o.emit(Event{Type: EventRunComplete, RunID: runID, Timestamp: time.Now()})
	}
	if o.cfg.Logger != nil {
		o.cfg.Logger.LogStageTransition(runCtx, string(domain.StatusRunning), string(finished.Status))
	}
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordRunComplete(string(finished.Status), string(mode))
		o.cfg.Metrics.ObserveStageDuration("run", finished.Metrics.Duration)
	}

	return *finished, nil
}

// Pause cooperatively suspends an in-progress run: the next record hand-off
// between stages blocks until Resume. An extractor keeps requesting pages
// until its buffered output channel is full.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != domain.StatusRunning {
		return pipelineerrors.InvalidMode("PAUSED", string(o.status))
	}
	o.status = domain.StatusPaused
	o.pauseGate = make(chan struct{})
	if o.currentRun != nil {
		o.emit(Event{Type: EventRunPaused, RunID: o.currentRun.RunID, Timestamp: time.Now()})
	}
	return nil
}

// Resume lifts a Pause, letting the run's goroutines proceed.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status != domain.StatusPaused {
		return pipelineerrors.InvalidMode("RUNNING", string(o.status))
	}
	o.status = domain.StatusRunning
	close(o.pauseGate)
	o.pauseGate = nil
	if o.currentRun != nil {
		o.emit(Event{Type: EventRunResumed, RunID: o.currentRun.RunID, Timestamp: time.Now()})
	}
	return nil
}

// Cancel aborts the active run, if any.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// waitIfPaused blocks the calling goroutine while the orchestrator is paused.
func (o *Orchestrator) waitIfPaused(ctx context.Context) bool {
	o.mu.Lock()
	gate := o.pauseGate
	o.mu.Unlock()
	if gate == nil {
		return true
	}
	select {
	case <-gate:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) emit(e Event) {
	select {
	case o.events <- e:
	default:
	}
}

// qualityAlertThreshold is the batch-quality score below which a warning
// alert is raised, per the error-handling contract.
const qualityAlertThreshold = 0.7

func (o *Orchestrator) execute(ctx context.Context, run *domain.PipelineRun, mode domain.Mode) *domain.PipelineRun {
	started := time.Now()
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SetActiveJobs("pipeline-run", 1)
		defer o.cfg.Metrics.SetActiveJobs("pipeline-run", 0)
	}

	normalized := make(chan domain.LandRecord, LoadBatchSize)
	var extractWG sync.WaitGroup
	var metricsMu sync.Mutex
	quality := normalizer.NewBatchQuality(5)

	onIssues := func(recordRef string, issues []domain.QualityIssue) {
		metricsMu.Lock()
		quality.Add(recordRef, issues)
		metricsMu.Unlock()
	}

	for _, src := range o.cfg.Sources {
		extractWG.Add(1)
		go func(src Source) {
			defer extractWG.Done()
			o.runSource(ctx, run, src, mode, normalized, &metricsMu, onIssues)
		}(src)
	}

	go func() {
		extractWG.Wait()
		close(normalized)
	}()

	mergerSvc := merger.NewService(o.cfg.Merger, 0)
	mergedStream := mergerSvc.Run(ctx, normalized)

	batch := make([]domain.LandRecord, 0, LoadBatchSize)
	flush := func() {
		defer func() {
			batch = batch[:0]
			metricsMu.Lock()
			report := quality.Report()
			quality = normalizer.NewBatchQuality(5)
			metricsMu.Unlock()
			o.publishQuality(ctx, run, report)
		}()
		if len(batch) == 0 || o.cfg.Loader == nil {
			return
		}
		o.emit(Event{Type: EventLoadStart, RunID: run.RunID, Timestamp: time.Now(), Data: map[string]any{"size": len(batch)}})
		result := o.cfg.Loader.LoadBatch(ctx, run.RunID, batch)
		run.Metrics.RecordsLoaded += result.RecordsLoaded
		run.Metrics.RecordsUpdated += result.RecordsUpdated
		run.Metrics.RecordsSkipped += result.RecordsSkipped
		for _, le := range result.Errors {
			run.Metrics.RecordsFailed++
			run.Errors = append(run.Errors, domain.RunError{
				Stage: "load", RecordID: le.ParcelNumber, Message: le.Reason,
				Severity: domain.SeverityHigh, Timestamp: time.Now(),
			})
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.RecordFailed("load", "load_batch_error", 1)
			}
		}
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordLoaded("postgres", result.RecordsLoaded+result.RecordsUpdated)
		}
		o.emit(Event{Type: EventLoadComplete, RunID: run.RunID, Timestamp: time.Now(), Data: map[string]any{
			"loaded": result.RecordsLoaded, "updated": result.RecordsUpdated, "skipped": result.RecordsSkipped,
		}})
	}

	for merged := range mergedStream {
		if !o.waitIfPaused(ctx) {
			break
		}
		run.Metrics.RecordsTransformed++
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordTransformed("merger", 1)
		}
		metricsMu.Lock()
		quality.AddIssuesOnly(merged.Record.ParcelNumber, merged.Issues)
		metricsMu.Unlock()
		for _, issue := range merged.Issues {
			if o.cfg.Logger != nil {
				o.cfg.Logger.LogQualityIssue(ctx, merged.Record.ParcelNumber, issue.Field, issue.Issue)
			}
		}
		batch = append(batch, merged.Record)
		if len(batch) >= LoadBatchSize {
			flush()
		}
	}
	flush()

	run.Metrics.Duration = time.Since(started)
	if run.Metrics.Duration > 0 {
		run.Metrics.ThroughputPerSec = float64(run.Metrics.RecordsLoaded+run.Metrics.RecordsUpdated) / run.Metrics.Duration.Seconds()
	}

	end := time.Now()
	run.EndTime = &end
	if ctx.Err() != nil {
		run.Status = domain.StatusFailed
	} else if hasCritical(run.Errors) {
		run.Status = domain.StatusFailed
	} else {
		run.Status = domain.StatusCompleted
		o.advanceWatermark(ctx, run)
	}

	if run.Status == domain.StatusFailed {
		o.sendAlert(domain.Alert{
			Type: "error", Severity: domain.SeverityCritical,
			Title: "pipeline run failed", Message: "one or more stages reported a fatal error",
			Source: o.cfg.PipelineName, Metadata: map[string]any{"runId": run.RunID, "errors": len(run.Errors)},
		})
	}

	return run
}

// publishQuality exports a batch's QualityReport to the metrics registry and
// raises a warning alert when the overall score drops below threshold.
func (o *Orchestrator) publishQuality(ctx context.Context, run *domain.PipelineRun, report domain.QualityReport) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SetQualityScore("completeness", report.Completeness)
		o.cfg.Metrics.SetQualityScore("accuracy", report.Accuracy)
		o.cfg.Metrics.SetQualityScore("consistency", report.Consistency)
		o.cfg.Metrics.SetQualityScore("timeliness", report.Timeliness)
		o.cfg.Metrics.SetQualityScore("uniqueness", report.Uniqueness)
		o.cfg.Metrics.SetQualityScore("overall", report.Score())
	}
	score := report.Score()
	if score >= qualityAlertThreshold {
		return
	}
	if o.cfg.Logger != nil {
		o.cfg.Logger.WithContext(ctx).WithField("score", score).Warn("batch quality below threshold")
	}
	o.sendAlert(domain.Alert{
		Type: "warning", Severity: domain.SeverityMedium,
		Title: "data quality below threshold", Message: "batch quality score fell below 0.7",
		Source: o.cfg.PipelineName,
		Metadata: map[string]any{
			"runId": run.RunID, "score": score, "issues": report.Issues,
		},
	})
}

func (o *Orchestrator) sendAlert(alert domain.Alert) {
	if o.cfg.AlertSink == nil {
		return
	}
	alert.ID = logging.NewRunID()
	alert.Timestamp = time.Now()
	_ = o.cfg.AlertSink.Send(alert)
}

func (o *Orchestrator) runSource(ctx context.Context, run *domain.PipelineRun, src Source, mode domain.Mode, out chan<- domain.LandRecord, metricsMu *sync.Mutex, onIssues func(recordRef string, issues []domain.QualityIssue)) {
	sourceCtx := logging.WithSource(ctx, string(src.System))
	o.emit(Event{Type: EventExtractStart, RunID: run.RunID, Source: string(src.System), Timestamp: time.Now()})

	var stream <-chan extractor.Item
	if mode == domain.ModeFull {
		stream = src.Extractor.ExtractAll(sourceCtx)
	} else {
		since := o.sinceWatermark(ctx, string(src.System))
		stream = src.Extractor.ExtractIncremental(sourceCtx, since)
	}

	norm := o.cfg.Normalizer
	extracted := 0
	for item := range stream {
		if !o.waitIfPaused(ctx) {
			return
		}
		if item.Err != nil {
			metricsMu.Lock()
			run.Metrics.RecordsFailed++
			run.Errors = append(run.Errors, domain.RunError{
				Stage: "extract", Source: string(src.System), Message: item.Err.Reason,
				Severity: domain.SeverityMedium, Timestamp: time.Now(),
			})
			metricsMu.Unlock()
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.RecordFailed("extract", "invalid_record", 1)
			}
			continue
		}

		extracted++
		metricsMu.Lock()
		run.Metrics.RecordsExtracted++
		metricsMu.Unlock()

		result := norm.Normalize(item.Record, src.System)
		if result.Err != nil {
			metricsMu.Lock()
			run.Metrics.RecordsFailed++
			run.Errors = append(run.Errors, domain.RunError{
				Stage: "transform", Source: string(src.System), Message: result.Err.Error(),
				Severity: domain.SeverityHigh, Timestamp: time.Now(),
			})
			metricsMu.Unlock()
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.RecordFailed("transform", "normalize_error", 1)
			}
			continue
		}
		if onIssues != nil {
			onIssues(result.Record.ParcelNumber, result.Issues)
		}

		select {
		case out <- *result.Record:
		case <-ctx.Done():
			return
		}
	}

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordExtracted(string(src.System), extracted)
	}
	o.emit(Event{Type: EventExtractComplete, RunID: run.RunID, Source: string(src.System), Timestamp: time.Now(), Data: map[string]any{"extracted": extracted}})
}

func (o *Orchestrator) sinceWatermark(ctx context.Context, source string) *time.Time {
	if o.cfg.Watermarks == nil {
		return nil
	}
	mark, err := o.cfg.Watermarks.Get(ctx, o.cfg.PipelineName)
	if err != nil {
		return nil
	}
	if t, ok := mark.LastExtractedAt[source]; ok {
		return &t
	}
	return nil
}

func (o *Orchestrator) advanceWatermark(ctx context.Context, run *domain.PipelineRun) {
	if o.cfg.Watermarks == nil {
		return
	}
	mark, err := o.cfg.Watermarks.Get(ctx, o.cfg.PipelineName)
	if err != nil {
		return
	}
	now := time.Now()
	mark.LastSuccessfulRunAt = now
	for _, src := range o.cfg.Sources {
		mark = watermark.Advance(mark, string(src.System), now)
	}
	_ = o.cfg.Watermarks.Set(ctx, o.cfg.PipelineName, mark)
}

func hasCritical(errs []domain.RunError) bool {
	for _, e := range errs {
		if e.Severity == domain.SeverityCritical {
			return true
		}
	}
	return false
}
