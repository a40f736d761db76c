package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
	"github.com/landrecords-sl/etl-pipeline/internal/extractor"
	"github.com/landrecords-sl/etl-pipeline/internal/merger"
	"github.com/landrecords-sl/etl-pipeline/internal/normalizer"
	"github.com/landrecords-sl/etl-pipeline/internal/resilience"
	"github.com/landrecords-sl/etl-pipeline/internal/testsupport"
	"github.com/landrecords-sl/etl-pipeline/internal/watermark"
)

func newSource(t *testing.T, system domain.SourceSystem, records ...extractor.RawRecord) Source {
	t.Helper()
	adapter := testsupport.NewFakeAdapter(string(system), records...)
	breaker := resilience.NewCircuitBreaker(string(system), resilience.DefaultBreakerConfig())
	ext := extractor.New(adapter, breaker, extractor.Config{PageSize: 10, PoliteDelay: time.Millisecond})
	return Source{System: system, Extractor: ext}
}

func TestOrchestrator_RunCompletesAndMergesAcrossSources(t *testing.T) {
	land := newSource(t, domain.SourceLandAuthority, extractor.RawRecord{
		"id": "1", "parcelNumber": "WA-001", "district": "WESTERN AREA", "area": 500.0, "landType": "HOME",
	})
	revenue := newSource(t, domain.SourceRevenueAuthority, extractor.RawRecord{
		"id": "2", "parcelNumber": "WA-001", "taxStatus": "compliant",
	})

	o := New(Config{
		PipelineName: "test-pipeline",
		Sources:      []Source{land, revenue},
		Normalizer:   normalizer.New(),
		Merger: merger.WindowOptions{
			ExpectedSources: []domain.SourceSystem{domain.SourceLandAuthority, domain.SourceRevenueAuthority},
			MaxAge:          time.Second,
			MaxGroups:       10,
		},
		Watermarks: watermark.NewMemoryStore(),
	})

	run, err := o.Run(context.Background(), domain.ModeFull)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, run.Status)
	assert.Equal(t, 2, run.Metrics.RecordsExtracted)
	assert.Equal(t, 1, run.Metrics.RecordsTransformed)
}

func TestOrchestrator_RejectsConcurrentRun(t *testing.T) {
	slow := newSource(t, domain.SourceLandAuthority, extractor.RawRecord{
		"id": "1", "parcelNumber": "WA-002", "area": 100.0,
	})

	o := New(Config{
		Sources:    []Source{slow},
		Normalizer: normalizer.New(),
		Watermarks: watermark.NewMemoryStore(),
	})

	o.mu.Lock()
	o.status = domain.StatusRunning
	o.currentRun = &domain.PipelineRun{RunID: "already-running"}
	o.mu.Unlock()

	_, err := o.Run(context.Background(), domain.ModeFull)
	require.Error(t, err)
}

func TestOrchestrator_LowQualityBatchEmitsWarningAlert(t *testing.T) {
	land := newSource(t, domain.SourceLandAuthority, extractor.RawRecord{
		"id": "1", "parcelNumber": "WA-003", "area": 500.0,
	})
	sink := testsupport.NewFakeAlertSink()

	o := New(Config{
		PipelineName: "test-pipeline",
		Sources:      []Source{land},
		Normalizer:   normalizer.New(),
		Merger: merger.WindowOptions{
			ExpectedSources: []domain.SourceSystem{domain.SourceLandAuthority},
			MaxAge:          time.Second,
			MaxGroups:       10,
		},
		Watermarks: watermark.NewMemoryStore(),
		AlertSink:  sink,
	})

	run, err := o.Run(context.Background(), domain.ModeFull)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, run.Status)

	var found bool
	for _, alert := range sink.Alerts() {
		if alert.Type == "warning" && alert.Title == "data quality below threshold" {
			found = true
		}
	}
	assert.True(t, found, "expected a quality-threshold warning alert, got %+v", sink.Alerts())
}

func TestOrchestrator_PauseResumeTransitions(t *testing.T) {
	o := New(Config{Normalizer: normalizer.New(), Watermarks: watermark.NewMemoryStore()})

	require.Error(t, o.Pause())

	o.mu.Lock()
	o.status = domain.StatusRunning
	o.mu.Unlock()

	require.NoError(t, o.Pause())
	assert.Equal(t, domain.StatusPaused, o.Status())
	require.NoError(t, o.Resume())
	assert.Equal(t, domain.StatusRunning, o.Status())
}
