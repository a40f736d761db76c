// Package metrics exposes the pipeline's in-process counters, gauges, and
// histograms over a Prometheus-compatible scrape endpoint.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// durationBuckets matches the stage-duration histogram buckets required by the
// metrics contract (seconds).
var durationBuckets = []float64{10, 30, 60, 120, 300, 600, 1200, 3600}

// Registry holds every collector the pipeline registers. Unlike the teacher's
// package-level global, this is constructed per-process by NewRegistry so
// tests can each get an isolated registry.
type Registry struct {
	reg *prometheus.Registry

	ExtractedRecordsTotal   *prometheus.CounterVec
	TransformedRecordsTotal *prometheus.CounterVec
	LoadedRecordsTotal      *prometheus.CounterVec
	FailedRecordsTotal      *prometheus.CounterVec
	PipelineRunsTotal       *prometheus.CounterVec
	PipelineDuration        *prometheus.HistogramVec
	DataQualityScore        *prometheus.GaugeVec
	ActiveJobs              *prometheus.GaugeVec

	startedAt time.Time
}

// NewRegistry constructs and registers every required metric family.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		ExtractedRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_extracted_records_total",
			Help: "Total records pulled from a source.",
		}, []string{"source"}),
		TransformedRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_transformed_records_total",
			Help: "Total records normalized.",
		}, []string{"transformer"}),
		LoadedRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_loaded_records_total",
			Help: "Total records written to a destination.",
		}, []string{"destination"}),
		FailedRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_failed_records_total",
			Help: "Total records that failed at some stage.",
		}, []string{"stage", "reason"}),
		PipelineRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_pipeline_runs_total",
			Help: "Total pipeline runs grouped by terminal status and mode.",
		}, []string{"status", "mode"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_pipeline_duration_seconds",
			Help:    "Duration of pipeline stages.",
			Buckets: durationBuckets,
		}, []string{"stage"}),
		DataQualityScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etl_data_quality_score",
			Help: "Latest batch quality score by dimension.",
		}, []string{"dimension"}),
		ActiveJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etl_active_jobs",
			Help: "Currently active jobs by type.",
		}, []string{"type"}),
		startedAt: time.Now(),
	}

	reg.MustRegister(
		m.ExtractedRecordsTotal,
		m.TransformedRecordsTotal,
		m.LoadedRecordsTotal,
		m.FailedRecordsTotal,
		m.PipelineRunsTotal,
		m.PipelineDuration,
		m.DataQualityScore,
		m.ActiveJobs,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return m
}

// Handler returns the /metrics scrape handler.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// RecordExtracted increments the extracted-records counter for source.
func (m *Registry) RecordExtracted(source string, n int) {
	m.ExtractedRecordsTotal.WithLabelValues(source).Add(float64(n))
}

// RecordTransformed increments the transformed-records counter.
func (m *Registry) RecordTransformed(transformer string, n int) {
	m.TransformedRecordsTotal.WithLabelValues(transformer).Add(float64(n))
}

// RecordLoaded increments the loaded-records counter for destination.
func (m *Registry) RecordLoaded(destination string, n int) {
	m.LoadedRecordsTotal.WithLabelValues(destination).Add(float64(n))
}

// RecordFailed increments the failed-records counter for stage/reason.
func (m *Registry) RecordFailed(stage, reason string, n int) {
	m.FailedRecordsTotal.WithLabelValues(stage, reason).Add(float64(n))
}

// RecordRunComplete increments the pipeline-runs counter for a terminal status/mode pair.
func (m *Registry) RecordRunComplete(status, mode string) {
	m.PipelineRunsTotal.WithLabelValues(status, mode).Inc()
}

// ObserveStageDuration records how long a named stage took.
func (m *Registry) ObserveStageDuration(stage string, d time.Duration) {
	m.PipelineDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetQualityScore publishes the latest per-dimension quality score (0-1).
func (m *Registry) SetQualityScore(dimension string, score float64) {
	m.DataQualityScore.WithLabelValues(dimension).Set(score)
}

// SetActiveJobs publishes the current count of active jobs of a type.
func (m *Registry) SetActiveJobs(jobType string, count int) {
	m.ActiveJobs.WithLabelValues(jobType).Set(float64(count))
}

// HealthHandler returns a liveness JSON handler reporting uptime.
func (m *Registry) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"uptime": time.Since(m.startedAt).String(),
		})
	})
}
