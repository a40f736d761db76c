// Package pipeline is the composition root: it wires the orchestrator,
// extractors, normalizer, merger, loader, metrics registry, and circuit
// breaker factory into one runnable unit, mirroring the teacher's
// cmd/gateway/main.go dependency-injection style.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/landrecords-sl/etl-pipeline/internal/crypto"
	"github.com/landrecords-sl/etl-pipeline/internal/domain"
	"github.com/landrecords-sl/etl-pipeline/internal/extractor"
	"github.com/landrecords-sl/etl-pipeline/internal/loader"
	"github.com/landrecords-sl/etl-pipeline/internal/logging"
	"github.com/landrecords-sl/etl-pipeline/internal/merger"
	"github.com/landrecords-sl/etl-pipeline/internal/metrics"
	"github.com/landrecords-sl/etl-pipeline/internal/normalizer"
	"github.com/landrecords-sl/etl-pipeline/internal/orchestrator"
	"github.com/landrecords-sl/etl-pipeline/internal/resilience"
	"github.com/landrecords-sl/etl-pipeline/internal/storage/postgres"
	"github.com/landrecords-sl/etl-pipeline/internal/watermark"
)

// SourceConfig describes one external source the pipeline extracts from.
type SourceConfig struct {
	System      domain.SourceSystem
	Adapter     extractor.SourceAdapter
	PageSize    int
	PoliteDelay time.Duration
}

// Options configures a Pipeline's construction.
type Options struct {
	Name           string
	Sources        []SourceConfig
	DestinationDB  *sql.DB
	EncryptionKey  []byte
	AlertSink      domain.AlertSink
	Watermarks     watermark.Store
	BreakerConfig  resilience.BreakerConfig
	RetryOptions   resilience.RetryOptions
	Logger         *logging.Logger
}

// Pipeline bundles every collaborator the Orchestrator needs, process-wide
// breaker and metrics factories included.
type Pipeline struct {
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Registry
	Breakers     *resilience.Factory
	Logger       *logging.Logger
}

// New wires a Pipeline per Options. If DestinationDB is nil, the pipeline
// runs extraction/normalization/merge but skips loading (useful for dry runs).
func New(opts Options) (*Pipeline, error) {
	if opts.Name == "" {
		opts.Name = "land-records-etl"
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewFromEnv(opts.Name)
	}

	breakerCfg := opts.BreakerConfig
	if breakerCfg.FailureThreshold == 0 {
		breakerCfg = resilience.DefaultBreakerConfig()
	}
	breakers := resilience.NewFactory(breakerCfg)

	reg := metrics.NewRegistry()

	var ld *loader.Loader
	if opts.DestinationDB != nil {
		enc, err := encryptionService(opts.EncryptionKey)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(opts.DestinationDB); err != nil {
			return nil, fmt.Errorf("apply destination schema: %w", err)
		}
		ld = loader.New(opts.DestinationDB, enc)
	}

	sources := make([]orchestrator.Source, 0, len(opts.Sources))
	for _, sc := range opts.Sources {
		breaker := breakers.Get("extractor-" + string(sc.System))
		ext := extractor.New(sc.Adapter, breaker, extractor.Config{
			PageSize:     sc.PageSize,
			PoliteDelay:  sc.PoliteDelay,
			RetryOptions: opts.RetryOptions,
			BreakerName:  breaker.Name(),
		})
		sources = append(sources, orchestrator.Source{System: sc.System, Extractor: ext})
	}

	watermarks := opts.Watermarks
	if watermarks == nil {
		watermarks = watermark.NewMemoryStore()
	}

	orch := orchestrator.New(orchestrator.Config{
		PipelineName: opts.Name,
		Sources:      sources,
		Normalizer:   normalizer.New(),
		Merger:       merger.DefaultWindowOptions(),
		Loader:       ld,
		Watermarks:   watermarks,
		Metrics:      reg,
		AlertSink:    opts.AlertSink,
		Logger:       log,
	})

	return &Pipeline{Orchestrator: orch, Metrics: reg, Breakers: breakers, Logger: log}, nil
}

// Run triggers one pipeline pass and blocks until it finishes.
func (p *Pipeline) Run(ctx context.Context, mode domain.Mode) (domain.PipelineRun, error) {
	return p.Orchestrator.Run(ctx, mode)
}

func encryptionService(key []byte) (crypto.EncryptionService, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(key))
	}
	return crypto.NewEnvelopeService(key)
}
