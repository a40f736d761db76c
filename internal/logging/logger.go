// Package logging provides structured logging with run/trace ID support for
// the pipeline core.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried by Logger.
type ContextKey string

const (
	// RunIDKey is the context key for the pipeline run ID.
	RunIDKey ContextKey = "run_id"
	// SourceKey is the context key for the source system of the current stage.
	SourceKey ContextKey = "source"
	// StageKey is the context key for the active pipeline stage.
	StageKey ContextKey = "stage"
)

// Logger wraps logrus.Logger with pipeline-scoped structured fields.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for the given component name.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv builds a Logger from LOG_LEVEL/LOG_FORMAT, defaulting to info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext returns an entry enriched with run/source/stage fields found on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		entry = entry.WithField("run_id", runID)
	}
	if source, ok := ctx.Value(SourceKey).(string); ok && source != "" {
		entry = entry.WithField("source", source)
	}
	if stage, ok := ctx.Value(StageKey).(string); ok && stage != "" {
		entry = entry.WithField("stage", stage)
	}
	return entry
}

// WithFields returns an entry with the component field plus the supplied fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError returns an entry carrying the component field and the given error.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"component": l.component, "error": err.Error()})
}

// NewRunID returns a fresh pipeline run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// WithRunID attaches a run ID to ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run ID from ctx, if present.
func GetRunID(ctx context.Context) string {
	if v, ok := ctx.Value(RunIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSource attaches a source system name to ctx.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, SourceKey, source)
}

// WithStage attaches the active stage name to ctx.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageKey, stage)
}

// LogStageTransition records a pipeline run's state machine transition.
func (l *Logger) LogStageTransition(ctx context.Context, from, to string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"from_state": from,
		"to_state":   to,
	}).Info("pipeline run state transition")
}

// LogRecordsProcessed records a batch-level summary for a stage.
func (l *Logger) LogRecordsProcessed(ctx context.Context, count int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"records":     count,
		"duration_ms": duration.Milliseconds(),
	}).Info("stage batch processed")
}

// LogQualityIssue records a data-quality issue surfaced by the normalizer.
func (l *Logger) LogQualityIssue(ctx context.Context, parcelNumber, field, issue string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"parcel_number": parcelNumber,
		"field":         field,
		"issue":         issue,
	}).Warn("data quality issue")
}

// LogBreakerTransition records a circuit breaker state change.
func (l *Logger) LogBreakerTransition(ctx context.Context, name, from, to string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"breaker":    name,
		"from_state": from,
		"to_state":   to,
	}).Warn("circuit breaker state change")
}
