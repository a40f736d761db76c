package orchestrator

import "time"

// EventType names a point in a pipeline run's lifecycle. A typed channel of
// Events replaces an EventEmitter: callers range over Events() instead of
// registering named listeners.
type EventType string

const (
	EventRunStart    EventType = "run.start"
	EventRunComplete EventType = "run.complete"
	EventRunError    EventType = "run.error"
	EventRunPaused   EventType = "run.paused"
	EventRunResumed  EventType = "run.resumed"

	EventExtractStart    EventType = "extract.start"
	EventExtractProgress EventType = "extract.progress"
	EventExtractComplete EventType = "extract.complete"

	EventTransformStart    EventType = "transform.start"
	EventTransformProgress EventType = "transform.progress"
	EventTransformComplete EventType = "transform.complete"

	EventLoadStart    EventType = "load.start"
	EventLoadProgress EventType = "load.progress"
	EventLoadComplete EventType = "load.complete"
)

// Event is one lifecycle notification emitted on the orchestrator's event
// channel. Data carries event-specific detail (e.g. extracted count,
// error message) without forcing every event into one rigid struct shape.
type Event struct {
	Type      EventType
	RunID     string
	Source    string
	Timestamp time.Time
	Data      map[string]any
}
