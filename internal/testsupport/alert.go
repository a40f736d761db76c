package testsupport

import (
	"sync"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
)

// FakeAlertSink records every Alert sent to it, for assertions in tests.
type FakeAlertSink struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

// NewFakeAlertSink constructs an empty FakeAlertSink.
func NewFakeAlertSink() *FakeAlertSink { return &FakeAlertSink{} }

// Send implements domain.AlertSink.
func (s *FakeAlertSink) Send(alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

// Alerts returns every alert sent so far.
func (s *FakeAlertSink) Alerts() []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Alert(nil), s.alerts...)
}
