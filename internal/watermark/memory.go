package watermark

import (
	"context"
	"sync"
	"time"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
)

// MemoryStore is an in-process Store, used by tests and single-node
// deployments that accept losing the watermark on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	marks map[string]domain.Watermark
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]domain.Watermark)}
}

// Get returns the stored watermark, or a zero-value one if none was set yet.
func (m *MemoryStore) Get(_ context.Context, pipelineName string) (domain.Watermark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mark, ok := m.marks[pipelineName]
	if !ok {
		return domain.Watermark{LastExtractedAt: map[string]time.Time{}}, nil
	}
	return mark, nil
}

// Set stores mark for pipelineName, overwriting any previous value.
func (m *MemoryStore) Set(_ context.Context, pipelineName string, mark domain.Watermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[pipelineName] = mark
	return nil
}
