// Package framework provides the lifecycle base embedded by long-running
// pipeline components (the orchestrator's run loop, in particular).
package framework

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ServiceState is the lifecycle state of a long-running component.
type ServiceState int32

const (
	StateUninitialized ServiceState = iota
	StateInitializing
	StateReady
	StateNotReady
	StateStopping
	StateStopped
	StateFailed
)

func (s ServiceState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateNotReady:
		return "not-ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ServiceBase gives a component thread-safe readiness tracking without
// hand-rolled bookkeeping in every caller.
type ServiceBase struct {
	state     atomic.Int32
	name      atomic.Value
	startedAt atomic.Value
	stoppedAt atomic.Value

	mu        sync.RWMutex
	lastError error
}

// NewServiceBase creates a ServiceBase with the given display name.
func NewServiceBase(name string) *ServiceBase {
	b := &ServiceBase{}
	b.name.Store(name)
	return b
}

// Name returns the component's display name.
func (b *ServiceBase) Name() string {
	if v := b.name.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// SetName overrides the display name.
func (b *ServiceBase) SetName(name string) {
	b.name.Store(strings.TrimSpace(name))
}

// State returns the current lifecycle state.
func (b *ServiceBase) State() ServiceState {
	return ServiceState(b.state.Load())
}

// MarkReady flips between ready and not-ready.
func (b *ServiceBase) MarkReady(ready bool) {
	if ready {
		b.state.Store(int32(StateReady))
	} else {
		b.state.Store(int32(StateNotReady))
	}
}

// MarkStarted records a start timestamp and moves to ready.
func (b *ServiceBase) MarkStarted() {
	b.startedAt.Store(time.Now())
	b.state.Store(int32(StateReady))
}

// MarkStopped records a stop timestamp and moves to stopped.
func (b *ServiceBase) MarkStopped() {
	b.stoppedAt.Store(time.Now())
	b.state.Store(int32(StateStopped))
}

// MarkFailed records the failure error and moves to failed.
func (b *ServiceBase) MarkFailed(err error) {
	b.mu.Lock()
	b.lastError = err
	b.mu.Unlock()
	b.state.Store(int32(StateFailed))
}

// LastError returns the last recorded failure, if any.
func (b *ServiceBase) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

// Uptime reports how long the component has been running.
func (b *ServiceBase) Uptime() time.Duration {
	started, ok := b.startedAt.Load().(time.Time)
	if !ok || started.IsZero() {
		return 0
	}
	if stopped, ok := b.stoppedAt.Load().(time.Time); ok && !stopped.IsZero() {
		return stopped.Sub(started)
	}
	return time.Since(started)
}

// IsReady reports whether the component is in the ready state.
func (b *ServiceBase) IsReady() bool {
	return b.State() == StateReady
}

// Ready implements a readiness check suitable for a health endpoint.
func (b *ServiceBase) Ready(ctx context.Context) error {
	_ = ctx
	if b.State() == StateReady {
		return nil
	}
	name := b.Name()
	if err := b.LastError(); err != nil {
		if name != "" {
			return fmt.Errorf("%s: %w", name, err)
		}
		return err
	}
	if name != "" {
		return fmt.Errorf("%s: %s", name, b.State())
	}
	return fmt.Errorf("component %s", b.State())
}
