package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit-breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Errors returned by Execute when a call is rejected outright.
var (
	ErrBreakerOpen = errors.New("circuit breaker is open")
	ErrCallTimeout = errors.New("circuit breaker call timed out")
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes required to close.
	SuccessThreshold int
	// ResetTimeout is how long the breaker stays open before probing again.
	ResetTimeout time.Duration
	// CallTimeout races the wrapped call; a timeout counts as a failure.
	CallTimeout time.Duration
	// OnStateChange, if set, is invoked (asynchronously) on every state transition.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerConfig returns the pipeline-wide defaults from the breaker contract.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		ResetTimeout:     60 * time.Second,
		CallTimeout:      30 * time.Second,
	}
}

// CircuitBreaker is a named, per-dependency three-state gate.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	mu             sync.Mutex
	state          State
	failureCount   int
	successCount   int
	lastFailureAt  time.Time
}

// NewCircuitBreaker constructs a CircuitBreaker, filling zero-valued fields
// from DefaultBreakerConfig.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	defaults := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaults.ResetTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}
	return &CircuitBreaker{name: name, config: cfg, state: StateClosed}
}

// Name returns the breaker's dependency name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot captures the breaker's state for the CircuitBreakerState data model.
type Snapshot struct {
	Name          string
	State         State
	FailureCount  int
	SuccessCount  int
	LastFailureAt time.Time
}

// Snapshot returns the breaker's current state data.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:          cb.name,
		State:         cb.state,
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		LastFailureAt: cb.lastFailureAt,
	}
}

// Execute runs fn with circuit-breaker protection and a per-call timeout race.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.config.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = ErrCallTimeout
	}

	cb.afterCall(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailureAt) > cb.config.ResetTimeout {
			cb.setState(StateHalfOpen)
			return nil
		}
		return ErrBreakerOpen
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++
	cb.lastFailureAt = time.Now()

	switch cb.state {
	case StateHalfOpen:
		cb.setState(StateOpen)
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	cb.failureCount = 0
	cb.successCount = 0

	if cb.config.OnStateChange != nil {
		name, cfg := cb.name, cb.config
		go cfg.OnStateChange(name, old, newState)
	}
}

// Factory memoizes named breakers so every caller asking for "extractor-land_authority"
// shares the same underlying state, per the process-wide breaker-factory contract.
type Factory struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	defaults BreakerConfig
}

// NewFactory constructs a Factory using cfg as the default config for newly created breakers.
func NewFactory(cfg BreakerConfig) *Factory {
	return &Factory{breakers: make(map[string]*CircuitBreaker), defaults: cfg}
}

// Get returns the named breaker, creating it with the factory defaults on first use.
func (f *Factory) Get(name string) *CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, f.defaults)
	f.breakers[name] = cb
	return cb
}

// Snapshots returns a snapshot of every breaker the factory has created.
func (f *Factory) Snapshots() []Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Snapshot, 0, len(f.breakers))
	for _, cb := range f.breakers {
		out = append(out, cb.Snapshot())
	}
	return out
}
