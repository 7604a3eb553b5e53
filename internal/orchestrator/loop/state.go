package loop

import (
	"context"
	"sync"
	"time"
)

// State is the budget view the orchestrator consults.
type State interface {
	Iteration() int
	Increment() int
	MaxIterations() int
	HasReachedLimit() bool
	Deadline() time.Time
	Expired() bool
	Elapsed() time.Duration
	Check(ctx context.Context) Verdict
	CheckTime(ctx context.Context) Verdict
}

var _ State = (*DefaultState)(nil)

// DefaultState implements State; safe for concurrent use.
type DefaultState struct {
	mu sync.RWMutex

	iteration     int
	maxIterations int

	start    time.Time
	deadline time.Time
	now      func() time.Time
}

// NewDefaultState starts the clock. The deadline is fixed here.
func NewDefaultState(config *Config) *DefaultState {
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	maxIter := config.MaxIterations
	if maxIter <= 0 {
		maxIter = def.MaxIterations
	}
	budget := config.MaxExecutionTime
	if budget <= 0 {
		budget = def.MaxExecutionTime
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	start := now()
	return &DefaultState{
		maxIterations: maxIter,
		start:         start,
		deadline:      start.Add(budget),
		now:           now,
	}
}

// Iteration returns the current iteration count (0-based)
func (s *DefaultState) Iteration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iteration
}

// Increment advances the iteration counter and returns the new count
func (s *DefaultState) Increment() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iteration++
	return s.iteration
}

// MaxIterations returns the maximum number of iterations allowed
func (s *DefaultState) MaxIterations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxIterations
}

// HasReachedLimit returns true if the maximum iteration limit has been reached
func (s *DefaultState) HasReachedLimit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.iteration >= s.maxIterations
}

func (s *DefaultState) Deadline() time.Time { return s.deadline }

// Expired reports whether the deadline has passed.
func (s *DefaultState) Expired() bool {
	return !s.now().Before(s.deadline)
}

func (s *DefaultState) Elapsed() time.Duration {
	return s.now().Sub(s.start)
}

// Check evaluates abort first, then the deadline, then the iteration limit.
func (s *DefaultState) Check(ctx context.Context) Verdict {
	switch {
	case ctx.Err() != nil:
		return Aborted
	case s.Expired():
		return DeadlineExceeded
	case s.HasReachedLimit():
		return LimitReached
	default:
		return Continue
	}
}

// CheckTime is Check without the iteration limit, for checkpoints before
// model calls.
func (s *DefaultState) CheckTime(ctx context.Context) Verdict {
	switch {
	case ctx.Err() != nil:
		return Aborted
	case s.Expired():
		return DeadlineExceeded
	default:
		return Continue
	}
}
