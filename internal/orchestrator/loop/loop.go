package loop

import (
	"context"
	"errors"
	"time"

	"github.com/codefionn/sysask/internal/consts"
)

// ErrAborted marks work cancelled by the caller. Errors returned by Abort
// match it with errors.Is and also unwrap to the context's cause.
var ErrAborted = errors.New(consts.MsgRequestAborted)

type abortError struct {
	cause error
}

func (e *abortError) Error() string        { return consts.MsgRequestAborted }
func (e *abortError) Is(target error) bool { return target == ErrAborted }
func (e *abortError) Unwrap() error        { return e.cause }

// Abort returns an ErrAborted error carrying ctx's cause, or nil when ctx is
// still live.
func Abort(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &abortError{cause: context.Cause(ctx)}
	}
	return nil
}

// IsAborted reports whether err is an abort.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// Verdict is the outcome of a checkpoint.
type Verdict int

const (
	// Continue means the budget allows more work.
	Continue Verdict = iota
	// Aborted means the caller cancelled.
	Aborted
	// DeadlineExceeded means the wall-clock budget is spent.
	DeadlineExceeded
	// LimitReached means the iteration budget is spent.
	LimitReached
)

func (v Verdict) String() string {
	switch v {
	case Continue:
		return "Continue"
	case Aborted:
		return "Aborted"
	case DeadlineExceeded:
		return "DeadlineExceeded"
	case LimitReached:
		return "LimitReached"
	default:
		return "Unknown"
	}
}

// Config holds the budgets of one orchestration.
type Config struct {
	MaxIterations    int
	MaxExecutionTime time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns default budget configuration
func DefaultConfig() *Config {
	return &Config{
		MaxIterations:    consts.DefaultMaxIterations,
		MaxExecutionTime: consts.DefaultMaxExecutionTime,
	}
}
