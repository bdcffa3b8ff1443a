package task

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailbundle/internal/apperr"
)

// State is the lifecycle state of one invocation.
type State int

const (
	StatePending State = iota
	StateRunning
	StateRollingBack
	StateRetryPending
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateRollingBack:
		return "rolling_back"
	case StateRetryPending:
		return "retry_pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Operation is one step of an invocation. Undo is optional and is only
// called after Do returned nil.
type Operation struct {
	Name string
	Do   func(ctx context.Context) error
	Undo func(ctx context.Context) error
}

// OpError reports the operation whose failure ended an invocation.
type OpError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *OpError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s (after %d attempts): %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// UndoError reports a failure whose compensation also failed. Both the
// original failure and every undo failure are reachable through
// errors.Is and errors.As.
type UndoError struct {
	Err      error
	UndoErrs []error
}

func (e *UndoError) Error() string {
	return fmt.Sprintf("%v; undo failed: %v", e.Err, errors.Join(e.UndoErrs...))
}

func (e *UndoError) Unwrap() []error {
	return append([]error{e.Err}, e.UndoErrs...)
}

// Option configures a Runner.
type Option func(*Runner)

// WithRetries sets how many times a failed invocation is retried and the
// pause between attempts.
func WithRetries(max int, delay time.Duration) Option {
	return func(r *Runner) {
		r.maxRetries = max
		r.retryDelay = delay
	}
}

// WithStateHook registers fn to observe state transitions.
func WithStateHook(fn func(State)) Option {
	return func(r *Runner) { r.onState = fn }
}

// Runner runs groups of operations as one unit: operations run
// concurrently, a failure undoes the operations that already completed,
// and transient failures retry the whole invocation.
type Runner struct {
	maxRetries int
	retryDelay time.Duration
	busy       *Indicator
	log        zerolog.Logger
	onState    func(State)
}

// NewRunner creates a runner that holds busy for every invocation.
func NewRunner(busy *Indicator, log zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		maxRetries: 1,
		retryDelay: 500 * time.Millisecond,
		busy:       busy,
		log:        log.With().Str("component", "runner").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Busy returns the indicator held while invocations are in flight.
func (r *Runner) Busy() *Indicator {
	return r.busy
}

// Run runs ops concurrently as one invocation.
func (r *Runner) Run(ctx context.Context, ops ...Operation) error {
	return r.RunOrdered(ctx, ops)
}

// RunOrdered runs stages one after another as one invocation. Operations
// within a stage run concurrently; a stage starts only after the previous
// one fully succeeded.
func (r *Runner) RunOrdered(ctx context.Context, stages ...[]Operation) error {
	release := r.busy.Acquire()
	defer release()

	r.transition(StatePending)

	for attempt := 1; ; attempt++ {
		r.transition(StateRunning)

		err := r.attempt(ctx, stages)
		if err == nil {
			r.transition(StateCompleted)
			return nil
		}

		var undoErr *UndoError
		retry := attempt <= r.maxRetries &&
			apperr.IsTransient(err) &&
			!errors.As(err, &undoErr) &&
			ctx.Err() == nil

		if !retry {
			var opErr *OpError
			if errors.As(err, &opErr) {
				opErr.Attempts = attempt
			}
			r.transition(StateFailed)
			r.log.Warn().Err(err).Int("attempts", attempt).Msg("invocation failed")
			return err
		}

		r.transition(StateRetryPending)
		r.log.Info().Err(err).Int("attempt", attempt).Msg("retrying invocation")

		select {
		case <-ctx.Done():
			r.transition(StateFailed)
			return err
		case <-time.After(r.retryDelay):
		}
	}
}

func (r *Runner) attempt(ctx context.Context, stages [][]Operation) error {
	var (
		mu   gosync.Mutex
		done []Operation
	)

	for _, stage := range stages {
		// Siblings are not cancelled on failure; an in-flight remote call
		// always finishes so its effect can be compensated.
		var g errgroup.Group
		for _, op := range stage {
			g.Go(func() error {
				if err := op.Do(ctx); err != nil {
					return &OpError{Op: op.Name, Err: err}
				}
				mu.Lock()
				done = append(done, op)
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return r.rollback(ctx, done, err)
		}
	}
	return nil
}

// rollback undoes completed operations in the order they completed.
func (r *Runner) rollback(ctx context.Context, done []Operation, cause error) error {
	r.transition(StateRollingBack)

	ctx = context.WithoutCancel(ctx)
	var undoErrs []error
	for _, op := range done {
		if op.Undo == nil {
			continue
		}
		if err := op.Undo(ctx); err != nil {
			r.log.Error().Err(err).Str("op", op.Name).Msg("undo failed")
			undoErrs = append(undoErrs, &OpError{Op: "undo " + op.Name, Err: err})
		}
	}

	if len(undoErrs) > 0 {
		return &UndoError{Err: cause, UndoErrs: undoErrs}
	}
	return cause
}

func (r *Runner) transition(s State) {
	if r.onState != nil {
		r.onState(s)
	}
}
