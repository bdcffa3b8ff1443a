package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailbundle/internal/apperr"
)

func newTestRunner(opts ...Option) *Runner {
	opts = append([]Option{WithRetries(1, time.Millisecond)}, opts...)
	return NewRunner(NewIndicator(), zerolog.Nop(), opts...)
}

func TestRunUndoesCompletedOperation(t *testing.T) {
	r := newTestRunner()
	errLabel := errors.New("label removal rejected")

	var undo1 atomic.Int32
	op1Done := make(chan struct{})

	err := r.Run(context.Background(),
		Operation{
			Name: "op1",
			Do: func(context.Context) error {
				close(op1Done)
				return nil
			},
			Undo: func(context.Context) error {
				undo1.Add(1)
				return nil
			},
		},
		Operation{
			Name: "op2",
			Do: func(context.Context) error {
				<-op1Done
				return errLabel
			},
			Undo: func(context.Context) error {
				t.Error("undo of the failed operation must not run")
				return nil
			},
		},
	)

	require.Error(t, err)
	assert.Equal(t, int32(1), undo1.Load())
	assert.ErrorIs(t, err, errLabel)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "op2", opErr.Op)
	assert.Equal(t, 1, opErr.Attempts)
}

func TestRunRetriesTransientFailure(t *testing.T) {
	var states []State
	r := newTestRunner(WithStateHook(func(s State) { states = append(states, s) }))

	var calls, undos atomic.Int32
	err := r.Run(context.Background(),
		Operation{
			Name: "fetch",
			Do: func(context.Context) error {
				if calls.Add(1) == 1 {
					return apperr.Transport("fetch", errors.New("connection reset"))
				}
				return nil
			},
		},
		Operation{
			Name: "local",
			Do:   func(context.Context) error { return nil },
			Undo: func(context.Context) error {
				undos.Add(1)
				return nil
			},
		},
	)

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.LessOrEqual(t, undos.Load(), int32(1))
	assert.Equal(t, StatePending, states[0])
	assert.Contains(t, states, StateRetryPending)
	assert.Equal(t, StateCompleted, states[len(states)-1])
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	r := newTestRunner()

	var calls atomic.Int32
	err := r.Run(context.Background(), Operation{
		Name: "remote",
		Do: func(context.Context) error {
			calls.Add(1)
			return apperr.FromStatus("remote", 503, errors.New("unavailable"))
		},
	})

	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 503, apperr.StatusCode(err))

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, 2, opErr.Attempts)
}

func TestRunDoesNotRetryNonTransient(t *testing.T) {
	r := newTestRunner()

	var calls atomic.Int32
	err := r.Run(context.Background(), Operation{
		Name: "remote",
		Do: func(context.Context) error {
			calls.Add(1)
			return apperr.FromStatus("remote", 401, errors.New("expired"))
		},
	})

	require.Error(t, err)
	assert.True(t, apperr.IsAuth(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunUndoFailure(t *testing.T) {
	r := newTestRunner()
	errDo := errors.New("do failed")
	errUndo := errors.New("undo failed")

	first := make(chan struct{})
	err := r.Run(context.Background(),
		Operation{
			Name: "a",
			Do: func(context.Context) error {
				close(first)
				return nil
			},
			Undo: func(context.Context) error { return errUndo },
		},
		Operation{
			Name: "b",
			Do: func(context.Context) error {
				<-first
				return errDo
			},
		},
	)

	var undoErr *UndoError
	require.ErrorAs(t, err, &undoErr)
	assert.ErrorIs(t, err, errDo)
	assert.ErrorIs(t, err, errUndo)
	require.Len(t, undoErr.UndoErrs, 1)
	assert.Contains(t, err.Error(), "undo a")
}

func TestRunUndoesInCompletionOrder(t *testing.T) {
	r := newTestRunner()

	var mu sync.Mutex
	var undone []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			undone = append(undone, name)
			mu.Unlock()
			return nil
		}
	}

	bDone := make(chan struct{})
	aDone := make(chan struct{})
	err := r.Run(context.Background(),
		Operation{
			Name: "a",
			Do: func(context.Context) error {
				<-bDone
				close(aDone)
				return nil
			},
			Undo: record("a"),
		},
		Operation{
			Name: "b",
			Do: func(context.Context) error {
				close(bDone)
				return nil
			},
			Undo: record("b"),
		},
		Operation{
			Name: "c",
			Do: func(context.Context) error {
				<-aDone
				return errors.New("boom")
			},
		},
	)

	require.Error(t, err)
	assert.Equal(t, []string{"b", "a"}, undone)
}

func TestRunOrderedStopsAfterFailedStage(t *testing.T) {
	r := newTestRunner()

	var order []string
	var undoLocal atomic.Int32
	err := r.RunOrdered(context.Background(),
		[]Operation{{
			Name: "local",
			Do: func(context.Context) error {
				order = append(order, "local")
				return nil
			},
			Undo: func(context.Context) error {
				undoLocal.Add(1)
				return nil
			},
		}},
		[]Operation{{
			Name: "remote",
			Do: func(context.Context) error {
				order = append(order, "remote")
				return errors.New("rejected")
			},
		}},
		[]Operation{{
			Name: "never",
			Do: func(context.Context) error {
				t.Error("stage after a failure must not run")
				return nil
			},
		}},
	)

	require.Error(t, err)
	assert.Equal(t, []string{"local", "remote"}, order)
	assert.Equal(t, int32(1), undoLocal.Load())
}

func TestRunHoldsBusyIndicator(t *testing.T) {
	r := newTestRunner()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	busy := r.Busy().Subscribe(ctx)
	assert.False(t, <-busy)

	started := make(chan struct{})
	finish := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		errc <- r.Run(context.Background(), Operation{
			Name: "slow",
			Do: func(context.Context) error {
				close(started)
				<-finish
				return nil
			},
		})
	}()

	<-started
	assert.True(t, <-busy)
	assert.True(t, r.Busy().Busy())

	close(finish)
	require.NoError(t, <-errc)
	assert.False(t, <-busy)
	assert.False(t, r.Busy().Busy())
}
