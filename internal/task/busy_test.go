package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndicatorClearsAfterLastRelease(t *testing.T) {
	b := NewIndicator()

	r1 := b.Acquire()
	r2 := b.Acquire()
	assert.True(t, b.Busy())

	r1()
	r1()
	assert.True(t, b.Busy())

	r2()
	assert.False(t, b.Busy())
}

func TestIndicatorSubscribeLatestWins(t *testing.T) {
	b := NewIndicator()
	ctx, cancel := context.WithCancel(context.Background())

	ch := b.Subscribe(ctx)

	release := b.Acquire()
	release()

	// Unread transitions collapse to the latest value.
	assert.False(t, <-ch)

	cancel()
	for range ch {
	}
}
