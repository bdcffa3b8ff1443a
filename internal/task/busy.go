package task

import (
	"context"
	gosync "sync"
)

// Indicator is a process-wide busy flag. It is true while at least one
// holder has acquired it and not yet released.
type Indicator struct {
	mu     gosync.Mutex
	active int
	next   int
	subs   map[int]chan bool
}

// NewIndicator returns an idle indicator.
func NewIndicator() *Indicator {
	return &Indicator{subs: make(map[int]chan bool)}
}

// Acquire marks one more activity in flight. The returned release func is
// idempotent.
func (b *Indicator) Acquire() (release func()) {
	b.mu.Lock()
	b.active++
	if b.active == 1 {
		b.publish(true)
	}
	b.mu.Unlock()

	var once gosync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.active--
			if b.active == 0 {
				b.publish(false)
			}
			b.mu.Unlock()
		})
	}
}

// Busy reports whether any activity is in flight.
func (b *Indicator) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active > 0
}

// Subscribe returns a stream that starts with the current value and then
// carries every transition. A slow reader only sees the latest value. The
// stream closes when ctx is done.
func (b *Indicator) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	ch <- b.active > 0
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// publish must be called with b.mu held.
func (b *Indicator) publish(busy bool) {
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- busy
	}
}
