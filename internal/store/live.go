package store

import (
	"context"
	gosync "sync"
)

// Table names a change-notification topic.
type Table string

const (
	TableAccounts Table = "accounts"
	TableBundles  Table = "bundles"
	TableThreads  Table = "threads"
	TableEmails   Table = "emails"
)

// Change reports that a committed write touched tables for one account.
type Change struct {
	AccountID string
	Tables    []Table
}

type subscriber struct {
	accountID string
	tables    map[Table]bool
	signal    chan struct{}
}

func (sub *subscriber) matches(c Change) bool {
	if sub.accountID != "" && c.AccountID != sub.accountID {
		return false
	}
	if len(sub.tables) == 0 {
		return true
	}
	for _, t := range c.Tables {
		if sub.tables[t] {
			return true
		}
	}
	return false
}

// hub fans committed changes out to subscribers. Signals coalesce: a slow
// subscriber sees at most one pending notification.
type hub struct {
	mu     gosync.Mutex
	next   int
	subs   map[int]*subscriber
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]*subscriber)}
}

func (h *hub) subscribe(accountID string, tables []Table) (int, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{
		accountID: accountID,
		tables:    make(map[Table]bool, len(tables)),
		signal:    make(chan struct{}, 1),
	}
	for _, t := range tables {
		sub.tables[t] = true
	}
	if h.closed {
		close(sub.signal)
		return -1, sub.signal
	}

	id := h.next
	h.next++
	h.subs[id] = sub
	return id, sub.signal
}

func (h *hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.signal)
	}
}

func (h *hub) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		for _, c := range changes {
			if !sub.matches(c) {
				continue
			}
			select {
			case sub.signal <- struct{}{}:
			default:
			}
			break
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.signal)
	}
}

// Subscribe returns a channel that receives a signal after every committed
// write touching any of tables for accountID. An empty accountID matches
// every account; no tables matches every table. The channel closes when
// ctx is done or the store is closed.
func (s *SQLiteStore) Subscribe(
	ctx context.Context,
	accountID string,
	tables ...Table,
) <-chan struct{} {
	id, signal := s.hub.subscribe(accountID, tables)
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer s.hub.unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signal:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out
}

// Live is the result of a live query: the current result set plus a
// stream of fresh result sets, one per committed change affecting it.
// Updates closes when the watch context is done.
type Live[T any] struct {
	Current T
	Updates <-chan T
}

// watch runs load once for the current result and again after every
// matching change, delivering only the latest result to slow readers.
func watch[T any](
	ctx context.Context,
	s *SQLiteStore,
	accountID string,
	tables []Table,
	load func(ctx context.Context) (T, error),
) (*Live[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	changes := s.Subscribe(ctx, accountID, tables...)

	current, err := load(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	updates := make(chan T, 1)
	go func() {
		defer close(updates)
		defer cancel()
		for range changes {
			next, err := load(ctx)
			if err != nil {
				// The store is closing or ctx ended; a later change retries.
				if ctx.Err() != nil {
					return
				}
				continue
			}
			// Replace an unread stale result with the fresh one.
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- next:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Live[T]{Current: current, Updates: updates}, nil
}
