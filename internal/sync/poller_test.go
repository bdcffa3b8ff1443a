package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
)

type countingSyncer struct {
	mu    gosync.Mutex
	calls map[string]int
	err   error
}

func (c *countingSyncer) SyncAccount(_ context.Context, account *model.Account) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[account.Address]++
	if c.err != nil {
		return Result{}, c.err
	}
	return Result{AccountID: account.ID, Created: 1}, nil
}

func (c *countingSyncer) count(address string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[address]
}

func TestPollerSyncsOnStartAndRefresh(t *testing.T) {
	syncer := &countingSyncer{calls: map[string]int{}}
	p := NewPoller(syncer, zerolog.Nop())
	p.Register(model.Account{ID: "1", Address: "a@x.com"}, time.Hour)
	p.Register(model.Account{ID: "2", Address: "b@x.com"}, time.Hour)

	p.Start()

	got := map[string]bool{}
	for range 2 {
		select {
		case r := <-p.Results():
			require.NoError(t, r.Error)
			got[r.Address] = true
		case <-time.After(2 * time.Second):
			t.Fatal("no initial sync")
		}
	}
	assert.Equal(t, map[string]bool{"a@x.com": true, "b@x.com": true}, got)

	p.RefreshAccount("b@x.com")
	select {
	case r := <-p.Results():
		assert.Equal(t, "b@x.com", r.Address)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh sync")
	}

	p.Stop()
	assert.Equal(t, 1, syncer.count("a@x.com"))
	assert.Equal(t, 2, syncer.count("b@x.com"))

	for _, s := range p.Statuses() {
		assert.Equal(t, SyncIdle, s.State)
		assert.False(t, s.LastSync.IsZero())
	}
}

func TestPollerReportsAuthErrors(t *testing.T) {
	syncer := &countingSyncer{
		calls: map[string]int{},
		err:   apperr.FromStatus("list labels", 401, errors.New("expired")),
	}
	p := NewPoller(syncer, zerolog.Nop())
	p.Register(model.Account{ID: "1", Address: "a@x.com"}, time.Hour)

	p.Start()
	defer p.Stop()

	select {
	case r := <-p.Results():
		assert.Error(t, r.Error)
		assert.True(t, r.AuthError)
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}

	statuses := p.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, SyncError, statuses[0].State)
}
