package sync

import (
	"context"
	"errors"
	"sort"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailbundle/internal/apperr"
	"github.com/nhle/mailbundle/internal/model"
)

// SyncState represents the current state of an account's sync.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncRunning:
		return "syncing"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}

// SyncStatus holds the sync state for a single account.
type SyncStatus struct {
	Address  string
	State    SyncState
	LastSync time.Time
	Error    error
}

// PollResult is emitted after every scheduled or triggered sync.
type PollResult struct {
	Address   string
	Result    Result
	Error     error
	AuthError bool
}

// Syncer runs one sync pass for an account.
type Syncer interface {
	SyncAccount(ctx context.Context, account *model.Account) (Result, error)
}

// syncTimeout is the maximum time allowed for a single sync pass.
const syncTimeout = 2 * time.Minute

type pollEntry struct {
	account  model.Account
	interval time.Duration
	trigger  chan struct{}
}

// Poller runs a sync for each registered account at its poll interval and
// on demand.
type Poller struct {
	syncer   Syncer
	log      zerolog.Logger
	entries  []*pollEntry
	statuses map[string]*SyncStatus
	resultCh chan PollResult
	stopCh   chan struct{}
	group    errgroup.Group
	mu       gosync.Mutex
	running  bool
}

// NewPoller creates a poller driving syncer.
func NewPoller(syncer Syncer, log zerolog.Logger) *Poller {
	return &Poller{
		syncer:   syncer,
		log:      log.With().Str("component", "poller").Logger(),
		statuses: make(map[string]*SyncStatus),
		resultCh: make(chan PollResult, 16),
		stopCh:   make(chan struct{}),
	}
}

// Register adds an account polled every interval.
func (p *Poller) Register(account model.Account, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if interval <= 0 {
		interval = model.DefaultPollIntervalSec * time.Second
	}
	p.entries = append(p.entries, &pollEntry{
		account:  account,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	})
	p.statuses[account.Address] = &SyncStatus{
		Address: account.Address,
		State:   SyncIdle,
	}
}

// Start launches one polling goroutine per account. Each syncs once
// immediately.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true

	for _, entry := range p.entries {
		p.group.Go(func() error {
			p.pollAccount(entry)
			return nil
		})
	}
}

// Stop halts all polling goroutines and waits for in-flight syncs.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	_ = p.group.Wait()
	close(p.resultCh)
}

// Results streams sync outcomes. It closes after Stop.
func (p *Poller) Results() <-chan PollResult {
	return p.resultCh
}

// RefreshAll triggers an immediate sync of every account.
func (p *Poller) RefreshAll() {
	p.mu.Lock()
	entries := make([]*pollEntry, len(p.entries))
	copy(entries, p.entries)
	p.mu.Unlock()

	for _, entry := range entries {
		trigger(entry)
	}
}

// RefreshAccount triggers an immediate sync of one account.
func (p *Poller) RefreshAccount(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range p.entries {
		if entry.account.Address == address {
			trigger(entry)
		}
	}
}

func trigger(entry *pollEntry) {
	select {
	case entry.trigger <- struct{}{}:
	default:
		// A refresh is already pending.
	}
}

// Statuses returns the current sync status of all accounts by address.
func (p *Poller) Statuses() []SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Address < statuses[j].Address
	})
	return statuses
}

// pollAccount runs the polling loop for a single account.
func (p *Poller) pollAccount(entry *pollEntry) {
	ticker := time.NewTicker(entry.interval)
	defer ticker.Stop()

	p.syncOnce(entry)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.syncOnce(entry)
		case <-entry.trigger:
			p.syncOnce(entry)
		}
	}
}

// syncOnce performs a single sync and reports its outcome.
func (p *Poller) syncOnce(entry *pollEntry) {
	addr := entry.account.Address
	p.setStatus(addr, SyncRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	res, err := p.syncer.SyncAccount(ctx, &entry.account)
	if errors.Is(err, apperr.ErrSyncInProgress) {
		// Another caller is syncing this account; it will report.
		p.setStatus(addr, SyncIdle, nil)
		return
	}
	if err != nil {
		p.setStatus(addr, SyncError, err)
		p.log.Warn().Err(err).Str("account", addr).Msg("scheduled sync failed")
		p.sendResult(PollResult{Address: addr, Error: err, AuthError: apperr.IsAuth(err)})
		return
	}

	p.setStatus(addr, SyncIdle, nil)
	p.sendResult(PollResult{Address: addr, Result: res})
}

// setStatus updates the sync status for an account.
func (p *Poller) setStatus(address string, state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[address]
	if !ok {
		return
	}

	status.State = state
	status.Error = err
	if state == SyncIdle && err == nil {
		status.LastSync = time.Now()
	}
}

// sendResult sends a PollResult without blocking.
func (p *Poller) sendResult(r PollResult) {
	select {
	case p.resultCh <- r:
	default:
		// Drop if channel is full to avoid blocking the poller.
	}
}
