package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailbundle/internal/model"
	appsync "github.com/nhle/mailbundle/internal/sync"
)

// accountsReadyMsg is sent once the configured accounts exist in the
// store and the poller is running.
type accountsReadyMsg struct {
	accounts []model.Account
	err      error
}

// bundlesMsg carries a bundle list result for accountID. updates is the
// live stream to keep reading from.
type bundlesMsg struct {
	accountID string
	bundles   []model.BundleSummary
	updates   <-chan []model.BundleSummary
}

// threadsMsg carries a thread list result for bundleID.
type threadsMsg struct {
	bundleID string
	threads  []model.ThreadSummary
	updates  <-chan []model.ThreadSummary
}

type busyMsg struct {
	busy bool
	ch   <-chan bool
}

type pollResultMsg struct {
	result appsync.PollResult
	ch     <-chan appsync.PollResult
}

// watchErrMsg reports a live query that could not be started.
type watchErrMsg struct{ err error }

// startPolling registers every enabled account and starts the poller.
func (m *Model) startPolling() tea.Cmd {
	svc, ctx := m.svc, m.ctx
	return func() tea.Msg {
		accounts, err := svc.StartPolling(ctx)
		return accountsReadyMsg{accounts: accounts, err: err}
	}
}

// watchBundles replaces the bundle live query with one for accountID.
func (m *Model) watchBundles(accountID string) tea.Cmd {
	if m.bundleCancel != nil {
		m.bundleCancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.bundleCancel = cancel

	s := m.svc.Store()
	return func() tea.Msg {
		live, err := s.WatchBundles(ctx, accountID)
		if err != nil {
			return watchErrMsg{err: err}
		}
		return bundlesMsg{accountID: accountID, bundles: live.Current, updates: live.Updates}
	}
}

func waitBundles(accountID string, ch <-chan []model.BundleSummary) tea.Cmd {
	return func() tea.Msg {
		bundles, ok := <-ch
		if !ok {
			return nil
		}
		return bundlesMsg{accountID: accountID, bundles: bundles, updates: ch}
	}
}

// watchThreads replaces the thread live query with one for bundleID.
func (m *Model) watchThreads(accountID, bundleID string) tea.Cmd {
	if m.threadCancel != nil {
		m.threadCancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.threadCancel = cancel

	s := m.svc.Store()
	return func() tea.Msg {
		live, err := s.WatchThreads(ctx, accountID, bundleID)
		if err != nil {
			return watchErrMsg{err: err}
		}
		return threadsMsg{bundleID: bundleID, threads: live.Current, updates: live.Updates}
	}
}

func waitThreads(bundleID string, ch <-chan []model.ThreadSummary) tea.Cmd {
	return func() tea.Msg {
		threads, ok := <-ch
		if !ok {
			return nil
		}
		return threadsMsg{bundleID: bundleID, threads: threads, updates: ch}
	}
}

// watchBusy streams the shared busy indicator.
func (m *Model) watchBusy() tea.Cmd {
	ch := m.svc.Busy().Subscribe(m.ctx)
	return waitBusy(ch)
}

func waitBusy(ch <-chan bool) tea.Cmd {
	return func() tea.Msg {
		busy, ok := <-ch
		if !ok {
			return nil
		}
		return busyMsg{busy: busy, ch: ch}
	}
}

func waitPoll(ch <-chan appsync.PollResult) tea.Cmd {
	return func() tea.Msg {
		r, ok := <-ch
		if !ok {
			return nil
		}
		return pollResultMsg{result: r, ch: ch}
	}
}
