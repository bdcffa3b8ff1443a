package app

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/store"
	"github.com/nhle/mailbundle/internal/ui/detail"
)

// bodiesPerThread bounds how many of a thread's latest bodies are fetched
// when it is opened.
const bodiesPerThread = 3

// actionDoneMsg is sent after a user action finishes. status is shown in
// the status bar on success.
type actionDoneMsg struct {
	status string
	err    error
}

// trashedMsg is sent after a thread was moved to or out of the trash.
type trashedMsg struct {
	threadID string
	trashed  bool
	err      error
}

func done(status string, err error) tea.Msg {
	return actionDoneMsg{status: status, err: err}
}

// createBundle creates a bundle on the current account.
func (m *Model) createBundle(name, icon string) tea.Cmd {
	svc, account, ctx := m.svc, m.account, m.ctx
	return func() tea.Msg {
		b, err := svc.CreateBundle(ctx, account, name, icon)
		if err != nil {
			return done("", err)
		}
		return done(fmt.Sprintf("created bundle %s", b.Name), nil)
	}
}

// moveThread moves a thread and reports the filter outcome.
func (m *Model) moveThread(threadID string, from, to model.EmailBundle, alwaysFilter bool) tea.Cmd {
	svc, account, ctx := m.svc, m.account, m.ctx
	return func() tea.Msg {
		res, err := svc.MoveThread(ctx, account, threadID, from.Name, to.Name, alwaysFilter)
		if err != nil {
			return done("", err)
		}
		status := fmt.Sprintf("moved to %s", to.Name)
		switch {
		case res.FilterErr != nil:
			status += fmt.Sprintf("; filter not updated: %v", res.FilterErr)
		case res.FilterCreated != nil:
			status += "; future mail from this sender follows"
		case len(res.FiltersDeleted) > 0:
			status += fmt.Sprintf("; removed %d filter(s)", len(res.FiltersDeleted))
		}
		return done(status, nil)
	}
}

func (m *Model) setSeen(threadID string, seen bool) tea.Cmd {
	svc, account, ctx := m.svc, m.account, m.ctx
	return func() tea.Msg {
		return done("", svc.SetThreadSeen(ctx, account, threadID, seen))
	}
}

func (m *Model) setFlagged(threadID string, flagged bool) tea.Cmd {
	svc, account, ctx := m.svc, m.account, m.ctx
	return func() tea.Msg {
		return done("", svc.SetThreadFlagged(ctx, account, threadID, flagged))
	}
}

// setTrashed hides or restores a thread locally.
func (m *Model) setTrashed(threadID string, trashed bool) tea.Cmd {
	s, accountID, ctx := m.svc.Store(), m.account.ID, m.ctx
	return func() tea.Msg {
		err := store.SetThreadTrashed(ctx, s, accountID, threadID, trashed)
		return trashedMsg{threadID: threadID, trashed: trashed, err: err}
	}
}

// reorderBundles persists new sort orders for the given bundles.
func (m *Model) reorderBundles(orders map[string]int) tea.Cmd {
	s, ctx := m.svc.Store(), m.ctx
	return func() tea.Msg {
		for id, order := range orders {
			if err := store.ReorderBundle(ctx, s, id, order); err != nil {
				return done("", err)
			}
		}
		return nil
	}
}

// markBundleSeen records that the bundle was viewed now.
func (m *Model) markBundleSeen(bundleID string) tea.Cmd {
	s, ctx := m.svc.Store(), m.ctx
	return func() tea.Msg {
		if err := store.MarkBundleSeen(ctx, s, bundleID, time.Now()); err != nil {
			return done("", err)
		}
		return nil
	}
}

// discover reconciles the current account's bundles with its labels.
func (m *Model) discover() tea.Cmd {
	svc, account, ctx := m.svc, m.account, m.ctx
	return func() tea.Msg {
		bundles, err := svc.Discover(ctx, account)
		if err != nil {
			return done("", err)
		}
		return done(fmt.Sprintf("%d bundles", len(bundles)), nil)
	}
}

// loadThread loads a thread's messages and the bodies of the latest few,
// then marks it seen.
func (m *Model) loadThread(t model.ThreadSummary) tea.Cmd {
	svc, account, ctx := m.svc, m.account, m.ctx
	return func() tea.Msg {
		emails, err := svc.Store().ThreadEmails(ctx, account.ID, t.ID)
		if err != nil {
			return detail.DetailLoadedMsg{Err: err}
		}

		th := &detail.Thread{Summary: t, Emails: emails, Bodies: make(map[string]string)}
		for i := max(len(emails)-bodiesPerThread, 0); i < len(emails); i++ {
			body, err := fetchBody(ctx, svc, emails[i].ID)
			if err != nil {
				return detail.DetailLoadedMsg{Thread: th, Err: err}
			}
			th.Bodies[emails[i].ID] = body
		}

		if !t.Seen {
			if err := svc.SetThreadSeen(ctx, account, t.ID, true); err != nil {
				svc.log.Warn().Err(err).Str("thread", t.ID).Msg("marking thread seen")
			}
		}
		return detail.DetailLoadedMsg{Thread: th}
	}
}

func fetchBody(ctx context.Context, svc *Service, emailID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return svc.FetchBody(ctx, emailID)
}
