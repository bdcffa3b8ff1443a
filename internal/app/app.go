package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailbundle/internal/keys"
	"github.com/nhle/mailbundle/internal/model"
	appsync "github.com/nhle/mailbundle/internal/sync"
	"github.com/nhle/mailbundle/internal/theme"
	"github.com/nhle/mailbundle/internal/ui"
	"github.com/nhle/mailbundle/internal/ui/bundlelist"
	"github.com/nhle/mailbundle/internal/ui/command"
	"github.com/nhle/mailbundle/internal/ui/detail"
	"github.com/nhle/mailbundle/internal/ui/form"
	helpview "github.com/nhle/mailbundle/internal/ui/help"
	"github.com/nhle/mailbundle/internal/ui/threadlist"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewMain ViewState = iota
	ViewDetail
	ViewForm
	ViewHelp
	ViewCommand
)

// Model is the root Bubble Tea model. It routes between views and keeps
// the bundle and thread panels fed from live store queries.
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc
	svc    *Service

	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	ready        bool

	bundleList  bundlelist.Model
	threadList  threadlist.Model
	detail      detail.Model
	formView    form.Model
	helpView    helpview.Model
	commandView command.Model
	spinner     spinner.Model

	focusBundles bool
	busy         bool

	accounts   []model.Account
	accountIdx int
	account    *model.Account
	bundle     model.EmailBundle

	bundleCancel context.CancelFunc
	threadCancel context.CancelFunc

	lastTrashed string
	status      string
	err         error
	authErrors  map[string]error
}

// NewModel creates the root model around svc.
func NewModel(ctx context.Context, svc *Service) Model {
	ctx, cancel := context.WithCancel(ctx)
	k := keys.DefaultKeyMap()

	return Model{
		ctx:          ctx,
		cancel:       cancel,
		svc:          svc,
		keys:         k,
		bundleList:   bundlelist.New(k, 24, 20),
		threadList:   threadlist.New(k, 56, 20),
		detail:       detail.New(k, 80, 24),
		formView:     form.New(80, 24),
		helpView:     helpview.New(k, 80, 24),
		commandView:  command.New(80, 24),
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot)),
		focusBundles: true,
		authErrors:   make(map[string]error),
	}
}

// Init starts polling and subscribes to the busy indicator.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.startPolling(),
		m.watchBusy(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.resize()
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case accountsReadyMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		if len(msg.accounts) == 0 {
			m.err = errors.New("no accounts configured")
			return m, nil
		}
		m.accounts = msg.accounts
		return m, tea.Batch(
			m.selectAccount(0),
			waitPoll(m.svc.Poller().Results()),
		)

	case bundlesMsg:
		// A result from a replaced watch; its stream has been cancelled.
		if m.account == nil || msg.accountID != m.account.ID {
			return m, nil
		}
		return m, tea.Batch(
			m.bundleList.SetBundles(msg.bundles),
			waitBundles(msg.accountID, msg.updates),
		)

	case threadsMsg:
		if msg.bundleID != m.bundle.ID {
			return m, nil
		}
		return m, tea.Batch(
			m.threadList.SetThreads(m.bundle.Name, msg.threads),
			waitThreads(msg.bundleID, msg.updates),
		)

	case busyMsg:
		wasBusy := m.busy
		m.busy = msg.busy
		cmds := []tea.Cmd{waitBusy(msg.ch)}
		if m.busy && !wasBusy {
			cmds = append(cmds, m.spinner.Tick)
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pollResultMsg:
		m.handlePollResult(msg.result)
		return m, waitPoll(msg.ch)

	case watchErrMsg:
		m.err = msg.err
		return m, nil

	case actionDoneMsg:
		m.err = msg.err
		if msg.err == nil && msg.status != "" {
			m.status = msg.status
		}
		return m, nil

	case trashedMsg:
		m.err = msg.err
		if msg.err == nil {
			if msg.trashed {
				m.lastTrashed = msg.threadID
				m.status = "moved to trash (:undo trash)"
			} else {
				m.lastTrashed = ""
				m.status = "restored from trash"
			}
		}
		return m, nil

	case bundlelist.SelectedBundleMsg:
		m.bundle = msg.Bundle
		cmds := []tea.Cmd{m.watchThreads(m.account.ID, msg.Bundle.ID)}
		if msg.Open {
			m.focusBundles = false
			cmds = append(cmds, m.markBundleSeen(msg.Bundle.ID))
		}
		return m, tea.Batch(cmds...)

	case bundlelist.ReorderMsg:
		return m, m.reorderBundles(msg.Orders)

	case threadlist.SelectedThreadMsg:
		m.previousView = m.currentView
		m.currentView = ViewDetail
		m.detail.SetLoading(true)
		return m, m.loadThread(msg.Thread)

	case threadlist.ActionMsg:
		return m, m.threadAction(msg)

	case detail.DetailLoadedMsg:
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd

	case detail.BackMsg:
		m.currentView = ViewMain
		return m, nil

	case form.BundleSubmittedMsg:
		m.currentView = ViewMain
		return m, m.createBundle(msg.Name, msg.Icon)

	case form.MoveSubmittedMsg:
		m.currentView = ViewMain
		return m, m.moveThread(msg.ThreadID, msg.From, msg.To, msg.AlwaysFilter)

	case form.CancelMsg:
		m.currentView = ViewMain
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(msg)

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKey(msg); handled {
			return m, cmd
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// handleGlobalKey handles keys that are not owned by a sub-view.
func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		return m.quit(), true
	}
	// Forms, the palette and the thread filter own every other key.
	if m.currentView == ViewForm || (m.currentView == ViewCommand && !key.Matches(msg, m.keys.Back)) {
		return nil, false
	}
	if m.currentView == ViewMain && m.threadList.Filtering() {
		return nil, false
	}

	switch {
	case key.Matches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return nil, true
		}
		m.helpView.SetStatuses(m.svc.Poller().Statuses())
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return nil, true

	case key.Matches(msg, m.keys.Command):
		m.previousView = m.currentView
		m.currentView = ViewCommand
		return m.commandView.Focus(), true

	case key.Matches(msg, m.keys.Back) && (m.currentView == ViewCommand || m.currentView == ViewHelp):
		m.currentView = m.previousView
		return nil, true
	}

	if m.currentView != ViewMain {
		return nil, false
	}
	m.status = ""
	m.err = nil

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit(), true

	case key.Matches(msg, m.keys.Refresh):
		if m.account != nil {
			m.svc.Poller().RefreshAccount(m.account.Address)
		}
		return nil, true

	case key.Matches(msg, m.keys.Discover):
		if m.account == nil {
			return nil, true
		}
		return m.discover(), true

	case key.Matches(msg, m.keys.NextAccount):
		if len(m.accounts) < 2 {
			return nil, true
		}
		return m.selectAccount((m.accountIdx + 1) % len(m.accounts)), true

	case key.Matches(msg, m.keys.NewBundle):
		if m.account == nil {
			return nil, true
		}
		m.currentView = ViewForm
		return m.formView.StartNewBundle(), true
	}

	if m.focusBundles {
		if key.Matches(msg, m.keys.FocusThreads) {
			m.focusBundles = false
			return m.markBundleSeen(m.bundle.ID), true
		}
		var cmd tea.Cmd
		m.bundleList, cmd = m.bundleList.Update(msg)
		return cmd, true
	}

	if key.Matches(msg, m.keys.FocusBundles) || key.Matches(msg, m.keys.Back) {
		m.focusBundles = true
		return nil, true
	}
	var cmd tea.Cmd
	m.threadList, cmd = m.threadList.Update(msg)
	return cmd, true
}

// threadAction dispatches an action picked in the thread list.
func (m *Model) threadAction(msg threadlist.ActionMsg) tea.Cmd {
	t := msg.Thread
	switch msg.Action {
	case threadlist.ActionMove:
		m.currentView = ViewForm
		return m.formView.StartMove(t, m.bundle, m.bundleList.Bundles())
	case threadlist.ActionToggleSeen:
		return m.setSeen(t.ID, !t.Seen)
	case threadlist.ActionToggleFlag:
		return m.setFlagged(t.ID, !t.Flagged)
	case threadlist.ActionTrash:
		return m.setTrashed(t.ID, true)
	}
	return nil
}

// selectAccount switches every panel to the account at idx.
func (m *Model) selectAccount(idx int) tea.Cmd {
	m.accountIdx = idx
	m.account = &m.accounts[idx]
	m.bundle = model.EmailBundle{}
	m.lastTrashed = ""
	m.focusBundles = true
	if m.threadCancel != nil {
		m.threadCancel()
	}
	return tea.Batch(
		m.threadList.SetThreads("", nil),
		m.watchBundles(m.account.ID),
	)
}

func (m *Model) handlePollResult(r appsync.PollResult) {
	switch {
	case r.AuthError:
		m.authErrors[r.Address] = fmt.Errorf("%s: sign in again with `mailbundle login %s`", r.Address, r.Address)
	case r.Error == nil:
		delete(m.authErrors, r.Address)
	}
}

// statusErr is the error shown in the status bar: the last failed action,
// else an account that needs signing in again.
func (m Model) statusErr() error {
	if m.err != nil {
		return m.err
	}
	for _, a := range m.accounts {
		if err, ok := m.authErrors[a.Address]; ok {
			return err
		}
	}
	return nil
}

// quit cancels every live query and stops the poller.
func (m *Model) quit() tea.Cmd {
	m.svc.Poller().Stop()
	m.cancel()
	return tea.Quit
}

// executeCommand runs a command from the palette.
func (m *Model) executeCommand(c command.CommandMsg) tea.Cmd {
	if c.Name == "quit" {
		return m.quit()
	}
	if c.Name == "sync all" {
		m.svc.Poller().RefreshAll()
		return nil
	}
	if m.account == nil {
		m.err = errors.New("no account selected")
		return nil
	}

	switch c.Name {
	case "sync":
		m.svc.Poller().RefreshAccount(m.account.Address)
	case "discover":
		return m.discover()
	case "new bundle":
		if len(c.Args) == 0 {
			m.currentView = ViewForm
			return m.formView.StartNewBundle()
		}
		icon := ""
		if len(c.Args) > 1 {
			icon = c.Args[1]
		}
		return m.createBundle(c.Args[0], icon)
	case "mark bundle seen":
		if m.bundle.ID != "" {
			return m.markBundleSeen(m.bundle.ID)
		}
	case "undo trash":
		if m.lastTrashed == "" {
			m.status = "nothing to restore"
			return nil
		}
		return m.setTrashed(m.lastTrashed, false)
	}
	return nil
}

// resize propagates the layout to every sub-view.
func (m *Model) resize() {
	contentWidth := m.layout.ContentWidth()
	contentHeight := m.layout.ContentHeight()
	m.bundleList.SetSize(m.layout.SidebarContentWidth(), m.layout.PanelHeight())
	m.threadList.SetSize(m.layout.MainContentWidth(), m.layout.PanelHeight())
	m.detail.SetSize(contentWidth, contentHeight)
	m.formView.SetSize(contentWidth, contentHeight)
	m.helpView.SetSize(contentWidth, contentHeight)
	m.commandView.SetSize(contentWidth, contentHeight)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewMain:
		if m.focusBundles {
			m.bundleList, cmd = m.bundleList.Update(msg)
		} else {
			m.threadList, cmd = m.threadList.Update(msg)
		}
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewForm:
		m.formView, cmd = m.formView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := "mailbundle"
	if m.account != nil {
		title += " · " + m.account.Address
	}
	header := m.layout.RenderHeader(title, m.syncStatus())
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.statusErr())

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewDetail:
		return m.detail.View()
	case ViewForm:
		return m.formView.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return m.layout.RenderPanels(m.bundleList.View(), m.threadList.View(), m.focusBundles)
	}
}

// syncStatus returns a short string describing the combined sync state.
func (m Model) syncStatus() string {
	if m.busy {
		return m.spinner.View() + " syncing"
	}

	statuses := m.svc.Poller().Statuses()
	if len(statuses) == 0 {
		return "no accounts"
	}

	var failed []string
	for _, s := range statuses {
		if s.State == appsync.SyncError {
			failed = append(failed, s.Address)
		}
	}
	if len(failed) > 0 {
		return theme.SyncStateStyle(appsync.SyncError.String()).
			Render("unreachable: " + strings.Join(failed, ", "))
	}
	return theme.SyncStateStyle(appsync.SyncIdle.String()).Render("idle")
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | tab complete | esc back"
	case ViewDetail:
		return "esc back | j/k scroll"
	case ViewForm:
		return "enter submit | esc cancel"
	}
	if m.status != "" {
		return m.status
	}
	if m.focusBundles {
		return "q quit | ? help | enter open | n new | K/J reorder | tab account | r sync"
	}
	return "esc bundles | enter read | m move | s seen | f flag | d trash | / search"
}
