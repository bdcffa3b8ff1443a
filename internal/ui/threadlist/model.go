package threadlist

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailbundle/internal/keys"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/theme"
)

// SelectedThreadMsg is sent when a user opens a thread.
type SelectedThreadMsg struct {
	Thread model.ThreadSummary
}

// ActionMsg asks the parent to act on the selected thread.
type ActionMsg struct {
	Action Action
	Thread model.ThreadSummary
}

// Action names a thread action.
type Action int

const (
	ActionMove Action = iota
	ActionToggleSeen
	ActionToggleFlag
	ActionTrash
)

// Model is the thread list of the selected bundle.
type Model struct {
	list   list.Model
	keys   *keys.KeyMap
	bundle string
	width  int
	height int
}

// New creates a new thread list model.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = "Threads"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = theme.HeaderStyle

	return Model{list: l, keys: k, width: width, height: height}
}

// SetThreads replaces the list for bundleName, keeping the cursor on the
// same thread when it is still present.
func (m *Model) SetThreads(bundleName string, threads []model.ThreadSummary) tea.Cmd {
	selectedID := ""
	if t, ok := m.Selected(); ok && m.bundle == bundleName {
		selectedID = t.ID
	}

	m.bundle = bundleName
	m.list.Title = bundleName

	items := make([]list.Item, len(threads))
	index := 0
	for i, t := range threads {
		items[i] = ThreadItem{Summary: t}
		if t.ID == selectedID {
			index = i
		}
	}
	cmd := m.list.SetItems(items)
	if len(items) > 0 {
		m.list.Select(index)
	}
	return cmd
}

// Selected returns the highlighted thread.
func (m Model) Selected() (model.ThreadSummary, bool) {
	item, ok := m.list.SelectedItem().(ThreadItem)
	if !ok {
		return model.ThreadSummary{}, false
	}
	return item.Summary, true
}

// Filtering reports whether the fuzzy filter has keyboard focus.
func (m Model) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// Update handles messages for the thread list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && !m.Filtering() {
		if cmd, handled := m.handleKeys(keyMsg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	t, ok := m.Selected()
	if !ok {
		return nil, false
	}

	var action Action
	switch {
	case key.Matches(msg, m.keys.Select):
		return func() tea.Msg { return SelectedThreadMsg{Thread: t} }, true
	case key.Matches(msg, m.keys.Move):
		action = ActionMove
	case key.Matches(msg, m.keys.ToggleSeen):
		action = ActionToggleSeen
	case key.Matches(msg, m.keys.ToggleFlag):
		action = ActionToggleFlag
	case key.Matches(msg, m.keys.Trash):
		action = ActionTrash
	default:
		return nil, false
	}
	return func() tea.Msg { return ActionMsg{Action: action, Thread: t} }, true
}

// View renders the thread list.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No threads in " + m.bundle)
	}
	return m.list.View()
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
