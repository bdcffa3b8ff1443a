package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailbundle/internal/keys"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/theme"
)

// BackMsg signals the parent to navigate back to the thread list.
type BackMsg struct{}

// Thread is a thread with its messages and the bodies fetched so far,
// keyed by email id.
type Thread struct {
	Summary model.ThreadSummary
	Emails  []model.Email
	Bodies  map[string]string
}

// DetailLoadedMsg carries the loaded thread. Err is set when the load
// failed.
type DetailLoadedMsg struct {
	Thread *Thread
	Err    error
}

// Model is the thread detail view component.
type Model struct {
	thread   *Thread
	err      error
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
	loading  bool
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case DetailLoadedMsg:
		m.thread = msg.Thread
		m.err = msg.Err
		m.loading = false
		m.viewport.SetContent(m.renderContent())
		m.viewport.GotoTop()
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Back) {
			return m, func() tea.Msg {
				return BackMsg{}
			}
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	placeholder := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	switch {
	case m.loading:
		return placeholder.Render("Loading thread...")
	case m.err != nil:
		return placeholder.Foreground(theme.ColorRed).Render(m.err.Error())
	case m.thread == nil:
		return placeholder.Render("No thread selected")
	}
	return m.viewport.View()
}

// renderContent builds the full thread transcript for the viewport.
func (m Model) renderContent() string {
	if m.thread == nil {
		return ""
	}

	t := m.thread
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(t.Summary.Subject))

	var badges []string
	if !t.Summary.Seen {
		badges = append(badges, theme.UnseenStyle.Render("unseen"))
	}
	if t.Summary.Flagged {
		badges = append(badges, theme.FlaggedStyle.Render("⚑ flagged"))
	}
	badges = append(badges, theme.DimmedStyle.Render(fmt.Sprintf("%d messages", len(t.Emails))))
	sections = append(sections, strings.Join(badges, "  "), "")

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	authorStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBlue)

	for _, e := range t.Emails {
		from := e.FromAddress
		if e.FromName != "" {
			from = fmt.Sprintf("%s <%s>", e.FromName, e.FromAddress)
		}
		sections = append(sections,
			separator,
			fmt.Sprintf("%s  %s", authorStyle.Render(from), metaStyle.Render(e.ReceivedAt.Local().Format("2006-01-02 15:04"))),
			"",
		)

		body, ok := t.Bodies[e.ID]
		switch {
		case !ok:
			body = metaStyle.Italic(true).Render("(body not loaded)")
		case strings.TrimSpace(body) == "":
			body = metaStyle.Italic(true).Render("(empty message)")
		default:
			body = PlainText(body)
		}
		sections = append(sections, body, "")
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetLoading sets the loading state.
func (m *Model) SetLoading(loading bool) {
	m.loading = loading
}

// Current returns the displayed thread, if any.
func (m Model) Current() (*Thread, bool) {
	return m.thread, m.thread != nil
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
}
