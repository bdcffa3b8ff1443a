package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailbundle/internal/theme"
)

// Commands understood by the palette.
var Commands = []string{
	"sync",
	"sync all",
	"discover",
	"new bundle",
	"mark bundle seen",
	"undo trash",
	"quit",
}

// CommandMsg is emitted when the user executes a command.
type CommandMsg struct {
	Name string
	Args []string
}

// Parse splits a palette line into the longest known command and its
// arguments. ok is false for unknown commands.
func Parse(line string) (CommandMsg, bool) {
	fields := strings.Fields(line)
	for n := len(fields); n > 0; n-- {
		name := strings.ToLower(strings.Join(fields[:n], " "))
		for _, c := range Commands {
			if c == name {
				return CommandMsg{Name: name, Args: fields[n:]}, true
			}
		}
	}
	return CommandMsg{}, false
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	err    string
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command..."
	ti.Prompt = ": "
	ti.ShowSuggestions = true
	ti.SetSuggestions(Commands)
	ti.Focus()
	ti.Width = width - 6

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		line := strings.TrimSpace(m.input.Value())
		if line == "" {
			return m, nil
		}
		cmd, ok := Parse(line)
		if !ok {
			m.err = "unknown command: " + line
			return m, nil
		}
		m.err = ""
		m.input.Reset()
		return m, func() tea.Msg { return cmd }
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	sections := []string{titleStyle.Render("Command Palette"), m.input.View()}
	if m.err != "" {
		sections = append(sections, theme.ErrorStyle.Render(m.err))
	}

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	m.err = ""
	return m.input.Focus()
}
