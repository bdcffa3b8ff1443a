package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailbundle/internal/keys"
	appsync "github.com/nhle/mailbundle/internal/sync"
	"github.com/nhle/mailbundle/internal/theme"
)

// Model is the help overlay: keybindings plus the sync state of every
// account.
type Model struct {
	keys     *keys.KeyMap
	help     help.Model
	statuses []appsync.SyncStatus
	width    int
	height   int
}

// New creates a new help view model.
func New(keys *keys.KeyMap, width, height int) Model {
	h := help.New()
	h.Width = width
	return Model{
		keys:   keys,
		help:   h,
		width:  width,
		height: height,
	}
}

// SetStatuses replaces the per-account sync states shown below the keys.
func (m *Model) SetStatuses(statuses []appsync.SyncStatus) {
	m.statuses = statuses
}

// View renders the help overlay.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	m.help.Width = m.width - 4
	m.help.ShowAll = true

	sections := []string{
		titleStyle.Render("Keyboard Shortcuts"),
		m.help.View(m.keys),
	}
	if len(m.statuses) > 0 {
		sections = append(sections, "", titleStyle.Render("Accounts"), m.renderStatuses())
	}

	return theme.DetailPanelStyle.
		Width(m.width - 4).
		Height(m.height - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) renderStatuses() string {
	lines := make([]string, 0, len(m.statuses))
	for _, s := range m.statuses {
		state := s.State.String()
		line := fmt.Sprintf("%-32s %s", s.Address, theme.SyncStateStyle(state).Render(state))
		if !s.LastSync.IsZero() {
			line += theme.DimmedStyle.Render("  last sync " + s.LastSync.Format("15:04:05"))
		}
		if s.Error != nil {
			line += "  " + theme.ErrorStyle.Render(s.Error.Error())
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
