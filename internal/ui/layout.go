package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailbundle/internal/theme"
)

// Layout manages the two-panel terminal layout: bundles on the left,
// threads on the right.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
	SidebarWidth    int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
		SidebarWidth:    sidebarWidth(width),
	}
}

func sidebarWidth(width int) int {
	w := width / 4
	switch {
	case w < 18:
		w = 18
	case w > 32:
		w = 32
	}
	return min(w, width)
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	return l.Height - l.HeaderHeight - l.StatusBarHeight
}

// SidebarContentWidth returns the width inside the bundle panel border.
func (l Layout) SidebarContentWidth() int {
	return max(l.SidebarWidth-2, 0)
}

// MainContentWidth returns the width inside the thread panel border.
func (l Layout) MainContentWidth() int {
	return max(l.Width-l.SidebarWidth-2, 0)
}

// PanelHeight returns the height inside a panel border.
func (l Layout) PanelHeight() int {
	return max(l.ContentHeight()-2, 0)
}

// RenderPanels joins the bundle sidebar and the main panel, drawing the
// focused one with the accent border.
func (l Layout) RenderPanels(sidebar, main string, sidebarFocused bool) string {
	left, right := theme.BorderStyle, theme.FocusedPanelStyle
	if sidebarFocused {
		left, right = theme.FocusedPanelStyle, theme.BorderStyle
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		left.Width(l.SidebarContentWidth()).Height(l.PanelHeight()).Render(sidebar),
		right.Width(l.MainContentWidth()).Height(l.PanelHeight()).Render(main),
	)
}

// RenderHeader renders the top header bar with a title and sync status.
func (l Layout) RenderHeader(title string, syncStatus string) string {
	titleRendered := theme.HeaderStyle.Render(title)

	statusRendered := theme.HeaderStyle.
		Align(lipgloss.Right).
		Render(syncStatus)

	gap := max(l.Width-lipgloss.Width(titleRendered)-lipgloss.Width(statusRendered), 0)

	filler := theme.HeaderStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.HeaderStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		titleRendered,
		filler,
		statusRendered,
	)
}

// RenderStatusBar renders the bottom status bar with keyboard hints, or
// an error in place of the hints.
func (l Layout) RenderStatusBar(hints string, err error) string {
	style := theme.StatusBarStyle
	if err != nil {
		hints = err.Error()
		style = style.Foreground(theme.ColorRed).Bold(true)
	}
	rendered := style.Render(hints)

	gap := max(l.Width-lipgloss.Width(rendered), 0)

	filler := theme.StatusBarStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.StatusBarStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(
	header string,
	content string,
	statusBar string,
) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		content,
		statusBar,
	)
}
