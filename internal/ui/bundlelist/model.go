package bundlelist

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailbundle/internal/keys"
	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/theme"
)

// SelectedBundleMsg is sent when the highlighted bundle changes or is
// opened.
type SelectedBundleMsg struct {
	Bundle model.EmailBundle
	Open   bool
}

// ReorderMsg asks the parent to store new sort orders for two bundles
// trading places.
type ReorderMsg struct {
	Orders map[string]int
}

// BundleItem wraps a model.BundleSummary so it can be used in a bubbles/list.
type BundleItem struct {
	Summary model.BundleSummary
}

// FilterValue returns the string used for fuzzy filtering.
func (i BundleItem) FilterValue() string { return i.Summary.Name }

// itemDelegate renders one bundle per line with its unseen count.
type itemDelegate struct{}

func (d itemDelegate) Height() int                             { return 1 }
func (d itemDelegate) Spacing() int                            { return 0 }
func (d itemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	bi, ok := item.(BundleItem)
	if !ok {
		return
	}
	b := bi.Summary

	icon := b.Icon
	if icon == "" {
		icon = "•"
	}
	name := theme.BundleStyle(b.Name).Render(b.Name)

	badge := ""
	if b.UnseenCount > 0 {
		badge = theme.CountBadgeStyle.Render(fmt.Sprintf("%d", b.UnseenCount))
	}

	line := fmt.Sprintf("%s %s%s", icon, name, badge)
	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}
	fmt.Fprint(w, line)
}

// Model is the bundle sidebar.
type Model struct {
	list     list.Model
	keys     *keys.KeyMap
	selected string
	width    int
	height   int
}

// New creates a new bundle sidebar.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, itemDelegate{}, width, height)
	l.Title = "Bundles"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{list: l, keys: k, width: width, height: height}
}

// SetBundles replaces the bundle list, keeping the selection on the same
// bundle when it is still present.
func (m *Model) SetBundles(bundles []model.BundleSummary) tea.Cmd {
	items := make([]list.Item, len(bundles))
	index := 0
	for i, b := range bundles {
		items[i] = BundleItem{Summary: b}
		if b.ID == m.selected {
			index = i
		}
	}
	cmd := m.list.SetItems(items)
	if len(items) > 0 {
		m.list.Select(index)
	}
	return tea.Batch(cmd, m.selectionChanged(false))
}

// Selected returns the highlighted bundle.
func (m Model) Selected() (model.BundleSummary, bool) {
	item, ok := m.list.SelectedItem().(BundleItem)
	if !ok {
		return model.BundleSummary{}, false
	}
	return item.Summary, true
}

// Bundles returns every bundle in display order.
func (m Model) Bundles() []model.EmailBundle {
	var out []model.EmailBundle
	for _, it := range m.list.Items() {
		if bi, ok := it.(BundleItem); ok {
			out = append(out, bi.Summary.EmailBundle)
		}
	}
	return out
}

// Update handles messages for the bundle sidebar.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(keyMsg, m.keys.Select):
		return m, m.selectionChanged(true)

	case key.Matches(keyMsg, m.keys.BundleUp):
		return m, m.reorder(-1)

	case key.Matches(keyMsg, m.keys.BundleDown):
		return m, m.reorder(1)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, tea.Batch(cmd, m.selectionChanged(false))
}

// selectionChanged reports the highlighted bundle when it differs from
// the last one reported, or always when open is set.
func (m *Model) selectionChanged(open bool) tea.Cmd {
	b, ok := m.Selected()
	if !ok || (!open && b.ID == m.selected) {
		return nil
	}
	m.selected = b.ID
	return func() tea.Msg {
		return SelectedBundleMsg{Bundle: b.EmailBundle, Open: open}
	}
}

// reorder moves the selected bundle one slot up or down. The inbox stays
// first.
func (m Model) reorder(delta int) tea.Cmd {
	b, ok := m.Selected()
	if !ok || b.IsInbox() {
		return nil
	}
	target := m.list.Index() + delta
	items := m.list.Items()
	if target < 0 || target >= len(items) {
		return nil
	}
	neighbour := items[target].(BundleItem).Summary
	if neighbour.IsInbox() {
		return nil
	}

	mine, theirs := neighbour.SortOrder, b.SortOrder
	if mine == theirs {
		mine += delta
	}
	return func() tea.Msg {
		return ReorderMsg{Orders: map[string]int{b.ID: mine, neighbour.ID: theirs}}
	}
}

// View renders the sidebar.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return lipgloss.NewStyle().
			Width(m.width).
			Foreground(theme.ColorGray).
			Render("No bundles yet")
	}
	return m.list.View()
}

// SetSize updates the sidebar dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
