package threadlist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/theme"
)

// ThreadItem wraps a model.ThreadSummary so it can be used in a bubbles/list.
type ThreadItem struct {
	Summary model.ThreadSummary
}

// FilterValue returns the string used for fuzzy filtering.
func (i ThreadItem) FilterValue() string { return i.Summary.Subject }

// Title returns the thread subject.
func (i ThreadItem) Title() string { return i.Summary.Subject }

// Description returns a short summary line for the list.
func (i ThreadItem) Description() string {
	parts := []string{
		fromLine(i.Summary.FromLine),
		fmt.Sprintf("%d messages", i.Summary.MessageCount),
		relativeTime(i.Summary.LastMessageAt),
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for rendering threads.
type ItemDelegate struct {
	// now is overridable so rendering is deterministic in tests.
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused for now).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single thread line: unseen marker, flag, senders,
// subject, message count and age.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ti, ok := item.(ThreadItem)
	if !ok {
		return
	}
	fmt.Fprint(w, d.renderLine(ti.Summary, index == m.Index()))
}

func (d ItemDelegate) renderLine(t model.ThreadSummary, selected bool) string {
	marker := " "
	if !t.Seen {
		marker = "●"
	}

	flag := " "
	if t.Flagged {
		flag = theme.FlaggedStyle.Render("⚑")
	}

	from := fromLine(t.FromLine)
	if len(from) > 24 {
		from = from[:23] + "…"
	}

	count := ""
	if t.MessageCount > 1 {
		count = theme.DimmedStyle.Render(fmt.Sprintf(" (%d)", t.MessageCount))
	}

	now := time.Now
	if d.now != nil {
		now = d.now
	}
	age := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTimeFrom(t.LastMessageAt, now()))

	text := fmt.Sprintf("%-24s  %s", from, t.Subject)
	if t.Seen {
		text = theme.DimmedStyle.Render(text)
	} else {
		text = theme.UnseenStyle.Render(text)
	}

	line := fmt.Sprintf("%s %s %s%s  %s", marker, flag, text, count, age)
	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

// fromLine joins the distinct senders of a thread.
func fromLine(names []string) string {
	if len(names) == 0 {
		return "me"
	}
	return strings.Join(names, ", ")
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	return relativeTimeFrom(t, time.Now())
}

func relativeTimeFrom(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 02")
	}
}
