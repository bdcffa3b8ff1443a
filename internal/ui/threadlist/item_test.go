package threadlist

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailbundle/internal/keys"
	"github.com/nhle/mailbundle/internal/model"
)

func TestRelativeTimeFrom(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, ""},
		{now.Add(-30 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-2 * 24 * time.Hour), "2d ago"},
		{time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), "May 01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relativeTimeFrom(tt.at, now))
	}
}

func TestFromLine(t *testing.T) {
	assert.Equal(t, "me", fromLine(nil))
	assert.Equal(t, "Alice, bob@x.com", fromLine([]string{"Alice", "bob@x.com"}))
}

func TestMoveKeyEmitsAction(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	thread := model.ThreadSummary{EmailThread: model.EmailThread{ID: "T1", Subject: "hello"}}
	m.SetThreads("inbox", []model.ThreadSummary{thread})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("m")})
	require.NotNil(t, cmd)

	msg, ok := cmd().(ActionMsg)
	require.True(t, ok)
	assert.Equal(t, ActionMove, msg.Action)
	assert.Equal(t, "T1", msg.Thread.ID)
}

func TestSetThreadsKeepsSelection(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	a := model.ThreadSummary{EmailThread: model.EmailThread{ID: "A"}}
	b := model.ThreadSummary{EmailThread: model.EmailThread{ID: "B"}}
	m.SetThreads("inbox", []model.ThreadSummary{a, b})
	m.list.Select(1)

	m.SetThreads("inbox", []model.ThreadSummary{b, a})
	sel, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, "B", sel.ID)
}
