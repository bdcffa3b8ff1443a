package form

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailbundle/internal/model"
	"github.com/nhle/mailbundle/internal/theme"
)

// BundleSubmittedMsg is dispatched when the new-bundle form completes.
type BundleSubmittedMsg struct {
	Name string
	Icon string
}

// MoveSubmittedMsg is dispatched when the move form completes.
type MoveSubmittedMsg struct {
	ThreadID     string
	From         model.EmailBundle
	To           model.EmailBundle
	AlwaysFilter bool
}

// CancelMsg is dispatched when the user aborts either form.
type CancelMsg struct{}

type mode int

const (
	modeNewBundle mode = iota
	modeMove
)

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	name         string
	icon         string
	toID         string
	alwaysFilter bool
}

// Model is the Bubble Tea model for the new-bundle and move-thread forms.
type Model struct {
	form     *huh.Form
	fb       *formBindings
	mode     mode
	threadID string
	subject  string
	from     model.EmailBundle
	bundles  []model.EmailBundle
	width    int
	height   int
}

// New creates a new form model.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{},
		width:  width,
		height: height,
	}
}

// StartNewBundle initializes the form for creating a bundle.
func (m *Model) StartNewBundle() tea.Cmd {
	m.mode = modeNewBundle
	m.fb.name = ""
	m.fb.icon = ""
	m.form = huh.NewForm(
		huh.NewGroup(BundleFields(&m.fb.name, &m.fb.icon)...),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
	return m.form.Init()
}

// StartMove initializes the form for moving a thread out of from. Every
// other bundle is offered as a destination.
func (m *Model) StartMove(thread model.ThreadSummary, from model.EmailBundle, bundles []model.EmailBundle) tea.Cmd {
	m.mode = modeMove
	m.threadID = thread.ID
	m.subject = thread.Subject
	m.from = from
	m.bundles = bundles
	m.fb.toID = ""
	m.fb.alwaysFilter = false

	var opts []huh.Option[string]
	for _, b := range bundles {
		if b.ID == from.ID {
			continue
		}
		label := b.Name
		if b.Icon != "" {
			label = b.Icon + " " + b.Name
		}
		opts = append(opts, huh.NewOption(label, b.ID))
	}
	if len(opts) == 0 {
		return func() tea.Msg { return CancelMsg{} }
	}
	m.fb.toID = opts[0].Value

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Move to").
				Options(opts...).
				Value(&m.fb.toID),
			huh.NewConfirm().
				Title("Always route this sender here?").
				Affirmative("Yes").
				Negative("No").
				Value(&m.fb.alwaysFilter),
		),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
	return m.form.Init()
}

// BundleFields returns the name and icon inputs of the new-bundle form.
func BundleFields(name, icon *string) []huh.Field {
	return []huh.Field{
		huh.NewInput().
			Title("Bundle name").
			Placeholder("newsletters").
			Value(name).
			Validate(validateBundleName),
		huh.NewInput().
			Title("Icon").
			Placeholder("optional, e.g. 📰").
			CharLimit(4).
			Value(icon),
	}
}

// Update handles messages for the form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m, m.handleSubmit()
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleText := "New Bundle"
	if m.mode == modeMove {
		titleText = fmt.Sprintf("Move %q from %s", m.subject, m.from.Name)
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render(titleText) + "\n" + m.form.View()

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) handleSubmit() tea.Cmd {
	if m.mode == modeNewBundle {
		msg := BundleSubmittedMsg{
			Name: strings.TrimSpace(m.fb.name),
			Icon: strings.TrimSpace(m.fb.icon),
		}
		return func() tea.Msg { return msg }
	}

	for _, b := range m.bundles {
		if b.ID != m.fb.toID {
			continue
		}
		msg := MoveSubmittedMsg{
			ThreadID:     m.threadID,
			From:         m.from,
			To:           b,
			AlwaysFilter: m.fb.alwaysFilter && !b.IsInbox(),
		}
		return func() tea.Msg { return msg }
	}
	return func() tea.Msg { return CancelMsg{} }
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 100)
}

func (m Model) formHeight() int {
	return max(m.height-4, 10)
}

func validateBundleName(s string) error {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return fmt.Errorf("bundle name is required")
	case strings.EqualFold(s, model.InboxBundle):
		return fmt.Errorf("%q is reserved", model.InboxBundle)
	case strings.Contains(s, "/"):
		return fmt.Errorf("bundle name must not contain /")
	}
	return nil
}
