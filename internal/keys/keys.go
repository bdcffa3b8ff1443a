package keys

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the global keybindings for the application.
type KeyMap struct {
	// Navigation
	Down key.Binding
	Up   key.Binding

	// Selection
	Select key.Binding

	// Back / Quit
	Back key.Binding
	Quit key.Binding

	// Command palette
	Command key.Binding

	// Help toggle
	Help key.Binding

	// Sync
	Refresh     key.Binding
	Discover    key.Binding
	NextAccount key.Binding

	// Bundles
	NewBundle    key.Binding
	BundleUp     key.Binding
	BundleDown   key.Binding
	FocusThreads key.Binding
	FocusBundles key.Binding

	// Threads
	Move       key.Binding
	ToggleSeen key.Binding
	ToggleFlag key.Binding
	Trash      key.Binding
}

// DefaultKeyMap returns the default set of keybindings.
func DefaultKeyMap() *KeyMap {
	return &KeyMap{
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "down"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "up"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		Command: key.NewBinding(
			key.WithKeys(":"),
			key.WithHelp(":", "command palette"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "sync now"),
		),
		Discover: key.NewBinding(
			key.WithKeys("D"),
			key.WithHelp("D", "discover bundles"),
		),
		NextAccount: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next account"),
		),
		NewBundle: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "new bundle"),
		),
		BundleUp: key.NewBinding(
			key.WithKeys("K"),
			key.WithHelp("K", "move bundle up"),
		),
		BundleDown: key.NewBinding(
			key.WithKeys("J"),
			key.WithHelp("J", "move bundle down"),
		),
		FocusThreads: key.NewBinding(
			key.WithKeys("l", "right"),
			key.WithHelp("l/→", "threads"),
		),
		FocusBundles: key.NewBinding(
			key.WithKeys("h", "left"),
			key.WithHelp("h/←", "bundles"),
		),
		Move: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "move thread"),
		),
		ToggleSeen: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "toggle seen"),
		),
		ToggleFlag: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "toggle flag"),
		),
		Trash: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "trash"),
		),
	}
}

// ShortHelp returns the most essential keybindings for the compact help view.
func (k *KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.Up, k.Down, k.Select, k.Back,
		k.Quit, k.Help, k.Move,
	}
}

// FullHelp returns all keybindings grouped by category for the expanded
// help view.
func (k *KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Select, k.Back, k.Quit},
		{k.Command, k.Help, k.Refresh, k.Discover, k.NextAccount},
		{k.NewBundle, k.BundleUp, k.BundleDown, k.FocusThreads, k.FocusBundles},
		{k.Move, k.ToggleSeen, k.ToggleFlag, k.Trash},
	}
}
