package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the key bindings for every stage of a scan.
type keyMap struct {
	Confirm key.Binding
	Browse  key.Binding
	Done    key.Binding
	Submit  key.Binding
	Retry   key.Binding
	New     key.Binding
	Back    key.Binding
	Quit    key.Binding
	Force   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "next"),
		),
		Browse: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "browse"),
		),
		Done: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "done selecting"),
		),
		Submit: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "upload"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry"),
		),
		New: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "new scan"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "quit"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		Force: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}
