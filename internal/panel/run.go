package panel

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Run boots the control panel and blocks until it exits.
func Run(ctx context.Context, deps Deps, opts Options) error {
	m := newModel(ctx, deps, opts)
	program := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
