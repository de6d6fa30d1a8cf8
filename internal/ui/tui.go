// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the call UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// NewModel creates a new TUI model bound to shell
func NewModel(shell Shell, engine string) Model {
	return Model{
		shell:  shell,
		engine: engine,
	}
}

// Run creates the TUI program. Feed it StatusMsg values with Send.
func Run(shell Shell, engine string) *tea.Program {
	return tea.NewProgram(NewModel(shell, engine), tea.WithAltScreen())
}
