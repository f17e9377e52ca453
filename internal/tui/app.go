package tui

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/moolen/sleuth/internal/incident"
	"golang.org/x/term"
)

// ErrAborted is returned when the user quits before an analysis finished.
var ErrAborted = errors.New("analysis aborted")

// Run shows the interactive editor, analyzes the submitted description and
// keeps the rendered report on screen until the user quits.
func Run(ctx context.Context, analyze AnalyzeFunc) (*incident.AnalysisResult, error) {
	model := NewModel(ctx, analyze)
	program := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	final, err := program.Run()
	if err != nil {
		return nil, fmt.Errorf("TUI error: %w", err)
	}
	m, ok := final.(*Model)
	if !ok || m.Result() == nil {
		return nil, ErrAborted
	}
	return m.Result(), nil
}

// IsTerminal returns true if both stdin and stdout are terminals.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
