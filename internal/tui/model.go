package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/report"
)

// AnalyzeFunc runs one analysis for a submitted description.
type AnalyzeFunc func(ctx context.Context, description string) (*incident.AnalysisResult, error)

// Model is the Bubble Tea model: a multi-line description editor, a spinner
// while the analysis runs and a scrollable rendered report afterwards.
type Model struct {
	ctx     context.Context
	analyze AnalyzeFunc

	width  int
	height int

	textArea textarea.Model
	spinner  spinner.Model
	viewport viewport.Model

	state       state
	description string
	started     time.Time
	elapsed     time.Duration
	result      *incident.AnalysisResult
	lastError   error
	quitting    bool
}

// NewModel creates a model that calls analyze on submit.
func NewModel(ctx context.Context, analyze AnalyzeFunc) *Model {
	ta := textarea.New()
	ta.Placeholder = "Describe the incident: symptoms, affected service, recent changes..."
	ta.Focus()
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(6)
	ta.ShowLineNumbers = false
	ta.SetPromptFunc(2, func(lineIdx int) string {
		if lineIdx == 0 {
			return "> "
		}
		return "  "
	})
	ta.FocusedStyle.Prompt = inputPromptStyle
	ta.BlurredStyle.Prompt = inputPromptStyle
	// enter submits; shift+enter and ctrl+j break lines
	ta.KeyMap.InsertNewline.SetKeys("shift+enter", "ctrl+j")

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true

	return &Model{
		ctx:      ctx,
		analyze:  analyze,
		textArea: ta,
		spinner:  s,
		viewport: vp,
		width:    80,
		height:   24,
	}
}

// Result returns the finished analysis, or nil.
func (m *Model) Result() *incident.AnalysisResult {
	return m.result
}

// Init initializes the model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, tea.WindowSize())
}

// Update handles all incoming messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.textArea.SetWidth(msg.Width - 4)
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = max(msg.Height-5, 3)
		if m.state == stateDone {
			m.renderResult()
		}
		return m, nil

	case spinner.TickMsg:
		if m.state != stateAnalyzing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.elapsed = time.Since(m.started)
		return m, cmd

	case analysisDoneMsg:
		if msg.err != nil {
			m.state = stateInput
			m.lastError = msg.err
			m.textArea.Focus()
			return m, textarea.Blink
		}
		m.state = stateDone
		m.result = msg.result
		m.lastError = nil
		m.renderResult()
		return m, nil
	}

	if m.state == stateDone {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.textArea, cmd = m.textArea.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyEsc:
		if m.state == stateAnalyzing {
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit
	}

	switch m.state {
	case stateAnalyzing:
		return m, nil

	case stateDone:
		switch msg.String() {
		case "q", "enter":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if msg.Type == tea.KeyEnter {
		return m, m.submit()
	}
	var cmd tea.Cmd
	m.textArea, cmd = m.textArea.Update(msg)
	return m, cmd
}

// submit starts the analysis of the current input. Blank input is ignored.
func (m *Model) submit() tea.Cmd {
	desc := strings.TrimSpace(m.textArea.Value())
	if desc == "" {
		return nil
	}
	m.description = desc
	m.state = stateAnalyzing
	m.started = time.Now()
	m.elapsed = 0
	m.lastError = nil
	m.textArea.Blur()
	return tea.Batch(m.spinner.Tick, m.analyzeCmd(desc))
}

func (m *Model) analyzeCmd(desc string) tea.Cmd {
	ctx, analyze := m.ctx, m.analyze
	return func() tea.Msg {
		res, err := analyze(ctx, desc)
		return analysisDoneMsg{result: res, err: err}
	}
}

func (m *Model) renderResult() {
	if m.result == nil {
		return
	}
	out, err := report.Terminal(m.result, m.width-8)
	if err != nil {
		out = report.Text(m.result)
	}
	m.viewport.SetContent(out)
	m.viewport.GotoTop()
}

// View renders the current screen.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("SLEUTH"))
	b.WriteString(statusStyle.Render("  incident analysis"))
	b.WriteString("\n")
	b.WriteString(separatorStyle.Render(strings.Repeat("─", max(m.width-2, 10))))
	b.WriteString("\n")

	switch m.state {
	case stateInput:
		if m.lastError != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Analysis failed: %v", m.lastError)))
			b.WriteString("\n\n")
		}
		b.WriteString(m.textArea.View())
		b.WriteString("\n")
		b.WriteString(renderHelp("enter", "analyze", "shift+enter", "new line", "esc", "quit"))

	case stateAnalyzing:
		b.WriteString(fmt.Sprintf("%s Analyzing incident... %s\n",
			m.spinner.View(), statusStyle.Render(m.elapsed.Round(time.Second).String())))
		b.WriteString(statusStyle.Render(truncate(m.description, max(m.width-4, 20))))
		b.WriteString("\n")

	case stateDone:
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
		b.WriteString(renderHelp("↑/↓", "scroll", "q", "quit"))
	}
	return b.String()
}

func renderHelp(pairs ...string) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, helpKeyStyle.Render(pairs[i])+" "+pairs[i+1])
	}
	return helpStyle.Render(strings.Join(parts, " • "))
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
