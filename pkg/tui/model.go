// Package tui implements the live follow view for a watched command.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ostwerk/cwatch/pkg/logbuf"
)

// Model is the root Bubble Tea model. Records of the running command
// arrive from outside through Program.Send as RecordMsg values.
type Model struct {
	// Run
	service string
	command string
	cancel  context.CancelFunc
	started time.Time

	// Outcome
	done     bool
	exitCode int
	runErr   error

	// State
	lines  []string
	total  int
	follow bool

	// UI
	viewport viewport.Model
	spinner  spinner.Model
	width    int
	height   int
	ready    bool
}

// RecordMsg carries one captured record into the view.
type RecordMsg logbuf.Record

// DoneMsg reports the end of the run.
type DoneMsg struct {
	Code int
	Err  error
}

// tickMsg refreshes the elapsed time.
type tickMsg time.Time

// New creates the follow view. cancel kills the watched command when
// the user quits early.
func New(service, command string, cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return Model{
		service: service,
		command: command,
		cancel:  cancel,
		started: time.Now(),
		follow:  true,
		spinner: sp,
	}
}

// Init starts the spinner and the elapsed-time ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tickCmd(),
		tea.SetWindowTitle("cwatch "+m.service),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		bodyH := max(msg.Height-3, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, bodyH)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = bodyH
		}
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		if m.follow {
			m.viewport.GotoBottom()
		}
		return m, nil

	case RecordMsg:
		m.lines = append(m.lines, logbuf.RenderLine(logbuf.Record(msg), true))
		m.total++
		if m.ready {
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			if m.follow {
				m.viewport.GotoBottom()
			}
		}
		return m, nil

	case DoneMsg:
		m.done = true
		m.exitCode = msg.Code
		m.runErr = msg.Err
		return m, nil

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if !m.done && m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit

	case "g":
		m.follow = false
		if m.ready {
			m.viewport.GotoTop()
		}
		return m, nil

	case "G":
		m.follow = true
		if m.ready {
			m.viewport.GotoBottom()
		}
		return m, nil
	}

	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	m.follow = m.viewport.AtBottom()
	return m, cmd
}
