package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chaz8081/gattprobe/internal/command"
	"github.com/chaz8081/gattprobe/internal/session"
)

const (
	statusInterval = 500 * time.Millisecond
	maxLogLines    = 2000
	maxHistory     = 100
)

// Executor runs one command line.
type Executor interface {
	Execute(ctx context.Context, line string) (string, error)
}

// Snapshotter exposes the session state shown in the status bar.
type Snapshotter interface {
	Snapshot() session.Snapshot
}

// Model is the root Bubble Tea model.
type Model struct {
	exec  Executor
	state Snapshotter
	lines <-chan string

	viewport viewport.Model
	input    textinput.Model
	ready    bool
	width    int
	height   int

	log      []string
	history  []string
	histPos  int
	status   session.Snapshot
	quitting bool
}

// New builds the model. backlog seeds the log view; lines delivers new
// log lines until it is closed.
func New(exec Executor, state Snapshotter, backlog []string, lines <-chan string) Model {
	ti := textinput.New()
	ti.Placeholder = "type a command (help)"
	ti.Prompt = "> "
	ti.PromptStyle = promptStyle
	ti.CharLimit = 512
	ti.Focus()

	log := append([]string(nil), backlog...)
	return Model{
		exec:   exec,
		state:  state,
		lines:  lines,
		input:  ti,
		log:    log,
		status: state.Snapshot(),
	}
}

func waitForLine(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return logClosedMsg{}
		}
		return logLineMsg(line)
	}
}

func tickStatus() tea.Cmd {
	return tea.Tick(statusInterval, func(t time.Time) tea.Msg { return statusTickMsg(t) })
}

func runCommand(exec Executor, line string) tea.Cmd {
	return func() tea.Msg {
		out, err := exec.Execute(context.Background(), line)
		return commandResultMsg{line: line, out: out, err: err}
	}
}

// Init starts the log feed and the status ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForLine(m.lines), tickStatus())
}

// Update handles input, log lines and status refreshes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			m.remember(line)
			m.appendLog(echoStyle.Render("> " + line))
			return m, runCommand(m.exec, line)
		case tea.KeyUp:
			m.recall(-1)
			return m, nil
		case tea.KeyDown:
			m.recall(1)
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case logLineMsg:
		m.appendLog(string(msg))
		return m, waitForLine(m.lines)

	case logClosedMsg:
		return m, nil

	case statusTickMsg:
		m.status = m.state.Snapshot()
		return m, tickStatus()

	case commandResultMsg:
		if errors.Is(msg.err, command.ErrQuit) {
			m.quitting = true
			return m, tea.Quit
		}
		if msg.err != nil {
			m.appendLog(errorStyle.Render("error: " + msg.err.Error()))
		}
		if msg.out != "" {
			for _, l := range strings.Split(msg.out, "\n") {
				m.appendLog(l)
			}
		}
		m.status = m.state.Snapshot()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) layout() {
	h := m.height - 2
	if h < 3 {
		h = 3
	}
	if !m.ready {
		m.viewport = viewport.New(m.width, h)
		m.viewport.MouseWheelEnabled = true
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = h
	}
	m.input.Width = m.width - 4
	m.viewport.SetContent(strings.Join(m.log, "\n"))
	m.viewport.GotoBottom()
}

func (m *Model) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.log, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) remember(line string) {
	if n := len(m.history); n == 0 || m.history[n-1] != line {
		m.history = append(m.history, line)
		if len(m.history) > maxHistory {
			m.history = m.history[1:]
		}
	}
	m.histPos = len(m.history)
}

// recall moves through the command history; moving past the newest entry
// clears the input.
func (m *Model) recall(delta int) {
	if len(m.history) == 0 {
		return
	}
	m.histPos = max(0, min(len(m.history), m.histPos+delta))
	if m.histPos == len(m.history) {
		m.input.SetValue("")
		return
	}
	m.input.SetValue(m.history[m.histPos])
	m.input.CursorEnd()
}

// View renders the log, the status bar and the command line.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "  Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		m.statusBar(),
		m.input.View(),
	)
}

func (m Model) statusBar() string {
	style := statusStyle
	switch {
	case m.status.Ready():
		style = readyStyle
	case m.status.State != session.StateDisconnected:
		style = busyStyle
	}
	return style.Width(m.width).Render(command.StatusLine(m.status))
}

// Log returns the lines currently held by the log view.
func (m Model) Log() []string {
	return append([]string(nil), m.log...)
}

// Run starts the program on the terminal and blocks until the user quits
// or ctx is done.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
