package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/gattprobe/internal/command"
	"github.com/chaz8081/gattprobe/internal/session"
)

type fakeExec struct {
	lines []string
	out   string
	err   error
}

func (f *fakeExec) Execute(_ context.Context, line string) (string, error) {
	f.lines = append(f.lines, line)
	return f.out, f.err
}

type fakeState struct{ snap session.Snapshot }

func (f *fakeState) Snapshot() session.Snapshot { return f.snap }

func newTestModel(exec *fakeExec, state *fakeState) Model {
	m := New(exec, state, []string{"backlog line"}, make(chan string))
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func typeLine(t *testing.T, m Model, line string) (Model, tea.Cmd) {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(line)})
	next, cmd := next.(Model).Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestEnterRunsCommand(t *testing.T) {
	exec := &fakeExec{out: "Scanning..."}
	m := newTestModel(exec, &fakeState{})

	m, cmd := typeLine(t, m, "scan")
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	m = next.(Model)

	assert.Equal(t, []string{"scan"}, exec.lines)
	log := m.Log()
	assert.Equal(t, "backlog line", log[0])
	assert.Contains(t, log[len(log)-2], "> scan")
	assert.Equal(t, "Scanning...", log[len(log)-1])
	assert.Empty(t, m.input.Value())
}

func TestCommandErrorIsLogged(t *testing.T) {
	exec := &fakeExec{err: errors.New("usage: read <sel>")}
	m := newTestModel(exec, &fakeState{})

	m, cmd := typeLine(t, m, "read")
	next, _ := m.Update(cmd())

	log := next.(Model).Log()
	assert.Contains(t, log[len(log)-1], "error: usage: read <sel>")
}

func TestQuitCommandQuits(t *testing.T) {
	exec := &fakeExec{err: command.ErrQuit}
	m := newTestModel(exec, &fakeState{})

	m, cmd := typeLine(t, m, "quit")
	next, quit := m.Update(cmd())

	require.NotNil(t, quit)
	assert.IsType(t, tea.QuitMsg{}, quit())
	assert.Empty(t, next.(Model).View())
}

func TestHistoryRecall(t *testing.T) {
	exec := &fakeExec{}
	m := newTestModel(exec, &fakeState{})
	m, _ = typeLine(t, m, "read 1")
	m, _ = typeLine(t, m, "read 2")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	assert.Equal(t, "read 2", m.input.Value())

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	assert.Equal(t, "read 1", m.input.Value())

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	next, _ = next.(Model).Update(tea.KeyMsg{Type: tea.KeyDown})
	assert.Empty(t, next.(Model).input.Value())
}

func TestLogLinesAndStatus(t *testing.T) {
	state := &fakeState{}
	m := newTestModel(&fakeExec{}, state)

	next, cmd := m.Update(logLineMsg("12:00:00.000 READY"))
	require.NotNil(t, cmd, "keeps listening for log lines")
	m = next.(Model)
	assert.Equal(t, "12:00:00.000 READY", m.Log()[len(m.Log())-1])

	state.snap = session.Snapshot{State: session.StateReady, Address: "AA:BB", Generation: 3}
	next, _ = m.Update(statusTickMsg{})
	view := next.(Model).View()
	assert.True(t, strings.Contains(view, "state=ready addr=AA:BB gen=3"), view)
}
