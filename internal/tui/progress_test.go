package tui

import (
	"encoding/json"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadmailer/internal/adapters/events"
	"leadmailer/internal/domain/dispatch"
)

type fakeRun struct {
	progress dispatch.Progress
	paused   int
	resumed  int
	cancel   int
	done     chan struct{}
}

func newFakeRun(total int) *fakeRun {
	return &fakeRun{progress: dispatch.NewProgress("run-1", total, timeZero), done: make(chan struct{})}
}

func (f *fakeRun) ID() string                  { return "run-1" }
func (f *fakeRun) Progress() dispatch.Progress { return f.progress }
func (f *fakeRun) Pause()                      { f.paused++; f.progress.Paused = true }
func (f *fakeRun) Resume()                     { f.resumed++; f.progress.Paused = false }
func (f *fakeRun) Cancel()                     { f.cancel++ }
func (f *fakeRun) Done() <-chan struct{}       { return f.done }

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func hubEvent(t *testing.T, typ, runID string, v any) eventMsg {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return eventMsg(events.Event{Type: typ, RunID: runID, Data: data})
}

func update(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestModel_AppliesProgressForItsRun(t *testing.T) {
	run := newFakeRun(3)
	m := New(run, "Hola {name}", make(chan events.Event))

	m = update(m, hubEvent(t, events.TypeProgress, "other", dispatch.Progress{RunID: "other", Total: 9, Sent: 9}))
	assert.Equal(t, 0, m.Progress().Sent, "events for other runs are ignored")

	m = update(m, hubEvent(t, events.TypeProgress, "run-1", dispatch.Progress{RunID: "run-1", Total: 3, Sent: 1, Failed: 1, Pending: 1}))
	view := m.View()
	assert.Contains(t, view, "Enviados 1")
	assert.Contains(t, view, "Fallidos 1")
	assert.Contains(t, view, "Pendientes 1")
	assert.Contains(t, view, "Hola {name}")
}

func TestModel_SendEventsPatchInPlace(t *testing.T) {
	m := New(newFakeRun(2), "s", make(chan events.Event))
	m = update(m, hubEvent(t, events.TypeSendEvent, "run-1", dispatch.SendEvent{ID: 1, Address: "a@example.com", Status: dispatch.StatusSending}))
	m = update(m, hubEvent(t, events.TypeSendEvent, "run-1", dispatch.SendEvent{ID: 1, Address: "a@example.com", Status: dispatch.StatusFailed, Reason: "550 rejected"}))

	require.Len(t, m.log, 1)
	assert.Equal(t, dispatch.StatusFailed, m.log[0].Status)
	assert.Contains(t, m.View(), "550 rejected")
}

func TestModel_Keys(t *testing.T) {
	run := newFakeRun(2)
	m := New(run, "s", make(chan events.Event))

	m = update(m, key("p"))
	assert.Equal(t, 1, run.paused)
	assert.Contains(t, m.View(), "En pausa")

	m = update(m, key("p"))
	assert.Equal(t, 1, run.resumed)

	m = update(m, key("c"))
	assert.Equal(t, 1, run.cancel)

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, 2, run.cancel)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_DoneQuits(t *testing.T) {
	run := newFakeRun(1)
	run.progress.Finish(false, timeZero)
	m := New(run, "s", make(chan events.Event))

	next, cmd := m.Update(doneMsg{})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	view := next.(Model).View()
	assert.Contains(t, view, "Completado")
	assert.NotContains(t, view, "[p]")

	_ = update(next.(Model), key("p"))
	assert.Equal(t, 0, run.paused, "pause is ignored once finished")
}

func TestStateLine(t *testing.T) {
	assert.Equal(t, "Cancelado", stateLine(dispatch.Progress{Completed: true, Cancelled: true}))
	assert.Equal(t, "Enviando, restante ~1m30s", stateLine(dispatch.Progress{ETASeconds: 90}))
	assert.Equal(t, "Enviando", stateLine(dispatch.Progress{}))
}

var timeZero = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
