// Package tui renders a live progress view for one dispatch run.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"leadmailer/internal/adapters/events"
	"leadmailer/internal/domain/dispatch"
)

// maxLogLines is how many recent send events the view keeps.
const maxLogLines = 8

// Run is the part of a dispatch run the view controls.
type Run interface {
	ID() string
	Progress() dispatch.Progress
	Pause()
	Resume()
	Cancel()
	Done() <-chan struct{}
}

// Theme centralizes styling.
type Theme struct {
	Title   lipgloss.Style
	OK      lipgloss.Style
	Failed  lipgloss.Style
	Pending lipgloss.Style
	Dim     lipgloss.Style
	Border  lipgloss.Style
}

// NewDefaultTheme returns the standard palette.
func NewDefaultTheme() Theme {
	return Theme{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		OK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379")),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),
		Pending: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Border:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#874BFD")).Padding(0, 1),
	}
}

type eventMsg events.Event

type doneMsg struct{}

// Model is the bubbletea model for the progress view.
type Model struct {
	run     Run
	subject string
	feed    <-chan events.Event

	bar      progress.Model
	theme    Theme
	progress dispatch.Progress
	log      []dispatch.SendEvent
	done     bool
	quitting bool
	width    int
}

// New builds a view for run fed by hub events.
// PRE: feed carries events from a hub the run publishes to
func New(run Run, subject string, feed <-chan events.Event) Model {
	return Model{
		run:      run,
		subject:  subject,
		feed:     feed,
		bar:      progress.New(progress.WithDefaultGradient()),
		theme:    NewDefaultTheme(),
		progress: run.Progress(),
	}
}

// Init starts listening for events and for the run to finish.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.feed), waitForDone(m.run))
}

func waitForEvent(feed <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-feed
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func waitForDone(run Run) tea.Cmd {
	return func() tea.Msg {
		<-run.Done()
		return doneMsg{}
	}
}

// Update handles keys, hub events and run completion.
// Keys: p toggles pause, c cancels, q cancels a live run and quits.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "p":
			if m.done {
				break
			}
			if m.progress.Paused {
				m.run.Resume()
			} else {
				m.run.Pause()
			}
			m.progress = m.run.Progress()
		case "c":
			m.run.Cancel()
		case "q", "ctrl+c":
			m.quitting = true
			m.run.Cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, min(msg.Width-8, 60))

	case eventMsg:
		ev := events.Event(msg)
		if ev.RunID == m.run.ID() {
			m.apply(ev)
		}
		return m, waitForEvent(m.feed)

	case doneMsg:
		m.done = true
		m.progress = m.run.Progress()
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(ev events.Event) {
	switch ev.Type {
	case events.TypeProgress:
		var p dispatch.Progress
		if err := ev.Decode(&p); err == nil {
			m.progress = p
		}
	case events.TypeSendEvent:
		var se dispatch.SendEvent
		if err := ev.Decode(&se); err != nil {
			return
		}
		for i := range m.log {
			if m.log[i].ID == se.ID {
				m.log[i] = se
				return
			}
		}
		m.log = append(m.log, se)
		if len(m.log) > maxLogLines {
			m.log = m.log[len(m.log)-maxLogLines:]
		}
	}
}

// Progress returns the last snapshot the view rendered.
func (m Model) Progress() dispatch.Progress {
	return m.progress
}

// View renders the bar, counters and recent attempts.
func (m Model) View() string {
	p := m.progress
	ratio := 0.0
	if p.Total > 0 {
		ratio = float64(p.Attempted()) / float64(p.Total)
	}

	lines := []string{
		m.theme.Title.Render(m.subject),
		m.bar.ViewAs(ratio),
		fmt.Sprintf("%s  %s  %s",
			m.theme.OK.Render(fmt.Sprintf("Enviados %d", p.Sent)),
			m.theme.Failed.Render(fmt.Sprintf("Fallidos %d", p.Failed)),
			m.theme.Pending.Render(fmt.Sprintf("Pendientes %d", p.Pending)),
		),
		m.theme.Dim.Render(stateLine(p)),
	}
	for _, se := range m.log {
		lines = append(lines, m.formatEvent(se))
	}
	if !m.done {
		lines = append(lines, m.theme.Dim.Render("[p] pausar/reanudar • [c] cancelar • [q] salir"))
	}
	return m.theme.Border.Render(strings.Join(lines, "\n")) + "\n"
}

func stateLine(p dispatch.Progress) string {
	switch {
	case p.Completed && p.Cancelled:
		return "Cancelado"
	case p.Completed:
		return "Completado"
	case p.Paused:
		return "En pausa"
	case p.ETASeconds > 0:
		return "Enviando, restante ~" + (time.Duration(p.ETASeconds) * time.Second).String()
	default:
		return "Enviando"
	}
}

func (m Model) formatEvent(se dispatch.SendEvent) string {
	switch se.Status {
	case dispatch.StatusSuccess:
		return m.theme.OK.Render("✓ ") + se.Address
	case dispatch.StatusFailed:
		return m.theme.Failed.Render("✗ ") + se.Address + m.theme.Dim.Render("  "+se.Reason)
	default:
		return m.theme.Pending.Render("… ") + se.Address
	}
}
