// Package viewer is a terminal consumer of a story room. It feeds room
// events into a playback machine and stands in for media playback with
// timers sized to each panel's narration.
package viewer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/makeasinger/panelcast/internal/model"
	"github.com/makeasinger/panelcast/internal/playback"
)

// NextFunc blocks until the next room event.
type NextFunc func() (model.Event, error)

type eventMsg struct{ ev model.Event }

type streamErrMsg struct{ err error }

// mediaEndedMsg fires when a panel's narration would have finished. gen
// ties it to the play that scheduled it so stale timers are dropped.
type mediaEndedMsg struct{ gen int }

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2).Width(72)
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Model is the bubbletea model of the viewer.
type Model struct {
	jobID   string
	title   string
	next    NextFunc
	machine *playback.Machine
	speed   float64

	gen     int
	playing int
	closed  bool
	err     error
}

// NewModel builds a viewer for jobID. speed scales narration time; values
// above 1 play faster.
func NewModel(jobID, title string, next NextFunc, speed float64) *Model {
	if speed <= 0 {
		speed = 1
	}
	return &Model{
		jobID:   jobID,
		title:   title,
		next:    next,
		machine: playback.New(),
		speed:   speed,
	}
}

// Machine exposes the playback state.
func (m *Model) Machine() *playback.Machine { return m.machine }

func (m *Model) Init() tea.Cmd {
	return m.wait()
}

func (m *Model) wait() tea.Cmd {
	next := m.next
	return func() tea.Msg {
		ev, err := next()
		if err != nil {
			return streamErrMsg{err: err}
		}
		return eventMsg{ev: ev}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		if err := m.machine.Apply(msg.ev); err != nil {
			m.err = err
		}
		return m, tea.Batch(m.wait(), m.schedule())

	case streamErrMsg:
		if errors.Is(msg.err, io.EOF) {
			m.closed = true
			return m, nil
		}
		m.err = msg.err
		return m, nil

	case mediaEndedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.machine.MediaEnded()
		return m, m.schedule()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "n", "right":
			return m, m.jump(m.playing + 1)
		case "p", "left":
			return m, m.jump(m.playing - 1)
		}
		if s := msg.String(); len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
			return m, m.jump(int(s[0] - '0'))
		}
	}
	return m, nil
}

func (m *Model) jump(n int) tea.Cmd {
	if n < 1 || !m.machine.Jump(n) {
		return nil
	}
	m.playing = 0
	return m.schedule()
}

// schedule starts a narration timer when a different panel began playing.
func (m *Model) schedule() tea.Cmd {
	if m.machine.State() != playback.StatePlaying {
		return nil
	}
	p, ok := m.machine.Current()
	if !ok || p.Number == m.playing {
		return nil
	}
	m.playing = p.Number
	m.gen++
	gen := m.gen
	d := time.Duration(float64(playback.EstimateDuration(p.NarrativeText)) / m.speed)
	return tea.Tick(d, func(time.Time) tea.Msg { return mediaEndedMsg{gen: gen} })
}

func (m *Model) View() string {
	var b strings.Builder
	title := m.title
	if title == "" {
		title = "Story " + m.jobID
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.progress()))
	b.WriteString("\n\n")

	switch m.machine.State() {
	case playback.StateIdle, playback.StateLoading:
		b.WriteString(dimStyle.Render("Waiting for the first panel..."))
	case playback.StateEnded:
		if reason := m.machine.Reason(); reason != "" {
			b.WriteString(errorStyle.Render("Story failed: " + reason))
		} else {
			b.WriteString(titleStyle.Render("The end."))
		}
	default:
		if p, ok := m.machine.Current(); ok {
			b.WriteString(m.renderPanel(p))
		}
		if m.machine.State() == playback.StateTransitioning {
			b.WriteString("\n")
			b.WriteString(dimStyle.Render("Loading the next panel..."))
		}
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.err.Error()))
	}
	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("n/p: next/previous  1-9: jump  q: quit"))
	return b.String()
}

func (m *Model) renderPanel(p playback.Panel) string {
	header := fmt.Sprintf("Panel %d", p.Number)
	if total := m.machine.Total(); total > 0 {
		header = fmt.Sprintf("Panel %d of %d", p.Number, total)
	}
	lines := []string{titleStyle.Render(header), "", p.NarrativeText, ""}
	lines = append(lines, dimStyle.Render("image: "+p.ImageRef), dimStyle.Render("audio: "+p.AudioRef))
	if p.Degraded {
		lines = append(lines, degradedStyle.Render("placeholder: "+strings.Join(p.PlaceholderRefs, ", ")))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

// progress renders one cell per panel: played, buffered or pending.
func (m *Model) progress() string {
	total := m.machine.Total()
	if total == 0 {
		return ""
	}
	cells := make([]string, total)
	for n := 1; n <= total; n++ {
		switch {
		case m.machine.Played(n):
			cells[n-1] = "●"
		case m.machine.Buffered(n):
			cells[n-1] = "◐"
		default:
			cells[n-1] = "○"
		}
	}
	status := ""
	if m.closed {
		status = "  (room closed)"
	}
	return strings.Join(cells, " ") + status
}
