package playback

import (
	"fmt"
	"strings"
	"time"

	"github.com/makeasinger/panelcast/internal/model"
)

// State of the consumer side of a story.
type State string

const (
	StateIdle          State = "idle"
	StateLoading       State = "loading"
	StatePlaying       State = "playing"
	StateTransitioning State = "transitioning"
	StateEnded         State = "ended"
)

// Panel is a resolved panel as the consumer sees it.
type Panel struct {
	Number          int
	NarrativeText   string
	ImageRef        string
	AudioRef        string
	Degraded        bool
	PlaceholderRefs []string
}

// Machine reassembles a job's event stream into gapless, in-order playback.
// It is not safe for concurrent use; drive it from one goroutine.
type Machine struct {
	state   State
	total   int
	current int
	buffer  map[int]Panel
	played  map[int]bool
	seen    map[int64]bool
	reason  string
}

func New() *Machine {
	return &Machine{
		state:  StateIdle,
		buffer: make(map[int]Panel),
		played: make(map[int]bool),
		seen:   make(map[int64]bool),
	}
}

// Begin marks the job as started.
func (m *Machine) Begin() {
	if m.state == StateIdle {
		m.state = StateLoading
	}
}

// Apply feeds one event. Events whose sequence number was already applied
// are ignored, so a replay after reconnecting is harmless.
func (m *Machine) Apply(ev model.Event) error {
	if ev.Sequence > 0 {
		if m.seen[ev.Sequence] {
			return nil
		}
		m.seen[ev.Sequence] = true
	}
	m.Begin()

	switch ev.Type {
	case model.EventPanelStarted:
		var p model.PanelStartedPayload
		if err := ev.Decode(&p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		m.setTotal(p.TotalPanels)

	case model.EventPanelReady, model.EventPanelDegraded:
		var p model.PanelReadyPayload
		if err := ev.Decode(&p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		n := p.PanelNumber
		if n == 0 {
			n = ev.PanelNumber
		}
		m.buffer[n] = Panel{
			Number:          n,
			NarrativeText:   p.NarrativeText,
			ImageRef:        p.ImageRef,
			AudioRef:        p.AudioRef,
			Degraded:        ev.Type == model.EventPanelDegraded,
			PlaceholderRefs: p.PlaceholderRefs,
		}
		switch {
		case m.state == StateLoading && n == 1:
			m.play(1)
		case m.state == StateTransitioning && n == m.nextRequired():
			m.play(n)
		}

	case model.EventJobCompleted:
		var p model.JobCompletedPayload
		if err := ev.Decode(&p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		m.setTotal(p.PanelCount)
		if m.state == StateTransitioning {
			m.advance()
		}

	case model.EventJobFailed:
		var p model.JobFailedPayload
		if err := ev.Decode(&p); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		m.reason = p.Reason
		m.state = StateEnded
	}
	return nil
}

// MediaEnded reports that the current panel finished playing.
func (m *Machine) MediaEnded() {
	if m.state != StatePlaying {
		return
	}
	m.state = StateTransitioning
	m.advance()
}

// Jump plays a buffered panel immediately. Auto-advance afterwards still
// resumes from the lowest panel not yet played.
func (m *Machine) Jump(n int) bool {
	if _, ok := m.buffer[n]; !ok {
		return false
	}
	m.play(n)
	return true
}

func (m *Machine) State() State { return m.state }

// Current returns the panel being played or waited on.
func (m *Machine) Current() (Panel, bool) {
	if m.current == 0 {
		return Panel{}, false
	}
	p, ok := m.buffer[m.current]
	return p, ok
}

// Total is the panel count of the job, zero until known.
func (m *Machine) Total() int { return m.total }

// Buffered reports whether panel n has arrived.
func (m *Machine) Buffered(n int) bool {
	_, ok := m.buffer[n]
	return ok
}

// Played reports whether panel n has started playing at least once.
func (m *Machine) Played(n int) bool { return m.played[n] }

// Reason is the failure reason once a job_failed event ended playback.
func (m *Machine) Reason() string { return m.reason }

func (m *Machine) setTotal(n int) {
	if n > m.total {
		m.total = n
	}
}

func (m *Machine) play(n int) {
	m.current = n
	m.played[n] = true
	m.state = StatePlaying
}

// nextRequired is the lowest panel number that has not been played.
func (m *Machine) nextRequired() int {
	n := 1
	for m.played[n] {
		n++
	}
	return n
}

func (m *Machine) advance() {
	next := m.nextRequired()
	if m.total > 0 && next > m.total {
		m.state = StateEnded
		return
	}
	if _, ok := m.buffer[next]; ok {
		m.play(next)
	}
}

// EstimateDuration is how long narration of text takes at 2.5 words per
// second, never less than five seconds.
func EstimateDuration(text string) time.Duration {
	const minimum = 5 * time.Second
	words := len(strings.Fields(text))
	d := time.Duration(float64(words) / 2.5 * float64(time.Second))
	return max(d, minimum)
}
