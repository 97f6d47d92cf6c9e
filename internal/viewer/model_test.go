package viewer

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/makeasinger/panelcast/internal/model"
	"github.com/makeasinger/panelcast/internal/playback"
)

func event(t *testing.T, seq int64, typ model.EventType, payload any) model.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return model.Event{JobID: "job-1", Sequence: seq, Type: typ, Payload: data}
}

func ready(t *testing.T, seq int64, n int) model.Event {
	return event(t, seq, model.EventPanelReady, model.PanelReadyPayload{
		PanelNumber:   n,
		NarrativeText: "panel text",
		ImageRef:      "img",
		AudioRef:      "aud",
	})
}

func never() (model.Event, error) { select {} }

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_PlaysAndAdvances(t *testing.T) {
	m := NewModel("job-1", "", never, 1)

	m.Update(eventMsg{ev: event(t, 1, model.EventPanelStarted, model.PanelStartedPayload{PanelNumber: 1, TotalPanels: 2})})
	if got := m.Machine().State(); got != playback.StateLoading {
		t.Fatalf("state = %s, want loading", got)
	}

	_, cmd := m.Update(eventMsg{ev: ready(t, 2, 1)})
	if cmd == nil {
		t.Fatal("expected wait and timer commands")
	}
	if got := m.Machine().State(); got != playback.StatePlaying {
		t.Fatalf("state = %s, want playing", got)
	}
	gen := m.gen

	m.Update(mediaEndedMsg{gen: gen})
	if got := m.Machine().State(); got != playback.StateTransitioning {
		t.Fatalf("state = %s, want transitioning", got)
	}

	m.Update(eventMsg{ev: ready(t, 3, 2)})
	p, _ := m.Machine().Current()
	if p.Number != 2 {
		t.Fatalf("current = %d, want 2", p.Number)
	}

	m.Update(eventMsg{ev: event(t, 4, model.EventJobCompleted, model.JobCompletedPayload{JobID: "job-1", Status: model.JobStatusCompleted, PanelCount: 2})})
	m.Update(mediaEndedMsg{gen: m.gen})
	if got := m.Machine().State(); got != playback.StateEnded {
		t.Fatalf("state = %s, want ended", got)
	}
	if !strings.Contains(m.View(), "The end.") {
		t.Errorf("view does not show the ending:\n%s", m.View())
	}
}

func TestModel_StaleTimerIgnored(t *testing.T) {
	m := NewModel("job-1", "", never, 1)
	m.Update(eventMsg{ev: ready(t, 1, 1)})
	m.Update(eventMsg{ev: ready(t, 2, 2)})

	// Jumping restarts the timer, so the first one no longer counts.
	stale := m.gen
	m.Update(key("2"))
	if m.gen == stale {
		t.Fatal("jump did not restart the narration timer")
	}

	m.Update(mediaEndedMsg{gen: stale})
	p, _ := m.Machine().Current()
	if p.Number != 2 || m.Machine().State() != playback.StatePlaying {
		t.Fatalf("stale timer changed playback: panel %d state %s", p.Number, m.Machine().State())
	}
}

func TestModel_KeysNavigate(t *testing.T) {
	m := NewModel("job-1", "", never, 1)
	for i := int64(1); i <= 3; i++ {
		m.Update(eventMsg{ev: ready(t, i, int(i))})
	}

	m.Update(key("n"))
	if p, _ := m.Machine().Current(); p.Number != 2 {
		t.Fatalf("after n current = %d, want 2", p.Number)
	}
	m.Update(key("p"))
	if p, _ := m.Machine().Current(); p.Number != 1 {
		t.Fatalf("after p current = %d, want 1", p.Number)
	}
	if _, cmd := m.Update(key("p")); cmd != nil {
		t.Error("jumping before panel 1 should do nothing")
	}
	if _, cmd := m.Update(key("9")); cmd != nil {
		t.Error("jumping to a panel that has not arrived should do nothing")
	}

	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestModel_StreamEnd(t *testing.T) {
	m := NewModel("job-1", "", never, 1)
	m.Update(eventMsg{ev: event(t, 1, model.EventPanelStarted, model.PanelStartedPayload{PanelNumber: 1, TotalPanels: 1})})

	if _, cmd := m.Update(streamErrMsg{err: io.EOF}); cmd != nil {
		t.Error("no further reads expected after EOF")
	}
	if !m.closed || m.err != nil {
		t.Fatalf("closed = %v err = %v, want closed without error", m.closed, m.err)
	}

	m.Update(streamErrMsg{err: errors.New("connection reset")})
	if !strings.Contains(m.View(), "connection reset") {
		t.Error("view does not show the stream error")
	}
}

func TestModel_FailedJob(t *testing.T) {
	m := NewModel("job-1", "", never, 1)
	m.Update(eventMsg{ev: event(t, 1, model.EventJobFailed, model.JobFailedPayload{JobID: "job-1", Reason: "script generation failed"})})

	if got := m.Machine().State(); got != playback.StateEnded {
		t.Fatalf("state = %s, want ended", got)
	}
	if !strings.Contains(m.View(), "script generation failed") {
		t.Errorf("view does not show the reason:\n%s", m.View())
	}
}

func TestModel_DegradedPanelShowsPlaceholders(t *testing.T) {
	m := NewModel("job-1", "My Story", never, 1)
	m.Update(eventMsg{ev: event(t, 1, model.EventPanelDegraded, model.PanelReadyPayload{
		PanelNumber:     1,
		NarrativeText:   "text",
		ImageRef:        "/static/placeholder/panel.png",
		AudioRef:        "aud",
		PlaceholderRefs: []string{"/static/placeholder/panel.png"},
	})})

	view := m.View()
	if !strings.Contains(view, "My Story") || !strings.Contains(view, "placeholder: /static/placeholder/panel.png") {
		t.Errorf("unexpected view:\n%s", view)
	}
}

func TestModel_WaitReadsNext(t *testing.T) {
	want := ready(t, 7, 1)
	m := NewModel("job-1", "", func() (model.Event, error) { return want, nil }, 1)

	msg := m.Init()()
	got, ok := msg.(eventMsg)
	if !ok || got.ev.Sequence != 7 {
		t.Fatalf("Init read %#v, want event 7", msg)
	}
}
