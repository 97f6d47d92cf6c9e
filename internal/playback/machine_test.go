package playback

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/makeasinger/panelcast/internal/model"
)

type stream struct {
	seq int64
}

func (s *stream) event(t *testing.T, typ model.EventType, panel int, payload any) model.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s.seq++
	return model.Event{JobID: "job", Sequence: s.seq, Type: typ, PanelNumber: panel, Payload: raw}
}

func (s *stream) started(t *testing.T, n, total int) model.Event {
	return s.event(t, model.EventPanelStarted, n, model.PanelStartedPayload{PanelNumber: n, TotalPanels: total})
}

func (s *stream) ready(t *testing.T, n int) model.Event {
	return s.event(t, model.EventPanelReady, n, model.PanelReadyPayload{PanelNumber: n, NarrativeText: "text", ImageRef: "img", AudioRef: "aud"})
}

func (s *stream) degraded(t *testing.T, n int) model.Event {
	return s.event(t, model.EventPanelDegraded, n, model.PanelReadyPayload{PanelNumber: n, PlaceholderRefs: []string{"placeholder.png"}})
}

func apply(t *testing.T, m *Machine, events ...model.Event) {
	t.Helper()
	for _, ev := range events {
		if err := m.Apply(ev); err != nil {
			t.Fatalf("apply %s: %v", ev.Type, err)
		}
	}
}

func assertPlaying(t *testing.T, m *Machine, n int) {
	t.Helper()
	if m.State() != StatePlaying {
		t.Fatalf("expected playing, got %s", m.State())
	}
	p, ok := m.Current()
	if !ok || p.Number != n {
		t.Fatalf("expected panel %d playing, got %+v", n, p)
	}
}

func TestMachine_OutOfOrderArrival(t *testing.T) {
	var s stream
	m := New()
	if m.State() != StateIdle {
		t.Fatalf("expected idle, got %s", m.State())
	}
	m.Begin()
	if m.State() != StateLoading {
		t.Fatalf("expected loading, got %s", m.State())
	}

	apply(t, m, s.started(t, 1, 2), s.started(t, 2, 2), s.ready(t, 2))
	if m.State() != StateLoading {
		t.Fatalf("panel 2 must not start playback, state %s", m.State())
	}
	if _, ok := m.Current(); ok {
		t.Fatal("nothing should be playing yet")
	}

	apply(t, m, s.ready(t, 1))
	assertPlaying(t, m, 1)

	m.MediaEnded()
	assertPlaying(t, m, 2)

	m.MediaEnded()
	if m.State() != StateEnded {
		t.Fatalf("expected ended, got %s", m.State())
	}
}

func TestMachine_WaitsForNextRequiredPanel(t *testing.T) {
	var s stream
	m := New()
	apply(t, m, s.started(t, 1, 3), s.ready(t, 1), s.ready(t, 3))
	assertPlaying(t, m, 1)

	m.MediaEnded()
	if m.State() != StateTransitioning {
		t.Fatalf("should wait for panel 2 rather than skip, got %s", m.State())
	}

	apply(t, m, s.degraded(t, 2))
	assertPlaying(t, m, 2)
	if p, _ := m.Current(); !p.Degraded || len(p.PlaceholderRefs) != 1 {
		t.Errorf("degraded panel should carry placeholders: %+v", p)
	}

	m.MediaEnded()
	assertPlaying(t, m, 3)
	m.MediaEnded()
	if m.State() != StateEnded {
		t.Fatalf("expected ended, got %s", m.State())
	}
}

func TestMachine_TotalFromJobCompleted(t *testing.T) {
	var s stream
	m := New()
	apply(t, m, s.ready(t, 1))
	assertPlaying(t, m, 1)

	m.MediaEnded()
	if m.State() != StateTransitioning {
		t.Fatalf("total unknown, expected transitioning, got %s", m.State())
	}
	apply(t, m, s.event(t, model.EventJobCompleted, 0, model.JobCompletedPayload{JobID: "job", Status: model.JobStatusCompleted, PanelCount: 1}))
	if m.State() != StateEnded {
		t.Fatalf("expected ended after job_completed, got %s", m.State())
	}
}

func TestMachine_JumpKeepsAutoAdvance(t *testing.T) {
	var s stream
	m := New()
	apply(t, m, s.started(t, 1, 4), s.ready(t, 1), s.ready(t, 2), s.ready(t, 4))
	assertPlaying(t, m, 1)

	if m.Jump(3) {
		t.Fatal("jump to an unbuffered panel must fail")
	}
	if !m.Jump(4) {
		t.Fatal("jump to a buffered panel should succeed")
	}
	assertPlaying(t, m, 4)

	m.MediaEnded()
	assertPlaying(t, m, 2)

	m.MediaEnded()
	if m.State() != StateTransitioning {
		t.Fatalf("expected to wait for panel 3, got %s", m.State())
	}
	apply(t, m, s.ready(t, 3))
	assertPlaying(t, m, 3)

	m.MediaEnded()
	if m.State() != StateEnded {
		t.Fatalf("expected ended, got %s", m.State())
	}
}

func TestMachine_DuplicateSequenceIgnored(t *testing.T) {
	var s stream
	m := New()
	first := s.ready(t, 1)
	apply(t, m, s.started(t, 1, 2), first)
	m.MediaEnded()

	apply(t, m, first)
	if m.State() != StateTransitioning {
		t.Fatalf("replayed event must not restart playback, got %s", m.State())
	}
}

func TestMachine_JobFailed(t *testing.T) {
	var s stream
	m := New()
	apply(t, m, s.event(t, model.EventJobFailed, 0, model.JobFailedPayload{JobID: "job", Reason: "no script"}))
	if m.State() != StateEnded || m.Reason() != "no script" {
		t.Fatalf("expected ended with reason, got %s %q", m.State(), m.Reason())
	}
}

func TestMachine_MediaEndedOutsidePlayingIgnored(t *testing.T) {
	m := New()
	m.MediaEnded()
	if m.State() != StateIdle {
		t.Fatalf("expected idle, got %s", m.State())
	}
}

func TestEstimateDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want time.Duration
	}{
		{"", 5 * time.Second},
		{"a few words only", 5 * time.Second},
		{"one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen", 6 * time.Second},
		{"w w w w w w w w w w w w w w w w w w w w w w w w w", 10 * time.Second},
	}
	for _, tt := range tests {
		if got := EstimateDuration(tt.text); got != tt.want {
			t.Errorf("EstimateDuration(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
