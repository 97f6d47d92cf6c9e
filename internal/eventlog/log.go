package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/makeasinger/panelcast/internal/metrics"
	"github.com/makeasinger/panelcast/internal/model"
)

// ErrClosed is returned by Append once the log has been closed.
var ErrClosed = errors.New("event log closed")

// Sink receives every appended event, in sequence order. Publish must not
// block.
type Sink interface {
	Publish(ev model.Event)
}

// Log is the append-only, ordered event log of one job. It has a single
// writer and any number of readers.
type Log struct {
	jobID string
	sinks []Sink

	mu     sync.RWMutex
	events []model.Event
	closed bool
	// wake is closed and replaced on every append and on Close.
	wake chan struct{}
}

func New(jobID string, sinks ...Sink) *Log {
	return &Log{
		jobID: jobID,
		sinks: sinks,
		wake:  make(chan struct{}),
	}
}

// Append assigns the next sequence number and stores the event.
func (l *Log) Append(typ model.EventType, panelNumber int, payload any) (model.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return model.Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return model.Event{}, ErrClosed
	}
	ev := model.Event{
		JobID:       l.jobID,
		Sequence:    int64(len(l.events)) + 1,
		Type:        typ,
		PanelNumber: panelNumber,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	}
	l.events = append(l.events, ev)
	close(l.wake)
	l.wake = make(chan struct{})
	l.mu.Unlock()

	metrics.EventsAppendedTotal.WithLabelValues(string(typ)).Inc()
	for _, s := range l.sinks {
		s.Publish(ev)
	}
	return ev, nil
}

// Close marks the log complete. Subscribers drain remaining events and then
// receive io.EOF.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.wake)
}

func (l *Log) Closed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Since returns a copy of the events with a sequence number above seq.
func (l *Log) Since(seq int64) ([]model.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(l.events)) {
		return []model.Event{}, l.closed
	}
	out := make([]model.Event, int64(len(l.events))-seq)
	copy(out, l.events[seq:])
	return out, l.closed
}

// Subscribe takes the replay snapshot and positions the live cursor right
// after its last event.
func (l *Log) Subscribe() *Subscription {
	l.mu.RLock()
	replay := make([]model.Event, len(l.events))
	copy(replay, l.events)
	l.mu.RUnlock()

	return &Subscription{
		log:    l,
		Replay: replay,
		cursor: len(replay),
	}
}

// Subscription reads one job's events. Replay holds everything appended
// before Subscribe; Next yields the rest. Not safe for concurrent use.
type Subscription struct {
	Replay []model.Event

	log    *Log
	cursor int
}

// Cut is the sequence number of the last replayed event, 0 if none.
func (s *Subscription) Cut() int64 {
	return int64(len(s.Replay))
}

// Next blocks until the next live event. It returns io.EOF once the log is
// closed and drained.
func (s *Subscription) Next(ctx context.Context) (model.Event, error) {
	for {
		s.log.mu.RLock()
		if s.cursor < len(s.log.events) {
			ev := s.log.events[s.cursor]
			s.log.mu.RUnlock()
			s.cursor++
			return ev, nil
		}
		if s.log.closed {
			s.log.mu.RUnlock()
			return model.Event{}, io.EOF
		}
		wake := s.log.wake
		s.log.mu.RUnlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return model.Event{}, ctx.Err()
		}
	}
}

// Stream pushes replay then live events into a channel, closed when the log
// ends or ctx is done.
func (s *Subscription) Stream(ctx context.Context) <-chan model.Event {
	out := make(chan model.Event)
	go func() {
		defer close(out)
		for _, ev := range s.Replay {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
