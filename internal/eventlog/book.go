package eventlog

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/makeasinger/panelcast/internal/metrics"
)

var (
	// ErrRoomClaimed is returned when a job already owns the room.
	ErrRoomClaimed = errors.New("room already claimed by a job")
	// ErrNoRoom is returned for job ids without a room.
	ErrNoRoom = errors.New("room not found")
)

const defaultPendingTTL = 5 * time.Minute

// BookOption customizes Book construction.
type BookOption func(*Book)

// WithSinks attaches sinks to every log opened by the book.
func WithSinks(sinks ...Sink) BookOption {
	return func(b *Book) {
		b.sinks = append(b.sinks, sinks...)
	}
}

// WithPendingTTL bounds how long a room nobody claimed is kept.
func WithPendingTTL(ttl time.Duration) BookOption {
	return func(b *Book) {
		if ttl > 0 {
			b.pendingTTL = ttl
		}
	}
}

// WithIdleHandler is called when the last member leaves a claimed room.
func WithIdleHandler(fn func(jobID string)) BookOption {
	return func(b *Book) {
		b.onIdle = fn
	}
}

func WithLogger(logger *logrus.Entry) BookOption {
	return func(b *Book) {
		b.logger = logger
	}
}

// Book holds one room per job id. A room may be opened by a subscriber
// before the job that will write to it exists.
type Book struct {
	mu    sync.Mutex
	rooms map[string]*room

	sinks      []Sink
	pendingTTL time.Duration
	onIdle     func(jobID string)
	logger     *logrus.Entry
}

type room struct {
	log     *Log
	members int
	claimed bool
	expiry  *time.Timer
}

func NewBook(opts ...BookOption) *Book {
	b := &Book{
		rooms:      make(map[string]*room),
		pendingTTL: defaultPendingTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// open returns the room for jobID, creating an unclaimed one. Caller holds mu.
func (b *Book) open(jobID string) *room {
	r, ok := b.rooms[jobID]
	if ok {
		return r
	}
	r = &room{log: New(jobID, b.sinks...)}
	b.rooms[jobID] = r
	r.expiry = time.AfterFunc(b.pendingTTL, func() { b.expire(jobID, r) })
	return r
}

// Claim hands the room's log to the job that will write it.
func (b *Book) Claim(jobID string) (*Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.open(jobID)
	if r.claimed {
		return nil, ErrRoomClaimed
	}
	r.claimed = true
	if r.expiry != nil {
		r.expiry.Stop()
		r.expiry = nil
	}
	return r.log, nil
}

// Get returns the log of a room that exists.
func (b *Book) Get(jobID string) (*Log, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[jobID]
	if !ok {
		return nil, false
	}
	return r.log, true
}

// Join subscribes a member to the room, opening it when needed. The
// returned leave func must be called exactly once.
func (b *Book) Join(jobID string) (*Subscription, func()) {
	b.mu.Lock()
	r := b.open(jobID)
	r.members++
	sub := r.log.Subscribe()
	b.mu.Unlock()
	metrics.Subscribers.Inc()

	var once sync.Once
	leave := func() {
		once.Do(func() {
			metrics.Subscribers.Dec()
			b.leave(jobID, r)
		})
	}
	return sub, leave
}

func (b *Book) leave(jobID string, r *room) {
	b.mu.Lock()
	r.members--
	idle := r.members == 0 && r.claimed && !r.log.Closed() && b.rooms[jobID] == r
	b.mu.Unlock()

	if idle && b.onIdle != nil {
		b.onIdle(jobID)
	}
}

// Members returns how many subscribers are in the room.
func (b *Book) Members(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rooms[jobID]; ok {
		return r.members
	}
	return 0
}

// Drop removes the room and closes its log.
func (b *Book) Drop(jobID string) {
	b.mu.Lock()
	r, ok := b.rooms[jobID]
	if ok {
		delete(b.rooms, jobID)
		if r.expiry != nil {
			r.expiry.Stop()
		}
	}
	b.mu.Unlock()
	if ok {
		r.log.Close()
	}
}

func (b *Book) expire(jobID string, r *room) {
	b.mu.Lock()
	if b.rooms[jobID] != r || r.claimed {
		b.mu.Unlock()
		return
	}
	delete(b.rooms, jobID)
	b.mu.Unlock()

	r.log.Close()
	if b.logger != nil {
		b.logger.WithField("job_id", jobID).Info("unclaimed room expired")
	}
}
