package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/makeasinger/panelcast/internal/eventlog"
	"github.com/makeasinger/panelcast/internal/metrics"
	"github.com/makeasinger/panelcast/internal/model"
	"github.com/makeasinger/panelcast/internal/pipeline"
	"github.com/makeasinger/panelcast/internal/retry"
	"github.com/makeasinger/panelcast/internal/script"
	"github.com/makeasinger/panelcast/internal/store"
)

var (
	ErrJobNotFound    = store.ErrJobNotFound
	ErrJobExists      = errors.New("job already exists")
	ErrAlreadyStarted = errors.New("job already started")
	// ErrCatastrophic marks a job whose script stage never produced panels.
	ErrCatastrophic = errors.New("script generation produced no usable panels")
)

type ScriptGenerator interface {
	Generate(ctx context.Context, b script.Brief) ([]model.ScriptPanel, error)
}

type PanelProcessor interface {
	Process(ctx context.Context, story pipeline.Story, panel model.ScriptPanel) model.PanelRecord
}

// Dispatcher hands an accepted job to whatever will call Run for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

type Config struct {
	PanelCount          int
	MaxConcurrentPanels int
	// Retention is how long a terminal job stays in memory. Zero keeps it.
	Retention time.Duration
	// AbandonGrace is how long a room may stay empty before the job is
	// abandoned. Zero disables auto-abandon.
	AbandonGrace time.Duration
	Script       retry.Backoff
}

type Option func(*Orchestrator)

// WithDispatcher routes accepted jobs through d instead of running them on
// an in-process goroutine.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator owns the lifecycle of every job accepted by this process.
type Orchestrator struct {
	scripts ScriptGenerator
	panels  PanelProcessor
	book    *eventlog.Book
	jobs    store.JobStore
	engine  *retry.Engine
	tmpl    *script.Templates
	cfg     Config
	logger  *logrus.Entry

	dispatcher Dispatcher
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	runs     sync.WaitGroup
}

// session is the per-job aggregate. The run loop is its only writer apart
// from Abandon; both hold mu while mutating job.
type session struct {
	mu        sync.Mutex
	job       *model.Job
	log       *eventlog.Log
	brief     script.Brief
	started   bool
	idleTimer *time.Timer

	abandoned   chan struct{}
	done        chan struct{}
	releaseOnce sync.Once
}

func (s *session) snapshot() *model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Clone()
}

func (s *session) isAbandoned() bool {
	select {
	case <-s.abandoned:
		return true
	default:
		return false
	}
}

// finish marks the session as no longer running.
func (s *session) finish() {
	s.releaseOnce.Do(func() { close(s.done) })
}

func New(
	cfg Config,
	scripts ScriptGenerator,
	panels PanelProcessor,
	book *eventlog.Book,
	jobs store.JobStore,
	engine *retry.Engine,
	tmpl *script.Templates,
	logger *logrus.Entry,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		scripts:  scripts,
		panels:   panels,
		book:     book,
		jobs:     jobs,
		engine:   engine,
		tmpl:     tmpl,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.MaxConcurrentPanels < 1 {
		o.cfg.MaxConcurrentPanels = 1
	}
	return o
}

// Submit accepts a story request and hands it to the dispatcher. The
// returned job is still pending.
func (o *Orchestrator) Submit(ctx context.Context, req model.StoryRequest) (*model.Job, error) {
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	req.JobID = jobID

	o.mu.Lock()
	if _, ok := o.sessions[jobID]; ok {
		o.mu.Unlock()
		return nil, ErrJobExists
	}
	log, err := o.book.Claim(jobID)
	if err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrJobExists, err)
	}
	now := o.now()
	s := &session{
		job: &model.Job{
			ID:         jobID,
			Status:     model.JobStatusPending,
			PanelCount: o.cfg.PanelCount,
			Request:    req,
			Panels:     []model.PanelRecord{},
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		log:       log,
		brief:     script.NewBrief(req, o.tmpl, seedFor(jobID)),
		abandoned: make(chan struct{}),
		done:      make(chan struct{}),
	}
	o.sessions[jobID] = s
	o.mu.Unlock()

	accepted := s.snapshot()
	if err := o.jobs.Save(ctx, accepted); err != nil {
		o.discard(jobID)
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if err := o.dispatch(ctx, jobID); err != nil {
		o.discard(jobID)
		return nil, fmt.Errorf("failed to dispatch job: %w", err)
	}

	metrics.JobsSubmittedTotal.Inc()
	o.logger.WithFields(logrus.Fields{"job_id": jobID, "panels": o.cfg.PanelCount}).Info("story job accepted")
	return accepted, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, jobID string) error {
	if o.dispatcher != nil {
		return o.dispatcher.Dispatch(ctx, jobID)
	}
	o.runs.Add(1)
	go func() {
		defer o.runs.Done()
		if err := o.Run(context.Background(), jobID); err != nil {
			o.logger.WithField("job_id", jobID).WithError(err).Warn("story job ended with error")
		}
	}()
	return nil
}

// Job returns a snapshot of a job, falling back to the store once the
// session has been evicted.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (*model.Job, error) {
	if s := o.session(jobID); s != nil {
		return s.snapshot(), nil
	}
	return o.jobs.Get(ctx, jobID)
}

// Done returns a channel closed once the job's run has returned.
func (o *Orchestrator) Done(jobID string) (<-chan struct{}, bool) {
	s := o.session(jobID)
	if s == nil {
		return nil, false
	}
	return s.done, true
}

// Abandon stops dispatch for a job and closes its log. Panel tasks already
// in flight run to completion and their results are discarded. Abandoning
// a finished or already abandoned job is a no-op.
func (o *Orchestrator) Abandon(ctx context.Context, jobID string) error {
	s := o.session(jobID)
	if s == nil {
		if _, err := o.jobs.Get(ctx, jobID); err != nil {
			return err
		}
		return nil
	}

	s.mu.Lock()
	if s.job.Status.Terminal() || s.isAbandoned() {
		s.mu.Unlock()
		return nil
	}
	now := o.now()
	s.job.AbandonedAt = &now
	s.job.UpdatedAt = now
	close(s.abandoned)
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	started := s.started
	snap := s.job.Clone()
	s.mu.Unlock()

	s.log.Close()
	if !started {
		s.finish()
	}
	o.persist(ctx, snap)
	o.scheduleEviction(jobID)

	metrics.JobsAbandonedTotal.Inc()
	o.logger.WithFields(logrus.Fields{"job_id": jobID, "status": snap.Status}).Info("story job abandoned")
	return nil
}

// ScheduleAbandon abandons the job once its room has stayed empty for the
// configured grace period. It is the room book's idle handler.
func (o *Orchestrator) ScheduleAbandon(jobID string) {
	if o.cfg.AbandonGrace <= 0 {
		return
	}
	s := o.session(jobID)
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job.Status.Terminal() || s.isAbandoned() {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(o.cfg.AbandonGrace, func() {
		if o.book.Members(jobID) > 0 {
			return
		}
		if err := o.Abandon(context.Background(), jobID); err != nil {
			o.logger.WithField("job_id", jobID).WithError(err).Warn("auto abandon failed")
		}
	})
}

// Wait blocks until every in-process run has returned or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) session(jobID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[jobID]
}

func (o *Orchestrator) discard(jobID string) {
	o.mu.Lock()
	delete(o.sessions, jobID)
	o.mu.Unlock()
	o.book.Drop(jobID)
}

func (o *Orchestrator) scheduleEviction(jobID string) {
	if o.cfg.Retention <= 0 {
		return
	}
	time.AfterFunc(o.cfg.Retention, func() {
		o.discard(jobID)
		o.logger.WithField("job_id", jobID).Debug("job evicted from registry")
	})
}

func (o *Orchestrator) persist(ctx context.Context, job *model.Job) {
	if err := o.jobs.Save(context.WithoutCancel(ctx), job); err != nil {
		o.logger.WithField("job_id", job.ID).WithError(err).Warn("failed to save job snapshot")
	}
}

// transition moves job to status. Caller holds the session lock.
func (o *Orchestrator) transition(job *model.Job, to model.JobStatus) error {
	if err := ValidateTransition(job.Status, to); err != nil {
		return err
	}
	job.Status = to
	job.UpdatedAt = o.now()
	if to.Terminal() {
		at := job.UpdatedAt
		job.CompletedAt = &at
	}
	return nil
}

// seedFor derives a stable image seed from the job id.
func seedFor(jobID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID))
	return int(h.Sum32() & 0x7fffffff)
}
