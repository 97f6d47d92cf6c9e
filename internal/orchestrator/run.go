package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/makeasinger/panelcast/internal/eventlog"
	"github.com/makeasinger/panelcast/internal/metrics"
	"github.com/makeasinger/panelcast/internal/model"
	"github.com/makeasinger/panelcast/internal/pipeline"
	"github.com/makeasinger/panelcast/internal/retry"
)

// Run drives a pending job to a terminal status: script stage first, then
// every panel through the asset pipeline under the concurrency limit. It
// returns ErrCatastrophic when the script stage could not produce panels.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	s := o.session(jobID)
	if s == nil {
		return ErrJobNotFound
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()
	defer s.finish()

	log := o.logger.WithField("job_id", jobID)
	if s.isAbandoned() {
		return nil
	}

	begin := time.Now()
	res := retry.Execute(ctx, o.engine, retry.Policy[[]model.ScriptPanel]{
		Name:    "script",
		Backoff: o.cfg.Script,
	}, retry.Step[[]model.ScriptPanel]{
		Variant: retry.VariantPrimary,
		Run: func(ctx context.Context) ([]model.ScriptPanel, error) {
			return o.scripts.Generate(ctx, s.brief)
		},
	})
	metrics.ScriptDurationSeconds.Observe(time.Since(begin).Seconds())

	if s.isAbandoned() {
		return nil
	}
	if res.Err != nil || len(res.Value) == 0 {
		cause := res.Err
		if cause == nil {
			cause = errors.New("no panels")
		}
		reason := fmt.Sprintf("script generation failed after %d attempts: %v", res.Attempts, cause)
		o.fail(ctx, s, reason)
		return fmt.Errorf("%w: %v", ErrCatastrophic, cause)
	}

	panels := res.Value
	s.mu.Lock()
	if err := o.transition(s.job, model.JobStatusRunning); err != nil {
		s.mu.Unlock()
		return err
	}
	s.job.PanelCount = len(panels)
	s.job.Panels = make([]model.PanelRecord, len(panels))
	for i, p := range panels {
		s.job.Panels[i] = model.PanelRecord{
			JobID:         jobID,
			PanelNumber:   p.PanelNumber,
			NarrativeText: p.NarrativeText,
			Status:        model.PanelStatusPending,
		}
	}
	snap := s.job.Clone()
	s.mu.Unlock()
	o.persist(ctx, snap)

	log.WithFields(logrus.Fields{"panels": len(panels), "attempts": res.Attempts}).Info("script ready, dispatching panels")
	o.runPanels(ctx, s, panels)
	return nil
}

// runPanels is the single writer of the job after the script stage. Panel
// tasks only report over channels.
func (o *Orchestrator) runPanels(ctx context.Context, s *session, panels []model.ScriptPanel) {
	total := len(panels)
	story := pipeline.Story{JobID: s.job.ID, Brief: s.brief, TotalPanels: total}

	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	started := make(chan int)
	results := make(chan model.PanelRecord, total)
	go o.dispatchPanels(dispatchCtx, s, story, panels, started, results)

	for resolved := 0; resolved < total; {
		select {
		case <-s.abandoned:
			return
		case n := <-started:
			o.markStarted(s, n, total)
		case rec := <-results:
			o.applyResult(ctx, s, rec)
			resolved++
		}
	}
	o.complete(ctx, s)
}

// dispatchPanels admits panels in ascending order. The started notice is
// delivered before the task is spawned, so panel_started always precedes
// that panel's result.
func (o *Orchestrator) dispatchPanels(ctx context.Context, s *session, story pipeline.Story, panels []model.ScriptPanel, started chan<- int, results chan<- model.PanelRecord) {
	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrentPanels))
	taskCtx := context.WithoutCancel(ctx)

	for _, panel := range panels {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		if s.isAbandoned() {
			sem.Release(1)
			return
		}
		select {
		case started <- panel.PanelNumber:
		case <-s.abandoned:
			sem.Release(1)
			return
		}

		metrics.PanelsInFlight.Inc()
		go func(panel model.ScriptPanel) {
			begin := time.Now()
			rec := o.panels.Process(taskCtx, story, panel)
			metrics.PanelsInFlight.Dec()
			metrics.PanelDurationSeconds.WithLabelValues(string(rec.Status)).Observe(time.Since(begin).Seconds())
			sem.Release(1)
			results <- rec
		}(panel)
	}
}

func (o *Orchestrator) markStarted(s *session, n, total int) {
	s.mu.Lock()
	if s.isAbandoned() {
		s.mu.Unlock()
		return
	}
	if p := s.job.Panel(n); p != nil {
		p.Status = model.PanelStatusGenerating
	}
	s.mu.Unlock()

	o.append(s, model.EventPanelStarted, n, model.PanelStartedPayload{PanelNumber: n, TotalPanels: total})
}

func (o *Orchestrator) applyResult(ctx context.Context, s *session, rec model.PanelRecord) {
	s.mu.Lock()
	if s.isAbandoned() {
		s.mu.Unlock()
		return
	}
	if p := s.job.Panel(rec.PanelNumber); p != nil {
		*p = rec
	}
	s.job.UpdatedAt = o.now()
	snap := s.job.Clone()
	s.mu.Unlock()

	payload := model.PanelReadyPayload{
		PanelNumber:   rec.PanelNumber,
		NarrativeText: rec.NarrativeText,
		ImageRef:      rec.ImageRef,
		AudioRef:      rec.AudioRef,
	}
	typ := model.EventPanelReady
	if rec.Status == model.PanelStatusDegraded {
		typ = model.EventPanelDegraded
		payload.PlaceholderRefs = rec.PlaceholderRefs
	}
	o.append(s, typ, rec.PanelNumber, payload)
	o.persist(ctx, snap)
}

func (o *Orchestrator) complete(ctx context.Context, s *session) {
	s.mu.Lock()
	if s.isAbandoned() {
		s.mu.Unlock()
		return
	}
	status := finalStatus(s.job.Panels)
	if err := o.transition(s.job, status); err != nil {
		s.mu.Unlock()
		o.logger.WithField("job_id", s.job.ID).WithError(err).Error("cannot complete job")
		return
	}
	snap := s.job.Clone()
	s.mu.Unlock()

	o.append(s, model.EventJobCompleted, 0, model.JobCompletedPayload{JobID: snap.ID, Status: status, PanelCount: snap.PanelCount})
	s.log.Close()
	o.persist(ctx, snap)
	o.scheduleEviction(snap.ID)

	metrics.JobsFinishedTotal.WithLabelValues(string(status)).Inc()
	o.logger.WithFields(logrus.Fields{"job_id": snap.ID, "status": status}).Info("story job finished")
}

func (o *Orchestrator) fail(ctx context.Context, s *session, reason string) {
	s.mu.Lock()
	if err := o.transition(s.job, model.JobStatusFailed); err != nil {
		s.mu.Unlock()
		o.logger.WithField("job_id", s.job.ID).WithError(err).Error("cannot fail job")
		return
	}
	s.job.Error = &reason
	snap := s.job.Clone()
	s.mu.Unlock()

	o.append(s, model.EventJobFailed, 0, model.JobFailedPayload{JobID: snap.ID, Reason: reason})
	s.log.Close()
	o.persist(ctx, snap)
	o.scheduleEviction(snap.ID)

	metrics.JobsFinishedTotal.WithLabelValues(string(model.JobStatusFailed)).Inc()
	o.logger.WithFields(logrus.Fields{"job_id": snap.ID, "reason": reason}).Error("story job failed")
}

func (o *Orchestrator) append(s *session, typ model.EventType, panelNumber int, payload any) {
	if _, err := s.log.Append(typ, panelNumber, payload); err != nil {
		if errors.Is(err, eventlog.ErrClosed) {
			return
		}
		o.logger.WithField("job_id", s.job.ID).WithError(err).Error("failed to append event")
	}
}
