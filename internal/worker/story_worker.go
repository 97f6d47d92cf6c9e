package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/makeasinger/panelcast/internal/orchestrator"
)

const TaskTypeStory = "story:generate"

// Runner executes an accepted job.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

type storyPayload struct {
	JobID string `json:"jobId"`
}

// NewStoryTask builds the task that runs jobID.
func NewStoryTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(storyPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeStory, data), nil
}

// StoryWorker processes story generation tasks
type StoryWorker struct {
	runner Runner
	logger *logrus.Entry
}

func NewStoryWorker(runner Runner, logger *logrus.Entry) *StoryWorker {
	return &StoryWorker{runner: runner, logger: logger}
}

// ProcessTask handles story task processing. Failures that a retry cannot
// fix are wrapped with asynq.SkipRetry.
func (w *StoryWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload storyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	log := w.logger.WithField("job_id", payload.JobID)
	log.Info("starting story job")
	start := time.Now()

	err := w.runner.Run(ctx, payload.JobID)
	switch {
	case err == nil:
		log.WithField("elapsed", time.Since(start).String()).Info("story job done")
		return nil
	case errors.Is(err, orchestrator.ErrAlreadyStarted):
		log.Debug("duplicate delivery ignored")
		return nil
	case errors.Is(err, orchestrator.ErrJobNotFound), errors.Is(err, orchestrator.ErrCatastrophic):
		return fmt.Errorf("story job %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	default:
		return fmt.Errorf("story job %s: %w", payload.JobID, err)
	}
}

// Enqueuer is the part of asynq.Client the dispatcher uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueDispatcher hands accepted jobs to the asynq worker server.
type QueueDispatcher struct {
	client Enqueuer
	queue  string
}

func NewQueueDispatcher(client Enqueuer, queue string) *QueueDispatcher {
	return &QueueDispatcher{client: client, queue: queue}
}

// Dispatch enqueues the job once. The job's own retry policies cover
// upstream failures, so the task is never retried by asynq.
func (d *QueueDispatcher) Dispatch(ctx context.Context, jobID string) error {
	task, err := NewStoryTask(jobID)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(d.queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}
