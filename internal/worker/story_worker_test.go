package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/makeasinger/panelcast/internal/logging"
	"github.com/makeasinger/panelcast/internal/orchestrator"
)

type fakeRunner struct {
	err  error
	jobs []string
}

func (f *fakeRunner) Run(ctx context.Context, jobID string) error {
	f.jobs = append(f.jobs, jobID)
	return f.err
}

func TestStoryWorker_ProcessTask(t *testing.T) {
	tests := []struct {
		name      string
		runErr    error
		wantErr   bool
		skipRetry bool
	}{
		{name: "success"},
		{name: "duplicate", runErr: orchestrator.ErrAlreadyStarted},
		{name: "unknown job", runErr: orchestrator.ErrJobNotFound, wantErr: true, skipRetry: true},
		{name: "catastrophic", runErr: orchestrator.ErrCatastrophic, wantErr: true, skipRetry: true},
		{name: "other", runErr: errors.New("boom"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{err: tt.runErr}
			w := NewStoryWorker(runner, logging.Discard())
			task, err := NewStoryTask("job-7")
			if err != nil {
				t.Fatalf("new task: %v", err)
			}

			err = w.ProcessTask(context.Background(), task)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error %v", err)
			}
			if got := errors.Is(err, asynq.SkipRetry); got != tt.skipRetry {
				t.Fatalf("skip retry = %v, want %v (err %v)", got, tt.skipRetry, err)
			}
			if len(runner.jobs) != 1 || runner.jobs[0] != "job-7" {
				t.Fatalf("runner not called with job id: %v", runner.jobs)
			}
		})
	}
}

func TestStoryWorker_BadPayload(t *testing.T) {
	runner := &fakeRunner{}
	w := NewStoryWorker(runner, logging.Discard())
	err := w.ProcessTask(context.Background(), asynq.NewTask(TaskTypeStory, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if len(runner.jobs) != 0 {
		t.Fatal("runner must not be called")
	}
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "id", Queue: "stories"}, nil
}

func TestQueueDispatcher_Dispatch(t *testing.T) {
	enq := &fakeEnqueuer{}
	d := NewQueueDispatcher(enq, "stories")

	if err := d.Dispatch(context.Background(), "job-9"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(enq.tasks) != 1 || enq.tasks[0].Type() != TaskTypeStory {
		t.Fatalf("unexpected tasks %+v", enq.tasks)
	}
	var p storyPayload
	if err := json.Unmarshal(enq.tasks[0].Payload(), &p); err != nil || p.JobID != "job-9" {
		t.Fatalf("unexpected payload %s (%v)", enq.tasks[0].Payload(), err)
	}

	want := map[asynq.OptionType]any{
		asynq.QueueOpt:    "stories",
		asynq.TaskIDOpt:   "job-9",
		asynq.MaxRetryOpt: 0,
	}
	for _, opt := range enq.opts[0] {
		if v, ok := want[opt.Type()]; ok {
			if opt.Value() != v {
				t.Errorf("option %v = %v, want %v", opt.Type(), opt.Value(), v)
			}
			delete(want, opt.Type())
		}
	}
	if len(want) != 0 {
		t.Errorf("missing options: %v", want)
	}
}

func TestQueueDispatcher_EnqueueError(t *testing.T) {
	d := NewQueueDispatcher(&fakeEnqueuer{err: errors.New("redis down")}, "stories")
	if err := d.Dispatch(context.Background(), "job"); err == nil {
		t.Fatal("expected error")
	}
}
