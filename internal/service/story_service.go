package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/makeasinger/panelcast/internal/eventlog"
	"github.com/makeasinger/panelcast/internal/model"
	"github.com/makeasinger/panelcast/internal/orchestrator"
)

// ErrRoomGone is returned for a known job whose room has been dropped.
var ErrRoomGone = errors.New("story room is no longer available")

// StoryService is the HTTP facing side of the orchestrator.
type StoryService struct {
	orch *orchestrator.Orchestrator
	book *eventlog.Book
}

func NewStoryService(orch *orchestrator.Orchestrator, book *eventlog.Book) *StoryService {
	return &StoryService{
		orch: orch,
		book: book,
	}
}

// Submit queues a new story job
func (s *StoryService) Submit(ctx context.Context, req *model.StoryRequest) (*model.StoryAcceptedResponse, error) {
	job, err := s.orch.Submit(ctx, *req)
	if err != nil {
		return nil, err
	}

	return &model.StoryAcceptedResponse{
		JobID:        job.ID,
		Status:       job.Status,
		PanelCount:   job.PanelCount,
		WebsocketURL: WebsocketPath(job.ID),
	}, nil
}

// GetStatus returns the current snapshot of a story job
func (s *StoryService) GetStatus(ctx context.Context, jobID string) (*model.Job, error) {
	return s.orch.Job(ctx, jobID)
}

// Events returns the events of a job with a sequence number above after.
// Once the log has been dropped the job is reported closed with no events.
func (s *StoryService) Events(ctx context.Context, jobID string, after int64) (*model.EventsResponse, error) {
	if log, ok := s.book.Get(jobID); ok {
		events, closed := log.Since(after)
		return &model.EventsResponse{JobID: jobID, Events: events, Closed: closed}, nil
	}

	job, err := s.orch.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &model.EventsResponse{JobID: job.ID, Events: []model.Event{}, Closed: true}, nil
}

// CheckJoin reports whether a websocket join for jobID can see events.
// Unknown jobs are joinable so viewers may wait for a submit.
func (s *StoryService) CheckJoin(ctx context.Context, jobID string) error {
	if _, ok := s.book.Get(jobID); ok {
		return nil
	}
	if _, err := s.orch.Job(ctx, jobID); err != nil {
		if errors.Is(err, orchestrator.ErrJobNotFound) {
			return nil
		}
		return err
	}
	return ErrRoomGone
}

// Abandon stops a job whose consumer has gone away
func (s *StoryService) Abandon(ctx context.Context, jobID string) error {
	if err := s.orch.Abandon(ctx, jobID); err != nil {
		return fmt.Errorf("abandon %s: %w", jobID, err)
	}
	return nil
}

// WebsocketPath is the room join path for a job.
func WebsocketPath(jobID string) string {
	return "/ws/stories/" + jobID
}
