package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/makeasinger/panelcast/internal/model"
	"github.com/makeasinger/panelcast/internal/orchestrator"
	"github.com/makeasinger/panelcast/internal/service"
	"github.com/makeasinger/panelcast/pkg/response"
)

type StoryHandler struct {
	service   *service.StoryService
	validator *validator.Validate
}

func NewStoryHandler(svc *service.StoryService, v *validator.Validate) *StoryHandler {
	return &StoryHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/stories
// @Summary      Submit story job
// @Description  Start generating a manga story; progress is streamed on the returned websocket URL
// @Tags         Stories
// @Accept       json
// @Produce      json
// @Param        request body model.StoryRequest true "Story request"
// @Success      202 {object} model.StoryAcceptedResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/stories [post]
func (h *StoryHandler) Submit(c *fiber.Ctx) error {
	var req model.StoryRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Submit(c.Context(), &req)
	if err != nil {
		return serviceError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/stories/:jobId
// @Summary      Get story job
// @Description  Get the job snapshot with per-panel status, refs and retry counts
// @Tags         Stories
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.Job
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/stories/{jobId} [get]
func (h *StoryHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Events handles GET /api/stories/:jobId/events
// @Summary      Poll story events
// @Description  Get the progress events with a sequence number above `after`
// @Tags         Stories
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Param        after query int false "Last sequence number already seen"
// @Success      200 {object} model.EventsResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/stories/{jobId}/events [get]
func (h *StoryHandler) Events(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	var after int64
	if raw := c.Query("after"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return response.ValidationError(c, "after must be a non-negative integer", nil)
		}
		after = n
	}

	result, err := h.service.Events(c.Context(), jobID, after)
	if err != nil {
		return serviceError(c, err)
	}

	return response.OK(c, result)
}

// Abandon handles POST /api/stories/:jobId/abandon
// @Summary      Abandon story job
// @Description  Stop dispatching panels for a job nobody is watching
// @Tags         Stories
// @Param        jobId path string true "Job ID"
// @Success      204
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/stories/{jobId}/abandon [post]
func (h *StoryHandler) Abandon(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	if err := h.service.Abandon(c.Context(), jobID); err != nil {
		return serviceError(c, err)
	}

	return response.NoContent(c)
}

func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, orchestrator.ErrJobExists):
		return response.Conflict(c, "Job already exists")
	default:
		return response.ServiceError(c, err.Error())
	}
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
