package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const healthTimeout = 2 * time.Second

// Check reports whether one live dependency answers.
type Check func(ctx context.Context) error

// HealthHandler reports whether the process and its collaborators are up.
type HealthHandler struct {
	redis    *redis.Client
	services map[string]bool
	checks   map[string]Check
}

// NewHealthHandler takes a possibly nil redis client and a static map of
// which upstream services are configured.
func NewHealthHandler(redisClient *redis.Client, services map[string]bool) *HealthHandler {
	return &HealthHandler{redis: redisClient, services: services, checks: map[string]Check{}}
}

// WithCheck adds a live check reported under name. A failing check marks
// the service down and the status degraded.
func (h *HealthHandler) WithCheck(name string, c Check) *HealthHandler {
	h.checks[name] = c
	return h
}

// Health handles GET /health
// @Summary      Health check
// @Tags         System
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Router       /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	services := fiber.Map{}
	for name, ok := range h.services {
		services[name] = ok
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	status := "ok"
	if h.redis != nil {
		redisUp := h.redis.Ping(ctx).Err() == nil
		services["redis"] = redisUp
		if !redisUp {
			status = "degraded"
		}
	}
	for name, check := range h.checks {
		up := check(ctx) == nil
		services[name] = up
		if !up {
			status = "degraded"
		}
	}

	return c.JSON(fiber.Map{
		"status":   status,
		"services": services,
	})
}

// Root handles GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"timestamp": time.Now().Unix(),
	})
}
