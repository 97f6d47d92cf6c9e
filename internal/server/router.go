package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/makeasinger/panelcast/internal/handler"
	"github.com/makeasinger/panelcast/internal/static"
	ws "github.com/makeasinger/panelcast/internal/websocket"
	"github.com/makeasinger/panelcast/pkg/response"
)

// JoinChecker decides whether a room join is served or rejected with an
// error frame.
type JoinChecker interface {
	CheckJoin(ctx context.Context, jobID string) error
}

// Routes collects everything the HTTP surface is built from.
type Routes struct {
	Stories *handler.StoryHandler
	Health  *handler.HealthHandler
	// Auth serves the gateway's ForwardAuth call. Optional.
	Auth *handler.AuthHandler
	// Assets serves in-process uploads under /assets. Optional.
	Assets *handler.AssetHandler
	Hub    *ws.Hub
	// Rooms rejects joins for jobs whose room is gone. Optional.
	Rooms JoinChecker

	// APIAuth guards /api; WSAuth guards room joins.
	APIAuth      fiber.Handler
	WSAuth       fiber.Handler
	StoriesLimit fiber.Handler

	// MetricsPath mounts the prometheus handler when set.
	MetricsPath string
	// RequestLog enables fiber's access log with the given format.
	RequestLog string
}

// NewApp builds the fiber app with every route registered.
func NewApp(r Routes) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1024 * 1024,
	})

	app.Use(recover.New())
	if r.RequestLog != "" {
		app.Use(logger.New(logger.Config{Format: r.RequestLog}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", r.Health.Root)
	app.Get("/health", r.Health.Health)
	if r.MetricsPath != "" {
		app.Get(r.MetricsPath, adaptor.HTTPHandler(promhttp.Handler()))
	}
	if r.Auth != nil {
		app.Get("/auth/verify", r.Auth.Verify)
	}
	if r.Assets != nil {
		app.Get("/assets/*", r.Assets.Get)
	}
	app.Use("/static", filesystem.New(filesystem.Config{
		Root:   http.FS(static.Files),
		MaxAge: 86400,
	}))

	api := app.Group("/api", passIfNil(r.APIAuth))

	stories := api.Group("/stories")
	stories.Post("/", passIfNil(r.StoriesLimit), r.Stories.Submit)
	stories.Get("/:jobId", r.Stories.Status)
	stories.Get("/:jobId/events", r.Stories.Events)
	stories.Post("/:jobId/abandon", r.Stories.Abandon)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/stories/:jobId", passIfNil(r.WSAuth), websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		if r.Rooms != nil {
			if err := r.Rooms.CheckJoin(context.Background(), jobID); err != nil {
				ws.WriteError(c, jobID, response.CodeNotFound, err.Error())
				return
			}
		}
		r.Hub.HandleConnection(c, jobID)
	}))

	return app
}

func passIfNil(h fiber.Handler) fiber.Handler {
	if h != nil {
		return h
	}
	return func(c *fiber.Ctx) error { return c.Next() }
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	errCode := response.CodeServiceError
	switch code {
	case fiber.StatusNotFound:
		errCode = response.CodeNotFound
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusUpgradeRequired:
		errCode = response.CodeValidationError
	}
	return response.Error(c, code, errCode, message, nil)
}
