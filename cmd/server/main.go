package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/makeasinger/panelcast/internal/auth"
	"github.com/makeasinger/panelcast/internal/client"
	"github.com/makeasinger/panelcast/internal/config"
	"github.com/makeasinger/panelcast/internal/eventlog"
	"github.com/makeasinger/panelcast/internal/handler"
	"github.com/makeasinger/panelcast/internal/logging"
	"github.com/makeasinger/panelcast/internal/metrics"
	"github.com/makeasinger/panelcast/internal/middleware"
	"github.com/makeasinger/panelcast/internal/orchestrator"
	"github.com/makeasinger/panelcast/internal/pipeline"
	"github.com/makeasinger/panelcast/internal/retry"
	"github.com/makeasinger/panelcast/internal/script"
	"github.com/makeasinger/panelcast/internal/server"
	"github.com/makeasinger/panelcast/internal/service"
	"github.com/makeasinger/panelcast/internal/store"
	"github.com/makeasinger/panelcast/internal/worker"
	ws "github.com/makeasinger/panelcast/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	log := logging.Component(logger, "server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs job snapshots, rate limits and the task queue. Without it
	// the server still runs, with everything kept in process.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	redisUp := redisClient.Ping(ctx).Err() == nil
	var jobStore store.JobStore
	var limiterRedis *redis.Client
	if redisUp {
		jobStore = store.NewRedisJobStore(redisClient, store.DefaultTTL)
		limiterRedis = redisClient
	} else {
		log.WithField("addr", cfg.Redis.Addr).Warn("Redis not available, using in-memory job store")
		jobStore = store.NewMemoryJobStore()
	}

	// Optional event mirror
	var sinks []eventlog.Sink
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("panelcast"))
		if err != nil {
			log.WithError(err).Warn("NATS not available, events are not mirrored")
		} else {
			defer nc.Drain()
			sinks = append(sinks, eventlog.NewNATSSink(nc, cfg.NATS.SubjectPrefix, logging.Component(logger, "nats")))
		}
	}

	// Upstream clients fall back to mocks when unconfigured
	groqClient := client.NewGroqClient(&cfg.Groq, logging.Component(logger, "groq"))
	imageClient := client.NewImageClient(&cfg.Image, logging.Component(logger, "image"))
	speechClient := client.NewSpeechClient(&cfg.Speech, logging.Component(logger, "speech"))

	var text script.TextGenerator = groqClient
	if !groqClient.IsConfigured() {
		log.Info("Groq not configured, using mock script generator")
		text = &client.MockText{Panels: cfg.Pipeline.PanelCount, Delay: cfg.Pipeline.MockLatency / 20}
	}
	var images pipeline.ImageGenerator = imageClient
	if !imageClient.IsConfigured() {
		log.Info("Image backend not configured, using mock images")
		images = &client.MockImage{Delay: cfg.Pipeline.MockLatency}
	}
	var speech pipeline.SpeechGenerator = speechClient
	if !speechClient.IsConfigured() {
		log.Info("Speech backend not configured, using mock audio")
		speech = &client.MockSpeech{Delay: cfg.Pipeline.MockLatency / 2}
	}

	var assets pipeline.AssetStore
	var assetHandler *handler.AssetHandler
	r2Client, err := client.NewR2Client(ctx, &cfg.R2)
	if err != nil {
		log.WithError(err).Info("R2 storage not configured, serving assets from memory")
		memory := client.NewMemoryStorage("/assets")
		assets = memory
		assetHandler = handler.NewAssetHandler(memory)
	} else {
		assets = r2Client
	}

	tmpl := script.DefaultTemplates()
	engine := retry.NewEngine(logging.Component(logger, "retry"), retry.WithObserver(func(op string, s retry.Signal) {
		metrics.RetrySignalsTotal.WithLabelValues(op, string(s)).Inc()
	}))
	panels := pipeline.New(images, speech, assets, tmpl, engine, pipeline.Config{
		Image:            toBackoff(cfg.Retry.Image),
		Audio:            toBackoff(cfg.Retry.Audio),
		PlaceholderImage: cfg.Placeholders.ImageURL,
		PlaceholderAudio: cfg.Placeholders.AudioURL,
		DefaultVoice:     cfg.Speech.DefaultVoice,
	}, logging.Component(logger, "pipeline"))
	generator := script.NewGenerator(text, tmpl, cfg.Pipeline.PanelCount, logging.Component(logger, "script"))

	// The book reports empty rooms to the orchestrator, which owns the book.
	var orch *orchestrator.Orchestrator
	book := eventlog.NewBook(
		eventlog.WithSinks(sinks...),
		eventlog.WithPendingTTL(cfg.Pipeline.PendingRoomTTL),
		eventlog.WithLogger(logging.Component(logger, "eventlog")),
		eventlog.WithIdleHandler(func(jobID string) { orch.ScheduleAbandon(jobID) }),
	)

	var opts []orchestrator.Option
	var asynqClient *asynq.Client
	useQueue := cfg.Worker.Enabled && redisUp
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	if useQueue {
		asynqClient = asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		opts = append(opts, orchestrator.WithDispatcher(worker.NewQueueDispatcher(asynqClient, cfg.Worker.Queue)))
	}

	orch = orchestrator.New(orchestrator.Config{
		PanelCount:          cfg.Pipeline.PanelCount,
		MaxConcurrentPanels: cfg.Pipeline.MaxConcurrentPanels,
		Retention:           cfg.Pipeline.Retention,
		AbandonGrace:        cfg.Pipeline.AbandonGrace,
		Script:              toBackoff(cfg.Retry.Script),
	}, generator, panels, book, jobStore, engine, tmpl, logging.Component(logger, "orchestrator"), opts...)

	var workerServer *asynq.Server
	if useQueue {
		workerServer = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues:      map[string]int{cfg.Worker.Queue: 1},
			Logger:      logging.Component(logger, "asynq"),
			LogLevel:    logging.AsynqLevel(logger),
		})
		mux := asynq.NewServeMux()
		mux.HandleFunc(worker.TaskTypeStory, worker.NewStoryWorker(orch, logging.Component(logger, "worker")).ProcessTask)
		if err := workerServer.Start(mux); err != nil {
			log.WithError(err).Fatal("Failed to start asynq worker server")
		}
	} else {
		log.Info("Queue worker disabled, running story jobs in process")
	}

	// Auth: gateway headers, or bearer tokens verified by JWKS then HMAC
	var verifiers []auth.TokenVerifier
	if cfg.OIDC.Issuer != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, &cfg.OIDC)
		if err != nil {
			log.WithError(err).Warn("JWKS verifier not initialized")
		} else {
			verifiers = append(verifiers, jwks)
		}
	}
	if cfg.JWT.Secret != "" {
		verifiers = append(verifiers, auth.NewHMACVerifier(cfg.JWT.Secret))
	}
	chain := auth.NewChain(verifiers...)

	var apiAuth, wsAuth fiber.Handler
	if cfg.Gateway.Enabled {
		log.Info("Gateway mode enabled, using header-based auth")
		apiAuth = middleware.GatewayAuthMiddleware()
		wsAuth = apiAuth
	} else {
		authMiddleware := middleware.NewAuthMiddleware(chain)
		apiAuth = authMiddleware.Authenticate()
		wsAuth = authMiddleware.WithQueryToken().Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(limiterRedis, logging.Component(logger, "ratelimit"))

	storyService := service.NewStoryService(orch, book)
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	requestLog := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if logger.IsLevelEnabled(logrus.DebugLevel) {
		requestLog = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}

	health := handler.NewHealthHandler(redisClient, map[string]bool{
		"groq":   groqClient.IsConfigured(),
		"image":  imageClient.IsConfigured(),
		"speech": speechClient.IsConfigured(),
		"r2":     r2Client != nil,
		"queue":  useQueue,
		"auth":   len(chain) > 0 || cfg.Gateway.Enabled,
	})
	if r2Client != nil {
		health.WithCheck("r2", r2Client.Ping)
	}
	if speechClient.IsConfigured() {
		health.WithCheck("speech", speechClient.HealthCheck)
	}

	app := server.NewApp(server.Routes{
		Stories:      handler.NewStoryHandler(storyService, validator.New()),
		Health:       health,
		Auth:         handler.NewAuthHandler(chain),
		Assets:       assetHandler,
		Hub:          ws.NewHub(book, logging.Component(logger, "websocket")),
		Rooms:        storyService,
		APIAuth:      apiAuth,
		WSAuth:       wsAuth,
		StoriesLimit: rateLimiter.StoriesLimit(cfg.RateLimit.StoriesPerHour),
		MetricsPath:  metricsPath,
		RequestLog:   requestLog,
	})

	go func() {
		<-ctx.Done()
		log.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.WithField("addr", addr).Info("Server starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("Server error")
	}

	if workerServer != nil {
		workerServer.Shutdown()
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.Wait(drainCtx); err != nil {
		log.WithError(err).Warn("Story jobs still running at exit")
	}
}

func toBackoff(b config.BackoffConfig) retry.Backoff {
	return retry.Backoff{
		MaxAttempts: b.MaxAttempts,
		BaseDelay:   b.BaseDelay,
		MaxDelay:    b.MaxDelay,
		Jitter:      b.Jitter,
	}
}
