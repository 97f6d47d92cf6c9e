package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/panelcast/internal/auth"
	"github.com/makeasinger/panelcast/internal/client"
	"github.com/makeasinger/panelcast/internal/eventlog"
	"github.com/makeasinger/panelcast/internal/handler"
	"github.com/makeasinger/panelcast/internal/logging"
	"github.com/makeasinger/panelcast/internal/middleware"
	"github.com/makeasinger/panelcast/internal/orchestrator"
	"github.com/makeasinger/panelcast/internal/pipeline"
	"github.com/makeasinger/panelcast/internal/retry"
	"github.com/makeasinger/panelcast/internal/script"
	"github.com/makeasinger/panelcast/internal/server"
	"github.com/makeasinger/panelcast/internal/service"
	"github.com/makeasinger/panelcast/internal/static"
	"github.com/makeasinger/panelcast/internal/store"
	ws "github.com/makeasinger/panelcast/internal/websocket"
)

const (
	testJWTSecret  = "test-secret-for-e2e"
	testPanelCount = 3
)

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	orch   *orchestrator.Orchestrator
	assets *client.MemoryStorage
}

// setupApp builds the same app as cmd/server with mock upstreams, the
// in-memory job store and in-process dispatch, so no redis is needed.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	logger := logging.Discard()

	tmpl := script.DefaultTemplates()
	engine := retry.NewEngine(logger)
	fast := retry.Backoff{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	assets := client.NewMemoryStorage("/assets")
	panels := pipeline.New(&client.MockImage{}, &client.MockSpeech{}, assets, tmpl, engine, pipeline.Config{
		Image:            fast,
		Audio:            fast,
		PlaceholderImage: static.PlaceholderImagePath,
		PlaceholderAudio: static.PlaceholderAudioPath,
		DefaultVoice:     "en-US-Neural2-F",
	}, logger)
	generator := script.NewGenerator(&client.MockText{Panels: testPanelCount}, tmpl, testPanelCount, logger)

	var orch *orchestrator.Orchestrator
	book := eventlog.NewBook(
		eventlog.WithLogger(logger),
		eventlog.WithIdleHandler(func(jobID string) { orch.ScheduleAbandon(jobID) }),
	)
	orch = orchestrator.New(orchestrator.Config{
		PanelCount:          testPanelCount,
		MaxConcurrentPanels: 2,
		Script:              fast,
	}, generator, panels, book, store.NewMemoryJobStore(), engine, tmpl, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Wait(ctx)
	})

	chain := auth.NewChain(auth.NewHMACVerifier(testJWTSecret))
	authMiddleware := middleware.NewAuthMiddleware(chain)

	stories := service.NewStoryService(orch, book)
	app := server.NewApp(server.Routes{
		Stories: handler.NewStoryHandler(stories, validator.New()),
		Health:  handler.NewHealthHandler(nil, map[string]bool{"groq": false, "image": false, "speech": false, "r2": false}),
		Auth:    handler.NewAuthHandler(chain),
		Assets:  handler.NewAssetHandler(assets),
		Hub:     ws.NewHub(book, logger),
		Rooms:   stories,
		APIAuth: authMiddleware.Authenticate(),
		WSAuth:  authMiddleware.WithQueryToken().Authenticate(),
		// nil redis: every request passes
		StoriesLimit: middleware.NewRateLimiter(nil, logger).StoriesLimit(1),
		MetricsPath:  "/metrics",
	})

	return &testApp{app: app, orch: orch, assets: assets}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := auth.IssueLegacyToken(testJWTSecret, "test-user-123", "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// decodeJSON parses the response body into v.
func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	body := readBody(t, resp)
	if err := json.Unmarshal([]byte(body), v); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode returns error.code from the standard envelope.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'error' object in response, got %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}
