package e2e

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/makeasinger/panelcast/internal/model"
	"github.com/makeasinger/panelcast/internal/static"
	"github.com/makeasinger/panelcast/internal/viewer"
)

const validStory = `{
	"mood": "stressed",
	"vibe": "motivational",
	"archetype": "hero",
	"dream": "to land a trick in front of the whole city",
	"mangaTitle": "The Last Kickflip",
	"nickname": "Kai",
	"hobby": "skateboarding",
	"age": 16,
	"gender": "male"
}`

func storyWithID(id string) string {
	return strings.Replace(validStory, "{", fmt.Sprintf(`{"jobId": %q,`, id), 1)
}

// submit posts validStory and returns the accepted response.
func submit(t *testing.T, ta *testApp, body string) model.StoryAcceptedResponse {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/stories", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var accepted model.StoryAcceptedResponse
	decodeJSON(t, resp, &accepted)
	return accepted
}

// waitDone blocks until the job's run has returned.
func waitDone(t *testing.T, ta *testApp, jobID string) {
	t.Helper()
	done, ok := ta.orch.Done(jobID)
	if !ok {
		t.Fatalf("job %s has no session", jobID)
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("job %s did not finish", jobID)
	}
}

func getJob(t *testing.T, ta *testApp, jobID string) model.Job {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/stories/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	var job model.Job
	decodeJSON(t, resp, &job)
	return job
}

func TestSubmitStory_Unauthorized(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/stories", validStory, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
	if code := errorCode(t, resp); code != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED, got %q", code)
	}
}

func TestSubmitStory_ValidationErrors(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad mood", strings.Replace(validStory, `"stressed"`, `"angry"`, 1), "Mood"},
		{"age too low", strings.Replace(validStory, `"age": 16`, `"age": 5`, 1), "Age"},
		{"missing nickname", strings.Replace(validStory, `"nickname": "Kai",`, "", 1), "Nickname"},
		{"job id not a uuid", storyWithID("job-1"), "JobID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/stories", tt.body)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, resp, http.StatusBadRequest)

			body := parseJSON(t, resp)
			errObj := body["error"].(map[string]interface{})
			if errObj["code"] != "VALIDATION_ERROR" {
				t.Errorf("expected VALIDATION_ERROR, got %v", errObj["code"])
			}
			details, _ := errObj["details"].(map[string]interface{})
			if _, ok := details[tt.field]; !ok {
				t.Errorf("expected a detail for %s, got %v", tt.field, details)
			}
		})
	}
}

func TestSubmitStory_InvalidJSON(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/stories", "{not json")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestSubmitStory_RunsToCompletion(t *testing.T) {
	ta := setupApp(t)

	accepted := submit(t, ta, validStory)
	if accepted.JobID == "" {
		t.Fatal("expected a job id")
	}
	if accepted.Status != model.JobStatusPending {
		t.Errorf("expected pending, got %s", accepted.Status)
	}
	if accepted.WebsocketURL != "/ws/stories/"+accepted.JobID {
		t.Errorf("unexpected websocket url %q", accepted.WebsocketURL)
	}
	if accepted.PanelCount != testPanelCount {
		t.Errorf("expected %d panels, got %d", testPanelCount, accepted.PanelCount)
	}

	waitDone(t, ta, accepted.JobID)

	job := getJob(t, ta, accepted.JobID)
	if job.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if len(job.Panels) != testPanelCount {
		t.Fatalf("expected %d panels, got %d", testPanelCount, len(job.Panels))
	}
	for _, p := range job.Panels {
		if p.Status != model.PanelStatusReady {
			t.Errorf("panel %d status %s", p.PanelNumber, p.Status)
		}
		if !strings.Contains(p.NarrativeText, fmt.Sprintf("Chapter %d", p.PanelNumber)) {
			t.Errorf("panel %d narrative %q", p.PanelNumber, p.NarrativeText)
		}
		want := fmt.Sprintf("/assets/stories/%s/panel_%02d.png", job.ID, p.PanelNumber)
		if p.ImageRef != want {
			t.Errorf("panel %d image ref %q, want %q", p.PanelNumber, p.ImageRef, want)
		}
	}
	if job.CompletedAt == nil {
		t.Error("expected completedAt to be set")
	}
}

func TestSubmitStory_DuplicateJobID(t *testing.T) {
	ta := setupApp(t)
	const id = "1b4e28ba-2fa1-4d2b-a1b2-3c4d5e6f7a8b"

	accepted := submit(t, ta, storyWithID(id))
	if accepted.JobID != id {
		t.Fatalf("expected job id %s, got %s", id, accepted.JobID)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/stories", storyWithID(id))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
	if code := errorCode(t, resp); code != "CONFLICT" {
		t.Errorf("expected CONFLICT, got %q", code)
	}
	waitDone(t, ta, id)
}

func TestGetStory_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/stories/nonexistent-job-id", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
	if code := errorCode(t, resp); code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %q", code)
	}
}

func TestEvents_Polling(t *testing.T) {
	ta := setupApp(t)

	accepted := submit(t, ta, validStory)
	waitDone(t, ta, accepted.JobID)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/stories/"+accepted.JobID+"/events", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	var all model.EventsResponse
	decodeJSON(t, resp, &all)

	// One start and one resolution per panel, then job_completed.
	want := 2*testPanelCount + 1
	if len(all.Events) != want {
		t.Fatalf("expected %d events, got %d", want, len(all.Events))
	}
	if !all.Closed {
		t.Error("expected the log to be closed")
	}
	for i, ev := range all.Events {
		if ev.Sequence != int64(i+1) {
			t.Fatalf("event %d has sequence %d", i, ev.Sequence)
		}
	}
	if last := all.Events[len(all.Events)-1]; last.Type != model.EventJobCompleted {
		t.Errorf("expected job_completed last, got %s", last.Type)
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, fmt.Sprintf("/api/stories/%s/events?after=%d", accepted.JobID, want-2), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var tail model.EventsResponse
	decodeJSON(t, resp, &tail)
	if len(tail.Events) != 2 || tail.Events[0].Sequence != int64(want-1) {
		t.Errorf("after cursor returned %+v", tail.Events)
	}
}

func TestEvents_BadCursor(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/stories/any/events?after=abc", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestEvents_UnknownJob(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/stories/unknown/events", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestAbandon(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/stories/unknown/abandon", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)

	accepted := submit(t, ta, validStory)
	waitDone(t, ta, accepted.JobID)

	// A finished job is left as it is.
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/stories/"+accepted.JobID+"/abandon", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)
	if job := getJob(t, ta, accepted.JobID); job.Status != model.JobStatusCompleted || job.AbandonedAt != nil {
		t.Errorf("abandon changed a finished job: status %s abandonedAt %v", job.Status, job.AbandonedAt)
	}
}

func TestAssets_ServedFromMemory(t *testing.T) {
	ta := setupApp(t)

	accepted := submit(t, ta, validStory)
	waitDone(t, ta, accepted.JobID)
	job := getJob(t, ta, accepted.JobID)

	resp, err := doRequest(ta.app, http.MethodGet, job.Panels[0].ImageRef, "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}

	resp, err = doRequest(ta.app, http.MethodGet, "/assets/stories/missing.png", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestStatic_PlaceholdersServed(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		path        string
		contentType string
	}{
		{static.PlaceholderImagePath, "image/png"},
		{static.PlaceholderAudioPath, "audio/mpeg"},
	}
	for _, tt := range tests {
		resp, err := doRequest(ta.app, http.MethodGet, tt.path, "", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusOK)
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, tt.contentType) {
			t.Errorf("%s: expected %s, got %q", tt.path, tt.contentType, ct)
		}
		if body := readBody(t, resp); len(body) == 0 {
			t.Errorf("%s: empty placeholder", tt.path)
		}
	}
}

func TestWebsocket_RequiresUpgrade(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/ws/stories/some-job", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUpgradeRequired)
}

// TestWebsocket_ReplayThenClose joins a finished job's room over a real
// listener and reads the whole log.
func TestWebsocket_ReplayThenClose(t *testing.T) {
	ta := setupApp(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = ta.app.Listener(ln) }()
	t.Cleanup(func() { _ = ta.app.Shutdown() })

	accepted := submit(t, ta, validStory)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := viewer.Dial(ctx, "http://"+ln.Addr().String(), accepted.JobID, generateToken(t))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer stream.Close()

	var events []model.Event
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 2*testPanelCount+1 {
		t.Fatalf("expected %d events, got %d", 2*testPanelCount+1, len(events))
	}
	for i, ev := range events {
		if ev.Sequence != int64(i+1) {
			t.Fatalf("event %d has sequence %d", i, ev.Sequence)
		}
	}
}

func TestWebsocket_RejectsMissingToken(t *testing.T) {
	ta := setupApp(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = ta.app.Listener(ln) }()
	t.Cleanup(func() { _ = ta.app.Shutdown() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := viewer.Dial(ctx, "http://"+ln.Addr().String(), "job-1", ""); err == nil {
		t.Fatal("expected the join to be rejected without a token")
	}
}
