package model

import (
	"encoding/json"
	"time"
)

// Event types
type EventType string

const (
	EventPanelStarted  EventType = "panel_started"
	EventPanelReady    EventType = "panel_ready"
	EventPanelDegraded EventType = "panel_degraded"
	EventJobCompleted  EventType = "job_completed"
	EventJobFailed     EventType = "job_failed"
)

// PanelEvent reports whether the type resolves a panel.
func (t EventType) PanelEvent() bool {
	return t == EventPanelReady || t == EventPanelDegraded
}

// Event is one entry of a job's progress log. Sequence starts at 1.
type Event struct {
	JobID       string          `json:"jobId"`
	Sequence    int64           `json:"sequence"`
	Type        EventType       `json:"type"`
	PanelNumber int             `json:"panelNumber,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// PanelStartedPayload is the payload of panel_started.
type PanelStartedPayload struct {
	PanelNumber int `json:"panelNumber"`
	TotalPanels int `json:"totalPanels"`
}

// PanelReadyPayload is the payload of panel_ready and panel_degraded.
// PlaceholderRefs is only set for degraded panels.
type PanelReadyPayload struct {
	PanelNumber     int      `json:"panelNumber"`
	NarrativeText   string   `json:"narrativeText"`
	ImageRef        string   `json:"imageRef"`
	AudioRef        string   `json:"audioRef"`
	PlaceholderRefs []string `json:"placeholderRefs,omitempty"`
}

// JobCompletedPayload is the payload of job_completed.
type JobCompletedPayload struct {
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	PanelCount int       `json:"panelCount"`
}

// JobFailedPayload is the payload of job_failed.
type JobFailedPayload struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}
