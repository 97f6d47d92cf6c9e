package model

// WebSocket message types
const (
	WSMessageTypeEvent = "event"
	WSMessageTypeError = "error"
	WSMessageTypePing  = "ping"
	WSMessageTypePong  = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSEventMessage carries one log event. Replay marks events sent from the
// join snapshot rather than live.
type WSEventMessage struct {
	Type   string `json:"type"`
	Replay bool   `json:"replay,omitempty"`
	Event  Event  `json:"event"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
