package model

// StoryRequest is the payload accepted by POST /api/stories.
type StoryRequest struct {
	JobID      string    `json:"jobId,omitempty" validate:"omitempty,uuid4"`
	Mood       Mood      `json:"mood" validate:"required,oneof=happy stressed neutral frustrated sad"`
	Vibe       Vibe      `json:"vibe" validate:"required,oneof=calm adventure musical motivational"`
	Archetype  Archetype `json:"archetype" validate:"required,oneof=mentor hero companion comedian"`
	Dream      string    `json:"dream" validate:"required,min=1,max=500"`
	MangaTitle string    `json:"mangaTitle" validate:"required,min=1,max=100"`
	Nickname   string    `json:"nickname" validate:"required,min=1,max=50"`
	Hobby      string    `json:"hobby" validate:"required,min=1,max=100"`
	Age        int       `json:"age" validate:"required,min=10,max=35"`
	Gender     Gender    `json:"gender" validate:"required,oneof=male female non-binary prefer-not-to-say"`
}

// StoryAcceptedResponse is returned once a job has been accepted.
type StoryAcceptedResponse struct {
	JobID        string    `json:"jobId"`
	Status       JobStatus `json:"status"`
	PanelCount   int       `json:"panelCount"`
	WebsocketURL string    `json:"websocketUrl"`
}

// EventsResponse is returned by the HTTP polling endpoint.
type EventsResponse struct {
	JobID  string  `json:"jobId"`
	Events []Event `json:"events"`
	Closed bool    `json:"closed"`
}
