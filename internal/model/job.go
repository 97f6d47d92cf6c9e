package model

import "time"

// Job is one story generation request and its panels.
type Job struct {
	ID          string        `json:"id"`
	Status      JobStatus     `json:"status"`
	PanelCount  int           `json:"panelCount"`
	Request     StoryRequest  `json:"request"`
	Panels      []PanelRecord `json:"panels"`
	Error       *string       `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	AbandonedAt *time.Time    `json:"abandonedAt,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() *Job {
	out := *j
	out.Panels = make([]PanelRecord, len(j.Panels))
	for i, p := range j.Panels {
		out.Panels[i] = p
		out.Panels[i].PlaceholderRefs = append([]string(nil), p.PlaceholderRefs...)
	}
	return &out
}

// Panel returns the record for a 1-based panel number.
func (j *Job) Panel(number int) *PanelRecord {
	if number < 1 || number > len(j.Panels) {
		return nil
	}
	return &j.Panels[number-1]
}

// PanelRecord is one panel of a job.
type PanelRecord struct {
	JobID           string      `json:"jobId"`
	PanelNumber     int         `json:"panelNumber"`
	NarrativeText   string      `json:"narrativeText"`
	ImageRef        string      `json:"imageRef,omitempty"`
	AudioRef        string      `json:"audioRef,omitempty"`
	Status          PanelStatus `json:"status"`
	ImageSource     AssetSource `json:"imageSource,omitempty"`
	AudioSource     AssetSource `json:"audioSource,omitempty"`
	PlaceholderRefs []string    `json:"placeholderRefs,omitempty"`
	RetryCountImage int         `json:"retryCountImage"`
	RetryCountAudio int         `json:"retryCountAudio"`
}

// Resolved reports whether the panel reached its final state.
func (p PanelRecord) Resolved() bool {
	return p.Status == PanelStatusReady || p.Status == PanelStatusDegraded
}

// ScriptPanel is one narrative fragment produced by the script stage.
type ScriptPanel struct {
	PanelNumber   int    `json:"panelNumber"`
	NarrativeText string `json:"narrativeText"`
	// ImagePrompt is the scene description the script gave for the panel.
	ImagePrompt string `json:"imagePrompt,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`

	// Character and Style are shared by every panel of a script. Nil when
	// the script did not carry them.
	Character *CharacterSheet `json:"character,omitempty"`
	Style     *StyleSheet     `json:"style,omitempty"`
}

// CharacterSheet describes the protagonist once for the whole story.
type CharacterSheet struct {
	Name        string `json:"name,omitempty"`
	Appearance  string `json:"appearance,omitempty"`
	Clothing    string `json:"clothing,omitempty"`
	Personality string `json:"personality,omitempty"`
	Goals       string `json:"goals,omitempty"`
}

// StyleSheet is the art direction the script settled on.
type StyleSheet struct {
	ArtStyle       string   `json:"art_style,omitempty"`
	ColorPalette   string   `json:"color_palette,omitempty"`
	VisualElements []string `json:"visual_elements,omitempty"`
}
