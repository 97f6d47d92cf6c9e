package script

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/makeasinger/panelcast/internal/model"
)

//go:embed templates.yaml
var templatesYAML []byte

// Templates is the prompt pack used to brief the text generator and to
// derive fallback narratives.
type Templates struct {
	SystemPrompt    string     `yaml:"system_prompt"`
	UserPrompt      string     `yaml:"user_prompt"`
	Arc             []ArcBeat  `yaml:"arc"`
	Styles          StyleGuide `yaml:"styles"`
	Fallbacks       []string   `yaml:"fallbacks"`
	FallbackGeneric string     `yaml:"fallback_generic"`
}

// ArcBeat is the emotional tone and story beat of one panel position.
type ArcBeat struct {
	Tone string `yaml:"tone"`
	Beat string `yaml:"beat"`
}

type StyleGuide struct {
	Pairs   map[string]string `yaml:"pairs"`
	Moods   map[string]string `yaml:"moods"`
	Default string            `yaml:"default"`
}

// ParseTemplates decodes a prompt pack.
func ParseTemplates(data []byte) (*Templates, error) {
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if t.SystemPrompt == "" || t.UserPrompt == "" {
		return nil, fmt.Errorf("parse templates: prompts are required")
	}
	if t.FallbackGeneric == "" || !strings.Contains(t.FallbackGeneric, "{n}") {
		return nil, fmt.Errorf("parse templates: fallback_generic must contain {n}")
	}
	return &t, nil
}

// DefaultTemplates returns the embedded prompt pack.
func DefaultTemplates() *Templates {
	t, err := ParseTemplates(templatesYAML)
	if err != nil {
		panic(err)
	}
	return t
}

// Style picks the art direction for a mood and vibe.
func (t *Templates) Style(mood model.Mood, vibe model.Vibe) string {
	if s, ok := t.Styles.Pairs[string(mood)+"/"+string(vibe)]; ok {
		return s
	}
	if s, ok := t.Styles.Moods[string(mood)]; ok {
		return s
	}
	return t.Styles.Default
}

// Tone returns the emotional tone of a panel position.
func (t *Templates) Tone(panelNumber int) string {
	if panelNumber >= 1 && panelNumber <= len(t.Arc) {
		return t.Arc[panelNumber-1].Tone
	}
	return "neutral"
}

// Prompts renders the system and user prompts for a brief.
func (t *Templates) Prompts(b Brief, panels int) (system, user string) {
	var arc strings.Builder
	for i := 1; i <= panels; i++ {
		beat := "Continuation - the journey moves forward"
		if i <= len(t.Arc) {
			beat = t.Arc[i-1].Beat
		}
		fmt.Fprintf(&arc, "- Panel %d: %s\n", i, beat)
	}

	system = strings.NewReplacer(
		"{panels}", strconv.Itoa(panels),
		"{arc}", strings.TrimRight(arc.String(), "\n"),
	).Replace(t.SystemPrompt)

	user = b.replacer().Replace(t.UserPrompt)
	return system, user
}

// Fallback returns the narrative used when panelNumber could not be parsed.
func (t *Templates) Fallback(b Brief, panelNumber int) string {
	tmpl := t.FallbackGeneric
	if panelNumber >= 1 && panelNumber <= len(t.Fallbacks) {
		tmpl = t.Fallbacks[panelNumber-1]
	}
	out := b.replacer().Replace(tmpl)
	return strings.ReplaceAll(out, "{n}", strconv.Itoa(panelNumber))
}
