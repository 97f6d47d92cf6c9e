package script

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/makeasinger/panelcast/internal/model"
)

// ErrEmptyScript is returned when the text generator streamed nothing.
var ErrEmptyScript = errors.New("text generator returned an empty script")

// TextGenerator streams a completion, one delta at a time.
type TextGenerator interface {
	StreamCompletion(ctx context.Context, system, user string, onDelta func(string) error) error
}

// Generator issues one text generation call per attempt and parses the
// stream into panels.
type Generator struct {
	text   TextGenerator
	tmpl   *Templates
	panels int
	logger *logrus.Entry
}

func NewGenerator(text TextGenerator, tmpl *Templates, panels int, logger *logrus.Entry) *Generator {
	return &Generator{text: text, tmpl: tmpl, panels: panels, logger: logger}
}

// Stream runs one generation attempt and calls emit for every panel as soon
// as it is recognized, in ascending order. An attempt that fails midway
// cannot be resumed; retrying starts a fresh parse.
func (g *Generator) Stream(ctx context.Context, b Brief, emit func(model.ScriptPanel)) error {
	system, user := g.tmpl.Prompts(b, g.panels)
	parser := NewParser(g.panels, b, g.tmpl)

	received := false
	err := g.text.StreamCompletion(ctx, system, user, func(delta string) error {
		if strings.TrimSpace(delta) != "" {
			received = true
		}
		for _, panel := range parser.Feed(delta) {
			emit(panel)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream script: %w", err)
	}
	if !received {
		return ErrEmptyScript
	}

	for _, panel := range parser.Finish() {
		emit(panel)
	}

	fields := logrus.Fields{"recognized": parser.Recognized(), "panels": g.panels}
	switch {
	case parser.Recognized() == 0:
		g.logger.WithFields(fields).Warn("script structure unrecognized, using fallback narratives")
	case parser.Recognized() < g.panels:
		g.logger.WithFields(fields).Info("script partially recognized, fallback narratives substituted")
	default:
		g.logger.WithFields(fields).Debug("script parsed")
	}
	return nil
}

// Generate returns the complete ordered panel sequence once the stream
// ends.
func (g *Generator) Generate(ctx context.Context, b Brief) ([]model.ScriptPanel, error) {
	panels := make([]model.ScriptPanel, 0, g.panels)
	if err := g.Stream(ctx, b, func(p model.ScriptPanel) {
		panels = append(panels, p)
	}); err != nil {
		return nil, err
	}
	return panels, nil
}
