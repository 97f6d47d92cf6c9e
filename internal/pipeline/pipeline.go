package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/makeasinger/panelcast/internal/client"
	"github.com/makeasinger/panelcast/internal/metrics"
	"github.com/makeasinger/panelcast/internal/model"
	"github.com/makeasinger/panelcast/internal/retry"
	"github.com/makeasinger/panelcast/internal/script"
)

type ImageGenerator interface {
	GenerateImage(ctx context.Context, req client.ImageRequest) ([]byte, error)
}

type SpeechGenerator interface {
	Synthesize(ctx context.Context, req client.SpeechRequest) ([]byte, error)
}

// AssetStore persists generated bytes and returns a public reference.
type AssetStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

// Config holds the per-asset retry policies and placeholder references.
type Config struct {
	Image            retry.Backoff
	Audio            retry.Backoff
	PlaceholderImage string
	PlaceholderAudio string
	DefaultVoice     string
}

// Story is the job context shared by every panel of one story.
type Story struct {
	JobID       string
	Brief       script.Brief
	TotalPanels int
}

// Pipeline turns one script panel into a resolved PanelRecord.
type Pipeline struct {
	images ImageGenerator
	speech SpeechGenerator
	store  AssetStore
	tmpl   *script.Templates
	engine *retry.Engine
	cfg    Config
	logger *logrus.Entry
}

func New(images ImageGenerator, speech SpeechGenerator, store AssetStore, tmpl *script.Templates, engine *retry.Engine, cfg Config, logger *logrus.Entry) *Pipeline {
	return &Pipeline{
		images: images,
		speech: speech,
		store:  store,
		tmpl:   tmpl,
		engine: engine,
		cfg:    cfg,
		logger: logger,
	}
}

// outcome is what one asset chain settled on.
type outcome struct {
	ref     string
	source  model.AssetSource
	retries int
	err     error
}

// Process generates the image and narration of a panel concurrently and
// always returns a resolved record. A failure or panic on one asset never
// affects the other; it resolves that asset to its placeholder.
func (p *Pipeline) Process(ctx context.Context, story Story, panel model.ScriptPanel) model.PanelRecord {
	log := p.logger.WithFields(logrus.Fields{"job_id": story.JobID, "panel_number": panel.PanelNumber})

	image := outcome{ref: p.cfg.PlaceholderImage, source: model.AssetSourcePlaceholder}
	audio := outcome{ref: p.cfg.PlaceholderAudio, source: model.AssetSourcePlaceholder}

	var wg conc.WaitGroup
	wg.Go(func() { image = p.image(ctx, story, panel) })
	wg.Go(func() { audio = p.audio(ctx, story, panel) })
	if r := wg.WaitAndRecover(); r != nil {
		log.WithField("panic", r.String()).Error("asset generation panicked, using placeholder")
	}

	record := model.PanelRecord{
		JobID:           story.JobID,
		PanelNumber:     panel.PanelNumber,
		NarrativeText:   panel.NarrativeText,
		ImageRef:        image.ref,
		AudioRef:        audio.ref,
		ImageSource:     image.source,
		AudioSource:     audio.source,
		RetryCountImage: image.retries,
		RetryCountAudio: audio.retries,
		Status:          model.PanelStatusReady,
	}
	if image.source == model.AssetSourcePlaceholder {
		record.PlaceholderRefs = append(record.PlaceholderRefs, image.ref)
	}
	if audio.source == model.AssetSourcePlaceholder {
		record.PlaceholderRefs = append(record.PlaceholderRefs, audio.ref)
	}
	if len(record.PlaceholderRefs) > 0 {
		record.Status = model.PanelStatusDegraded
		log.WithFields(logrus.Fields{
			"image_source": image.source,
			"audio_source": audio.source,
			"image_error":  errString(image.err),
			"audio_error":  errString(audio.err),
		}).Warn("panel degraded")
	}

	metrics.PanelsResolvedTotal.WithLabelValues(string(record.Status)).Inc()
	return record
}

func (p *Pipeline) image(ctx context.Context, story Story, panel model.ScriptPanel) outcome {
	key := assetKey(story.JobID, panel.PanelNumber, "png")
	step := func(prompt string) func(context.Context) (string, error) {
		return func(ctx context.Context) (string, error) {
			data, err := p.images.GenerateImage(ctx, client.ImageRequest{Prompt: prompt, Seed: story.Brief.Seed})
			if err != nil {
				return "", err
			}
			return p.store.Upload(ctx, key, bytes.NewReader(data), "image/png")
		}
	}

	policy := retry.Policy[string]{
		Name:    "image",
		Backoff: p.cfg.Image,
		Fallbacks: []retry.Step[string]{
			{Variant: retry.VariantSimplified, Run: step(SimplifiedImagePrompt(story.Brief, panel))},
		},
		Placeholder: func() string { return p.cfg.PlaceholderImage },
	}
	prompt := ImagePrompt(story.Brief, panel, story.TotalPanels, p.tmpl.Tone(panel.PanelNumber))
	res := retry.Execute(ctx, p.engine, policy, retry.Step[string]{Variant: retry.VariantPrimary, Run: step(prompt)})
	return settle(res)
}

func (p *Pipeline) audio(ctx context.Context, story Story, panel model.ScriptPanel) outcome {
	key := assetKey(story.JobID, panel.PanelNumber, "mp3")
	step := func(voice string) func(context.Context) (string, error) {
		return func(ctx context.Context) (string, error) {
			data, err := p.speech.Synthesize(ctx, client.SpeechRequest{Text: panel.NarrativeText, Voice: voice, SpeakingRate: 0.9})
			if err != nil {
				return "", err
			}
			return p.store.Upload(ctx, key, bytes.NewReader(data), "audio/mpeg")
		}
	}

	policy := retry.Policy[string]{
		Name:    "audio",
		Backoff: p.cfg.Audio,
		Fallbacks: []retry.Step[string]{
			{Variant: retry.VariantSimplified, Run: step(p.cfg.DefaultVoice)},
		},
		Placeholder: func() string { return p.cfg.PlaceholderAudio },
	}
	voice := SelectVoice(story.Brief.Age, story.Brief.Gender)
	res := retry.Execute(ctx, p.engine, policy, retry.Step[string]{Variant: retry.VariantPrimary, Run: step(voice)})
	return settle(res)
}

func settle(res retry.Result[string]) outcome {
	return outcome{
		ref:     res.Value,
		source:  model.AssetSource(res.Variant),
		retries: res.Retries(),
		err:     res.Err,
	}
}

func assetKey(jobID string, panelNumber int, ext string) string {
	return fmt.Sprintf("stories/%s/panel_%02d.%s", jobID, panelNumber, ext)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
