package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/makeasinger/panelcast/internal/config"
	"github.com/makeasinger/panelcast/internal/retry"
)

// SpeechRequest describes one narration clip.
type SpeechRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Language string `json:"language_code"`
	// SpeakingRate below 1 slows narration down.
	SpeakingRate float64 `json:"speaking_rate,omitempty"`
}

// SpeechClient calls the text-to-speech microservice. POST /tts returns
// audio/mpeg bytes.
type SpeechClient struct {
	httpClient *http.Client
	baseURL    string
	language   string
	logger     *logrus.Entry
}

func NewSpeechClient(cfg *config.SpeechConfig, logger *logrus.Entry) *SpeechClient {
	return &SpeechClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.ServiceURL, "/"),
		language:   cfg.Language,
		logger:     logger,
	}
}

// Synthesize returns the narration audio for req.
func (c *SpeechClient) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if req.Language == "" {
		req.Language = c.language
	}
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	c.logger.WithField("voice", req.Voice).Debug("→ POST /tts")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: tts request: %v", retry.ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read tts response: %v", retry.ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retry.StatusError("tts", resp.StatusCode, truncate(string(data), 512))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: tts returned empty audio", retry.ErrTransient)
	}
	return data, nil
}

// HealthCheck checks if the speech service is available
func (c *SpeechClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("speech service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech service unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SpeechClient) IsConfigured() bool {
	return c.baseURL != ""
}
