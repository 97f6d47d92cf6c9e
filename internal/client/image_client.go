package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/makeasinger/panelcast/internal/config"
	"github.com/makeasinger/panelcast/internal/retry"
)

// ImageRequest describes one panel illustration.
type ImageRequest struct {
	Prompt string
	Seed   int
}

// ImageClient calls an OpenAI-compatible /images/generations endpoint.
type ImageClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	size       string
	logger     *logrus.Entry
}

type imageGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n"`
	Seed   int    `json:"seed,omitempty"`
}

type imageGenerationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

func NewImageClient(cfg *config.ImageConfig, logger *logrus.Entry) *ImageClient {
	return &ImageClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		size:       cfg.Size,
		logger:     logger,
	}
}

// GenerateImage returns the PNG bytes of one generated image.
func (c *ImageClient) GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error) {
	body := imageGenerationRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		Size:   c.size,
		N:      1,
		Seed:   req.Seed,
	}

	var result imageGenerationResponse
	if err := c.post(ctx, "/images/generations", body, &result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("%w: image response has no data", retry.ErrTransient)
	}

	item := result.Data[0]
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("%w: decode image: %v", retry.ErrTransient, err)
		}
		return data, nil
	}
	if item.URL != "" {
		return c.download(ctx, item.URL)
	}
	return nil, fmt.Errorf("%w: image response has neither b64_json nor url", retry.ErrTransient)
}

func (c *ImageClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: download image: %v", retry.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, retry.StatusError("image download", resp.StatusCode, "")
	}
	return io.ReadAll(resp.Body)
}

// post sends a POST request with JSON body and decodes the JSON response.
func (c *ImageClient) post(ctx context.Context, endpoint string, body, result any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.WithField("endpoint", endpoint).Debug("→ image request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: image request: %v", retry.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read image response: %v", retry.ErrTransient, err)
	}

	c.logger.WithField("status", resp.StatusCode).Debug("← image response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return retry.StatusError("image generation", resp.StatusCode, truncate(string(respBody), 512))
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: unmarshal image response: %v", retry.ErrTransient, err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ImageClient) IsConfigured() bool {
	return c.apiKey != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
