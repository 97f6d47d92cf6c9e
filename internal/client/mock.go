package client

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// The mock generators stand in for unconfigured upstream services so the
// server can run end to end in development.

// MockText streams a canned script in the panel marker format.
type MockText struct {
	Panels int
	Delay  time.Duration
}

func (m *MockText) StreamCompletion(ctx context.Context, system, user string, onDelta func(string) error) error {
	var b strings.Builder
	for n := 1; n <= m.Panels; n++ {
		fmt.Fprintf(&b, "PANEL_%d:\ndialogue_text: \"Chapter %d of the journey unfolds as our hero takes one more brave step forward.\"\n", n, n)
		fmt.Fprintf(&b, "image_prompt: \"manga panel %d\"\n\n", n)
	}
	for _, line := range strings.SplitAfter(b.String(), "\n") {
		if err := wait(ctx, m.Delay); err != nil {
			return err
		}
		if err := onDelta(line); err != nil {
			return err
		}
	}
	return nil
}

// MockImage returns a 1x1 PNG after Delay.
type MockImage struct {
	Delay time.Duration
}

var onePixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func (m *MockImage) GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error) {
	if err := wait(ctx, m.Delay); err != nil {
		return nil, err
	}
	return append([]byte(nil), onePixelPNG...), nil
}

// MockSpeech returns a short fake audio payload after Delay.
type MockSpeech struct {
	Delay time.Duration
}

func (m *MockSpeech) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if err := wait(ctx, m.Delay); err != nil {
		return nil, err
	}
	return []byte("ID3mock:" + req.Voice), nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
