package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdirTemp runs the test from an empty directory so no config.yaml is found.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8000" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Pipeline.PanelCount != 6 || cfg.Pipeline.MaxConcurrentPanels != 3 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Retry.Image.MaxAttempts != 3 || cfg.Retry.Image.BaseDelay != 2*time.Second || cfg.Retry.Image.MaxDelay != 60*time.Second {
		t.Errorf("image retry = %+v", cfg.Retry.Image)
	}
	if cfg.Retry.Audio.BaseDelay != time.Second {
		t.Errorf("audio base delay = %v", cfg.Retry.Audio.BaseDelay)
	}
	if cfg.Worker.Queue != "stories" || !cfg.Worker.Enabled {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	if cfg.Placeholders.ImageURL == "" || cfg.Placeholders.AudioURL == "" {
		t.Error("placeholders should have defaults")
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PIPELINE_MAX_CONCURRENT_PANELS", "5")
	t.Setenv("PIPELINE_ABANDON_GRACE", "0s")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q", cfg.Server.Port)
	}
	if cfg.Pipeline.MaxConcurrentPanels != 5 {
		t.Errorf("max concurrent panels = %d", cfg.Pipeline.MaxConcurrentPanels)
	}
	if cfg.Pipeline.AbandonGrace != 0 {
		t.Errorf("abandon grace = %v", cfg.Pipeline.AbandonGrace)
	}
	if cfg.Worker.Enabled {
		t.Error("worker should be disabled")
	}
	if cfg.Groq.APIKey != "gsk-test" {
		t.Errorf("groq key = %q", cfg.Groq.APIKey)
	}
}

func TestLoad_SecretFile(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "groq_key")
	if err := os.WriteFile(path, []byte("gsk-from-file\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("GROQ_API_KEY_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Groq.APIKey != "gsk-from-file" {
		t.Errorf("groq key = %q, want the trimmed file contents", cfg.Groq.APIKey)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	yaml := "pipeline:\n  panel_count: 4\nretry:\n  script:\n    max_attempts: 5\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.PanelCount != 4 {
		t.Errorf("panel count = %d", cfg.Pipeline.PanelCount)
	}
	if cfg.Retry.Script.MaxAttempts != 5 {
		t.Errorf("script attempts = %d", cfg.Retry.Script.MaxAttempts)
	}
	// Untouched keys keep their defaults.
	if cfg.Retry.Script.BaseDelay != 2*time.Second {
		t.Errorf("script base delay = %v", cfg.Retry.Script.BaseDelay)
	}
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	base, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero panels", func(c *Config) { c.Pipeline.PanelCount = 0 }, "panel_count"},
		{"zero concurrency", func(c *Config) { c.Pipeline.MaxConcurrentPanels = 0 }, "max_concurrent_panels"},
		{"no attempts", func(c *Config) { c.Retry.Image.MaxAttempts = 0 }, "retry.image.max_attempts"},
		{"jitter too big", func(c *Config) { c.Retry.Audio.Jitter = 1 }, "retry.audio.jitter"},
		{"max below base", func(c *Config) { c.Retry.Script.MaxDelay = time.Millisecond }, "retry.script.max_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want an error mentioning %q", err, tt.want)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}
