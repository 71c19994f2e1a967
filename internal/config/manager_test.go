package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
logging:
  level: debug
  console: true
oracle:
  api_key: test-key
  model: gemini-2.0-flash
scheduler:
  enabled: true
  spec: "0 9 * * *"
  workers: 8
policy:
  defaults:
    max_per_day: 2
    cooldown_minutes: 60
  ignore_threshold: 4
`

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "config.yaml", validYAML)
	m := NewManager(path)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.Spec != "0 9 * * *" || cfg.Scheduler.Workers != 8 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Policy.Defaults.MaxPerDay == nil || *cfg.Policy.Defaults.MaxPerDay != 2 {
		t.Fatalf("policy defaults = %+v", cfg.Policy.Defaults)
	}
	if cfg.Policy.Defaults.Enabled != nil {
		t.Fatalf("omitted field decoded as set: %+v", cfg.Policy.Defaults)
	}
	if m.Get() != cfg {
		t.Fatalf("Get returned a different snapshot")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "config.json",
		`{"oracle": {"api_key": "k"}, "scheduler": {"enabled": false}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Oracle.APIKey != "k" {
		t.Fatalf("oracle = %+v", cfg.Oracle)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "config.yaml", `
oracle:
  api_key: k
  tempratur: 0.5
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("typoed field accepted")
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "config.yaml", `
scheduler:
  enabled: true
`)
	_, err := NewManager(path).Load()
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("err = %v, want missing api_key", err)
	}
}

func TestValidateRejectsBadHours(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "config.yaml", `
oracle:
  api_key: k
policy:
  defaults:
    quiet_start: 24
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("out-of-range quiet hour accepted")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", validYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Give the watcher a moment to arm before writing.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "config.yaml", strings.Replace(validYAML, "workers: 8", "workers: 2", 1))

	select {
	case cfg := <-ch:
		if cfg.Scheduler.Workers != 2 {
			t.Fatalf("reloaded workers = %d, want 2", cfg.Scheduler.Workers)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload observed")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Watch did not return on cancel")
	}
}

func TestWatchIgnoresInvalidConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", validYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "config.yaml", `scheduler: {enabled: true}`)

	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg)
	case <-time.After(time.Second):
	}
	if got := m.Get(); got.Oracle.APIKey != "test-key" {
		t.Fatalf("snapshot replaced by invalid config: %+v", got)
	}
}

func TestParseDurations(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatalf("garbage duration accepted")
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", 30*time.Second); err != nil || d != 30*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "5s", 30*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
}
