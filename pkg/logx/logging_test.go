package logx

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZeroValueLoggerIsSafe(t *testing.T) {
	var l Logger
	l.Info("should not panic")
	l.With(String("k", "v")).Error("still fine")
	if !l.IsZero() {
		t.Fatalf("zero logger reports non-zero")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tc := range tests {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.Info("hello", String("comp", "test"), Int("n", 7))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(b, &rec); err != nil {
		t.Fatalf("log line not JSON: %v\n%s", err, b)
	}
	if rec["message"] != "hello" || rec["comp"] != "test" {
		t.Fatalf("record = %v", rec)
	}
}

func TestApplySwapsLevelLive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{
		Level: "error",
		File:  FileConfig{Enabled: true, Path: path},
	})
	defer svc.Close()

	log.Info("suppressed")
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log.Info("visible")

	b, _ := os.ReadFile(path)
	out := string(b)
	if strings.Contains(out, "suppressed") {
		t.Fatalf("error-level config logged info output:\n%s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("reconfigured logger dropped info output:\n%s", out)
	}
}
