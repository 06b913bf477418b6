package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nullwave/voxcore/internal/config"
)

func TestLoad_ReadsFileFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxcore.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.URL == "" {
		t.Error("transport.url not populated from file")
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestValidate_NonPositiveTrackerCapacity(t *testing.T) {
	yaml := `
transport:
  url: wss://voice.example.com/v1/stream
tracker:
  capacity: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-positive tracker.capacity, got nil")
	}
	if !strings.Contains(err.Error(), "tracker.capacity") {
		t.Errorf("error should mention tracker.capacity, got: %v", err)
	}
}

func TestValidate_NonPositiveReconnectDelayEntry(t *testing.T) {
	yaml := `
transport:
  url: wss://voice.example.com/v1/stream
  reconnect_delays: [1s, 0s, 3s]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for a non-positive reconnect_delays entry, got nil")
	}
	if !strings.Contains(err.Error(), "reconnect_delays[1]") {
		t.Errorf("error should identify the offending index, got: %v", err)
	}
}

func TestValidate_NonPositiveBufferSamples(t *testing.T) {
	yaml := `
transport:
  url: wss://voice.example.com/v1/stream
capture:
  buffer_samples: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for non-positive capture.buffer_samples, got nil")
	}
}

func TestValidate_JoinsMultipleErrors(t *testing.T) {
	yaml := `
log_level: loud
tracker:
  capacity: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined error, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "log_level") || !strings.Contains(msg, "tracker.capacity") || !strings.Contains(msg, "transport.url") {
		t.Errorf("joined error should mention all three problems, got: %v", msg)
	}
}
