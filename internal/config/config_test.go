package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.PollIntervalSeconds != DefaultPollIntervalSeconds {
		t.Errorf("poll interval = %d, want %d", cfg.PollIntervalSeconds, DefaultPollIntervalSeconds)
	}
	if cfg.DueSoonMinutes != DefaultDueSoonMinutes {
		t.Errorf("due soon minutes = %d, want %d", cfg.DueSoonMinutes, DefaultDueSoonMinutes)
	}
	if cfg.IncludeCompleted {
		t.Error("include_completed should default to false")
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("listen addr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
poll_interval_seconds: 120
due_soon_minutes: 15
include_completed: true
listen_addr: ":9000"
client_id: abc123
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.PollIntervalSeconds != 120 {
		t.Errorf("poll interval = %d, want 120", cfg.PollIntervalSeconds)
	}
	if cfg.DueSoonMinutes != 15 {
		t.Errorf("due soon minutes = %d, want 15", cfg.DueSoonMinutes)
	}
	if !cfg.IncludeCompleted {
		t.Error("include_completed not read")
	}
	if cfg.ClientID != "abc123" {
		t.Errorf("client_id = %q, want abc123", cfg.ClientID)
	}
}

func TestPollIntervalClamping(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    time.Duration
	}{
		{name: "below floor", seconds: 5, want: MinPollIntervalSeconds * time.Second},
		{name: "at floor", seconds: 60, want: 60 * time.Second},
		{name: "normal", seconds: 300, want: 300 * time.Second},
		{name: "at ceiling", seconds: 3600, want: 3600 * time.Second},
		{name: "above ceiling", seconds: 100000, want: MaxPollIntervalSeconds * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{PollIntervalSeconds: tt.seconds}
			if got := cfg.PollInterval(); got != tt.want {
				t.Errorf("PollInterval() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDueSoonWindowDefault(t *testing.T) {
	cfg := &Config{}
	if got := cfg.DueSoonWindow(); got != DefaultDueSoonMinutes*time.Minute {
		t.Errorf("DueSoonWindow() = %s, want %dm", got, DefaultDueSoonMinutes)
	}
}

func TestWatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "poll_interval_seconds: 120\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config) {
			select {
			case changed <- cfg:
			default:
			}
		})
	}()

	// Give the watcher a moment to register before rewriting.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "poll_interval_seconds: 600\n")

	select {
	case cfg := <-changed:
		if cfg.PollIntervalSeconds != 600 {
			t.Errorf("reloaded poll interval = %d, want 600", cfg.PollIntervalSeconds)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change never observed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() returned error: %v", err)
	}
}
