// Package config loads and watches bridge configuration.
//
// Configuration comes from a YAML file with TICKBRIDGE_* environment
// overrides. The poll interval and due-soon window can change at runtime:
// Watch monitors the config file and hands re-loaded configuration to a
// callback, which the daemon uses to retune the running poller without a
// restart.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Defaults and bounds for the polling configuration.
const (
	DefaultPollIntervalSeconds = 300
	MinPollIntervalSeconds     = 60
	MaxPollIntervalSeconds     = 3600
	DefaultDueSoonMinutes      = 30
	DefaultListenAddr          = ":8099"
)

// Config is the bridge configuration.
type Config struct {
	// PollIntervalSeconds is the poll interval, clamped to [60, 3600].
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`

	// DueSoonMinutes is the lookahead for due-soon events.
	DueSoonMinutes int `mapstructure:"due_soon_minutes"`

	// IncludeCompleted exposes completed tasks on the status endpoints.
	IncludeCompleted bool `mapstructure:"include_completed"`

	// ListenAddr is the HTTP listen address for the API and event bus.
	ListenAddr string `mapstructure:"listen_addr"`

	// LogFile enables rotated file logging when set.
	LogFile string `mapstructure:"log_file"`

	// JournalPath is the sqlite event journal location. Empty disables
	// the journal.
	JournalPath string `mapstructure:"journal_path"`

	// ClientID and ClientSecret are the OAuth2 app credentials.
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// PollInterval returns the clamped poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	secs := c.PollIntervalSeconds
	if secs < MinPollIntervalSeconds {
		secs = MinPollIntervalSeconds
	}
	if secs > MaxPollIntervalSeconds {
		secs = MaxPollIntervalSeconds
	}
	return time.Duration(secs) * time.Second
}

// DueSoonWindow returns the due-soon lookahead as a duration.
func (c *Config) DueSoonWindow() time.Duration {
	mins := c.DueSoonMinutes
	if mins <= 0 {
		mins = DefaultDueSoonMinutes
	}
	return time.Duration(mins) * time.Minute
}

// Dir returns the bridge config directory (~/.config/tickbridge).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "tickbridge"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("poll_interval_seconds", DefaultPollIntervalSeconds)
	v.SetDefault("due_soon_minutes", DefaultDueSoonMinutes)
	v.SetDefault("include_completed", false)
	v.SetDefault("listen_addr", DefaultListenAddr)

	v.SetEnvPrefix("TICKBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads configuration from path. A missing file is not an error; the
// defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Watch re-loads the config file on change and hands the result to
// onChange. It blocks until ctx is done. Editors replace files rather than
// writing in place, so create and rename events on the parent directory
// count as changes too.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	// Debounce: editors fire several events per save.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)

		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				continue
			}
			onChange(cfg)

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
