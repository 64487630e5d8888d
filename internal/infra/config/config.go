// Package config loads and validates the scheduler daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Storage      StorageConfig      `yaml:"storage"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
}

// SchedulerConfig holds scheduler loop settings.
type SchedulerConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`   // tick interval, default 10s
	EnqueueRate    float64       `yaml:"enqueue_rate"`    // caller enqueues per second, 0 = unlimited
	DefaultTimeout time.Duration `yaml:"default_timeout"` // for tasks created without one
}

// StorageConfig selects and locates the persistence backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "file" or "sqlite"
	Dir     string `yaml:"dir"`     // file backend root
	DBPath  string `yaml:"db_path"` // sqlite database file
}

// ExecutorConfig configures the subprocess agent executor.
type ExecutorConfig struct {
	Command string   `yaml:"command"` // agent binary to invoke per task
	Args    []string `yaml:"args"`    // fixed arguments preceding the prompt
}

// HousekeepingConfig holds maintenance job settings.
type HousekeepingConfig struct {
	Enabled            bool   `yaml:"enabled"`
	RetentionCron      string `yaml:"retention_cron"`      // history sweep schedule
	RetentionMaxAge    string `yaml:"retention_max_age"`   // duration, e.g. "720h"
	CompactionSchedule string `yaml:"compaction_schedule"` // cron expression or duration
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under
// $HOME/.taskrunner/data, falling back to "./data".
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".taskrunner", "data")
}

// Defaults returns a config populated with defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Scheduler: SchedulerConfig{
			PollInterval:   10 * time.Second,
			EnqueueRate:    0,
			DefaultTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Backend: "file",
			Dir:     dataDir,
			DBPath:  filepath.Join(dataDir, "tasks.db"),
		},
		Housekeeping: HousekeepingConfig{
			Enabled:            true,
			RetentionCron:      "0 3 * * *",
			RetentionMaxAge:    "720h",
			CompactionSchedule: "1h",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file yields the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func Validate(cfg *Config) error {
	if cfg.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("config: scheduler.poll_interval must be positive")
	}
	if cfg.Scheduler.EnqueueRate < 0 {
		return fmt.Errorf("config: scheduler.enqueue_rate must not be negative")
	}
	switch strings.ToLower(cfg.Storage.Backend) {
	case "file":
		if cfg.Storage.Dir == "" {
			return fmt.Errorf("config: storage.dir is required for the file backend")
		}
	case "sqlite":
		if cfg.Storage.DBPath == "" {
			return fmt.Errorf("config: storage.db_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("config: unknown storage.backend %q (want: file, sqlite)", cfg.Storage.Backend)
	}
	if cfg.Housekeeping.Enabled && cfg.Housekeeping.RetentionMaxAge != "" {
		if _, err := time.ParseDuration(cfg.Housekeeping.RetentionMaxAge); err != nil {
			return fmt.Errorf("config: housekeeping.retention_max_age: %w", err)
		}
	}
	return nil
}
