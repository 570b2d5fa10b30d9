// Package config resolves the queue's runtime settings: the project
// directory, the workflow storage root, and the timing knobs shared by the
// coordinator and agent CLIs.
//
// Settings come from built-in defaults, optionally overridden by
// .claude/workflow-queue.yaml or .claude/workflow-queue.toml in the project.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	// ProjectDirEnv names the environment variable anchoring the base directory.
	ProjectDirEnv = "CLAUDE_PROJECT_DIR"

	// DefaultBaseDir is relative to the project directory.
	DefaultBaseDir = ".claude/workflow"

	configDir = ".claude"
	yamlFile  = "workflow-queue.yaml"
	tomlFile  = "workflow-queue.toml"
)

// Config holds the resolved settings.
type Config struct {
	// ProjectDir is the directory the base directory is anchored to.
	ProjectDir string

	// BaseDir is relative to ProjectDir unless absolute.
	BaseDir string

	// PollingInterval paces supervisor and watch loops between file events.
	PollingInterval time.Duration

	// HeartbeatInterval paces the agent heartbeat loop.
	HeartbeatInterval time.Duration

	// AckTimeout bounds a single ack wait.
	AckTimeout time.Duration

	// AckPollInterval is how often an ack wait re-reads the ack log.
	AckPollInterval time.Duration

	// MaxRetries is how many times a send-and-wait resends after a timeout.
	MaxRetries int
}

// fileConfig is the on-disk shape. Nil fields keep their defaults.
type fileConfig struct {
	BaseDir             *string `yaml:"base_dir" toml:"base_dir"`
	PollingIntervalMS   *int    `yaml:"polling_interval_ms" toml:"polling_interval_ms"`
	HeartbeatIntervalMS *int    `yaml:"heartbeat_interval_ms" toml:"heartbeat_interval_ms"`
	AckTimeoutMS        *int    `yaml:"ack_timeout_ms" toml:"ack_timeout_ms"`
	MaxRetries          *int    `yaml:"max_retries" toml:"max_retries"`
}

// Default returns the built-in settings for projectDir.
func Default(projectDir string) Config {
	return Config{
		ProjectDir:        projectDir,
		BaseDir:           DefaultBaseDir,
		PollingInterval:   500 * time.Millisecond,
		HeartbeatInterval: 10 * time.Second,
		AckTimeout:        5 * time.Second,
		AckPollInterval:   200 * time.Millisecond,
		MaxRetries:        3,
	}
}

// ProjectDir returns $CLAUDE_PROJECT_DIR, falling back to the working directory.
func ProjectDir() (string, error) {
	if dir := os.Getenv(ProjectDirEnv); dir != "" {
		return dir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to determine working directory: %w", err)
	}
	return wd, nil
}

// Load resolves the project directory and applies any config file found in it.
func Load() (Config, error) {
	projectDir, err := ProjectDir()
	if err != nil {
		return Config{}, err
	}
	return LoadFrom(projectDir)
}

// LoadFrom returns the defaults for projectDir with the project's config file
// applied. The YAML file wins when both exist.
func LoadFrom(projectDir string) (Config, error) {
	cfg := Default(projectDir)

	candidates := []struct {
		name      string
		unmarshal func([]byte, any) error
	}{
		{yamlFile, yaml.Unmarshal},
		{tomlFile, toml.Unmarshal},
	}

	for _, c := range candidates {
		path := filepath.Join(projectDir, configDir, c.name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}

		var fc fileConfig
		if err := c.unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if err := fc.apply(&cfg); err != nil {
			return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
		}
		return cfg, nil
	}

	return cfg, nil
}

func (fc fileConfig) apply(cfg *Config) error {
	if fc.BaseDir != nil {
		if *fc.BaseDir == "" {
			return fmt.Errorf("base_dir must not be empty")
		}
		cfg.BaseDir = *fc.BaseDir
	}

	durations := []struct {
		key string
		ms  *int
		dst *time.Duration
	}{
		{"polling_interval_ms", fc.PollingIntervalMS, &cfg.PollingInterval},
		{"heartbeat_interval_ms", fc.HeartbeatIntervalMS, &cfg.HeartbeatInterval},
		{"ack_timeout_ms", fc.AckTimeoutMS, &cfg.AckTimeout},
	}
	for _, d := range durations {
		if d.ms == nil {
			continue
		}
		if *d.ms <= 0 {
			return fmt.Errorf("%s must be positive, got %d", d.key, *d.ms)
		}
		*d.dst = time.Duration(*d.ms) * time.Millisecond
	}

	if fc.MaxRetries != nil {
		if *fc.MaxRetries < 0 {
			return fmt.Errorf("max_retries must not be negative, got %d", *fc.MaxRetries)
		}
		cfg.MaxRetries = *fc.MaxRetries
	}

	return nil
}

// WorkflowRoot is the absolute directory holding current.json, the workflow
// directories, and the archive.
func (c Config) WorkflowRoot() string {
	if filepath.IsAbs(c.BaseDir) {
		return c.BaseDir
	}
	return filepath.Join(c.ProjectDir, c.BaseDir)
}
