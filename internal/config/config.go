// Package config loads and saves milhouse's persisted run defaults
// as versioned JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eizorerad/milhouse-sub002/internal/task"
)

// CurrentRunConfigVersion is the schema version written by this build.
const CurrentRunConfigVersion = 1

var (
	// ErrNotFound indicates the config file does not exist.
	ErrNotFound = errors.New("config file not found")

	// ErrInvalidVersion indicates an unsupported schema version.
	ErrInvalidVersion = errors.New("unsupported config version")

	// ErrMissingField indicates a required field is missing.
	ErrMissingField = errors.New("missing required field")
)

// RunConfig holds persisted defaults for a run's ExecutionOptions plus
// the agent engine to invoke.
type RunConfig struct {
	Version            int    `json:"version"`
	Engine             string `json:"engine"`
	BaseBranch         string `json:"base_branch"`
	MaxWorkers         int    `json:"max_workers"`
	Parallel           bool   `json:"parallel"`
	BranchPerTask      bool   `json:"branch_per_task"`
	SkipTests          bool   `json:"skip_tests,omitempty"`
	SkipLint           bool   `json:"skip_lint,omitempty"`
	FailFast           bool   `json:"fail_fast,omitempty"`
	SkipMerge          bool   `json:"skip_merge,omitempty"`
	TaskTimeoutMinutes int    `json:"task_timeout_minutes"`
	MaxRetries         int    `json:"max_retries"`
	RetryDelaySeconds  int    `json:"retry_delay_seconds,omitempty"`
}

// DefaultRunConfig returns a config carrying the option defaults the
// data model names: 4 workers, main base branch, ~66 minute task
// timeout, 2 retries.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Version:            CurrentRunConfigVersion,
		Engine:             "claude",
		BaseBranch:         "main",
		MaxWorkers:         4,
		Parallel:           true,
		BranchPerTask:      true,
		TaskTimeoutMinutes: 66,
		MaxRetries:         2,
	}
}

// DefaultPath returns the config location inside a repository:
// {workDir}/.milhouse/config.json.
func DefaultPath(workDir string) string {
	return filepath.Join(workDir, ".milhouse", "config.json")
}

// LoadRunConfig loads and validates a run configuration file.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := validateRunConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveRunConfig saves a run configuration to a file, creating parent
// directories as needed.
func SaveRunConfig(path string, cfg *RunConfig) error {
	if err := validateRunConfig(cfg); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func validateRunConfig(cfg *RunConfig) error {
	if cfg.Version != CurrentRunConfigVersion {
		return fmt.Errorf("%w: %d (expected %d)", ErrInvalidVersion, cfg.Version, CurrentRunConfigVersion)
	}
	if cfg.Engine == "" {
		return fmt.Errorf("%w: engine", ErrMissingField)
	}
	if cfg.BaseBranch == "" {
		return fmt.Errorf("%w: base_branch", ErrMissingField)
	}
	if cfg.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be >= 1, got %d", cfg.MaxWorkers)
	}
	return nil
}

// Options translates the persisted config into the run-level
// ExecutionOptions the scheduler consumes.
func (c *RunConfig) Options() task.ExecutionOptions {
	return task.ExecutionOptions{
		Parallel:      c.Parallel,
		BranchPerTask: c.BranchPerTask,
		MaxWorkers:    c.MaxWorkers,
		BaseBranch:    c.BaseBranch,
		SkipTests:     c.SkipTests,
		SkipLint:      c.SkipLint,
		FailFast:      c.FailFast,
		SkipMerge:     c.SkipMerge,
		TaskTimeout:   time.Duration(c.TaskTimeoutMinutes) * time.Minute,
		MaxRetries:    c.MaxRetries,
		RetryDelay:    time.Duration(c.RetryDelaySeconds) * time.Second,
	}
}
