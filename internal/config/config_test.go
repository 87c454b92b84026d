package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".milhouse", "config.json")

	cfg := DefaultRunConfig()
	cfg.MaxWorkers = 8
	cfg.FailFast = true
	if err := SaveRunConfig(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadRunConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.MaxWorkers != 8 || !loaded.FailFast || loaded.Engine != "claude" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadRunConfig(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadRejectsBadVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"version": 99, "engine": "claude", "base_branch": "main", "max_workers": 4}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadRunConfig(path)
	if !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("err = %v, want ErrInvalidVersion", err)
	}
}

func TestValidateMissingFields(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*RunConfig)
	}{
		{"no engine", func(c *RunConfig) { c.Engine = "" }},
		{"no base branch", func(c *RunConfig) { c.BaseBranch = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tt.mut(cfg)
			err := SaveRunConfig(filepath.Join(t.TempDir(), "c.json"), cfg)
			if !errors.Is(err, ErrMissingField) {
				t.Errorf("err = %v, want ErrMissingField", err)
			}
		})
	}
}

func TestOptionsTranslation(t *testing.T) {
	cfg := DefaultRunConfig()
	opts := cfg.Options()
	if opts.TaskTimeout != 66*time.Minute {
		t.Errorf("TaskTimeout = %v", opts.TaskTimeout)
	}
	if opts.BaseBranch != "main" || opts.MaxWorkers != 4 || opts.MaxRetries != 2 {
		t.Errorf("opts = %+v", opts)
	}
}
