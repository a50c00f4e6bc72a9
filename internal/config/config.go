// Package config loads the mirror's runtime configuration from the
// environment, with an optional persisted YAML overlay for settings an
// operator wants to fix across runs without re-exporting env vars.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Email            string
	Password         string
	DocsRoot         string
	TestMode         bool
	CustomCAFile     string
	MaxScreenWorkers int
}

// persistedConfig is the YAML shape written to the config file, in the
// same spirit as carto's .carto/sources.yaml: a small operator-editable
// overlay on top of env vars. Only fields an operator would reasonably
// want to pin outside the environment are persisted; credentials stay
// env-only.
type persistedConfig struct {
	DocsRoot         string `yaml:"docs_root,omitempty"`
	MaxScreenWorkers int    `yaml:"max_screen_workers,omitempty"`
}

// ConfigPath is the file path where settings are persisted, if any
// (conventionally .invision-mirror.yaml).
var ConfigPath string

func Load() Config {
	cfg := Config{
		Email:            os.Getenv("INVISION_EMAIL"),
		Password:         os.Getenv("INVISION_PASSWORD"),
		DocsRoot:         envOr("DOCS_ROOT", "./docs"),
		TestMode:         envOrBool("TEST_MODE", false),
		CustomCAFile:     os.Getenv("CUSTOM_CA_FILE"),
		MaxScreenWorkers: envOrInt("MAX_SCREEN_WORKERS", min(5, runtime.NumCPU())),
	}

	if ConfigPath != "" {
		if saved, err := loadPersistedConfig(ConfigPath); err == nil {
			mergeConfig(&cfg, saved)
		}
	}

	return cfg
}

// Save writes the persistable subset of cfg to the config file.
func Save(cfg Config) error {
	if ConfigPath == "" {
		return nil
	}
	p := persistedConfig{
		DocsRoot:         cfg.DocsRoot,
		MaxScreenWorkers: cfg.MaxScreenWorkers,
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(ConfigPath, data, 0600)
}

func loadPersistedConfig(path string) (persistedConfig, error) {
	var p persistedConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	err = yaml.Unmarshal(data, &p)
	return p, err
}

func mergeConfig(cfg *Config, p persistedConfig) {
	if p.DocsRoot != "" {
		cfg.DocsRoot = p.DocsRoot
	}
	if p.MaxScreenWorkers != 0 {
		cfg.MaxScreenWorkers = p.MaxScreenWorkers
	}
}

// Validate checks the invariants a run requires before it touches the
// network. option must be one of "", "overwrite", or "update". If
// DocsRoot already exists and is non-empty, a non-empty option must be
// one of "overwrite" or "update" — an ambiguous existing root with no
// explicit instruction is a configuration error, not a silent no-op. A
// missing or empty DocsRoot is always fine: the run creates it fresh. A
// DocsRoot that exists but is not a directory is always an error.
func Validate(cfg Config, option string) error {
	switch option {
	case "", "overwrite", "update":
	default:
		return fmt.Errorf("unknown option %q: want \"overwrite\" or \"update\"", option)
	}

	info, err := os.Stat(cfg.DocsRoot)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("docs root %q: %w", cfg.DocsRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("docs root %q is not a directory", cfg.DocsRoot)
	}

	entries, err := os.ReadDir(cfg.DocsRoot)
	if err != nil {
		return fmt.Errorf("docs root %q: %w", cfg.DocsRoot, err)
	}
	if len(entries) > 0 && option == "" {
		return fmt.Errorf("docs root %q is non-empty: pass option \"overwrite\" or \"update\"", cfg.DocsRoot)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}
