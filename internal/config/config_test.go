package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	os.Unsetenv("MAX_SCREEN_WORKERS")
	os.Unsetenv("TEST_MODE")
	cfg := Load()
	if cfg.DocsRoot != "./docs" {
		t.Errorf("expected default docs root, got %s", cfg.DocsRoot)
	}
	if cfg.TestMode {
		t.Error("expected TestMode false by default")
	}
	if cfg.MaxScreenWorkers <= 0 {
		t.Errorf("expected positive default worker cap, got %d", cfg.MaxScreenWorkers)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	os.Setenv("INVISION_EMAIL", "user@example.com")
	os.Setenv("DOCS_ROOT", "/tmp/custom-docs")
	os.Setenv("TEST_MODE", "true")
	os.Setenv("MAX_SCREEN_WORKERS", "3")
	defer os.Unsetenv("INVISION_EMAIL")
	defer os.Unsetenv("DOCS_ROOT")
	defer os.Unsetenv("TEST_MODE")
	defer os.Unsetenv("MAX_SCREEN_WORKERS")

	cfg := Load()
	if cfg.Email != "user@example.com" {
		t.Errorf("expected email override, got %s", cfg.Email)
	}
	if cfg.DocsRoot != "/tmp/custom-docs" {
		t.Errorf("expected custom docs root, got %s", cfg.DocsRoot)
	}
	if !cfg.TestMode {
		t.Error("expected TestMode true")
	}
	if cfg.MaxScreenWorkers != 3 {
		t.Errorf("expected worker cap 3, got %d", cfg.MaxScreenWorkers)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "project.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Config{DocsRoot: dir}

	if err := Validate(cfg, "update"); err != nil {
		t.Errorf("expected valid config to pass, got %v", err)
	}
	if err := Validate(cfg, "bogus"); err == nil {
		t.Error("expected invalid option to fail validation")
	}
	if err := Validate(cfg, ""); err == nil {
		t.Error("expected empty option against a non-empty existing root to fail validation")
	}

	missing := Config{DocsRoot: filepath.Join(dir, "nonexistent")}
	if err := Validate(missing, "update"); err != nil {
		t.Errorf("expected missing docs root to be valid (fresh run), got %v", err)
	}
	if err := Validate(missing, ""); err != nil {
		t.Errorf("expected missing docs root with empty option to be valid, got %v", err)
	}

	empty := t.TempDir()
	if err := Validate(Config{DocsRoot: empty}, ""); err != nil {
		t.Errorf("expected empty existing docs root to be valid, got %v", err)
	}
}

func TestSaveAndLoad_RoundTripsThroughYAML(t *testing.T) {
	dir := t.TempDir()
	ConfigPath = filepath.Join(dir, ".invision-mirror.yaml")
	defer func() { ConfigPath = "" }()

	if err := Save(Config{DocsRoot: "/tmp/mirrored-docs", MaxScreenWorkers: 7}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(ConfigPath)
	if err != nil {
		t.Fatalf("reading persisted config: %v", err)
	}
	if !strings.Contains(string(raw), "docs_root: /tmp/mirrored-docs") {
		t.Errorf("expected YAML document with docs_root key, got:\n%s", raw)
	}

	os.Unsetenv("DOCS_ROOT")
	os.Unsetenv("MAX_SCREEN_WORKERS")
	cfg := Load()
	if cfg.DocsRoot != "/tmp/mirrored-docs" {
		t.Errorf("expected persisted docs root to win over default, got %s", cfg.DocsRoot)
	}
	if cfg.MaxScreenWorkers != 7 {
		t.Errorf("expected persisted worker cap to win over default, got %d", cfg.MaxScreenWorkers)
	}
}
