package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Similarity.Threshold != 0.75 {
		t.Errorf("expected threshold 0.75, got %v", cfg.Similarity.Threshold)
	}
	if cfg.DBPath != filepath.Join(root, DirName, "memory.db") {
		t.Errorf("unexpected db path %s", cfg.DBPath)
	}
	if cfg.Query.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Query.Timeout)
	}
}

func TestLoadYAML(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	data := `
similarity:
  threshold: 0.9
query:
  timeout: 2s
dependsOn:
  - source: sql_injection
    target: missing_input_validation
    scope: function
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(root, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Similarity.Threshold != 0.9 {
		t.Errorf("expected 0.9, got %v", cfg.Similarity.Threshold)
	}
	if cfg.Similarity.Limit != 10 {
		t.Errorf("expected default limit to survive, got %d", cfg.Similarity.Limit)
	}
	if cfg.Query.Timeout != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.Query.Timeout)
	}
	if len(cfg.DependsOn) != 1 || cfg.DependsOn[0].Target != "missing_input_validation" {
		t.Errorf("unexpected dependsOn: %+v", cfg.DependsOn)
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "custom.yaml")
	if err := os.WriteFile(path, []byte("similarity:\n  threshold: 1.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(root, path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(t.TempDir(), "/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestEnvOverrides(t *testing.T) {
	old := os.Getenv("PATTERNMEM_WORKERS")
	defer os.Setenv("PATTERNMEM_WORKERS", old)

	os.Setenv("PATTERNMEM_WORKERS", "7")

	cfg, err := Load(t.TempDir(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workers != 7 {
		t.Errorf("expected 7 workers, got %d", cfg.Workers)
	}
}
