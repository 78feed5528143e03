// Package config resolves patternmem settings from the repository config
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DirName is the hidden per-repository directory holding the memory store.
const DirName = ".patternmem"

const (
	EmbedderFeatures = "features"
	EmbedderOllama   = "ollama"
)

type Config struct {
	DBPath     string           `yaml:"db"`
	Workers    int              `yaml:"workers"`
	Similarity SimilarityConfig `yaml:"similarity"`
	Query      QueryConfig      `yaml:"query"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	DependsOn  []DependsOnRule  `yaml:"dependsOn"`
	Ignore     []string         `yaml:"ignore"`
}

type SimilarityConfig struct {
	// Threshold is the minimum cosine similarity for RelatedTo edges.
	Threshold float64 `yaml:"threshold"`
	// Limit caps RelatedTo matches per new finding.
	Limit int `yaml:"limit"`
	// ANNThreshold is the corpus size above which searches go through the
	// sqlite-vec index instead of the in-memory scan.
	ANNThreshold int `yaml:"annThreshold"`
}

type QueryConfig struct {
	DefaultLimit int           `yaml:"defaultLimit"`
	MaxLimit     int           `yaml:"maxLimit"`
	Timeout      time.Duration `yaml:"timeout"`
}

type EmbedderConfig struct {
	Kind      string `yaml:"kind"`
	OllamaURL string `yaml:"ollamaURL"`
	Model     string `yaml:"model"`
}

// DependsOnRule declares that findings of type Source depend on findings of
// type Target when both share a function (or a file, for Scope "file").
type DependsOnRule struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Scope  string `yaml:"scope"`
}

// Default returns the built-in configuration for a repository root.
func Default(repoRoot string) *Config {
	return &Config{
		DBPath:  filepath.Join(repoRoot, DirName, "memory.db"),
		Workers: 4,
		Similarity: SimilarityConfig{
			Threshold:    0.75,
			Limit:        10,
			ANNThreshold: 5000,
		},
		Query: QueryConfig{
			DefaultLimit: 100,
			MaxLimit:     1000,
			Timeout:      5 * time.Second,
		},
		Embedder: EmbedderConfig{
			Kind:      EmbedderFeatures,
			OllamaURL: "http://localhost:11434",
			Model:     "nomic-embed-text",
		},
		Ignore: []string{
			".git", ".hg", ".svn", DirName,
			"node_modules", "vendor", "__pycache__", "dist", "build",
		},
	}
}

// Load reads <repo>/.patternmem/config.yaml, or the file at path when given,
// on top of the defaults and then applies environment overrides.
func Load(repoRoot, path string) (*Config, error) {
	cfg := Default(repoRoot)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(repoRoot, DirName, "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(cfg)

	if cfg.DBPath != "" && !filepath.IsAbs(cfg.DBPath) && cfg.DBPath != ":memory:" {
		cfg.DBPath = filepath.Join(repoRoot, cfg.DBPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PATTERNMEM_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PATTERNMEM_EMBEDDER"); v != "" {
		cfg.Embedder.Kind = v
	}
	if v := os.Getenv("PATTERNMEM_OLLAMA_URL"); v != "" {
		cfg.Embedder.OllamaURL = v
	}
	if v := os.Getenv("PATTERNMEM_MODEL"); v != "" {
		cfg.Embedder.Model = v
	}
	if v := os.Getenv("PATTERNMEM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Similarity.Threshold < 0 || c.Similarity.Threshold > 1 {
		return fmt.Errorf("similarity.threshold must be within [0,1], got %v", c.Similarity.Threshold)
	}
	if c.Similarity.Limit <= 0 {
		return fmt.Errorf("similarity.limit must be positive, got %d", c.Similarity.Limit)
	}
	if c.Query.DefaultLimit <= 0 || c.Query.MaxLimit < c.Query.DefaultLimit {
		return fmt.Errorf("query limits invalid: default %d, max %d", c.Query.DefaultLimit, c.Query.MaxLimit)
	}
	switch c.Embedder.Kind {
	case EmbedderFeatures, EmbedderOllama:
	default:
		return fmt.Errorf("unknown embedder kind %q", c.Embedder.Kind)
	}
	for i, r := range c.DependsOn {
		if r.Source == "" || r.Target == "" {
			return fmt.Errorf("dependsOn[%d]: source and target are required", i)
		}
		switch r.Scope {
		case "", "function", "file":
		default:
			return fmt.Errorf("dependsOn[%d]: unknown scope %q", i, r.Scope)
		}
	}
	return nil
}
