// Package config assembles server settings from defaults, an optional YAML
// file and ECHO_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kennethnrk/echo/internal/embedding"
)

// Config holds every setting of echo-server.
type Config struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	ProjectsDir string `yaml:"projects_dir"`
	DataDir     string `yaml:"data_dir"`

	Embedding Embedding `yaml:"embedding"`

	MinFreeMemoryMB uint64 `yaml:"min_free_memory_mb"`
	// Ledger maintenance keeps KeepRuns runs per project.
	LedgerIntervalSeconds int `yaml:"ledger_interval_seconds"`
	KeepRuns              int `yaml:"keep_runs"`
	// Seed fixes weight initialization and shuffling when non-zero.
	Seed uint64 `yaml:"seed"`
}

// Embedding selects the sentence-embedding provider.
type Embedding struct {
	Provider    string `yaml:"provider"`
	Dimension   int    `yaml:"dimension"`
	ModelDir    string `yaml:"model_dir"`
	ORTLibrary  string `yaml:"ort_library"`
	OllamaHost  string `yaml:"ollama_host"`
	OllamaModel string `yaml:"ollama_model"`

	// CaseSensitive keeps input casing for cased WordPiece vocabularies.
	CaseSensitive bool `yaml:"case_sensitive"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		GRPCAddr:    ":50051",
		HTTPAddr:    ":3000",
		ProjectsDir: filepath.Join(".", "data", "projects"),
		DataDir:     filepath.Join(".", "data", "echo-store"),
		Embedding: Embedding{
			Provider:    embedding.KindONNX,
			Dimension:   embedding.DefaultDimension,
			ModelDir:    filepath.Join(".", "models", "use"),
			OllamaHost:  "http://localhost:11434",
			OllamaModel: "nomic-embed-text",
		},
		MinFreeMemoryMB:       256,
		LedgerIntervalSeconds: 3600,
		KeepRuns:              20,
	}
}

// Load applies the YAML file at path (if non-empty) and then the environment
// on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Embedding.Provider {
	case embedding.KindONNX, embedding.KindOllama, embedding.KindHash:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.ProjectsDir == "" {
		return fmt.Errorf("projects_dir cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.LedgerIntervalSeconds <= 0 || c.KeepRuns <= 0 {
		return fmt.Errorf("ledger_interval_seconds and keep_runs must be positive")
	}
	return nil
}

// LedgerInterval is the period of ledger maintenance.
func (c Config) LedgerInterval() time.Duration {
	return time.Duration(c.LedgerIntervalSeconds) * time.Second
}

// EmbeddingConfig converts the embedding section for embedding.Opener.
func (c Config) EmbeddingConfig() embedding.Config {
	return embedding.Config{
		Kind:        c.Embedding.Provider,
		Dimension:   c.Embedding.Dimension,
		ModelDir:    c.Embedding.ModelDir,
		LibraryPath: c.Embedding.ORTLibrary,
		OllamaHost:  c.Embedding.OllamaHost,
		OllamaModel: c.Embedding.OllamaModel,

		CaseSensitive: c.Embedding.CaseSensitive,
	}
}

func applyEnv(cfg *Config, getenv func(string) string) {
	setString := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	setUint := func(name string, dst *uint64) {
		v := getenv(name)
		if v == "" {
			return
		}
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			log.Printf("Invalid %s value '%s', using %d", name, v, *dst)
			return
		}
		*dst = parsed
	}

	setString("ECHO_GRPC_ADDR", &cfg.GRPCAddr)
	setString("ECHO_HTTP_ADDR", &cfg.HTTPAddr)
	setString("ECHO_PROJECTS_DIR", &cfg.ProjectsDir)
	setString("ECHO_DATA_DIR", &cfg.DataDir)
	setString("ECHO_EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	setString("ECHO_MODEL_DIR", &cfg.Embedding.ModelDir)
	setString("ECHO_ORT_LIBRARY", &cfg.Embedding.ORTLibrary)
	setString("ECHO_OLLAMA_HOST", &cfg.Embedding.OllamaHost)
	setString("ECHO_OLLAMA_MODEL", &cfg.Embedding.OllamaModel)
	if v := getenv("ECHO_CASE_SENSITIVE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Embedding.CaseSensitive = parsed
		} else {
			log.Printf("Invalid ECHO_CASE_SENSITIVE value '%s', using %t", v, cfg.Embedding.CaseSensitive)
		}
	}
	setUint("ECHO_MIN_FREE_MEMORY_MB", &cfg.MinFreeMemoryMB)
	setUint("ECHO_SEED", &cfg.Seed)

	setPositiveInt := func(name string, dst *int) {
		v := getenv(name)
		if v == "" {
			return
		}
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			*dst = parsed
		} else {
			log.Printf("Invalid %s value '%s', using %d", name, v, *dst)
		}
	}
	setPositiveInt("ECHO_EMBEDDING_DIM", &cfg.Embedding.Dimension)
	setPositiveInt("ECHO_LEDGER_INTERVAL_SECONDS", &cfg.LedgerIntervalSeconds)
	setPositiveInt("ECHO_KEEP_RUNS", &cfg.KeepRuns)
}
