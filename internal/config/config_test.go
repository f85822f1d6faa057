package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWithoutOverrides(t *testing.T) {
	cfg := Default()
	applyEnv(&cfg, func(string) string { return "" })
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.Embedding.Dimension)
	assert.False(t, cfg.EmbeddingConfig().CaseSensitive, "uncased WordPiece by default")
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
grpc_addr: ":6000"
projects_dir: /srv/projects
embedding:
  provider: ollama
  ollama_model: all-minilm
  dimension: 384
  case_sensitive: true
seed: 42
`), 0o644))

	t.Setenv("ECHO_GRPC_ADDR", ":7000")
	t.Setenv("ECHO_MIN_FREE_MEMORY_MB", "1024")
	t.Setenv("ECHO_SEED", "not-a-number")
	t.Setenv("ECHO_KEEP_RUNS", "5")
	t.Setenv("ECHO_LEDGER_INTERVAL_SECONDS", "-1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.GRPCAddr, "env wins over file")
	assert.Equal(t, "/srv/projects", cfg.ProjectsDir)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, uint64(1024), cfg.MinFreeMemoryMB)
	assert.Equal(t, uint64(42), cfg.Seed, "invalid env value is ignored")
	assert.Equal(t, Default().HTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.KeepRuns)
	assert.Equal(t, time.Hour, cfg.LedgerInterval(), "non-positive env value is ignored")

	ec := cfg.EmbeddingConfig()
	assert.Equal(t, "all-minilm", ec.OllamaModel)
	assert.Equal(t, 384, ec.Dimension)
	assert.True(t, ec.CaseSensitive)

	t.Setenv("ECHO_CASE_SENSITIVE", "false")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.EmbeddingConfig().CaseSensitive, "env wins over file")
}

func TestLoadRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("grpc_addr: [unclosed"), 0o644))
	_, err = Load(bad)
	require.Error(t, err)

	t.Setenv("ECHO_EMBEDDING_PROVIDER", "word2vec")
	_, err = Load("")
	require.Error(t, err)
}
