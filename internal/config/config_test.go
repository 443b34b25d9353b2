package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

// isolate points the user config lookup at an empty directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 4, cfg.Retrieval.TopKPrimary)
	assert.Equal(t, 3, cfg.Retrieval.TopKSecondary)
	assert.Equal(t, 0.3, cfg.Retrieval.MinNovelty)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.Debounce)
	assert.Equal(t, 300, cfg.Index.ShortDocumentRunes)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoConfigFiles_ResolvesDefaultPaths(t *testing.T) {
	// Given: an empty project dir
	isolate(t)
	dir := t.TempDir()

	// When: loading
	cfg, err := Load(dir)

	// Then: default relative paths are made absolute under dir
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data", "docx"), cfg.Paths.DocxDir)
	assert.Equal(t, filepath.Join(dir, "data", "index"), cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join(dir, "config", "trusted_sites.yaml"), cfg.Paths.SitesFile)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	// Given: user and project configs
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "careindex"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, "careindex", "config.yaml"), []byte(`
embeddings:
  provider: ollama
  ollama_host: http://gpu:11434
retrieval:
  top_k_primary: 8
`), 0o644))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName), []byte(`
retrieval:
  top_k_primary: 6
scheduler:
  debounce: 750ms
paths:
  data_dir: /var/lib/careindex
`), 0o644))

	// When: loading
	cfg, err := Load(dir)

	// Then: project wins, user fills the rest
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "http://gpu:11434", cfg.Embeddings.OllamaHost)
	assert.Equal(t, 6, cfg.Retrieval.TopKPrimary)
	assert.Equal(t, 750*time.Millisecond, cfg.Scheduler.Debounce)
	assert.Equal(t, "/var/lib/careindex", cfg.Paths.DataDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("CAREINDEX_TOP_K_SECONDARY", "5")
	t.Setenv("CAREINDEX_MIN_NOVELTY", "0.45")
	t.Setenv("CAREINDEX_DEBOUNCE", "3s")
	t.Setenv("CAREINDEX_LOG_LEVEL", "debug")
	t.Setenv("CAREINDEX_TELEMETRY", "true")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retrieval.TopKSecondary)
	assert.Equal(t, 0.45, cfg.Retrieval.MinNovelty)
	assert.Equal(t, 3*time.Second, cfg.Scheduler.Debounce)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoad_InvalidEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("CAREINDEX_TOP_K_PRIMARY", "many")

	_, err := Load(t.TempDir())

	require.Error(t, err)
	assert.True(t, cerrors.HasCode(err, cerrors.ErrCodeConfigInvalid))
}

func TestLoad_DotEnvFile(t *testing.T) {
	// Given: a .env file setting the provider
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("CAREINDEX_EMBEDDINGS_MODEL=bge-m3\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("CAREINDEX_EMBEDDINGS_MODEL") })

	// When: loading
	cfg, err := Load(dir)

	// Then: the value is applied
	require.NoError(t, err)
	assert.Equal(t, "bge-m3", cfg.Embeddings.Model)
}

func TestLoad_MalformedProjectConfig(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName), []byte("retrieval: [oops"), 0o644))

	_, err := Load(dir)

	require.Error(t, err)
	assert.True(t, cerrors.IsFatal(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "mlx" }, false},
		{"novelty above one", func(c *Config) { c.Retrieval.MinNovelty = 1.5 }, false},
		{"zero multiplier", func(c *Config) { c.Retrieval.CandidateMultiplier = 0 }, false},
		{"negative top k", func(c *Config) { c.Retrieval.TopKPrimary = -1 }, false},
		{"backoff inverted", func(c *Config) { c.Scheduler.BackoffMax = time.Second }, false},
		{"no data dir", func(c *Config) { c.Paths.DataDir = "" }, false},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, false},
		{"zero rate", func(c *Config) { c.Web.RequestsPerSecond = 0 }, false},
		{"no unanswered capacity", func(c *Config) { c.Telemetry.UnansweredCapacity = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	// Given: a customized config written as the project file
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Retrieval.TopKSecondary = 7
	cfg.Scheduler.PollInterval = 9 * time.Second
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ProjectConfigName)))

	// When: loading it back
	loaded, err := Load(dir)

	// Then: values survive
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Retrieval.TopKSecondary)
	assert.Equal(t, 9*time.Second, loaded.Scheduler.PollInterval)
}
