package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/careindex/internal/config"
	"github.com/Aman-CERP/careindex/internal/embed"
)

// unavailableEmbedder reports itself unreachable, like Ollama when stopped.
type unavailableEmbedder struct{ *embed.StaticEmbedder }

func (unavailableEmbedder) Available(context.Context) bool { return false }

func projectConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Paths.DocxDir = filepath.Join(dir, "docx")
	cfg.Paths.FichesDir = filepath.Join(dir, "fiches")
	cfg.Paths.WebDir = filepath.Join(dir, "web")
	cfg.Paths.SitesFile = filepath.Join(dir, "trusted_sites.yaml")
	cfg.Paths.DataDir = filepath.Join(dir, "index")
	return cfg
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func byName(results []CheckResult) map[string]CheckResult {
	m := map[string]CheckResult{}
	for _, r := range results {
		m[r.Name] = r
	}
	return m
}

func TestChecker_RunAll_HealthyProject(t *testing.T) {
	// Given: fiches, a valid sites file and the static embedder
	cfg := projectConfig(t)
	write(t, filepath.Join(cfg.Paths.DocxDir, "chutes.docx"), "x")
	write(t, filepath.Join(cfg.Paths.DocxDir, "~$chutes.docx"), "lock")
	write(t, cfg.Paths.SitesFile, "sites:\n  - name: Ameli\n    domain: www.ameli.fr\n    urls: [https://www.ameli.fr/aidant]\n")

	// When
	results := New(cfg).RunAll(context.Background())

	// Then
	got := byName(results)
	require.Len(t, results, 5)
	assert.Equal(t, StatusPass, got["storage"].Status)
	assert.Equal(t, "1 fiches", got["docx_sources"].Message)
	assert.Equal(t, "1 sites, 1 pages", got["trusted_sites"].Message)
	assert.Equal(t, StatusPass, got["embedder"].Status)
	assert.False(t, HasCriticalFailures(results))
	assert.DirExists(t, cfg.Paths.DataDir)
}

func TestChecker_Warnings(t *testing.T) {
	// Given: nothing to index yet
	cfg := projectConfig(t)
	c := New(cfg)
	c.fdLimit = func() (uint64, error) { return 256, nil }

	results := c.RunAll(context.Background())

	got := byName(results)
	assert.Equal(t, StatusWarn, got["docx_sources"].Status)
	assert.Equal(t, StatusWarn, got["trusted_sites"].Status)
	assert.Equal(t, StatusWarn, got["file_descriptors"].Status)
	assert.Equal(t, "ready_with_warnings", SummaryStatus(results))
}

func TestChecker_Failures(t *testing.T) {
	t.Run("invalid trusted sites", func(t *testing.T) {
		cfg := projectConfig(t)
		write(t, cfg.Paths.SitesFile, "sites:\n  - name: X\n    domain: a.fr\n    urls: [https://b.fr/page]\n")

		r := New(cfg).CheckTrustedSites()

		assert.True(t, r.IsCritical())
		assert.Contains(t, r.Message, "outside the trusted domain")
	})

	t.Run("embedder unreachable", func(t *testing.T) {
		c := New(projectConfig(t))
		c.newEmbedder = func(context.Context, config.EmbeddingsConfig) (embed.Embedder, error) {
			return unavailableEmbedder{embed.NewStaticEmbedder()}, nil
		}

		r := c.CheckEmbedder(context.Background())

		assert.True(t, r.IsCritical())
		assert.Equal(t, "failed", SummaryStatus([]CheckResult{r}))
	})

	t.Run("embedder cannot be built", func(t *testing.T) {
		c := New(projectConfig(t))
		c.newEmbedder = func(context.Context, config.EmbeddingsConfig) (embed.Embedder, error) {
			return nil, errors.New("connection refused")
		}

		r := c.CheckEmbedder(context.Background())

		assert.Equal(t, StatusFail, r.Status)
		assert.Equal(t, "connection refused", r.Message)
	})

	t.Run("unwritable data dir", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permissions are not enforced for root")
		}
		cfg := projectConfig(t)
		parent := filepath.Dir(cfg.Paths.DataDir)
		require.NoError(t, os.Chmod(parent, 0o500))
		t.Cleanup(func() { _ = os.Chmod(parent, 0o755) })

		r := New(cfg).CheckStorage()

		assert.True(t, r.IsCritical())
	})
}

func TestConfigFailure(t *testing.T) {
	r := ConfigFailure(errors.New("bad yaml"))

	assert.True(t, r.IsCritical())
	assert.Equal(t, "config", r.Name)
}

func TestCheckResult_JSON(t *testing.T) {
	b, err := json.Marshal(CheckResult{Name: "trusted_sites", Status: StatusWarn, Message: "no sites"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"trusted_sites","status":"warn","message":"no sites","required":false}`, string(b))
}
