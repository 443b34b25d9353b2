package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

// ProjectConfigName is the project-level config file looked up in the root dir.
const ProjectConfigName = ".careindex.yaml"

// Config represents the complete careindex configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" json:"scheduler"`
	Web        WebConfig        `yaml:"web" json:"web"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig locates the source directories and the index state.
// Relative paths are resolved against the directory passed to Load.
type PathsConfig struct {
	// DocxDir holds the office documents (fiches) to convert.
	DocxDir string `yaml:"docx_dir" json:"docx_dir"`
	// FichesDir receives the normalized JSON produced from DocxDir.
	FichesDir string `yaml:"fiches_dir" json:"fiches_dir"`
	// WebDir holds one normalized JSON document per scraped page.
	WebDir string `yaml:"web_dir" json:"web_dir"`
	// SitesFile enumerates the trusted web sites.
	SitesFile string `yaml:"sites_file" json:"sites_file"`
	// DataDir holds collections, journal, readiness flag and lock file.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// IndexConfig configures chunking and rebuilds.
type IndexConfig struct {
	// ShortDocumentRunes: documents whose body is shorter are indexed as one chunk.
	ShortDocumentRunes int           `yaml:"short_document_runes" json:"short_document_runes"`
	EmbedBatchSize     int           `yaml:"embed_batch_size" json:"embed_batch_size"`
	RebuildTimeout     time.Duration `yaml:"rebuild_timeout" json:"rebuild_timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static" (offline, deterministic) or "ollama".
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	OllamaHost string        `yaml:"ollama_host" json:"ollama_host"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	CacheSize  int           `yaml:"cache_size" json:"cache_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// RetrievalConfig configures passage selection.
type RetrievalConfig struct {
	TopKPrimary   int `yaml:"top_k_primary" json:"top_k_primary"`
	TopKSecondary int `yaml:"top_k_secondary" json:"top_k_secondary"`
	// CandidateMultiplier sizes the secondary candidate pool (TopKSecondary * multiplier).
	CandidateMultiplier int `yaml:"candidate_multiplier" json:"candidate_multiplier"`
	// MinNovelty is the novelty below which a secondary passage is dropped (0.0-1.0).
	MinNovelty float64 `yaml:"min_novelty" json:"min_novelty"`
}

// SchedulerConfig configures the watch loop.
type SchedulerConfig struct {
	Debounce       time.Duration `yaml:"debounce" json:"debounce"`
	PollInterval   time.Duration `yaml:"poll_interval" json:"poll_interval"`
	LockTimeout    time.Duration `yaml:"lock_timeout" json:"lock_timeout"`
	BackoffInitial time.Duration `yaml:"backoff_initial" json:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max" json:"backoff_max"`
}

// WebConfig configures the trusted-site scraper.
type WebConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
}

// TelemetryConfig configures local query telemetry. Nothing leaves the
// data dir.
type TelemetryConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	// UnansweredCapacity bounds the stored queries that found no fiche.
	UnansweredCapacity int `yaml:"unanswered_capacity" json:"unanswered_capacity"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DocxDir:   "data/docx",
			FichesDir: "data/fiches",
			WebDir:    "data/web",
			SitesFile: "config/trusted_sites.yaml",
			DataDir:   "data/index",
		},
		Index: IndexConfig{
			ShortDocumentRunes: 300,
			EmbedBatchSize:     32,
			RebuildTimeout:     15 * time.Minute,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "nomic-embed-text",
			OllamaHost: "",
			Dimensions: 0,
			CacheSize:  1000,
			Timeout:    30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopKPrimary:         4,
			TopKSecondary:       3,
			CandidateMultiplier: 4,
			MinNovelty:          0.3,
		},
		Scheduler: SchedulerConfig{
			Debounce:       2 * time.Second,
			PollInterval:   5 * time.Second,
			LockTimeout:    10 * time.Second,
			BackoffInitial: 5 * time.Second,
			BackoffMax:     5 * time.Minute,
		},
		Web: WebConfig{
			RequestsPerSecond: 1,
			UserAgent:         "careindex/1.0 (+trusted-sites scraper)",
			FetchTimeout:      20 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:            false,
			FlushInterval:      time.Minute,
			UnansweredCapacity: 100,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file,
// honoring XDG_CONFIG_HOME.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "careindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "careindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "careindex", "config.yaml")
}

// loadUserConfig returns nil, nil when no user config exists.
func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}

	var cfg Config
	if err := readYAML(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load loads configuration for the project rooted at dir.
// Precedence, lowest first:
//  1. Hardcoded defaults
//  2. User config (~/.config/careindex/config.yaml)
//  3. Project config (<dir>/.careindex.yaml)
//  4. <dir>/.env (never overrides variables already set)
//  5. Environment variables (CAREINDEX_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userCfg, err := loadUserConfig()
	if err != nil {
		return nil, cerrors.ConfigError("failed to load user config", err)
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	projectPath := filepath.Join(dir, ProjectConfigName)
	if fileExists(projectPath) {
		var projectCfg Config
		if err := readYAML(projectPath, &projectCfg); err != nil {
			return nil, cerrors.ConfigError("failed to load project config", err)
		}
		cfg.mergeWith(&projectCfg)
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, cerrors.ConfigError("failed to load .env", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	setString(&c.Paths.DocxDir, other.Paths.DocxDir)
	setString(&c.Paths.FichesDir, other.Paths.FichesDir)
	setString(&c.Paths.WebDir, other.Paths.WebDir)
	setString(&c.Paths.SitesFile, other.Paths.SitesFile)
	setString(&c.Paths.DataDir, other.Paths.DataDir)

	setInt(&c.Index.ShortDocumentRunes, other.Index.ShortDocumentRunes)
	setInt(&c.Index.EmbedBatchSize, other.Index.EmbedBatchSize)
	setDuration(&c.Index.RebuildTimeout, other.Index.RebuildTimeout)

	setString(&c.Embeddings.Provider, other.Embeddings.Provider)
	setString(&c.Embeddings.Model, other.Embeddings.Model)
	setString(&c.Embeddings.OllamaHost, other.Embeddings.OllamaHost)
	setInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	setInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)
	setDuration(&c.Embeddings.Timeout, other.Embeddings.Timeout)

	setInt(&c.Retrieval.TopKPrimary, other.Retrieval.TopKPrimary)
	setInt(&c.Retrieval.TopKSecondary, other.Retrieval.TopKSecondary)
	setInt(&c.Retrieval.CandidateMultiplier, other.Retrieval.CandidateMultiplier)
	if other.Retrieval.MinNovelty != 0 {
		c.Retrieval.MinNovelty = other.Retrieval.MinNovelty
	}

	setDuration(&c.Scheduler.Debounce, other.Scheduler.Debounce)
	setDuration(&c.Scheduler.PollInterval, other.Scheduler.PollInterval)
	setDuration(&c.Scheduler.LockTimeout, other.Scheduler.LockTimeout)
	setDuration(&c.Scheduler.BackoffInitial, other.Scheduler.BackoffInitial)
	setDuration(&c.Scheduler.BackoffMax, other.Scheduler.BackoffMax)

	if other.Web.RequestsPerSecond != 0 {
		c.Web.RequestsPerSecond = other.Web.RequestsPerSecond
	}
	setString(&c.Web.UserAgent, other.Web.UserAgent)
	setDuration(&c.Web.FetchTimeout, other.Web.FetchTimeout)

	if other.Telemetry.Enabled {
		c.Telemetry.Enabled = true
	}
	setDuration(&c.Telemetry.FlushInterval, other.Telemetry.FlushInterval)
	setInt(&c.Telemetry.UnansweredCapacity, other.Telemetry.UnansweredCapacity)

	setString(&c.Logging.Level, other.Logging.Level)
	setString(&c.Logging.FilePath, other.Logging.FilePath)
	setInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	setInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies CAREINDEX_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"CAREINDEX_DOCX_DIR":            &c.Paths.DocxDir,
		"CAREINDEX_FICHES_DIR":          &c.Paths.FichesDir,
		"CAREINDEX_WEB_DIR":             &c.Paths.WebDir,
		"CAREINDEX_SITES_FILE":          &c.Paths.SitesFile,
		"CAREINDEX_DATA_DIR":            &c.Paths.DataDir,
		"CAREINDEX_EMBEDDINGS_PROVIDER": &c.Embeddings.Provider,
		"CAREINDEX_EMBEDDINGS_MODEL":    &c.Embeddings.Model,
		"CAREINDEX_OLLAMA_HOST":         &c.Embeddings.OllamaHost,
		"CAREINDEX_LOG_LEVEL":           &c.Logging.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CAREINDEX_TOP_K_PRIMARY":   &c.Retrieval.TopKPrimary,
		"CAREINDEX_TOP_K_SECONDARY": &c.Retrieval.TopKSecondary,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cerrors.ConfigError(fmt.Sprintf("%s must be an integer, got %q", key, v), err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("CAREINDEX_MIN_NOVELTY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cerrors.ConfigError(fmt.Sprintf("CAREINDEX_MIN_NOVELTY must be a number, got %q", v), err)
		}
		c.Retrieval.MinNovelty = f
	}
	if v := os.Getenv("CAREINDEX_TELEMETRY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cerrors.ConfigError(fmt.Sprintf("CAREINDEX_TELEMETRY must be a boolean, got %q", v), err)
		}
		c.Telemetry.Enabled = b
	}
	if v := os.Getenv("CAREINDEX_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cerrors.ConfigError(fmt.Sprintf("CAREINDEX_DEBOUNCE must be a duration, got %q", v), err)
		}
		c.Scheduler.Debounce = d
	}
	return nil
}

// resolvePaths makes every relative path absolute against root.
func (c *Config) resolvePaths(root string) {
	for _, p := range []*string{
		&c.Paths.DocxDir, &c.Paths.FichesDir, &c.Paths.WebDir,
		&c.Paths.SitesFile, &c.Paths.DataDir,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}
}

// Validate returns a configuration error describing the first invalid field.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return cerrors.ConfigError(fmt.Sprintf(format, args...), nil)
	}

	if c.Paths.DocxDir == "" || c.Paths.WebDir == "" || c.Paths.DataDir == "" || c.Paths.FichesDir == "" {
		return invalid("paths.docx_dir, paths.fiches_dir, paths.web_dir and paths.data_dir are required")
	}
	if c.Paths.SitesFile == "" {
		return invalid("paths.sites_file is required")
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama":
	default:
		return invalid("embeddings.provider must be 'static' or 'ollama', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return invalid("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}

	if c.Retrieval.TopKPrimary < 0 || c.Retrieval.TopKSecondary < 0 {
		return invalid("retrieval.top_k_primary and top_k_secondary must be non-negative")
	}
	if c.Retrieval.CandidateMultiplier < 1 {
		return invalid("retrieval.candidate_multiplier must be at least 1, got %d", c.Retrieval.CandidateMultiplier)
	}
	if c.Retrieval.MinNovelty < 0 || c.Retrieval.MinNovelty > 1 {
		return invalid("retrieval.min_novelty must be between 0 and 1, got %f", c.Retrieval.MinNovelty)
	}

	if c.Index.ShortDocumentRunes < 0 {
		return invalid("index.short_document_runes must be non-negative, got %d", c.Index.ShortDocumentRunes)
	}
	if c.Index.EmbedBatchSize < 1 {
		return invalid("index.embed_batch_size must be at least 1, got %d", c.Index.EmbedBatchSize)
	}

	if c.Scheduler.Debounce <= 0 || c.Scheduler.PollInterval <= 0 {
		return invalid("scheduler.debounce and scheduler.poll_interval must be positive")
	}
	if c.Scheduler.BackoffMax < c.Scheduler.BackoffInitial {
		return invalid("scheduler.backoff_max (%s) must be >= backoff_initial (%s)",
			c.Scheduler.BackoffMax, c.Scheduler.BackoffInitial)
	}

	if c.Web.RequestsPerSecond <= 0 {
		return invalid("web.requests_per_second must be positive, got %f", c.Web.RequestsPerSecond)
	}

	if c.Telemetry.FlushInterval < 0 || c.Telemetry.UnansweredCapacity < 1 {
		return invalid("telemetry.flush_interval must be non-negative and telemetry.unanswered_capacity at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return invalid("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
