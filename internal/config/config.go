package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// EmbeddingsConfig selects the embedding oracle.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Variant  string `yaml:"variant,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// OCRConfig selects the text-extraction oracle.
type OCRConfig struct {
	Enabled bool   `yaml:"enabled"`
	Engine  string `yaml:"engine"`
	Binary  string `yaml:"binary,omitempty"`
	Lang    string `yaml:"lang,omitempty"`
}

// IndexerConfig tunes indexing runs.
type IndexerConfig struct {
	Workers    int `yaml:"workers,omitempty"`
	RecentDays int `yaml:"recent_days,omitempty"`
}

// DefaultOCRWeight is the hybrid text weight used when ocr_weight is absent.
const DefaultOCRWeight = 0.55

// SearchConfig holds search defaults used when a caller leaves a field unset.
// OCRWeight is a pointer so that an explicit 0 (pure visual ranking) survives
// defaulting.
type SearchConfig struct {
	K         int      `yaml:"k,omitempty"`
	OCRWeight *float64 `yaml:"ocr_weight,omitempty"`
	Mode      string   `yaml:"mode,omitempty"`
}

// TextWeight returns OCRWeight, or DefaultOCRWeight when it is unset.
func (s SearchConfig) TextWeight() float64 {
	if s.OCRWeight == nil {
		return DefaultOCRWeight
	}
	return *s.OCRWeight
}

// JobsConfig controls the in-memory job table.
type JobsConfig struct {
	Retain int `yaml:"retain,omitempty"`
}

// ServerConfig controls the local HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// ScheduleConfig enables periodic re-indexing of Roots.
type ScheduleConfig struct {
	ReindexCron string `yaml:"reindex_cron,omitempty"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Config is the in-memory representation of ~/.merlian/merlian.yaml.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Roots      []string         `yaml:"roots,omitempty"`
	Device     string           `yaml:"device,omitempty"`
	Excludes   []string         `yaml:"excludes,omitempty"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	OCR        OCRConfig        `yaml:"ocr"`
	Indexer    IndexerConfig    `yaml:"indexer,omitempty"`
	Search     SearchConfig     `yaml:"search,omitempty"`
	Jobs       JobsConfig       `yaml:"jobs,omitempty"`
	Server     ServerConfig     `yaml:"server,omitempty"`
	Schedule   ScheduleConfig   `yaml:"schedule,omitempty"`
	Log        LogConfig        `yaml:"log,omitempty"`
}

// AppDir returns the absolute path to ~/.merlian/, or $MERLIAN_HOME when set.
func AppDir() (string, error) {
	if v := strings.TrimSpace(os.Getenv("MERLIAN_HOME")); v != "" {
		return ExpandPath(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".merlian"), nil
}

// ConfigPath returns the absolute path to merlian.yaml.
func ConfigPath() (string, error) {
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "merlian.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// DefaultConfig returns the Config written by merlian init.
func DefaultConfig() (*Config, error) {
	dir, err := AppDir()
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		DataDir: filepath.Join(dir, "data"),
		Device:  "auto",
		Excludes: []string{
			".DS_Store",
			"Thumbs.db",
			"*.tmp",
			"node_modules/",
			".git/",
		},
		Embeddings: EmbeddingsConfig{
			Provider: "clip-http",
			Model:    "ViT-B-32",
			Variant:  "laion2b_s34b_b79k",
			BaseURL:  "http://127.0.0.1:8009",
		},
		OCR: OCRConfig{
			Enabled: true,
			Engine:  "tesseract",
			Binary:  "tesseract",
			Lang:    "eng",
		},
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values. It never overrides explicit settings.
func (c *Config) applyDefaults() {
	if c.Device == "" {
		c.Device = "auto"
	}
	if c.Indexer.Workers <= 0 {
		c.Indexer.Workers = runtime.NumCPU() / 2
		if c.Indexer.Workers < 1 {
			c.Indexer.Workers = 1
		}
	}
	if c.Indexer.RecentDays <= 0 {
		c.Indexer.RecentDays = 30
	}
	if c.Search.K <= 0 {
		c.Search.K = 12
	}
	if c.Search.OCRWeight == nil {
		w := DefaultOCRWeight
		c.Search.OCRWeight = &w
	}
	if c.Search.Mode == "" {
		c.Search.Mode = "hybrid"
	}
	if c.Jobs.Retain <= 0 {
		c.Jobs.Retain = 50
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8008"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.OCR.Engine == "" {
		c.OCR.Engine = "none"
	}
	if c.OCR.Binary == "" {
		c.OCR.Binary = "tesseract"
	}
}

// applyEnv lets environment variables and ~/.merlian/.env override file values.
func (c *Config) applyEnv() error {
	overrides := []struct {
		key string
		dst *string
	}{
		{"MERLIAN_DATA_DIR", &c.DataDir},
		{"MERLIAN_DEVICE", &c.Device},
		{"MERLIAN_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider},
		{"MERLIAN_EMBEDDINGS_MODEL", &c.Embeddings.Model},
		{"MERLIAN_EMBEDDINGS_VARIANT", &c.Embeddings.Variant},
		{"MERLIAN_EMBEDDINGS_BASE_URL", &c.Embeddings.BaseURL},
		{"MERLIAN_EMBEDDINGS_API_KEY", &c.Embeddings.APIKey},
		{"MERLIAN_LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		v, err := GetConfigValue(o.key)
		if err != nil {
			return err
		}
		if v != "" {
			*o.dst = v
		}
	}
	return nil
}

// Load reads and parses merlian.yaml. A missing file yields DefaultConfig so
// that search and status work before merlian init has been run.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
		cfg, err := DefaultConfig()
		if err != nil {
			return nil, err
		}
		if err := cfg.applyEnv(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Parse(data)
}

// Parse decodes yaml config bytes, expands paths and applies defaults and env overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		dir, err := AppDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = filepath.Join(dir, "data")
	}
	var err error
	cfg.DataDir, err = ExpandPath(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	for i, r := range cfg.Roots {
		if cfg.Roots[i], err = ExpandPath(r); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save marshals cfg and writes it to merlian.yaml.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}
