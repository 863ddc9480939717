package platform

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/portal-pesantren/portal-sub001/pkg/cache"
	"github.com/portal-pesantren/portal-sub001/pkg/catalog"
	"github.com/portal-pesantren/portal-sub001/pkg/client"
	"github.com/portal-pesantren/portal-sub001/pkg/dataset"
	"github.com/portal-pesantren/portal-sub001/pkg/guard"
	"github.com/portal-pesantren/portal-sub001/pkg/search"
)

// Persistence backends for the session and the dataset.
const (
	PersistMemory   = "memory"
	PersistFile     = "file"
	PersistPostgres = "postgres"
)

// Config is the client platform configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Cache    CacheConfig    `yaml:"cache"`
	Search   SearchConfig   `yaml:"search"`
	Session  SessionConfig  `yaml:"session"`
	Guard    guard.Config   `yaml:"guard"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

// APIConfig configures the HTTP client.
type APIConfig struct {
	// BaseURL is the versioned API root, e.g. http://localhost:8000/api/v1.
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// CacheConfig configures the entity cache.
type CacheConfig struct {
	// GCWindow is how long an unused entry survives.
	GCWindow time.Duration `yaml:"gc_window"`

	// MaxRetries is the retry budget for transient failures. A negative
	// value disables retries.
	MaxRetries int           `yaml:"max_retries"`
	RetryBase  time.Duration `yaml:"retry_base"`
	RetryMax   time.Duration `yaml:"retry_max"`

	// Windows are the per-kind staleness windows.
	Windows catalog.Windows `yaml:"windows"`
}

// SearchConfig configures the search coordinator.
type SearchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Limit    int           `yaml:"limit"`
}

// SessionConfig configures the auth session store.
type SessionConfig struct {
	// Persist selects where tokens are kept: memory, file or postgres.
	Persist string `yaml:"persist"`

	// File is the YAML file used by the file backend.
	File string `yaml:"file"`

	// Profile namespaces values in the postgres backend.
	Profile string `yaml:"profile"`

	// TTL expires persisted values in the postgres backend.
	TTL time.Duration `yaml:"ttl"`

	// CleanupInterval is how often expired postgres values are removed.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	StrictRevalidation bool          `yaml:"strict_revalidation"`
	RevalidateTimeout  time.Duration `yaml:"revalidate_timeout"`
}

// DatasetConfig configures the local listing snapshot used by search
// fallback.
type DatasetConfig struct {
	Capacity int `yaml:"capacity"`

	// Seed is an optional YAML file loaded at startup.
	Seed string `yaml:"seed"`

	// Persist selects where the snapshot is mirrored: memory (none), file
	// or postgres.
	Persist string `yaml:"persist"`

	// File is the YAML file used by the file backend.
	File string `yaml:"file"`
}

// DatabaseConfig configures the optional PostgreSQL connection.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`

	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by the operator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration, expanding ${VAR} references and
// applying defaults.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = client.DefaultBaseURL
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = client.DefaultTimeout
	}
	if cfg.API.UserAgent == "" {
		cfg.API.UserAgent = "portal-pesantren-client"
	}
	if cfg.Cache.MaxRetries == 0 {
		cfg.Cache.MaxRetries = 3
	}
	if cfg.Cache.RetryBase == 0 {
		cfg.Cache.RetryBase = time.Second
	}
	if cfg.Cache.RetryMax == 0 {
		cfg.Cache.RetryMax = 30 * time.Second
	}
	if cfg.Search.Debounce == 0 {
		cfg.Search.Debounce = search.DefaultDelay
	}
	if cfg.Search.Limit == 0 {
		cfg.Search.Limit = 20
	}
	if cfg.Session.Persist == "" {
		cfg.Session.Persist = PersistFile
	}
	if cfg.Session.Persist == PersistFile && cfg.Session.File == "" {
		cfg.Session.File = defaultStateFile("session.yaml")
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = time.Hour
	}
	if cfg.Dataset.Capacity == 0 {
		cfg.Dataset.Capacity = dataset.DefaultCapacity
	}
	if cfg.Dataset.Persist == "" {
		cfg.Dataset.Persist = PersistFile
	}
	if cfg.Dataset.Persist == PersistFile && cfg.Dataset.File == "" {
		cfg.Dataset.File = defaultStateFile("dataset.yaml")
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// defaultStateFile places name in the user config directory.
func defaultStateFile(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".portal-" + name
	}
	return filepath.Join(dir, "portal-pesantren", name)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.API.BaseURL); err != nil || !u.IsAbs() {
		errs = append(errs, "api.base_url must be an absolute URL")
	}
	if c.API.Timeout < 0 {
		errs = append(errs, "api.timeout must not be negative")
	}

	switch c.Session.Persist {
	case PersistMemory:
	case PersistFile:
		if c.Session.File == "" {
			errs = append(errs, "session.file is required for file persistence")
		}
	case PersistPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for postgres session persistence")
		}
	default:
		errs = append(errs, fmt.Sprintf("session.persist must be one of memory, file, postgres (got %q)", c.Session.Persist))
	}

	switch c.Dataset.Persist {
	case PersistMemory:
	case PersistFile:
		if c.Dataset.File == "" {
			errs = append(errs, "dataset.file is required for file persistence")
		}
	case PersistPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for postgres dataset persistence")
		}
	default:
		errs = append(errs, fmt.Sprintf("dataset.persist must be one of memory, file, postgres (got %q)", c.Dataset.Persist))
	}
	if c.Dataset.Capacity < 0 {
		errs = append(errs, "dataset.capacity must not be negative")
	}
	if c.Search.Debounce < 0 {
		errs = append(errs, "search.debounce must not be negative")
	}
	for _, p := range c.Guard.Protected {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Sprintf("guard.protected entry %q must start with /", p))
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, "log.format must be text or json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return l, fmt.Errorf("log.level %q is not a valid level", level)
	}
	return l, nil
}

// NewLogger builds the slog logger described by the log section.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// RetryPolicy returns the cache retry policy. A negative MaxRetries
// disables retries.
func (c CacheConfig) RetryPolicy() cache.RetryPolicy {
	if c.MaxRetries < 0 {
		return cache.NoRetry()
	}
	return cache.RetryPolicy{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.RetryBase,
		MaxDelay:   c.RetryMax,
	}
}
