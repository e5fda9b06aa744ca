// Package config loads and validates posterwatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// AppName names the XDG config directory and the env prefix.
const AppName = "posterwatch"

// Catalog sources.
const (
	CatalogMemory   = "memory"
	CatalogPostgres = "postgres"
	CatalogHTML     = "html"
)

// Probe transports.
const (
	TransportHTTP     = "http"
	TransportHeadless = "headless"
)

// Report storage backends.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Loader   LoaderConfig   `mapstructure:"loader"`
	Report   ReportConfig   `mapstructure:"report"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CatalogConfig selects where the resource list comes from.
type CatalogConfig struct {
	Source     string         `mapstructure:"source"`
	SeedFile   string         `mapstructure:"seed_file"`
	PageURL    string         `mapstructure:"page_url"`
	Selector   string         `mapstructure:"selector"`
	EagerFirst int            `mapstructure:"eager_first"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls access to the catalog database.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	IDColumn    string `mapstructure:"id_column"`
	TitleColumn string `mapstructure:"title_column"`
	URLColumn   string `mapstructure:"url_column"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// ProbeConfig governs how poster URLs are checked.
type ProbeConfig struct {
	Transport      string         `mapstructure:"transport"`
	Timeout        time.Duration  `mapstructure:"timeout"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	Concurrency    int            `mapstructure:"concurrency"`
	UserAgent      string         `mapstructure:"user_agent"`
	SkipVerify     bool           `mapstructure:"skip_verify"`
	RateLimitRPS   float64        `mapstructure:"rate_limit_rps"`
	RateLimitBurst int            `mapstructure:"rate_limit_burst"`
	Headless       HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the browser transport.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
}

// LoaderConfig tunes the resilient loader.
type LoaderConfig struct {
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	ProxyBaseURL string        `mapstructure:"proxy_base_url"`
}

// ReportConfig sets where finished scan reports are exported.
type ReportConfig struct {
	Storage   string `mapstructure:"storage"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for scan-completed notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig sizes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// DefaultConfigDir returns the XDG config directory for posterwatch.
// On Linux: ~/.config/posterwatch
func DefaultConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Load builds a Config from disk/environment. With an empty path the XDG
// config directory is searched for config.yaml; a missing file there is not
// an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("catalog.source", CatalogMemory)
	v.SetDefault("catalog.seed_file", "")
	v.SetDefault("catalog.page_url", "")
	v.SetDefault("catalog.selector", "img")
	v.SetDefault("catalog.eager_first", 0)
	v.SetDefault("catalog.postgres.dsn", "")
	v.SetDefault("catalog.postgres.table", "movies")
	v.SetDefault("catalog.postgres.id_column", "id")
	v.SetDefault("catalog.postgres.title_column", "title")
	v.SetDefault("catalog.postgres.url_column", "cover_url")
	v.SetDefault("catalog.postgres.max_conns", 4)
	v.SetDefault("probe.transport", TransportHTTP)
	v.SetDefault("probe.timeout", "5s")
	v.SetDefault("probe.request_timeout", "15s")
	v.SetDefault("probe.concurrency", 1)
	v.SetDefault("probe.user_agent", "posterwatch/1.0")
	v.SetDefault("probe.skip_verify", false)
	v.SetDefault("probe.rate_limit_rps", 0)
	v.SetDefault("probe.rate_limit_burst", 1)
	v.SetDefault("probe.headless.max_parallel", 2)
	v.SetDefault("probe.headless.nav_timeout", "20s")
	v.SetDefault("loader.stage_timeout", "1500ms")
	v.SetDefault("loader.proxy_base_url", "https://wsrv.nl/")
	v.SetDefault("report.storage", StorageNone)
	v.SetDefault("report.prefix", "reports")
	v.SetDefault("report.local_dir", filepath.Join(xdg.DataHome, AppName, "reports"))
	v.SetDefault("report.gcs_bucket", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "posterwatch-scans")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.Catalog.validate(); err != nil {
		return err
	}
	if err := c.Probe.validate(); err != nil {
		return err
	}
	if c.Loader.StageTimeout <= 0 {
		return fmt.Errorf("loader.stage_timeout must be > 0")
	}
	if c.Loader.ProxyBaseURL == "" {
		return fmt.Errorf("loader.proxy_base_url is required")
	}
	if err := c.Report.validate(); err != nil {
		return err
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	return nil
}

func (c CatalogConfig) validate() error {
	switch c.Source {
	case CatalogMemory:
	case CatalogPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("catalog.postgres.dsn is required for the postgres catalog")
		}
	case CatalogHTML:
		if c.PageURL == "" {
			return fmt.Errorf("catalog.page_url is required for the html catalog")
		}
	default:
		return fmt.Errorf("catalog.source %q must be one of memory, postgres, html", c.Source)
	}
	if c.EagerFirst < 0 {
		return fmt.Errorf("catalog.eager_first must be >= 0")
	}
	return nil
}

func (c ProbeConfig) validate() error {
	switch c.Transport {
	case TransportHTTP:
	case TransportHeadless:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("probe.headless.max_parallel must be > 0 when the headless transport is used")
		}
	default:
		return fmt.Errorf("probe.transport %q must be http or headless", c.Transport)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be > 0")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("probe.concurrency must be > 0")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("probe.rate_limit_rps must be >= 0")
	}
	return nil
}

func (c ReportConfig) validate() error {
	switch c.Storage {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.LocalDir == "" {
			return fmt.Errorf("report.local_dir is required for local report storage")
		}
	case StorageGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("report.gcs_bucket is required for gcs report storage")
		}
	default:
		return fmt.Errorf("report.storage %q must be one of none, memory, local, gcs", c.Storage)
	}
	return nil
}
