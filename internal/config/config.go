// Package config loads and validates catalog sync configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultUserAgent is the mobile browser identity presented to the marketplace.
const DefaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) " +
	"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	DB        DBConfig        `mapstructure:"db"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SourceConfig points at the published CSV of affiliate links.
type SourceConfig struct {
	CSVURL         string `mapstructure:"csv_url"`
	MaxRows        int    `mapstructure:"max_rows"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CatalogConfig locates the snapshot and category files and the product URL shape.
type CatalogConfig struct {
	SnapshotPath      string `mapstructure:"snapshot_path"`
	CategoriesPath    string `mapstructure:"categories_path"`
	IDPattern         string `mapstructure:"id_pattern"`
	CanonicalPattern  string `mapstructure:"canonical_pattern"`
	CanonicalTemplate string `mapstructure:"canonical_template"`
}

// SchedulerConfig bounds per-run work.
type SchedulerConfig struct {
	Concurrency             int `mapstructure:"concurrency"`
	RecheckCount            int `mapstructure:"recheck_count"`
	OperationTimeoutSeconds int `mapstructure:"operation_timeout_seconds"`
}

// HTTPConfig configures plain HTTP fetches and the redirect tier.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	AcceptLanguage string `mapstructure:"accept_language"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRedirects   int    `mapstructure:"max_redirects"`
}

// HeadlessConfig configures the shared browsing session.
type HeadlessConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	MaxTabs         int      `mapstructure:"max_tabs"`
	NavTimeoutSec   int      `mapstructure:"nav_timeout_seconds"`
	BlockedPatterns []string `mapstructure:"blocked_patterns"`
	DomainQPS       float64  `mapstructure:"domain_qps"`
	DomainBurst     int      `mapstructure:"domain_burst"`
	ExecPath        string   `mapstructure:"exec_path"`
}

// ExtractConfig tunes product page extraction.
type ExtractConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	SettleMs       int    `mapstructure:"settle_ms"`
	ImageMarker    string `mapstructure:"image_marker"`
}

// ArchiveConfig selects where snapshot copies are archived.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres catalog mirror.
type DBConfig struct {
	DSN           string `mapstructure:"dsn"`
	ProductsTable string `mapstructure:"products_table"`
	RunsTable     string `mapstructure:"runs_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// NotifyConfig selects how run summaries are published.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig configures the optional Pushgateway push at run end.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ServerConfig controls the status server kept up during a run.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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

// bindLegacyEnv keeps the bare variable names used by existing deployments working.
// The prefixed name is listed first so it wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"source.csv_url":          "SHEET_CSV_URL",
		"source.max_rows":         "MAX_ROWS",
		"scheduler.recheck_count": "RECHECK_EXISTING",
		"scheduler.concurrency":   "CONCURRENCY",
		"server.port":             "PORT",
	}
	for key, env := range legacy {
		prefixed := "CATALOG_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.csv_url", "")
	v.SetDefault("source.max_rows", 80)
	v.SetDefault("source.max_attempts", 3)
	v.SetDefault("source.timeout_seconds", 20)
	v.SetDefault("catalog.snapshot_path", "public/data/products.json")
	v.SetDefault("catalog.categories_path", "public/config/categories.json")
	v.SetDefault("catalog.id_pattern", "")
	v.SetDefault("catalog.canonical_pattern", "")
	v.SetDefault("catalog.canonical_template", "")
	v.SetDefault("scheduler.concurrency", 6)
	v.SetDefault("scheduler.recheck_count", 40)
	v.SetDefault("scheduler.operation_timeout_seconds", 90)
	v.SetDefault("http.user_agent", DefaultUserAgent)
	v.SetDefault("http.accept_language", "en-US,en;q=0.9")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_tabs", 0)
	v.SetDefault("headless.nav_timeout_seconds", 15)
	v.SetDefault("headless.blocked_patterns", []string{"install", "app-redirect", "umeng", "byteoversea", "gtm", "analytics"})
	v.SetDefault("headless.domain_qps", 0.0)
	v.SetDefault("headless.domain_burst", 1)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("extract.timeout_seconds", 20)
	v.SetDefault("extract.settle_ms", 400)
	v.SetDefault("extract.image_marker", "media")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "catalog")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.products_table", "catalog_products")
	v.SetDefault("db.runs_table", "catalog_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("notify.backend", "none")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic_name", "catalog-runs")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "catalogsync")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Source.CSVURL) == "" {
		return fmt.Errorf("source.csv_url is required")
	}
	if c.Source.MaxRows <= 0 {
		return fmt.Errorf("source.max_rows must be > 0")
	}
	if c.Source.MaxAttempts <= 0 {
		return fmt.Errorf("source.max_attempts must be > 0")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if c.Scheduler.RecheckCount < 0 {
		return fmt.Errorf("scheduler.recheck_count must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRedirects <= 0 {
		return fmt.Errorf("http.max_redirects must be > 0")
	}
	if c.Headless.MaxTabs < 0 {
		return fmt.Errorf("headless.max_tabs must be >= 0")
	}
	if c.Headless.DomainQPS < 0 {
		return fmt.Errorf("headless.domain_qps must be >= 0")
	}
	if c.Extract.TimeoutSeconds <= 0 {
		return fmt.Errorf("extract.timeout_seconds must be > 0")
	}
	if c.Catalog.SnapshotPath == "" {
		return fmt.Errorf("catalog.snapshot_path is required")
	}
	switch c.Archive.Backend {
	case "none", "local", "memory":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	switch c.Notify.Backend {
	case "none", "memory":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.TopicName == "" {
			return fmt.Errorf("notify.project_id and notify.topic_name must be set when notify.backend is pubsub")
		}
	default:
		return fmt.Errorf("unknown notify.backend %q", c.Notify.Backend)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// HTTPTimeout is the per-request budget for plain fetches and the redirect tier.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RenderTimeout bounds one resolver navigation in the browser.
func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// ExtractTimeout bounds one product page load.
func (c Config) ExtractTimeout() time.Duration {
	return time.Duration(c.Extract.TimeoutSeconds) * time.Second
}

// Settle is the pause between document ready and the DOM snapshot.
func (c Config) Settle() time.Duration {
	return time.Duration(c.Extract.SettleMs) * time.Millisecond
}

// SourceTimeout bounds the CSV download.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// OperationTimeout bounds one scheduler operation; zero disables the bound.
func (c Config) OperationTimeout() time.Duration {
	return time.Duration(c.Scheduler.OperationTimeoutSeconds) * time.Second
}

// Addr is the listen address of the status server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
