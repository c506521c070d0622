// Package config loads and validates b3data configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Portal   PortalConfig   `mapstructure:"portal"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Output   OutputConfig   `mapstructure:"output"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	DB       DBConfig       `mapstructure:"db"`
	Load     LoadConfig     `mapstructure:"load"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PortalConfig points at the quote page and describes which links to keep.
type PortalConfig struct {
	URL        string `mapstructure:"url"`
	Marker     string `mapstructure:"marker"`
	OffsetDays int    `mapstructure:"offset_days"`
	Timezone   string `mapstructure:"timezone"`
}

// BrowserConfig selects and tunes the page driver used for link discovery.
type BrowserConfig struct {
	Driver    string        `mapstructure:"driver"`
	ExecPath  string        `mapstructure:"exec_path"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// HTTPConfig configures the shared download client.
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// FetchConfig bounds the download fan-out.
type FetchConfig struct {
	Concurrency   int     `mapstructure:"concurrency"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// OutputConfig holds the final and staging directories.
type OutputConfig struct {
	Dir        string `mapstructure:"dir"`
	StagingDir string `mapstructure:"staging_dir"`
}

// ExtractConfig toggles archive unpacking.
type ExtractConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Extension string `mapstructure:"extension"`
}

// StorageConfig sets an optional GCS mirror for extracted members.
type StorageConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for run report notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls access to the trade database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoadConfig tunes the trade loader.
type LoadConfig struct {
	Dir         string `mapstructure:"dir"`
	BatchSize   int    `mapstructure:"batch_size"`
	Concurrency int    `mapstructure:"concurrency"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// MetricsConfig exposes /metrics while a fetch run is in progress.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProgressConfig selects the progress indicator.
type ProgressConfig struct {
	Mode string `mapstructure:"mode"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Browser drivers.
const (
	DriverChromedp = "chromedp"
	DriverStatic   = "static"
)

// Progress modes.
const (
	ProgressBar  = "bar"
	ProgressLog  = "log"
	ProgressNone = "none"
)

// DefaultPortalURL is the B3 historical quotes page.
const DefaultPortalURL = "https://www.b3.com.br/pt_br/market-data-e-indices/servicos-de-dados/market-data/cotacoes/cotacoes/"

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("B3")
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
	if cfg.Output.StagingDir == "" {
		cfg.Output.StagingDir = filepath.Join(cfg.Output.Dir, ".staging")
	}
	if cfg.Load.Dir == "" {
		cfg.Load.Dir = cfg.Output.Dir
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("portal.url", DefaultPortalURL)
	v.SetDefault("portal.marker", "tickercsv")
	v.SetDefault("portal.offset_days", 7)
	v.SetDefault("portal.timezone", "America/Sao_Paulo")
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.timeout", "60s")
	v.SetDefault("http.timeout", "2m")
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.rate_per_second", 0)
	v.SetDefault("output.dir", "downloads")
	v.SetDefault("output.staging_dir", "")
	v.SetDefault("extract.enabled", true)
	v.SetDefault("extract.extension", ".txt")
	v.SetDefault("storage.prefix", "quotes")
	v.SetDefault("storage.content_type", "text/plain; charset=utf-8")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("load.batch_size", 1000)
	v.SetDefault("load.concurrency", 4)
	v.SetDefault("server.port", 8000)
	v.SetDefault("progress.mode", ProgressBar)
	v.SetDefault("logging.development", true)
}

// bindLegacyEnv keeps the variable names used by the first scraper working.
// The prefixed name wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string][]string{
		"portal.url":         {"B3_PORTAL_URL", "B3_URL"},
		"output.dir":         {"B3_OUTPUT_DIR", "DOWNLOADS_DIR", "DOWLOADS_DIR"},
		"portal.offset_days": {"B3_PORTAL_OFFSET_DAYS", "OFFSET"},
		"db.dsn":             {"B3_DB_DSN", "DATABASE_URL"},
		"server.port":        {"B3_SERVER_PORT", "PORT"},
	}
	for key, names := range legacy {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Portal.URL) == "" {
		return fmt.Errorf("portal.url is required")
	}
	if c.Portal.Marker == "" {
		return fmt.Errorf("portal.marker is required")
	}
	if c.Portal.OffsetDays < 0 {
		return fmt.Errorf("portal.offset_days must be >= 0")
	}
	if _, err := time.LoadLocation(c.Portal.Timezone); err != nil {
		return fmt.Errorf("portal.timezone: %w", err)
	}
	switch c.Browser.Driver {
	case DriverChromedp, DriverStatic:
	default:
		return fmt.Errorf("browser.driver must be %q or %q", DriverChromedp, DriverStatic)
	}
	if c.Browser.Timeout <= 0 {
		return fmt.Errorf("browser.timeout must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Fetch.RatePerSecond < 0 {
		return fmt.Errorf("fetch.rate_per_second must be >= 0")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if filepath.Clean(c.Output.StagingDir) == filepath.Clean(c.Output.Dir) {
		return fmt.Errorf("output.staging_dir must differ from output.dir")
	}
	if c.Extract.Enabled && c.Extract.Extension == "" {
		return fmt.Errorf("extract.extension is required when extraction is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Load.BatchSize <= 0 {
		return fmt.Errorf("load.batch_size must be > 0")
	}
	if c.Load.Concurrency <= 0 {
		return fmt.Errorf("load.concurrency must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Progress.Mode {
	case ProgressBar, ProgressLog, ProgressNone:
	default:
		return fmt.Errorf("progress.mode must be one of %q, %q, %q", ProgressBar, ProgressLog, ProgressNone)
	}
	return nil
}

// Location returns the portal timezone used to compute "today".
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Portal.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
