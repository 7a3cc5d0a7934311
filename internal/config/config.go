// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/proxy-harvester/internal/export"
	"github.com/JakeFAU/proxy-harvester/internal/harvest"
	"github.com/JakeFAU/proxy-harvester/internal/pipeline"
	"github.com/JakeFAU/proxy-harvester/internal/proxy"
	"github.com/JakeFAU/proxy-harvester/internal/validate"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_VALIDATE_TIMEOUT_SECONDS.
const EnvPrefix = "HARVESTER"

// Resolver and storage selectors.
const (
	ResolverRandom  = "random"
	ResolverGeoIP   = "geoip"
	ResolverHeaders = "headers"

	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Logging    LoggingConfig      `mapstructure:"logging"`
	Harvest    HarvestConfig      `mapstructure:"harvest"`
	Validation ValidateConfig     `mapstructure:"validate"`
	Filter     proxy.FilterConfig `mapstructure:"filter"`
	Resolve    ResolveConfig      `mapstructure:"resolve"`
	Storage    StorageConfig      `mapstructure:"storage"`
	Export     ExportConfig       `mapstructure:"export"`
	PubSub     PubSubConfig       `mapstructure:"pubsub"`
	Progress   ProgressConfig     `mapstructure:"progress"`
	Tracing    TracingConfig      `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HarvestConfig governs source fetching.
type HarvestConfig struct {
	Sources             []string `mapstructure:"sources"`
	BatchSize           int      `mapstructure:"batch_size"`
	RatePerSecond       int      `mapstructure:"rate_per_second"`
	FetchTimeoutSeconds int      `mapstructure:"fetch_timeout_seconds"`
	MaxAttempts         int      `mapstructure:"max_attempts"`
	UserAgent           string   `mapstructure:"user_agent"`
}

// ValidateConfig governs probing.
type ValidateConfig struct {
	ProxyType      string `mapstructure:"proxy_type"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
	EchoURL        string `mapstructure:"echo_url"`
}

// ResolveConfig selects the country and anonymity resolvers.
type ResolveConfig struct {
	Country   string `mapstructure:"country"`
	GeoIPDB   string `mapstructure:"geoip_db"`
	Anonymity string `mapstructure:"anonymity"`
	// PublicIP overrides discovery for the header resolver.
	PublicIP string `mapstructure:"public_ip"`
}

// StorageConfig selects and configures the proxy store.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int    `mapstructure:"max_conns"`
}

// ExportConfig sets the export destination and default format.
type ExportConfig struct {
	Dir       string `mapstructure:"dir"`
	Format    string `mapstructure:"format"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// PubSubConfig holds metadata for publishing validated proxies.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// TracingConfig toggles OpenTelemetry spans around runs.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith reads configuration into v, which may carry bound CLI flags.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("harvest.sources", harvest.DefaultSources)
	v.SetDefault("harvest.batch_size", 10)
	v.SetDefault("harvest.rate_per_second", 5)
	v.SetDefault("harvest.fetch_timeout_seconds", 10)
	v.SetDefault("harvest.max_attempts", 1)
	v.SetDefault("harvest.user_agent", "Mozilla/5.0 (compatible; proxy-harvester/1.0)")
	v.SetDefault("validate.proxy_type", string(proxy.TypeHTTP))
	v.SetDefault("validate.timeout_seconds", 5)
	v.SetDefault("validate.max_concurrency", 50)
	v.SetDefault("validate.echo_url", validate.DefaultEchoURL)
	v.SetDefault("filter.country", "")
	v.SetDefault("filter.anonymity", proxy.FilterAll)
	v.SetDefault("filter.speed", proxy.FilterAll)
	v.SetDefault("resolve.country", ResolverRandom)
	v.SetDefault("resolve.anonymity", ResolverRandom)
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "proxies.db")
	v.SetDefault("storage.table", "proxies")
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("export.dir", ".")
	v.SetDefault("export.format", string(export.FormatTXT))
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "proxy-harvester")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Harvest.Sources) == 0 {
		return fmt.Errorf("harvest.sources must not be empty")
	}
	if c.Harvest.BatchSize <= 0 {
		return fmt.Errorf("harvest.batch_size must be > 0")
	}
	if c.Harvest.RatePerSecond <= 0 {
		return fmt.Errorf("harvest.rate_per_second must be > 0")
	}
	if c.Harvest.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("harvest.fetch_timeout_seconds must be > 0")
	}
	if c.Harvest.MaxAttempts <= 0 {
		return fmt.Errorf("harvest.max_attempts must be > 0")
	}
	if c.Validation.TimeoutSeconds <= 0 {
		return fmt.Errorf("validate.timeout_seconds must be > 0")
	}
	if c.Validation.MaxConcurrency <= 0 {
		return fmt.Errorf("validate.max_concurrency must be > 0")
	}
	if _, err := proxy.ParseType(c.Validation.ProxyType); err != nil {
		return fmt.Errorf("validate.proxy_type: %w", err)
	}
	if err := c.Filter.Validate(); err != nil {
		return err
	}
	switch c.Resolve.Country {
	case ResolverRandom:
	case ResolverGeoIP:
		if c.Resolve.GeoIPDB == "" {
			return fmt.Errorf("resolve.geoip_db must be set when resolve.country is geoip")
		}
	default:
		return fmt.Errorf("resolve.country must be one of random, geoip")
	}
	if c.Resolve.Anonymity != ResolverRandom && c.Resolve.Anonymity != ResolverHeaders {
		return fmt.Errorf("resolve.anonymity must be one of random, headers")
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, sqlite, postgres")
	}
	if _, err := export.ParseFormat(c.Export.Format); err != nil {
		return fmt.Errorf("export.format: %w", err)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// RunSettings converts the configuration into pipeline settings.
func (c Config) RunSettings() pipeline.Settings {
	proxyType, _ := proxy.ParseType(c.Validation.ProxyType)
	return pipeline.Settings{
		Sources:       append([]string(nil), c.Harvest.Sources...),
		ProxyType:     proxyType,
		Timeout:       time.Duration(c.Validation.TimeoutSeconds) * time.Second,
		Concurrency:   c.Validation.MaxConcurrency,
		BatchSize:     c.Harvest.BatchSize,
		RatePerSecond: c.Harvest.RatePerSecond,
		FetchTimeout:  time.Duration(c.Harvest.FetchTimeoutSeconds) * time.Second,
		Filter:        c.Filter.Normalize(),
	}
}

// ShutdownTimeout is the grace period for the HTTP server.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
