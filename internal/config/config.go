package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Grid       GridConfig       `yaml:"grid" mapstructure:"grid"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Categories CategoriesConfig `yaml:"categories" mapstructure:"categories"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	NATS       NATSConfig       `yaml:"nats" mapstructure:"nats"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GridConfig configures the spatial grid.
type GridConfig struct {
	Resolution int `yaml:"resolution" mapstructure:"resolution"`
}

// ScoringConfig configures route and snapshot scoring.
type ScoringConfig struct {
	LookbackMonths     int     `yaml:"lookback_months" mapstructure:"lookback_months"`
	BufferMeters       float64 `yaml:"buffer_meters" mapstructure:"buffer_meters"`
	SegmentLengthM     float64 `yaml:"segment_length_m" mapstructure:"segment_length_m"`
	MaxSegmentLengthM  float64 `yaml:"max_segment_length_m" mapstructure:"max_segment_length_m"`
	MaxSegments        int     `yaml:"max_segments" mapstructure:"max_segments"`
	HotspotMultiplier  float64 `yaml:"hotspot_multiplier" mapstructure:"hotspot_multiplier"`
	CriticalMultiplier float64 `yaml:"critical_multiplier" mapstructure:"critical_multiplier"`
	FetchConcurrency   int     `yaml:"fetch_concurrency" mapstructure:"fetch_concurrency"`
}

// CategoriesConfig points at an optional YAML category table.
type CategoriesConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// IngestConfig configures pulling incidents from the police.uk API.
// Area is "min_lng,min_lat,max_lng,max_lat".
type IngestConfig struct {
	PoliceAPIURL  string `yaml:"police_api_url" mapstructure:"police_api_url"`
	ForceID       string `yaml:"force_id" mapstructure:"force_id"`
	Area          string `yaml:"area" mapstructure:"area"`
	MaxSplitDepth int    `yaml:"max_split_depth" mapstructure:"max_split_depth"`
}

// CacheConfig configures the snapshot cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
	TTLSecs    int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// NATSConfig configures cross-instance cache invalidation. An empty URL
// disables it.
type NATSConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Subject string `yaml:"subject" mapstructure:"subject"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	AdminToken         string   `yaml:"admin_token" mapstructure:"admin_token"`
}

// RetryConfig configures retry and circuit breaking on cell reads.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SAFEROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "saferoute.db")
	v.SetDefault("grid.resolution", 10)
	v.SetDefault("scoring.lookback_months", 12)
	v.SetDefault("scoring.buffer_meters", 50.0)
	v.SetDefault("scoring.segment_length_m", 100.0)
	v.SetDefault("scoring.max_segment_length_m", 200.0)
	v.SetDefault("scoring.max_segments", 200)
	v.SetDefault("scoring.hotspot_multiplier", 1.5)
	v.SetDefault("scoring.critical_multiplier", 2.0)
	v.SetDefault("scoring.fetch_concurrency", 4)
	v.SetDefault("ingest.police_api_url", "https://data.police.uk/api")
	v.SetDefault("ingest.max_split_depth", 4)
	v.SetDefault("cache.max_entries", 256)
	v.SetDefault("cache.ttl_secs", 3600)
	v.SetDefault("nats.subject", "saferoute.cells.invalidated")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 100)
	v.SetDefault("retry.max_backoff_ms", 2000)
	v.SetDefault("retry.failure_threshold", 5)
	v.SetDefault("retry.reset_timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks settings for a run mode ("serve", "score" or "ingest") and
// reports every problem by its key.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not postgres or sqlite", c.Store.Driver))
	}

	if c.Grid.Resolution < 0 || c.Grid.Resolution > 15 {
		errs = append(errs, fmt.Sprintf("grid.resolution %d outside 0..15", c.Grid.Resolution))
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimitPerMinute < 0 {
			errs = append(errs, "server.rate_limit_per_minute must be >= 0")
		}
		if c.Cache.MaxEntries < 0 || c.Cache.TTLSecs < 0 {
			errs = append(errs, "cache.max_entries and cache.ttl_secs must be >= 0")
		}
		errs = append(errs, c.Scoring.problems()...)
	case "score":
		errs = append(errs, c.Scoring.problems()...)
	case "ingest":
		if c.Ingest.MaxSplitDepth < 0 {
			errs = append(errs, "ingest.max_split_depth must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		errs = append(errs, "nats.subject is required when nats.url is set")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s ScoringConfig) problems() []string {
	var errs []string
	if s.LookbackMonths < 1 || s.LookbackMonths > 24 {
		errs = append(errs, fmt.Sprintf("scoring.lookback_months %d outside 1..24", s.LookbackMonths))
	}
	if s.BufferMeters < 0 {
		errs = append(errs, "scoring.buffer_meters must be >= 0")
	}
	if s.SegmentLengthM <= 0 || s.MaxSegmentLengthM <= 0 {
		errs = append(errs, "scoring.segment_length_m and scoring.max_segment_length_m must be > 0")
	}
	if s.MaxSegments < 1 {
		errs = append(errs, "scoring.max_segments must be >= 1")
	}
	if s.HotspotMultiplier <= 1 || s.CriticalMultiplier < s.HotspotMultiplier {
		errs = append(errs, "scoring.hotspot_multiplier must be > 1 and <= scoring.critical_multiplier")
	}
	if s.FetchConcurrency < 1 {
		errs = append(errs, "scoring.fetch_concurrency must be >= 1")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
