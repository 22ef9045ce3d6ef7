package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	City     CityConfig     `yaml:"city" mapstructure:"city"`
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Features FeaturesConfig `yaml:"features" mapstructure:"features"`
	Coverage CoverageConfig `yaml:"coverage" mapstructure:"coverage"`
	Tagging  TaggingConfig  `yaml:"tagging" mapstructure:"tagging"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CityConfig identifies the city being profiled.
type CityConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Country string `yaml:"country" mapstructure:"country"`
}

// SourceConfig configures the paginated polygon endpoint (WFS-style).
type SourceConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	CommuneTypeName string  `yaml:"commune_type_name" mapstructure:"commune_type_name"`
	QuarterTypeName string  `yaml:"quarter_type_name" mapstructure:"quarter_type_name"`
	PageSize        int     `yaml:"page_size" mapstructure:"page_size"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries      int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSec  float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	RequestBurst    int     `yaml:"request_burst" mapstructure:"request_burst"`
}

// FeaturesConfig configures the categorized feature-query endpoint.
type FeaturesConfig struct {
	BaseURL        string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	RequestBurst   int     `yaml:"request_burst" mapstructure:"request_burst"`
	Concurrency    int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// CoverageConfig bounds the per-commune microhood selection.
type CoverageConfig struct {
	NMin int `yaml:"n_min" mapstructure:"n_min"`
	NMax int `yaml:"n_max" mapstructure:"n_max"`
}

// TaggingConfig holds the percentile bands for tag confidence.
type TaggingConfig struct {
	HighPct   int    `yaml:"high_pct" mapstructure:"high_pct"`
	MediumPct int    `yaml:"medium_pct" mapstructure:"medium_pct"`
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// CacheConfig configures the optional SQLite feature-query cache.
type CacheConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Timeout returns the per-request timeout for the polygon endpoint.
func (c SourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Timeout returns the per-request timeout for the feature-query endpoint.
func (c FeaturesConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CITYPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("city.name", "Brussels")
	v.SetDefault("city.country", "Belgium")
	v.SetDefault("source.base_url", "https://geoservices-urbis.irisnet.be/geoserver/ows")
	v.SetDefault("source.commune_type_name", "UrbisAdm:Mu")
	v.SetDefault("source.quarter_type_name", "UrbisAdm:Md")
	v.SetDefault("source.page_size", 500)
	v.SetDefault("source.timeout_secs", 60)
	v.SetDefault("source.max_retries", 4)
	v.SetDefault("source.requests_per_sec", 2.0)
	v.SetDefault("source.request_burst", 2)
	v.SetDefault("features.base_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("features.timeout_secs", 60)
	v.SetDefault("features.max_retries", 4)
	v.SetDefault("features.requests_per_sec", 1.0)
	v.SetDefault("features.request_burst", 1)
	v.SetDefault("features.concurrency", 4)
	v.SetDefault("coverage.n_min", 8)
	v.SetDefault("coverage.n_max", 12)
	v.SetDefault("tagging.high_pct", 15)
	v.SetDefault("tagging.medium_pct", 30)
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
