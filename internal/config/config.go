package config

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Correlate CorrelateConfig `yaml:"correlate" mapstructure:"correlate"`
	FTP       FTPConfig       `yaml:"ftp" mapstructure:"ftp"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// IngestConfig configures batch ingestion.
type IngestConfig struct {
	ChunkSize            int           `yaml:"chunk_size" mapstructure:"chunk_size"`
	ErrorCeiling         float64       `yaml:"error_ceiling" mapstructure:"error_ceiling"`
	MinRowsForCeiling    int           `yaml:"min_rows_for_ceiling" mapstructure:"min_rows_for_ceiling"`
	MaxConcurrentFiles   int           `yaml:"max_concurrent_files" mapstructure:"max_concurrent_files"`
	MaxChunkWritesPerSec float64       `yaml:"max_chunk_writes_per_sec" mapstructure:"max_chunk_writes_per_sec"`
	MaxReportedFailures  int           `yaml:"max_reported_failures" mapstructure:"max_reported_failures"`
	Timezone             string        `yaml:"timezone" mapstructure:"timezone"`
	MappingsPath         string        `yaml:"mappings_path" mapstructure:"mappings_path"`
	Retry                RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Breaker              BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// RetryConfig configures retries of transient storage failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// BreakerConfig configures the circuit breaker shared by parallel file
// ingestions.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// CorrelateConfig configures correlation defaults.
type CorrelateConfig struct {
	MinOccurrences           int  `yaml:"min_occurrences" mapstructure:"min_occurrences"`
	AttributeCounterpartCell bool `yaml:"attribute_counterpart_cell" mapstructure:"attribute_counterpart_cell"`
	ConfidenceSaturation     int  `yaml:"confidence_saturation" mapstructure:"confidence_saturation"`
}

// FTPConfig configures FTP source downloads.
type FTPConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" mapstructure:"cors_allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from an optional ./config.yaml and HUNTER_*
// environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. Unlike ./config.yaml, an
// explicit file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, eris.Wrap(err, "config: read file")
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	// Environment
	v.SetEnvPrefix("HUNTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.error_ceiling", 0.5)
	v.SetDefault("ingest.min_rows_for_ceiling", 200)
	v.SetDefault("ingest.max_concurrent_files", 4)
	v.SetDefault("ingest.max_chunk_writes_per_sec", 0)
	v.SetDefault("ingest.max_reported_failures", 500)
	v.SetDefault("ingest.timezone", "America/Bogota")
	v.SetDefault("ingest.mappings_path", "")
	v.SetDefault("ingest.retry.max_attempts", 3)
	v.SetDefault("ingest.retry.initial_backoff_ms", 250)
	v.SetDefault("ingest.breaker.failure_threshold", 5)
	v.SetDefault("ingest.breaker.reset_timeout_secs", 30)
	v.SetDefault("correlate.min_occurrences", 1)
	v.SetDefault("correlate.attribute_counterpart_cell", false)
	v.SetDefault("correlate.confidence_saturation", 5)
	v.SetDefault("ftp.timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
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

// Location loads the ingest timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Ingest.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", c.Ingest.Timezone)
	}
	return loc, nil
}

// Validate checks the settings a command needs. mode is "store" for
// commands that only touch the database, or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Ingest.ErrorCeiling <= 0 || c.Ingest.ErrorCeiling > 1 {
		errs = append(errs, "ingest.error_ceiling must be in (0, 1]")
	}
	if c.Ingest.MaxConcurrentFiles < 1 || c.Ingest.MaxConcurrentFiles > 32 {
		errs = append(errs, "ingest.max_concurrent_files must be between 1 and 32")
	}
	if _, err := time.LoadLocation(c.Ingest.Timezone); err != nil {
		errs = append(errs, "ingest.timezone is not a known zone")
	}
	if c.Correlate.MinOccurrences < 1 {
		errs = append(errs, "correlate.min_occurrences must be >= 1")
	}
	if c.Correlate.ConfidenceSaturation < 1 {
		errs = append(errs, "correlate.confidence_saturation must be >= 1")
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
