// Package config loads chunkflow settings from a YAML file and CHUNKFLOW_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/chunkflow/pkg/executor"
	"github.com/Sumatoshi-tech/chunkflow/pkg/observability"
	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
	"github.com/Sumatoshi-tech/chunkflow/pkg/workpool"
)

// Sentinel validation errors.
var (
	ErrInvalidChunkSize   = errors.New("chunk size must be positive")
	ErrInvalidWorkers     = errors.New("workers must not be negative")
	ErrInvalidLimit       = errors.New("limit must not be negative")
	ErrInvalidDuration    = errors.New("duration must not be negative")
	ErrInvalidLogFormat   = errors.New("invalid log format")
	ErrInvalidTimeout     = errors.New("download timeout must be positive")
	ErrInvalidSampleRatio = errors.New("sample ratio must be within [0, 1]")
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// envPrefix prefixes every environment override, e.g. CHUNKFLOW_EXECUTOR_WORKERS.
const envPrefix = "CHUNKFLOW"

// configName is the file looked up in the working and home directories.
const configName = ".chunkflow"

// Config holds all chunkflow configuration.
type Config struct {
	Executor      ExecutorConfig      `mapstructure:"executor"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Download      DownloadConfig      `mapstructure:"download"`
}

// ExecutorConfig holds chunked executor settings.
type ExecutorConfig struct {
	ChunkSize        int           `mapstructure:"chunk_size"`
	Pool             string        `mapstructure:"pool"`
	Workers          int           `mapstructure:"workers"`
	Limit            int           `mapstructure:"limit"`
	Resume           bool          `mapstructure:"resume"`
	MinChunkDuration time.Duration `mapstructure:"min_chunk_duration"`
	CheckpointPath   string        `mapstructure:"checkpoint_path"`
	CheckpointDir    string        `mapstructure:"checkpoint_dir"`
	Codec            string        `mapstructure:"codec"`
}

// PipelineConfig holds step pipeline settings.
type PipelineConfig struct {
	CacheDir string `mapstructure:"cache_dir"`
	UseCache bool   `mapstructure:"use_cache"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig holds tracing and metrics export settings.
type ObservabilityConfig struct {
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool    `mapstructure:"otlp_insecure"`
	OTLPHeaders    string  `mapstructure:"otlp_headers"`
	PrometheusAddr string  `mapstructure:"prometheus_addr"`
	Environment    string  `mapstructure:"environment"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	DebugTrace     bool    `mapstructure:"debug_trace"`
}

// DownloadConfig holds downloader settings.
type DownloadConfig struct {
	CacheDir string        `mapstructure:"cache_dir"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoadConfig loads configuration from file and environment variables.
// With an empty path, .chunkflow.yaml is looked up in the working directory
// and then the home directory; a missing file is not an error. An explicit
// path must exist.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")

		home, homeErr := os.UserHomeDir()
		if homeErr == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := config.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	err := c.Executor.Validate()
	if err != nil {
		return err
	}

	_, err = observability.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Format) {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRatio, c.Observability.SampleRatio)
	}

	if c.Download.Timeout <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, c.Download.Timeout)
	}

	return nil
}

// Validate reports the first invalid executor setting.
func (e ExecutorConfig) Validate() error {
	switch {
	case e.ChunkSize < 1:
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, e.ChunkSize)
	case e.Workers < 0:
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, e.Workers)
	case e.Limit < 0:
		return fmt.Errorf("%w: %d", ErrInvalidLimit, e.Limit)
	case e.MinChunkDuration < 0:
		return fmt.Errorf("%w: %s", ErrInvalidDuration, e.MinChunkDuration)
	}

	_, err := workpool.ParseKind(e.Pool)
	if err != nil {
		return err
	}

	_, err = persist.ParseCodec(e.Codec)
	if err != nil {
		return err
	}

	return nil
}

// ToExecutor maps the settings into an executor.Config. Logger, clock,
// tracer and metrics are left for the caller.
func (e ExecutorConfig) ToExecutor() (executor.Config, error) {
	kind, err := workpool.ParseKind(e.Pool)
	if err != nil {
		return executor.Config{}, err
	}

	codec, err := persist.ParseCodec(e.Codec)
	if err != nil {
		return executor.Config{}, err
	}

	return executor.Config{
		ChunkSize:        e.ChunkSize,
		Pool:             kind,
		Workers:          e.Workers,
		Limit:            e.Limit,
		Resume:           e.Resume,
		MinChunkDuration: e.MinChunkDuration,
		CheckpointPath:   e.CheckpointPath,
		CheckpointDir:    e.CheckpointDir,
		Codec:            codec,
	}, nil
}

// ToObservability maps logging and export settings into an observability.Config.
func (c *Config) ToObservability(mode observability.AppMode, serviceVersion string) (observability.Config, error) {
	level, err := observability.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return observability.Config{}, err
	}

	obs := observability.DefaultConfig()
	obs.ServiceVersion = serviceVersion
	obs.Environment = c.Observability.Environment
	obs.Mode = mode
	obs.OTLPEndpoint = c.Observability.OTLPEndpoint
	obs.OTLPInsecure = c.Observability.OTLPInsecure
	obs.OTLPHeaders = observability.ParseOTLPHeaders(c.Observability.OTLPHeaders)
	obs.PrometheusAddr = c.Observability.PrometheusAddr
	obs.DebugTrace = c.Observability.DebugTrace
	obs.SampleRatio = c.Observability.SampleRatio
	obs.LogLevel = level
	obs.LogJSON = strings.EqualFold(c.Logging.Format, FormatJSON)

	return obs, nil
}
