package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/chunkflow/pkg/persist"
	"github.com/Sumatoshi-tech/chunkflow/pkg/streaming"
	"github.com/Sumatoshi-tech/chunkflow/pkg/workpool"
)

// Executor defaults.
const (
	DefaultExecutorChunkSize        = streaming.DefaultChunkSize
	DefaultExecutorPool             = string(workpool.KindIO)
	DefaultExecutorWorkers          = 0
	DefaultExecutorLimit            = 0
	DefaultExecutorResume           = true
	DefaultExecutorMinChunkDuration = time.Duration(0)
	DefaultExecutorCodec            = persist.CodecGob
)

// Pipeline defaults.
const (
	DefaultPipelineCacheDir = ".chunkflow-cache"
	DefaultPipelineUseCache = true
)

// Logging defaults.
const (
	DefaultLoggingLevel  = "info"
	DefaultLoggingFormat = FormatText
)

// Observability defaults.
const (
	DefaultObservabilityEnvironment = "dev"
	DefaultObservabilitySampleRatio = 1.0
)

// Download defaults.
const (
	DefaultDownloadCacheDir = "downloads"
	DefaultDownloadTimeout  = 30 * time.Second
)

// setDefaults registers every key so that environment overrides are picked up
// by Unmarshal.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("executor.chunk_size", DefaultExecutorChunkSize)
	viperCfg.SetDefault("executor.pool", DefaultExecutorPool)
	viperCfg.SetDefault("executor.workers", DefaultExecutorWorkers)
	viperCfg.SetDefault("executor.limit", DefaultExecutorLimit)
	viperCfg.SetDefault("executor.resume", DefaultExecutorResume)
	viperCfg.SetDefault("executor.min_chunk_duration", DefaultExecutorMinChunkDuration)
	viperCfg.SetDefault("executor.checkpoint_path", "")
	viperCfg.SetDefault("executor.checkpoint_dir", "")
	viperCfg.SetDefault("executor.codec", DefaultExecutorCodec)

	viperCfg.SetDefault("pipeline.cache_dir", DefaultPipelineCacheDir)
	viperCfg.SetDefault("pipeline.use_cache", DefaultPipelineUseCache)

	viperCfg.SetDefault("logging.level", DefaultLoggingLevel)
	viperCfg.SetDefault("logging.format", DefaultLoggingFormat)

	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.otlp_headers", "")
	viperCfg.SetDefault("observability.prometheus_addr", "")
	viperCfg.SetDefault("observability.environment", DefaultObservabilityEnvironment)
	viperCfg.SetDefault("observability.sample_ratio", DefaultObservabilitySampleRatio)
	viperCfg.SetDefault("observability.debug_trace", false)

	viperCfg.SetDefault("download.cache_dir", DefaultDownloadCacheDir)
	viperCfg.SetDefault("download.timeout", DefaultDownloadTimeout)
}
