// Package config loads service configuration from the environment and an
// optional JSON config file. Omitted keys take documented defaults;
// out-of-range values are normalized rather than rejected.
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Security   SecurityConfig   `mapstructure:"security"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type SecurityConfig struct {
	MaxFileSizeMB              int      `mapstructure:"max_file_size_mb"`
	AllowedMimeTypes           []string `mapstructure:"allowed_mime_types"`
	EnableContentScan          bool     `mapstructure:"enable_content_scan"`
	RateLimitRequestsPerMinute int      `mapstructure:"rate_limit_requests_per_minute"`
	RateLimitBurstSize         int      `mapstructure:"rate_limit_burst_size"`
}

func (s SecurityConfig) MaxFileSizeBytes() int64 {
	return int64(s.MaxFileSizeMB) * 1024 * 1024
}

type CacheConfig struct {
	Backend                string `mapstructure:"backend"`
	Dir                    string `mapstructure:"dir"`
	RedisAddr              string `mapstructure:"redis_addr"`
	MaxSizeMB              int    `mapstructure:"max_size_mb"`
	MaxEntries             int    `mapstructure:"max_entries"`
	MaxAgeHours            int    `mapstructure:"max_age_hours"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
}

func (c CacheConfig) MaxBytes() int64       { return int64(c.MaxSizeMB) * 1024 * 1024 }
func (c CacheConfig) MaxAge() time.Duration { return time.Duration(c.MaxAgeHours) * time.Hour }

func (c CacheConfig) SweepEvery() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

type ProcessingConfig struct {
	MaxConcurrentFiles   int `mapstructure:"max_concurrent_files"`
	MaxQueueSize         int `mapstructure:"max_queue_size"`
	MaxMemoryUsageMB     int `mapstructure:"max_memory_usage_mb"`
	LargeFileThresholdMB int `mapstructure:"large_file_threshold_mb"`
}

func (p ProcessingConfig) LargeFileThresholdBytes() int64 {
	return int64(p.LargeFileThresholdMB) * 1024 * 1024
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from IMGCONV_* environment variables and, when
// configFile is non-empty or ./imgconv.json exists, a JSON config file.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("imgconv")
		v.SetConfigType("json")
	}

	v.SetEnvPrefix("IMGCONV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	normalize(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")

	v.SetDefault("security.max_file_size_mb", 10)
	v.SetDefault("security.allowed_mime_types", []string{
		"image/jpeg", "image/png", "image/gif", "image/bmp",
		"image/tiff", "image/webp",
	})
	v.SetDefault("security.enable_content_scan", true)
	v.SetDefault("security.rate_limit_requests_per_minute", 60)
	v.SetDefault("security.rate_limit_burst_size", 10)

	v.SetDefault("cache.backend", "disk")
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.max_size_mb", 100)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.max_age_hours", 24)
	v.SetDefault("cache.cleanup_interval_minutes", 60)

	v.SetDefault("processing.max_concurrent_files", 3)
	v.SetDefault("processing.max_queue_size", 100)
	v.SetDefault("processing.max_memory_usage_mb", 500)
	v.SetDefault("processing.large_file_threshold_mb", 50)

	v.SetDefault("logging.level", "info")
}

// normalize replaces out-of-range values with usable defaults and caps the
// worker count at four per CPU.
func normalize(cfg *Config) {
	if cfg.Security.MaxFileSizeMB <= 0 {
		cfg.Security.MaxFileSizeMB = 10
	}
	if cfg.Security.RateLimitRequestsPerMinute <= 0 {
		cfg.Security.RateLimitRequestsPerMinute = 60
	}
	if cfg.Security.RateLimitBurstSize <= 0 {
		cfg.Security.RateLimitBurstSize = 10
	}

	switch cfg.Cache.Backend {
	case "memory", "disk", "redis":
	default:
		cfg.Cache.Backend = "disk"
	}
	if cfg.Cache.MaxSizeMB <= 0 {
		cfg.Cache.MaxSizeMB = 100
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 1000
	}
	if cfg.Cache.MaxAgeHours <= 0 {
		cfg.Cache.MaxAgeHours = 24
	}
	if cfg.Cache.CleanupIntervalMinutes <= 0 {
		cfg.Cache.CleanupIntervalMinutes = 60
	}

	if cfg.Processing.MaxConcurrentFiles <= 0 {
		cfg.Processing.MaxConcurrentFiles = 3
	}
	if cfg.Processing.MaxConcurrentFiles > runtime.NumCPU()*4 {
		cfg.Processing.MaxConcurrentFiles = runtime.NumCPU() * 4
	}
	if cfg.Processing.MaxQueueSize <= 0 {
		cfg.Processing.MaxQueueSize = 100
	}
	if cfg.Processing.MaxMemoryUsageMB <= 0 {
		cfg.Processing.MaxMemoryUsageMB = 500
	}
	if cfg.Processing.LargeFileThresholdMB <= 0 {
		cfg.Processing.LargeFileThresholdMB = 50
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		cfg.Logging.Level = "info"
	}
}
