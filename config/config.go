package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Fundingflow FundingflowConfig         `yaml:"fundingflow"`
	Logging     LoggingConfig             `yaml:"logging"`
	HTTP        HTTPConfig                `yaml:"http"`
	Ingestion   IngestionConfig           `yaml:"ingestion"`
	Exchanges   map[string]ExchangeConfig `yaml:"exchanges"`
	Stream      StreamConfig              `yaml:"stream"`
	Gateway     GatewayConfig             `yaml:"gateway"`
	Storage     StorageConfig             `yaml:"storage"`
	Metrics     MetricsConfig             `yaml:"metrics"`
}

type FundingflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// HTTPConfig drives the shared resilient HTTP wrapper used by every
// exchange scanner.
type HTTPConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffMin  time.Duration `yaml:"backoff_min"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// IngestionConfig drives the funding-rate scan cycle.
type IngestionConfig struct {
	ScanInterval      time.Duration `yaml:"scan_interval"`
	BackfillDays      int           `yaml:"backfill_days"`
	IncrementalDays   int           `yaml:"incremental_days"`
	MaxPages          int           `yaml:"max_pages"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxAbsAPR         string        `yaml:"max_abs_apr"`
	RetentionDays     int           `yaml:"retention_days"`
	PruneInterval     time.Duration `yaml:"prune_interval"`
}

// ExchangeConfig enables one scanner and optionally overrides its REST base
// URL (tests point this at a local server).
type ExchangeConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// StreamConfig drives the order-book stream hub and adapters. URLs maps an
// exchange name to a websocket endpoint override.
type StreamConfig struct {
	DepthLevels      int               `yaml:"depth_levels"`
	CacheTTL         time.Duration     `yaml:"cache_ttl"`
	SubscriberBuffer int               `yaml:"subscriber_buffer"`
	DialTimeout      time.Duration     `yaml:"dial_timeout"`
	PingInterval     time.Duration     `yaml:"ping_interval"`
	URLs             map[string]string `yaml:"urls"`
}

type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Region     string `yaml:"region"`
	Namespace  string `yaml:"namespace"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references in the raw config with environment
// values before parsing.
func expandEnv(raw []byte) []byte {
	return envPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// LoadConfig reads, expands and validates the YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expandEnv(raw), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if cfg.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Storage.S3.Region = strings.TrimSpace(v)
		}
	}
	cfg.Storage.S3.Bucket = strings.TrimSpace(cfg.Storage.S3.Bucket)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Timeout <= 0 {
		cfg.HTTP.Timeout = 15 * time.Second
	}
	if cfg.HTTP.MaxAttempts <= 0 {
		cfg.HTTP.MaxAttempts = 3
	}
	if cfg.HTTP.BackoffMin <= 0 {
		cfg.HTTP.BackoffMin = 500 * time.Millisecond
	}
	if cfg.HTTP.BackoffMax <= 0 {
		cfg.HTTP.BackoffMax = 10 * time.Second
	}

	if cfg.Ingestion.ScanInterval <= 0 {
		cfg.Ingestion.ScanInterval = time.Hour
	}
	if cfg.Ingestion.BackfillDays <= 0 {
		cfg.Ingestion.BackfillDays = 30
	}
	if cfg.Ingestion.IncrementalDays <= 0 {
		cfg.Ingestion.IncrementalDays = 1
	}
	if cfg.Ingestion.MaxPages <= 0 {
		cfg.Ingestion.MaxPages = 50
	}
	if cfg.Ingestion.RequestsPerSecond <= 0 {
		cfg.Ingestion.RequestsPerSecond = 5
	}
	if cfg.Ingestion.MaxAbsAPR == "" {
		cfg.Ingestion.MaxAbsAPR = "2000"
	}
	if cfg.Ingestion.RetentionDays <= 0 {
		cfg.Ingestion.RetentionDays = 90
	}
	if cfg.Ingestion.PruneInterval <= 0 {
		cfg.Ingestion.PruneInterval = 24 * time.Hour
	}

	if cfg.Stream.DepthLevels <= 0 {
		cfg.Stream.DepthLevels = 15
	}
	if cfg.Stream.CacheTTL <= 0 {
		cfg.Stream.CacheTTL = 5 * time.Second
	}
	if cfg.Stream.SubscriberBuffer <= 0 {
		cfg.Stream.SubscriberBuffer = 64
	}
	if cfg.Stream.DialTimeout <= 0 {
		cfg.Stream.DialTimeout = 10 * time.Second
	}
	if cfg.Stream.PingInterval <= 0 {
		cfg.Stream.PingInterval = 15 * time.Second
	}

	if cfg.Gateway.Address == "" {
		cfg.Gateway.Address = ":8080"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Fundingflow.Name == "" {
		return fmt.Errorf("fundingflow.name is required")
	}
	if cfg.Fundingflow.Version == "" {
		return fmt.Errorf("fundingflow.version is required")
	}

	if cfg.Ingestion.IncrementalDays > cfg.Ingestion.BackfillDays {
		return fmt.Errorf("ingestion.incremental_days must not exceed ingestion.backfill_days")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
