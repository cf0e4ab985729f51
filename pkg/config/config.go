package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required,oneof=development staging production"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		// RateBurst requests per client IP, refilled at RatePerSecond; zero disables limiting.
		RateBurst     int     `yaml:"rate_burst" default:"50" validate:"gte=0"`
		RatePerSecond float64 `yaml:"rate_per_second" default:"10" validate:"gte=0"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
		// Topic receives aggregated error and warning lines; empty disables shipping.
		Topic         string        `yaml:"topic"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
	} `yaml:"logging"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost" validate:"required"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"mergewatch" validate:"required"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		MigrateOnStart   bool          `yaml:"migrate_on_start" default:"true"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Brokers     []string `yaml:"brokers" validate:"required,min=1"`
		Compression string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Topics      struct {
			DetectionResults string `yaml:"detection_results" default:"detection-results"`
			Merged           string `yaml:"merged" default:"anomalies-merged"`
		} `yaml:"topics"`
		Producer struct {
			RequiredAcks int           `yaml:"required_acks" default:"-1"`
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled" default:"true"`
			GroupID    string        `yaml:"group_id" default:"mergewatch"`
			Workers    int           `yaml:"workers" default:"4" validate:"gt=0"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"detection-results-dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool   `yaml:"enabled" default:"true"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"20"`
		Prefix   string `yaml:"prefix" default:"mergewatch"`
	} `yaml:"redis"`
	Stream struct {
		Enabled      bool          `yaml:"enabled" default:"true"`
		SendBuffer   int           `yaml:"send_buffer" default:"64" validate:"gt=0"`
		PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"stream"`
	Merger MergerConfig `yaml:"merger"`
}

// MergerConfig holds engine defaults; a detection message may override them.
// A missing threshold disables its side of the re-notification check.
type MergerConfig struct {
	MergeMaxGap                 string        `yaml:"merge_max_gap" default:"PT1S" validate:"required"`
	MergeMaxDuration            string        `yaml:"merge_max_duration" default:"P7D" validate:"required"`
	ReNotifyPercentageThreshold *float64      `yaml:"renotify_percentage_threshold"`
	ReNotifyAbsoluteThreshold   *float64      `yaml:"renotify_absolute_threshold"`
	LockTTL                     time.Duration `yaml:"lock_ttl" default:"2m"`
	StatusTTL                   time.Duration `yaml:"status_ttl" default:"24h"`
	DefaultTimezone             string        `yaml:"default_timezone" default:"UTC"`
}

// PercentageThreshold returns the configured value or -1 (disabled).
func (m MergerConfig) PercentageThreshold() float64 {
	if m.ReNotifyPercentageThreshold == nil {
		return -1
	}
	return *m.ReNotifyPercentageThreshold
}

// AbsoluteThreshold returns the configured value or -1 (disabled).
func (m MergerConfig) AbsoluteThreshold() float64 {
	if m.ReNotifyAbsoluteThreshold == nil {
		return -1
	}
	return *m.ReNotifyAbsoluteThreshold
}

// Load reads a YAML configuration file, fills defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse is Load on an in-memory document.
func Parse(b []byte) (*Config, error) {
	var c Config
	// defaults first, so explicit false or zero values in the file win
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
