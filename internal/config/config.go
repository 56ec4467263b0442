package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Limits   LimitsConfig   `yaml:"limits"`
	Worker   WorkerConfig   `yaml:"worker"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Storage  StorageConfig  `yaml:"storage"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Events   EventsConfig   `yaml:"events"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// LimitsConfig holds upload validation and rate limiting settings
type LimitsConfig struct {
	MaxUploadSize   int64         `yaml:"max_upload_size"`
	MinUploadSize   int64         `yaml:"min_upload_size"`
	RateMaxRequests int           `yaml:"rate_max_requests"`
	RateWindow      time.Duration `yaml:"rate_window"`
	StatusLogTail   int           `yaml:"status_log_tail"`
}

// WorkerConfig holds executor pool configuration
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	QueueSize   int `yaml:"queue_size"`
}

// PipelineConfig holds external tool paths and per-stage settings
type PipelineConfig struct {
	BlenderPath   string      `yaml:"blender_path"`
	WinePath      string      `yaml:"wine_path"`
	StudioMDLPath string      `yaml:"studiomdl_path"`
	Convert       StageConfig `yaml:"convert"`
	Assemble      StageConfig `yaml:"assemble"`
	Compile       StageConfig `yaml:"compile"`
}

// StageConfig holds one stage's timeout and progress weight
type StageConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Weight  int           `yaml:"weight"`
}

// StorageConfig holds working directory and retention settings
type StorageConfig struct {
	WorkRoot        string        `yaml:"work_root"`
	Retention       time.Duration `yaml:"retention"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

// ArchiveConfig holds the optional terminal-job archive database
type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// EventsConfig holds the optional lifecycle event broker
type EventsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Limits.MaxUploadSize <= 0 {
		return fmt.Errorf("limits max_upload_size must be greater than 0")
	}

	if c.Limits.MinUploadSize < 0 || c.Limits.MinUploadSize >= c.Limits.MaxUploadSize {
		return fmt.Errorf("limits min_upload_size must be non-negative and below max_upload_size")
	}

	if c.Limits.RateMaxRequests <= 0 {
		return fmt.Errorf("limits rate_max_requests must be greater than 0")
	}

	if c.Limits.RateWindow <= 0 {
		return fmt.Errorf("limits rate_window must be greater than 0")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker queue_size must be greater than 0")
	}

	if c.Pipeline.BlenderPath == "" {
		return fmt.Errorf("pipeline blender_path is required")
	}

	if c.Pipeline.WinePath == "" {
		return fmt.Errorf("pipeline wine_path is required")
	}

	if c.Pipeline.StudioMDLPath == "" {
		return fmt.Errorf("pipeline studiomdl_path is required")
	}

	if c.Pipeline.Convert.Timeout <= 0 {
		return fmt.Errorf("pipeline convert timeout must be greater than 0")
	}

	if c.Pipeline.Assemble.Timeout <= 0 {
		return fmt.Errorf("pipeline assemble timeout must be greater than 0")
	}

	if c.Pipeline.Compile.Timeout <= 0 {
		return fmt.Errorf("pipeline compile timeout must be greater than 0")
	}

	if c.Storage.WorkRoot == "" {
		return fmt.Errorf("storage work_root is required")
	}

	if c.Storage.Retention <= 0 {
		return fmt.Errorf("storage retention must be greater than 0")
	}

	if c.Archive.Enabled {
		if c.Archive.Host == "" {
			return fmt.Errorf("archive host is required")
		}

		if c.Archive.Port < MinPort || c.Archive.Port > MaxPort {
			return fmt.Errorf("invalid archive port: %d (must be between %d and %d)", c.Archive.Port, MinPort, MaxPort)
		}

		if c.Archive.Database == "" {
			return fmt.Errorf("archive database name is required")
		}
	}

	if c.Events.Enabled {
		if c.Events.Host == "" {
			return fmt.Errorf("events host is required")
		}

		if c.Events.Port < MinPort || c.Events.Port > MaxPort {
			return fmt.Errorf("invalid events port: %d (must be between %d and %d)", c.Events.Port, MinPort, MaxPort)
		}

		if c.Events.Exchange.Name == "" {
			return fmt.Errorf("events exchange name is required")
		}
	}

	return nil
}
