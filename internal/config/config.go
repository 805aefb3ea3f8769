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
	Server   ServerConfig   `yaml:"server"`
	Queue    QueueConfig    `yaml:"queue"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Mongo    MongoConfig    `yaml:"mongo"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                   int `yaml:"port"`
	ReadTimeoutSeconds     int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds     int `yaml:"idle_timeout_seconds"`
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
}

// QueueConfig names the two logical queues and selects the broker provider.
type QueueConfig struct {
	Provider  string `yaml:"provider"` // rabbitmq or memory
	MainName  string `yaml:"main_name"`
	ErrorName string `yaml:"error_name"`
}

// StoreConfig selects the durable job store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // postgres, mongo or memory
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	User                   string `yaml:"user"`
	Password               string `yaml:"password"`
	Database               string `yaml:"database"`
	SSLMode                string `yaml:"sslmode"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	ConnMaxIdleTimeMinutes int    `yaml:"conn_max_idle_time_minutes"`
}

// MongoConfig holds MongoDB connection configuration
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host                 string  `yaml:"host"`
	Port                 int     `yaml:"port"`
	User                 string  `yaml:"user"`
	Password             string  `yaml:"password"`
	VHost                string  `yaml:"vhost"`
	Exchange             string  `yaml:"exchange"`
	ExchangeType         string  `yaml:"exchange_type"`
	Durable              bool    `yaml:"durable"`
	RetryAttempts        int     `yaml:"retry_attempts"`
	RetryIntervalSeconds int     `yaml:"retry_interval_seconds"`
	HeartbeatSeconds     int     `yaml:"heartbeat_seconds"`
	PublishRetries       int     `yaml:"publish_retries"`
	PublishRetryDelayMs  int     `yaml:"publish_retry_delay_ms"`
	PublishBackoffMult   float64 `yaml:"publish_backoff_multiplier"`
}

// PipelineConfig holds the processing pipeline options.
type PipelineConfig struct {
	ChannelCapacity      int    `yaml:"channel_capacity"`
	WorkerCount          int    `yaml:"worker_count"`
	MaxRetries           int    `yaml:"max_retries"`
	ReceiveWaitMs        int    `yaml:"receive_wait_ms"`
	ShutdownDrainSeconds int    `yaml:"shutdown_drain_seconds"`
	ClaimTTLMinutes      int    `yaml:"claim_ttl_minutes"`
	RetentionDays        int    `yaml:"retention_days"`
	PeekMaxDefault       int    `yaml:"peek_max_default"`
	ErrorScanLimit       int    `yaml:"error_scan_limit"`
	Host                 string `yaml:"host"`
	SimulatedExecutionMs int    `yaml:"simulated_execution_ms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
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

	config.applyDefaults()
	return &config, nil
}

// applyDefaults fills option defaults the file may omit.
func (c *Config) applyDefaults() {
	if c.Queue.Provider == "" {
		c.Queue.Provider = "memory"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Pipeline.ChannelCapacity <= 0 {
		c.Pipeline.ChannelCapacity = 500
	}
	if c.Pipeline.WorkerCount <= 0 {
		c.Pipeline.WorkerCount = 4
	}
	if c.Pipeline.MaxRetries <= 0 {
		c.Pipeline.MaxRetries = 3
	}
	if c.Pipeline.ReceiveWaitMs <= 0 {
		c.Pipeline.ReceiveWaitMs = 2000
	}
	if c.Pipeline.ShutdownDrainSeconds <= 0 {
		c.Pipeline.ShutdownDrainSeconds = 20
	}
	if c.Pipeline.ClaimTTLMinutes <= 0 {
		c.Pipeline.ClaimTTLMinutes = 120
	}
	if c.Pipeline.RetentionDays <= 0 {
		c.Pipeline.RetentionDays = 30
	}
	if c.Pipeline.PeekMaxDefault <= 0 {
		c.Pipeline.PeekMaxDefault = 100
	}
	if c.Pipeline.ErrorScanLimit <= 0 {
		c.Pipeline.ErrorScanLimit = 200
	}
	if c.Pipeline.Host == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Pipeline.Host = hostname
		} else {
			c.Pipeline.Host = "unknown-host"
		}
	}
}

// ValidateAPIConfig checks the configuration needed by the API service.
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateShared()
}

// ValidateWorkerConfig checks the configuration needed by the worker service.
func (c *Config) ValidateWorkerConfig() error {
	if c.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("pipeline worker_count must be greater than 0")
	}

	if c.Pipeline.ChannelCapacity <= 0 {
		return fmt.Errorf("pipeline channel_capacity must be greater than 0")
	}

	return c.validateShared()
}

func (c *Config) validateShared() error {
	if c.Queue.MainName == "" {
		return fmt.Errorf("queue main_name is required")
	}

	if c.Queue.ErrorName == "" {
		return fmt.Errorf("queue error_name is required")
	}

	switch c.Queue.Provider {
	case "rabbitmq":
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange == "" {
			return fmt.Errorf("rabbitmq exchange is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown queue provider: %s", c.Queue.Provider)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo uri is required")
		}
		if c.Mongo.Database == "" {
			return fmt.Errorf("mongo database is required")
		}
		if c.Mongo.Collection == "" {
			return fmt.Errorf("mongo collection is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver: %s", c.Store.Driver)
	}

	return nil
}

// ReceiveWait returns the broker receive bounded wait as a duration.
func (c *PipelineConfig) ReceiveWait() time.Duration {
	return time.Duration(c.ReceiveWaitMs) * time.Millisecond
}

// DrainTimeout returns the shutdown drain timeout as a duration.
func (c *PipelineConfig) DrainTimeout() time.Duration {
	return time.Duration(c.ShutdownDrainSeconds) * time.Second
}

// ClaimTTL returns the dedup claim lease as a duration.
func (c *PipelineConfig) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLMinutes) * time.Minute
}

// Retention returns the job record retention horizon as a duration.
func (c *PipelineConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SimulatedExecution returns the simulated report execution delay.
func (c *PipelineConfig) SimulatedExecution() time.Duration {
	return time.Duration(c.SimulatedExecutionMs) * time.Millisecond
}
