package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	Worker   WorkerConfig
	Mail     MailConfig
	Breaker  BreakerConfig
	Sweeper  SweeperConfig
	Metrics  MetricsConfig
	Env      string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RabbitMQConfig holds RabbitMQ configuration. An empty Host disables
// dispatch signals; workers then rely on polling alone.
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Queue    string
}

// RedisConfig holds the optional Redis used for a shared send-rate budget
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// WorkerConfig holds delivery worker pool settings
type WorkerConfig struct {
	Concurrency   int
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	LeaseDuration time.Duration
	PollInterval  time.Duration
	SendTimeout   time.Duration
	RatePerSecond float64
	RateBurst     int
}

// MailConfig holds mail transport settings
type MailConfig struct {
	// Driver is "smtp" or "simulated"
	Driver               string
	SMTPURL              string
	FromAddress          string
	FromName             string
	SimulatedSuccessRate float64
}

// BreakerConfig holds the per-domain circuit breaker settings
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
}

// SweeperConfig holds the periodic status repair settings
type SweeperConfig struct {
	Interval time.Duration
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:         getEnv("POSTGRES_HOST", "localhost"),
			Port:         getEnv("POSTGRES_PORT", "5432"),
			User:         getEnv("POSTGRES_USER", "placement"),
			Password:     getEnv("POSTGRES_PASSWORD", ""),
			DBName:       getEnv("POSTGRES_DB", "placement_db"),
			SSLMode:      getEnv("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns: getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", ""),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_DEFAULT_USER", "guest"),
			Password: getEnv("RABBITMQ_DEFAULT_PASS", "guest"),
			Queue:    getEnv("RABBITMQ_DISPATCH_QUEUE", "campaign_dispatch"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "placementmail"),
		},
		Worker: WorkerConfig{
			Concurrency:   getEnvAsInt("WORKER_CONCURRENCY", 4),
			MaxAttempts:   getEnvAsInt("WORKER_MAX_ATTEMPTS", 3),
			BaseBackoff:   getEnvAsDuration("WORKER_BASE_BACKOFF", 30*time.Second),
			MaxBackoff:    getEnvAsDuration("WORKER_MAX_BACKOFF", 10*time.Minute),
			LeaseDuration: getEnvAsDuration("WORKER_LEASE_DURATION", 2*time.Minute),
			PollInterval:  getEnvAsDuration("WORKER_POLL_INTERVAL", 2*time.Second),
			SendTimeout:   getEnvAsDuration("WORKER_SEND_TIMEOUT", 30*time.Second),
			RatePerSecond: getEnvAsFloat("SEND_RATE_PER_SECOND", 10),
			RateBurst:     getEnvAsInt("SEND_RATE_BURST", 1),
		},
		Mail: MailConfig{
			Driver:               getEnv("MAIL_DRIVER", "simulated"),
			SMTPURL:              getEnv("SMTP_URL", ""),
			FromAddress:          getEnv("MAIL_FROM_ADDRESS", "placements@example.edu"),
			FromName:             getEnv("MAIL_FROM_NAME", "Placement Cell"),
			SimulatedSuccessRate: getEnvAsFloat("MAIL_SIMULATED_SUCCESS_RATE", 0.95),
		},
		Breaker: BreakerConfig{
			Threshold: getEnvAsInt("BREAKER_THRESHOLD", 5),
			Cooldown:  getEnvAsDuration("BREAKER_COOLDOWN", time.Minute),
		},
		Sweeper: SweeperConfig{
			Interval: getEnvAsDuration("SWEEPER_INTERVAL", 30*time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Addr:    getEnv("METRICS_ADDR", ":9090"),
		},
		Env: getEnv("ENV", "development"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks required fields and cross-field constraints
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Password == "" {
		errs = append(errs, errors.New("POSTGRES_PASSWORD is required"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, errors.New("WORKER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Worker.BaseBackoff <= 0 || c.Worker.MaxBackoff < c.Worker.BaseBackoff {
		errs = append(errs, errors.New("WORKER_BASE_BACKOFF must be positive and not exceed WORKER_MAX_BACKOFF"))
	}
	if c.Worker.RatePerSecond <= 0 {
		errs = append(errs, errors.New("SEND_RATE_PER_SECOND must be positive"))
	}
	if c.Worker.RateBurst < 1 {
		errs = append(errs, errors.New("SEND_RATE_BURST must be at least 1"))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("WORKER_POLL_INTERVAL must be positive"))
	}
	// A lease must outlive the send it protects, otherwise another worker
	// reclaims the job mid-delivery.
	if c.Worker.SendTimeout <= 0 || c.Worker.LeaseDuration <= c.Worker.SendTimeout {
		errs = append(errs, errors.New("WORKER_LEASE_DURATION must be greater than WORKER_SEND_TIMEOUT"))
	}

	switch c.Mail.Driver {
	case "smtp":
		if c.Mail.SMTPURL == "" {
			errs = append(errs, errors.New("SMTP_URL is required when MAIL_DRIVER=smtp"))
		} else if _, err := url.Parse(c.Mail.SMTPURL); err != nil {
			errs = append(errs, fmt.Errorf("SMTP_URL is invalid: %w", err))
		}
	case "simulated":
		if c.Mail.SimulatedSuccessRate < 0 || c.Mail.SimulatedSuccessRate > 1 {
			errs = append(errs, errors.New("MAIL_SIMULATED_SUCCESS_RATE must be between 0 and 1"))
		}
	default:
		errs = append(errs, fmt.Errorf("MAIL_DRIVER must be 'smtp' or 'simulated', got %q", c.Mail.Driver))
	}

	if c.Breaker.Threshold < 1 || c.Breaker.Cooldown <= 0 {
		errs = append(errs, errors.New("BREAKER_THRESHOLD and BREAKER_COOLDOWN must be positive"))
	}
	if c.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("SWEEPER_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL, or "" when RabbitMQ is disabled
func (c *Config) GetRabbitMQURL() string {
	if c.RabbitMQ.Host == "" {
		return ""
	}
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		url.QueryEscape(c.RabbitMQ.User),
		url.QueryEscape(c.RabbitMQ.Password),
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets environment variable as float or returns default
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsBool gets environment variable as bool or returns default
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration parses values like "30s" or "2m"
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
