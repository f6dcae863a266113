package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jwalitptl/erp-admin/pkg/messaging/redis"
)

type DatabaseConfig struct {
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	User         string `mapstructure:"user" validate:"required"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name" validate:"required"`
	SSLMode      string `mapstructure:"sslmode" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"min=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"min=0"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	Channel      string        `mapstructure:"channel" validate:"required"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret" validate:"required,min=16"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// OutboxJobConfig drives the outbox message processor.
type OutboxJobConfig struct {
	Schedule         string        `mapstructure:"schedule" validate:"required"`
	BatchSize        int           `mapstructure:"batch_size" validate:"min=1,max=1000"`
	MaxRetryAttempts int           `mapstructure:"max_retry_attempts" validate:"min=1"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout" validate:"gt=0"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay" validate:"gte=0"`
}

// NotificationJobConfig drives the notification processor.
type NotificationJobConfig struct {
	Schedule    string        `mapstructure:"schedule" validate:"required"`
	BatchSize   int           `mapstructure:"batch_size" validate:"min=1,max=1000"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=1"`
	BackoffUnit time.Duration `mapstructure:"backoff_unit" validate:"gt=0"`
}

type CleanupJobConfig struct {
	Schedule  string        `mapstructure:"schedule" validate:"required"`
	Retention time.Duration `mapstructure:"retention" validate:"gt=0"`
}

type BackgroundJobsConfig struct {
	MessageOutbox       OutboxJobConfig       `mapstructure:"message_outbox"`
	NotificationProcess NotificationJobConfig `mapstructure:"notification_process"`
	OutboxCleanup       CleanupJobConfig      `mapstructure:"outbox_cleanup"`
}

// DeliveryConfig selects where notifications are pushed. In local mode the
// in-process hub receives them; in redis mode they go through the broker to
// every process running a hub; both does the two.
type DeliveryConfig struct {
	Mode          string  `mapstructure:"mode" validate:"oneof=local redis both"`
	RatePerSecond float64 `mapstructure:"rate_per_second" validate:"gte=0"`
	Burst         int     `mapstructure:"burst" validate:"gte=0"`
}

type AlertsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	EmailTo   string `mapstructure:"email_to" validate:"omitempty,email"`
	EmailFrom string `mapstructure:"email_from" validate:"omitempty,email"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Log            LogConfig            `mapstructure:"log"`
	BackgroundJobs BackgroundJobsConfig `mapstructure:"background_jobs"`
	Delivery       DeliveryConfig       `mapstructure:"delivery"`
	Alerts         AlertsConfig         `mapstructure:"alerts"`
	SMTP           SMTPConfig           `mapstructure:"smtp"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "erp_admin")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.channel", "notifications")

	v.SetDefault("log.level", "info")

	v.SetDefault("background_jobs.message_outbox.schedule", "@every 30s")
	v.SetDefault("background_jobs.message_outbox.batch_size", 10)
	v.SetDefault("background_jobs.message_outbox.max_retry_attempts", 3)
	v.SetDefault("background_jobs.message_outbox.lock_timeout", 5*time.Minute)
	v.SetDefault("background_jobs.message_outbox.retry_base_delay", 5*time.Second)

	v.SetDefault("background_jobs.notification_process.schedule", "@every 15s")
	v.SetDefault("background_jobs.notification_process.batch_size", 15)
	v.SetDefault("background_jobs.notification_process.max_retries", 3)
	v.SetDefault("background_jobs.notification_process.backoff_unit", 10*time.Second)

	v.SetDefault("background_jobs.outbox_cleanup.schedule", "@hourly")
	v.SetDefault("background_jobs.outbox_cleanup.retention", 7*24*time.Hour)

	v.SetDefault("delivery.mode", "local")
	v.SetDefault("delivery.rate_per_second", 50)
	v.SetDefault("delivery.burst", 10)

	v.SetDefault("smtp.port", 587)
}

// LoadConfig reads config.yml from the usual locations, applies ERP_ prefixed
// environment overrides and validates the result. A missing file is not an
// error; defaults and the environment are enough to start.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")           // current directory
	v.AddConfigPath("./config")    // config subdirectory
	v.AddConfigPath("/app")        // container root directory
	v.AddConfigPath("/app/config") // container config directory

	v.SetEnvPrefix("ERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// keys without a default are only seen by Unmarshal when bound
	for _, key := range []string{"jwt.secret", "database.password", "smtp.host", "smtp.username", "smtp.password",
		"alerts.enabled", "alerts.email_to", "alerts.email_from", "log.json"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Alerts.Enabled && (c.Alerts.EmailTo == "" || c.Alerts.EmailFrom == "" || c.SMTP.Host == "") {
		return fmt.Errorf("invalid config: alerts require email_to, email_from and smtp.host")
	}
	return nil
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
