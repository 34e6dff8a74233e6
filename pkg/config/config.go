package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Odoo     OdooConfig
	Push     PushConfig
	Webhook  WebhookConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Sync     SyncConfig
	Auth     AuthConfig
	Logging  LoggingConfig
}

type OdooConfig struct {
	URL            string        `mapstructure:"url"`
	Database       string        `mapstructure:"database"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type PushConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	URL                  string        `mapstructure:"url"`
	SubscriptionID       string        `mapstructure:"subscription_id"`
	MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
}

type WebhookConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres or memory
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addresses   []string      `mapstructure:"addresses"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	ClusterMode bool          `mapstructure:"cluster_mode"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type QueueConfig struct {
	Capacity         int `mapstructure:"capacity"`
	BatchConcurrency int `mapstructure:"batch_concurrency"`
}

type SyncConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	PageSize        int           `mapstructure:"page_size"`
	RetentionDays   int           `mapstructure:"retention_days"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	SweepsEnabled   bool          `mapstructure:"sweeps_enabled"`
}

type AuthConfig struct {
	AdminSecret string        `mapstructure:"admin_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/erpbridge/")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("ERPBRIDGE")
	viper.AutomaticEnv()

	viper.SetDefault("odoo.request_timeout", "30s")
	viper.SetDefault("push.enabled", false)
	viper.SetDefault("push.max_reconnect_interval", "1m")
	viper.SetDefault("webhook.enabled", true)
	viper.SetDefault("webhook.host", "0.0.0.0")
	viper.SetDefault("webhook.port", 8000)
	viper.SetDefault("webhook.read_timeout", "30s")
	viper.SetDefault("storage.driver", "memory")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.pool_size", 100)
	viper.SetDefault("redis.cache_ttl", "24h")
	viper.SetDefault("queue.capacity", 1000)
	viper.SetDefault("queue.batch_concurrency", 8)
	viper.SetDefault("sync.max_retries", 3)
	viper.SetDefault("sync.page_size", 100)
	viper.SetDefault("sync.retention_days", 30)
	viper.SetDefault("sync.retry_interval", "5m")
	viper.SetDefault("sync.cleanup_interval", "1h")
	viper.SetDefault("sync.sweeps_enabled", true)
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Retention converts the configured retention in days to a duration.
func (c *SyncConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
