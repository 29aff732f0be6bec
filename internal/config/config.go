package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	OrderEvents   string `mapstructure:"order_events"`
	BalanceEvents string `mapstructure:"balance_events"`
}

type BusinessConfig struct {
	LoyaltyThreshold         int `mapstructure:"loyalty_threshold"`
	QRTokenTTLMinutes        int `mapstructure:"qr_token_ttl_minutes"`
	QRSweepIntervalSeconds   int `mapstructure:"qr_sweep_interval_seconds"`
	ReconcileIntervalSeconds int `mapstructure:"reconcile_interval_seconds"`
	OutboxIntervalMillis     int `mapstructure:"outbox_interval_ms"`
	MaxRetryCount            int `mapstructure:"max_retry_count"`
	LockTTLSeconds           int `mapstructure:"lock_ttl_seconds"`
	ProductCacheTTLSeconds   int `mapstructure:"product_cache_ttl_seconds"`
	QRGenerateRatePerMinute  int `mapstructure:"qr_generate_rate_per_minute"`
}

func (b BusinessConfig) QRTokenTTL() time.Duration {
	return time.Duration(b.QRTokenTTLMinutes) * time.Minute
}

func (b BusinessConfig) LockTTL() time.Duration {
	return time.Duration(b.LockTTLSeconds) * time.Second
}

func (b BusinessConfig) ProductCacheTTL() time.Duration {
	return time.Duration(b.ProductCacheTTLSeconds) * time.Second
}

// Default returns a configuration populated with the same defaults LoadConfig applies.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("kafka.topic.order_events", "coffeeshop.order.events")
	v.SetDefault("kafka.topic.balance_events", "coffeeshop.balance.events")
	v.SetDefault("business.loyalty_threshold", 10)
	v.SetDefault("business.qr_token_ttl_minutes", 10)
	v.SetDefault("business.qr_sweep_interval_seconds", 30)
	v.SetDefault("business.reconcile_interval_seconds", 300)
	v.SetDefault("business.outbox_interval_ms", 200)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.lock_ttl_seconds", 10)
	v.SetDefault("business.product_cache_ttl_seconds", 60)
	v.SetDefault("business.qr_generate_rate_per_minute", 6)
}

// LoadConfig reads the YAML file at configPath. COFFEESHOP_<SECTION>_<KEY> environment
// variables take precedence over the file.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("coffeeshop")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Business.LoyaltyThreshold <= 0 {
		return fmt.Errorf("business.loyalty_threshold must be positive, got %d", c.Business.LoyaltyThreshold)
	}
	if c.Business.QRTokenTTLMinutes <= 0 {
		return fmt.Errorf("business.qr_token_ttl_minutes must be positive, got %d", c.Business.QRTokenTTLMinutes)
	}
	if c.Business.MaxRetryCount <= 0 {
		return fmt.Errorf("business.max_retry_count must be positive, got %d", c.Business.MaxRetryCount)
	}
	return nil
}
