package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Monitoring MonitoringConfig `json:"monitoring"`
	Collectors CollectorsConfig `json:"collectors"`
	Channels   ChannelsConfig   `json:"channels"`
}

type ServerConfig struct {
	BindAddr string `json:"bindAddr"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

// DSN renders the keyword/value connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type MonitoringConfig struct {
	CollectionInterval string `json:"collectionInterval"` // e.g. "60s"
	CleanupInterval    string `json:"cleanupInterval"`    // e.g. "1h"
	RetentionPeriod    string `json:"retentionPeriod"`    // e.g. "24h"
	MaxDataPoints      int    `json:"maxDataPoints"`
	RulesFile          string `json:"rulesFile"`
}

type CollectorsConfig struct {
	DiskPaths  []string         `json:"diskPaths"`
	Postgres   bool             `json:"postgres"` // requires database.enabled
	Prometheus PrometheusConfig `json:"prometheus"`
}

type PrometheusConfig struct {
	URL     string            `json:"url"`
	Queries []PromQueryConfig `json:"queries"`
}

type PromQueryConfig struct {
	MetricName string `json:"metricName"`
	Expr       string `json:"expr"`
}

// ChannelPolicy holds the admission settings shared by all channel kinds.
type ChannelPolicy struct {
	Enabled     bool   `json:"enabled"`
	MinSeverity string `json:"minSeverity"` // defaults to "info"
	MaxSeverity string `json:"maxSeverity"` // defaults to "emergency"
	RateLimit   string `json:"rateLimit"`   // e.g. "60s"
}

type ChannelsConfig struct {
	Email     EmailChannelConfig     `json:"email"`
	Slack     WebhookChannelConfig   `json:"slack"`
	Discord   WebhookChannelConfig   `json:"discord"`
	Webhook   GenericWebhookConfig   `json:"webhook"`
	PagerDuty PagerDutyChannelConfig `json:"pagerduty"`
}

type EmailChannelConfig struct {
	ChannelPolicy
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

type WebhookChannelConfig struct {
	ChannelPolicy
	WebhookURL string `json:"webhookURL"`
}

type GenericWebhookConfig struct {
	ChannelPolicy
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type PagerDutyChannelConfig struct {
	ChannelPolicy
	RoutingKey string `json:"routingKey"`
	Source     string `json:"source"`
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()

	cfg := &Config{
		Server: ServerConfig{
			BindAddr: getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "perfwatch"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "perfwatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Monitoring: MonitoringConfig{
			CollectionInterval: getEnv("COLLECTION_INTERVAL", "60s"),
			CleanupInterval:    getEnv("CLEANUP_INTERVAL", "1h"),
			RetentionPeriod:    getEnv("RETENTION_PERIOD", "24h"),
			MaxDataPoints:      getEnvInt("MAX_DATA_POINTS", 1000),
			RulesFile:          getEnv("ALERT_RULES_FILE", ""),
		},
	}

	if *configFile != "" {
		if err := loadFromFile(cfg, *configFile); err != nil {
			log.Err(err)
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	if cfg.Monitoring.CollectionInterval == "" {
		cfg.Monitoring.CollectionInterval = "60s"
	}
	if cfg.Monitoring.CleanupInterval == "" {
		cfg.Monitoring.CleanupInterval = "1h"
	}
	if cfg.Monitoring.RetentionPeriod == "" {
		cfg.Monitoring.RetentionPeriod = "24h"
	}
	if cfg.Monitoring.MaxDataPoints <= 0 {
		cfg.Monitoring.MaxDataPoints = 1000
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
