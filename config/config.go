package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	SiteID    string          `yaml:"site_id"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Messaging MessagingConfig `yaml:"messaging"`
	Web       WebConfig       `yaml:"web"`
	Roles     RoleNames       `yaml:"roles"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Logging   LoggingConfig   `yaml:"logging"`
	SeedFile  string          `yaml:"seed_file"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns a key/value connection string understood by pgx.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type MessagingConfig struct {
	Backend             string        `yaml:"backend"` // "none", "mqtt" or "kafka"
	TopicPrefix         string        `yaml:"topic_prefix"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	OutboxBatchSize     int           `yaml:"outbox_batch_size"`
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

// RoleNames maps semantic cluster roles to the cluster names that carry them.
// Matching is case-insensitive and happens once at startup.
type RoleNames struct {
	MainWarehouse string `yaml:"main_warehouse"`
	ExternalHub   string `yaml:"external_hub"`
}

type ExecutorConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Defaults() *Config {
	return &Config{
		SiteID: "site-1",
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "greasetrack.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "greasetrack",
				User:     "greasetrack",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Prefix:  "greasetrack",
		},
		Messaging: MessagingConfig{
			Backend:             "none",
			TopicPrefix:         "greasetrack",
			OutboxDrainInterval: 2 * time.Second,
			OutboxBatchSize:     50,
			MQTT: MQTTConfig{
				Broker:   "tcp://localhost:1883",
				ClientID: "greasetrack",
				QoS:      1,
			},
			Kafka: KafkaConfig{Brokers: []string{"localhost:9092"}},
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Roles: RoleNames{
			MainWarehouse: "MAIN WAREHOUSE",
			ExternalHub:   "SEFAS",
		},
		Executor:  ExecutorConfig{Timeout: 10 * time.Second},
		Reconcile: ReconcileConfig{Interval: 5 * time.Minute},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error; the defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg.LoadFromEnv("GREASETRACK")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) LoadFromEnv(prefix string) {
	if v := os.Getenv(prefix + "_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(prefix + "_SQLITE_PATH"); v != "" {
		c.Database.SQLite.Path = v
	}
	if v := os.Getenv(prefix + "_PG_HOST"); v != "" {
		c.Database.Postgres.Host = v
	}
	if v := os.Getenv(prefix + "_PG_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Database.Postgres.Port = n
		}
	}
	if v := os.Getenv(prefix + "_PG_PASSWORD"); v != "" {
		c.Database.Postgres.Password = v
	}
	if v := os.Getenv(prefix + "_REDIS_ADDR"); v != "" {
		c.Redis.Address = v
	}
	if v := os.Getenv(prefix + "_MESSAGING_BACKEND"); v != "" {
		c.Messaging.Backend = v
	}
	if v := os.Getenv(prefix + "_KAFKA_BROKERS"); v != "" {
		c.Messaging.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv(prefix + "_WEB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Web.Port = n
		}
	}
	if v := os.Getenv(prefix + "_SESSION_SECRET"); v != "" {
		c.Web.SessionSecret = v
	}
	if v := os.Getenv(prefix + "_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	switch c.Messaging.Backend {
	case "", "none", "mqtt", "kafka":
	default:
		return fmt.Errorf("config: unsupported messaging backend %q", c.Messaging.Backend)
	}
	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("config: executor.timeout must be positive")
	}
	if strings.EqualFold(c.Roles.MainWarehouse, c.Roles.ExternalHub) && c.Roles.MainWarehouse != "" {
		return fmt.Errorf("config: roles.main_warehouse and roles.external_hub name the same cluster")
	}
	return nil
}
