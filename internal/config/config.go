package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	PostgresConn      string  `mapstructure:"POSTGRES_CONN"`
	ServerAddress     string  `mapstructure:"SERVER_ADDRESS"`
	JWTSecret         string  `mapstructure:"JWT_SECRET"`
	RedisAddr         string  `mapstructure:"REDIS_ADDR"`
	KafkaBrokers      string  `mapstructure:"KAFKA_BROKERS"`
	KafkaOrderTopic   string  `mapstructure:"KAFKA_ORDER_TOPIC"`
	InstanceID        string  `mapstructure:"INSTANCE_ID"`
	MailAPIURL        string  `mapstructure:"MAIL_API_URL"`
	MailAPIKey        string  `mapstructure:"MAIL_API_KEY"`
	MailFrom          string  `mapstructure:"MAIL_FROM"`
	CORSOrigins       string  `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int     `mapstructure:"RATE_LIMIT_BURST"`
	LogLevel          string  `mapstructure:"LOG_LEVEL"`
	LogFormat         string  `mapstructure:"LOG_FORMAT"`
	MigrationsEnabled bool    `mapstructure:"MIGRATIONS_ENABLED"`
}

var defaults = map[string]any{
	"POSTGRES_CONN":      "",
	"SERVER_ADDRESS":     "0.0.0.0:8080",
	"JWT_SECRET":         "",
	"REDIS_ADDR":         "",
	"KAFKA_BROKERS":      "",
	"KAFKA_ORDER_TOPIC":  "nursery.orders",
	"INSTANCE_ID":        "",
	"MAIL_API_URL":       "",
	"MAIL_API_KEY":       "",
	"MAIL_FROM":          "orders@nursery.local",
	"CORS_ORIGINS":       "*",
	"RATE_LIMIT_RPS":     5.0,
	"RATE_LIMIT_BURST":   10,
	"LOG_LEVEL":          "info",
	"LOG_FORMAT":         "console",
	"MIGRATIONS_ENABLED": true,
}

// Load читает .env (если есть) и переменные окружения.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.PostgresConn == "" {
		return errors.New("POSTGRES_CONN is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// Brokers: список адресов Kafka; пустой, если Kafka не настроена
func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// ConsumerGroup: группа Kafka для relay этого экземпляра. Имя стабильно между
// перезапусками: INSTANCE_ID, иначе имя хоста.
func (c *Config) ConsumerGroup() string {
	id := strings.TrimSpace(c.InstanceID)
	if id == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			id = host
		} else {
			id = "default"
		}
	}
	return "nursery-ws-" + id
}

func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
