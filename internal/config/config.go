// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Transport names accepted in AUTORESPOND_TRANSPORT.
const (
	TransportMemory   = "memory"
	TransportNATS     = "nats"
	TransportRabbitMQ = "rabbitmq"
	TransportKafka    = "kafka"
)

// Config is the responder process configuration.
type Config struct {
	Transport string `env:"AUTORESPOND_TRANSPORT" envDefault:"memory"`

	NATSURL  string   `env:"AUTORESPOND_NATS_URL"`
	AMQPURL  string   `env:"AUTORESPOND_AMQP_URL"`
	Brokers  []string `env:"AUTORESPOND_KAFKA_BROKERS" envSeparator:","`
	Group    string   `env:"AUTORESPOND_GROUP" envDefault:"autorespond"`
	ClientID string   `env:"AUTORESPOND_CLIENT_ID" envDefault:"autorespond"`

	DefaultPrefetch uint16        `env:"AUTORESPOND_DEFAULT_PREFETCH" envDefault:"50"`
	ConnTimeout     time.Duration `env:"AUTORESPOND_CONN_TIMEOUT" envDefault:"5s"`
	RequestTimeout  time.Duration `env:"AUTORESPOND_REQUEST_TIMEOUT" envDefault:"10s"`
	MaxAttempts     int           `env:"AUTORESPOND_MAX_ATTEMPTS" envDefault:"5"`

	LogLevel    string `env:"AUTORESPOND_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"AUTORESPOND_LOG_FORMAT" envDefault:"text"`
	MetricsAddr string `env:"AUTORESPOND_METRICS_ADDR"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that the selected transport has what it needs to connect.
func (c Config) Validate() error {
	switch strings.ToLower(c.Transport) {
	case TransportMemory:
	case TransportNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("config: AUTORESPOND_NATS_URL required for transport %q", c.Transport)
		}
	case TransportRabbitMQ:
		if c.AMQPURL == "" {
			return fmt.Errorf("config: AUTORESPOND_AMQP_URL required for transport %q", c.Transport)
		}
	case TransportKafka:
		if len(c.Brokers) == 0 {
			return fmt.Errorf("config: AUTORESPOND_KAFKA_BROKERS required for transport %q", c.Transport)
		}
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}

	if c.DefaultPrefetch == 0 {
		return errors.New("config: AUTORESPOND_DEFAULT_PREFETCH must be positive")
	}

	return nil
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
