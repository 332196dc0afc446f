package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/next-trace/scg-autorespond/adapters/kafka"
	"github.com/next-trace/scg-autorespond/adapters/nats"
	"github.com/next-trace/scg-autorespond/adapters/rabbitmq"
	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	"github.com/next-trace/scg-autorespond/internal/config"
	"github.com/next-trace/scg-autorespond/tracing"
)

// newServer connects the configured transport and returns a Server with its cleanup.
// The memory transport has no server.
func newServer(ctx context.Context, cfg config.Config, logger *slog.Logger) (cbus.Server, func(), error) {
	prop := tracing.GlobalPropagator()

	switch strings.ToLower(cfg.Transport) {
	case config.TransportNATS:
		conn, cleanup, err := nats.NewWithNATS(nats.Config{
			URL:         cfg.NATSURL,
			Name:        cfg.ClientID,
			ConnTimeout: cfg.ConnTimeout,
		})
		if err != nil {
			return nil, nil, err
		}

		return nats.NewServer(conn,
			nats.WithQueueGroup(cfg.Group),
			nats.WithPropagator(prop),
			nats.WithLogger(logger),
		), cleanup, nil
	case config.TransportRabbitMQ:
		conn, err := rabbitmq.Dial(ctx, rabbitmq.Config{
			URL:         cfg.AMQPURL,
			ConnTimeout: cfg.ConnTimeout,
			MaxAttempts: cfg.MaxAttempts,
		}, logger)
		if err != nil {
			return nil, nil, err
		}

		return rabbitmq.NewServerWithConn(conn, rabbitmq.WithPropagator(prop), rabbitmq.WithLogger(logger)),
			func() { _ = conn.Close() }, nil
	case config.TransportKafka:
		return kafka.NewServerWithKgo(kafka.Config{
			Brokers:    cfg.Brokers,
			ClientID:   cfg.ClientID,
			Group:      cfg.Group,
			Idempotent: true,
		}, kafka.WithPropagator(prop), kafka.WithLogger(logger))
	default:
		return nil, func() {}, nil
	}
}

// newClient connects the configured transport and returns a Client with its cleanup.
func newClient(ctx context.Context, cfg config.Config, logger *slog.Logger) (cbus.Client, func(), error) {
	switch strings.ToLower(cfg.Transport) {
	case config.TransportNATS:
		conn, cleanup, err := nats.NewWithNATS(nats.Config{
			URL:         cfg.NATSURL,
			Name:        cfg.ClientID,
			ConnTimeout: cfg.ConnTimeout,
		})
		if err != nil {
			return nil, nil, err
		}

		return nats.NewClient(conn), cleanup, nil
	case config.TransportRabbitMQ:
		conn, err := rabbitmq.Dial(ctx, rabbitmq.Config{
			URL:         cfg.AMQPURL,
			ConnTimeout: cfg.ConnTimeout,
			MaxAttempts: cfg.MaxAttempts,
		}, logger)
		if err != nil {
			return nil, nil, err
		}

		c, err := rabbitmq.NewClientWithConn(conn, rabbitmq.WithLogger(logger))
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}

		return c, func() {
			_ = c.Close()
			_ = conn.Close()
		}, nil
	case config.TransportKafka:
		return kafka.NewClientWithKgo(kafka.Config{
			Brokers:  cfg.Brokers,
			ClientID: cfg.ClientID,
		}, kafka.WithLogger(logger))
	default:
		return nil, nil, fmt.Errorf("transport %q has no client", cfg.Transport)
	}
}
