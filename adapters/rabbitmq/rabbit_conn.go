package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Config describes how to reach the broker.
type Config struct {
	URL         string
	ConnTimeout time.Duration
	// MaxAttempts bounds dial attempts; zero retries until ctx is done.
	MaxAttempts int
}

// Dial connects to RabbitMQ, retrying with exponential backoff and jitter until it succeeds,
// ctx is done or MaxAttempts is reached.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*amqp.Connection, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrTransportNotConfigured)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backoff := initialBackoff
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	for attempt := 1; ; attempt++ {
		conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
			Locale:     "en_US",
			Properties: amqp.Table{"product": "scg-autorespond"},
			Dial:       amqp.DefaultDial(cfg.ConnTimeout),
		})
		if err == nil {
			return conn, nil
		}

		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			return nil, fmt.Errorf("rabbitmq dial after %d attempts: %w", attempt, err)
		}

		sleep := jittered(backoff, rng)
		logger.Warn("rabbitmq dial failed", "attempt", attempt, "retry_in", sleep, "error", err)

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		backoff = nextBackoff(backoff)
	}
}

// jittered adds up to a quarter of d as jitter, capped at maxBackoff.
func jittered(d time.Duration, rng *rand.Rand) time.Duration {
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rng.Int63n(half)) / 2
	}

	return min(d, maxBackoff)
}

func nextBackoff(d time.Duration) time.Duration {
	return min(d*2, maxBackoff)
}
