package kafka

import (
	"crypto/tls"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

// Concrete franz-go based constructors.

// DefaultGroup is the consumer group responders join unless configured otherwise.
const DefaultGroup = "autorespond"

type Config struct {
	Brokers     []string
	TLS         *tls.Config
	Acks        kgo.Acks
	Idempotent  bool
	ClientID    string
	Compression kgo.CompressionCodec

	// Group is the consumer group shared by every instance serving the same endpoints.
	Group string
	// ReplyTopic is where a Client reads its replies; a unique topic is generated when empty.
	ReplyTopic string
}

func (cfg Config) base() ([]kgo.Opt, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers required", berr.ErrTransportNotConfigured)
	}

	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...), kgo.AllowAutoTopicCreation()}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	if cfg.Compression != (kgo.CompressionCodec{}) {
		opts = append(opts, kgo.ProducerBatchCompression(cfg.Compression))
	}

	if !cfg.Idempotent {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}

	if cfg.Acks != (kgo.Acks{}) {
		opts = append(opts, kgo.RequiredAcks(cfg.Acks))
	}

	return opts, nil
}

// NewServerWithKgo builds a franz-go based Server. Each endpoint gets its own group consumer
// with auto-commit disabled. The returned cleanup closes the reply producer.
func NewServerWithKgo(cfg Config, opts ...Option) (*Server, func(), error) {
	base, err := cfg.base()
	if err != nil {
		return nil, nil, err
	}

	group := cfg.Group
	if group == "" {
		group = DefaultGroup
	}

	producer, err := kgo.NewClient(base...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrTransportNotConfigured, err)
	}

	consumer := func(ep cbus.Endpoint) (Consumer, error) {
		cl, err := kgo.NewClient(slices.Concat(base, []kgo.Opt{
			kgo.ConsumerGroup(group),
			kgo.ConsumeTopics(ep.Queue),
			kgo.DisableAutoCommit(),
		})...)
		if err != nil {
			return nil, err
		}

		return cl, nil
	}

	return NewServer(consumer, producer, opts...), producer.Close, nil
}

// NewClientWithKgo builds a franz-go based Client reading replies directly from its reply topic.
// The returned cleanup closes the client.
func NewClientWithKgo(cfg Config, opts ...Option) (*Client, func(), error) {
	base, err := cfg.base()
	if err != nil {
		return nil, nil, err
	}

	topic := cfg.ReplyTopic
	if topic == "" {
		topic = "replies." + uuid.NewString()
	}

	cl, err := kgo.NewClient(slices.Concat(base, []kgo.Opt{
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	})...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrTransportNotConfigured, err)
	}

	c := NewClient(cl, cl, topic, opts...)

	return c, func() { _ = c.Close() }, nil
}
