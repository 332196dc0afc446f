package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

// Concrete NATS connection-backed Conn and constructor.

type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
}

type natsConn struct{ nc *nats.Conn }

var _ Conn = natsConn{}

func (c natsConn) QueueSubscribe(subject, queue string, handler func(Msg)) (Subscription, error) {
	sub, err := c.nc.QueueSubscribe(subject, queue, func(m *nats.Msg) { handler(fromNATS(m)) })
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (c natsConn) Publish(subject string, data []byte, headers map[string]string) error {
	if err := c.nc.PublishMsg(toNATS(subject, data, headers)); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsConn) Request(ctx context.Context, subject string, data []byte, headers map[string]string) (Msg, error) {
	m, err := c.nc.RequestMsgWithContext(ctx, toNATS(subject, data, headers))
	if err != nil {
		return Msg{}, err
	}

	return fromNATS(m), nil
}

func toNATS(subject string, data []byte, headers map[string]string) *nats.Msg {
	msg := &nats.Msg{Subject: subject, Data: data}

	if len(headers) > 0 {
		msg.Header = nats.Header{}
		for k, v := range headers {
			msg.Header.Set(k, v)
		}
	}

	return msg
}

func fromNATS(m *nats.Msg) Msg {
	h := make(map[string]string, len(m.Header))
	for k := range m.Header {
		h[k] = m.Header.Get(k)
	}

	return Msg{Subject: m.Subject, Reply: m.Reply, Data: m.Data, Headers: h}
}

// NewWithNATS creates a real NATS connection and returns it as a Conn along with a cleanup.
func NewWithNATS(cfg Config) (Conn, func(), error) { //nolint:ireturn
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrTransportNotConfigured)
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrTransportNotConfigured, err)
	}

	cleanup := func() {
		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return natsConn{nc: nc}, cleanup, nil
}
