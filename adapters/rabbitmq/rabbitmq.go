package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
	"github.com/next-trace/scg-autorespond/internal/codec"
)

// DirectReplyTo is the pseudo-queue RabbitMQ uses for direct reply-to.
const DirectReplyTo = "amq.rabbitmq.reply-to"

// Channel is the subset of *amqp.Channel used by the adapter.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Option configures a Server or a Client.
type Option func(*settings)

type settings struct {
	prop   cbus.HeaderPropagator
	logger *slog.Logger
}

// WithPropagator extracts context from request headers before dispatching.
func WithPropagator(p cbus.HeaderPropagator) Option {
	return func(s *settings) { s.prop = p }
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func newSettings(opts []Option) settings {
	s := settings{prop: cbus.NopHeaderPropagator{}, logger: slog.Default()}
	for _, o := range opts {
		o(&s)
	}

	if s.prop == nil {
		s.prop = cbus.NopHeaderPropagator{}
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Server consumes one durable queue per endpoint and replies to each request's ReplyTo.
// Every endpoint gets its own channel so its prefetch applies to it alone.
type Server struct {
	open func() (Channel, error)
	settings
}

var _ cbus.Server = (*Server)(nil)

// NewServer returns a Server opening channels with open.
func NewServer(open func() (Channel, error), opts ...Option) *Server {
	return &Server{open: open, settings: newSettings(opts)}
}

// NewServerWithConn returns a Server over an AMQP connection.
func NewServerWithConn(conn *amqp.Connection, opts ...Option) *Server {
	return NewServer(func() (Channel, error) { return conn.Channel() }, opts...)
}

// Serve consumes every endpoint until ctx is done. The first consumer failure stops the others.
func (s *Server) Serve(ctx context.Context, endpoints ...cbus.Endpoint) error {
	if s.open == nil {
		return fmt.Errorf("rabbitmq serve: %w", berr.ErrTransportNotConfigured)
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, ep := range endpoints {
		g.Go(func() error { return s.serve(ctx, ep) })
	}

	return g.Wait()
}

func (s *Server) serve(ctx context.Context, ep cbus.Endpoint) error {
	ch, err := s.open()
	if err != nil {
		return fmt.Errorf("rabbitmq channel for %s: %w", ep.Queue, err)
	}

	if c, ok := ch.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	if err := ch.Qos(int(ep.PrefetchCount), 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos for %s: %w", ep.Queue, err)
	}

	if _, err := ch.QueueDeclare(ep.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq declare %s: %w", ep.Queue, err)
	}

	deliveries, err := ch.Consume(ep.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume %s: %w", ep.Queue, err)
	}

	s.logger.Info("consuming", "queue", ep.Queue, "prefetch", ep.PrefetchCount, "request", ep.RequestType.String())

	var workers errgroup.Group
	if ep.PrefetchCount > 0 {
		workers.SetLimit(int(ep.PrefetchCount))
	}

	defer func() { _ = workers.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}

				return fmt.Errorf("rabbitmq consume %s: delivery channel closed", ep.Queue)
			}

			workers.Go(func() error {
				s.handle(ctx, ch, ep, d)
				return nil
			})
		}
	}
}

func (s *Server) handle(ctx context.Context, ch Channel, ep cbus.Endpoint, d amqp.Delivery) {
	ctx = s.prop.Extract(ctx, stringHeaders(d.Headers))

	body, headers := codec.Reply(ctx, ep, d.Body)
	if headers[codec.HeaderFaulted] != "" {
		s.logger.Warn("request faulted", "queue", ep.Queue, "correlation_id", d.CorrelationId, "error", headers[codec.HeaderError])
	}

	if d.ReplyTo != "" {
		err := ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
			ContentType:   codec.ContentType,
			CorrelationId: d.CorrelationId,
			Headers:       table(headers),
			Body:          body,
		})
		if err != nil {
			s.logger.Error("publish reply", "queue", ep.Queue, "reply_to", d.ReplyTo, "error", err)

			if nackErr := d.Nack(false, true); nackErr != nil {
				s.logger.Error("nack request", "queue", ep.Queue, "error", nackErr)
			}

			return
		}
	}

	if err := d.Ack(false); err != nil {
		s.logger.Error("ack request", "queue", ep.Queue, "error", err)
	}
}

// Client sends requests over direct reply-to and matches replies by correlation id.
type Client struct {
	ch Channel
	settings

	start    sync.Once
	startErr error

	mu      sync.Mutex
	pending map[string]chan amqp.Delivery
}

var _ cbus.Client = (*Client)(nil)

// NewClient returns a Client over ch. The channel must not be shared with a Server.
func NewClient(ch Channel, opts ...Option) *Client {
	return &Client{ch: ch, settings: newSettings(opts), pending: make(map[string]chan amqp.Delivery)}
}

// NewClientWithConn opens a dedicated channel on conn and returns a Client over it.
func NewClientWithConn(conn *amqp.Connection, opts ...Option) (*Client, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq client channel: %w", err)
	}

	return NewClient(ch, opts...), nil
}

// Call publishes body to queue and waits for the correlated reply.
func (c *Client) Call(ctx context.Context, queue string, body []byte, headers map[string]string) ([]byte, error) {
	if c.ch == nil {
		return nil, fmt.Errorf("rabbitmq call %s: %w", queue, berr.ErrTransportNotConfigured)
	}

	c.start.Do(func() { c.startErr = c.listen() })

	if c.startErr != nil {
		return nil, fmt.Errorf("rabbitmq call %s: %w", queue, c.startErr)
	}

	id := uuid.NewString()
	reply := make(chan amqp.Delivery, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	err := c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   codec.ContentType,
		CorrelationId: id,
		ReplyTo:       DirectReplyTo,
		Headers:       table(headers),
		Body:          body,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		return nil, fmt.Errorf("rabbitmq call %s: %w", queue, errors.Join(berr.ErrPublishFailed, err))
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-reply:
		if err := codec.CheckFault(stringHeaders(d.Headers), d.Body); err != nil {
			return nil, fmt.Errorf("rabbitmq call %s: %w", queue, err)
		}

		return d.Body, nil
	}
}

func (c *Client) listen() error {
	replies, err := c.ch.Consume(DirectReplyTo, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume replies: %w", err)
	}

	go func() {
		for d := range replies {
			c.mu.Lock()
			reply, ok := c.pending[d.CorrelationId]
			c.mu.Unlock()

			if !ok {
				c.logger.Warn("dropping uncorrelated reply", "correlation_id", d.CorrelationId)
				continue
			}

			reply <- d
		}
	}()

	return nil
}

// Close closes the underlying channel when it can be closed.
func (c *Client) Close() error {
	if cl, ok := c.ch.(io.Closer); ok {
		return cl.Close()
	}

	return nil
}

func table(h map[string]string) amqp.Table {
	if len(h) == 0 {
		return nil
	}

	t := make(amqp.Table, len(h))
	for k, v := range h {
		t[k] = v
	}

	return t
}

func stringHeaders(t amqp.Table) map[string]string {
	h := make(map[string]string, len(t))
	for k, v := range t {
		if s, ok := v.(string); ok {
			h[k] = s
		}
	}

	return h
}
