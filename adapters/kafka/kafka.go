package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
	"github.com/next-trace/scg-autorespond/internal/codec"
)

// Consumer is the subset of *kgo.Client used to read requests or replies.
type Consumer interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Close()
}

// Producer is the subset of *kgo.Client used to write requests or replies.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
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

// WithLogger sets the logger used for record failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func newSettings(opts []Option) settings {
	s := settings{}
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

// Server consumes each endpoint's topic in a consumer group, replies to the topic named by the
// request's reply-to header and commits once a polled batch has been answered.
type Server struct {
	consumer func(ep cbus.Endpoint) (Consumer, error)
	producer Producer
	settings
}

var _ cbus.Server = (*Server)(nil)

// NewServer returns a Server that opens one consumer per endpoint and replies through producer.
func NewServer(consumer func(ep cbus.Endpoint) (Consumer, error), producer Producer, opts ...Option) *Server {
	return &Server{consumer: consumer, producer: producer, settings: newSettings(opts)}
}

// Serve consumes every endpoint until ctx is done. The first consumer failure stops the others.
func (s *Server) Serve(ctx context.Context, endpoints ...cbus.Endpoint) error {
	if s.consumer == nil || s.producer == nil {
		return fmt.Errorf("kafka serve: %w", berr.ErrTransportNotConfigured)
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, ep := range endpoints {
		g.Go(func() error { return s.serve(ctx, ep) })
	}

	return g.Wait()
}

func (s *Server) serve(ctx context.Context, ep cbus.Endpoint) error {
	c, err := s.consumer(ep)
	if err != nil {
		return fmt.Errorf("kafka consumer for %s: %w", ep.Queue, err)
	}
	defer c.Close()

	limit := max(int(ep.PrefetchCount), 1)

	s.logger.Info("consuming", "topic", ep.Queue, "prefetch", ep.PrefetchCount, "request", ep.RequestType.String())

	for {
		fetches := c.PollRecords(ctx, limit)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return nil
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			s.logger.Warn("kafka fetch", "topic", topic, "partition", partition, "error", err)
		})

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}

		var workers errgroup.Group
		workers.SetLimit(limit)

		for _, r := range records {
			workers.Go(func() error {
				s.handle(ctx, ep, r)
				return nil
			})
		}

		_ = workers.Wait()

		if err := c.CommitRecords(ctx, records...); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			s.logger.Error("kafka commit", "topic", ep.Queue, "records", len(records), "error", err)
		}
	}
}

func (s *Server) handle(ctx context.Context, ep cbus.Endpoint, r *kgo.Record) {
	in := headerMap(r.Headers)
	ctx = s.prop.Extract(ctx, in)

	body, headers := codec.Reply(ctx, ep, r.Value)
	if headers[codec.HeaderFaulted] != "" {
		s.logger.Warn("request faulted", "topic", ep.Queue, "offset", r.Offset, "error", headers[codec.HeaderError])
	}

	replyTo := in[codec.HeaderReplyTo]
	if replyTo == "" {
		return
	}

	headers[codec.HeaderCorrelationID] = in[codec.HeaderCorrelationID]

	reply := &kgo.Record{Topic: replyTo, Key: r.Key, Value: body, Headers: recordHeaders(headers)}
	if err := s.producer.ProduceSync(ctx, reply).FirstErr(); err != nil {
		s.logger.Error("publish reply", "topic", ep.Queue, "reply_to", replyTo, "error", err)
	}
}

// Client produces requests carrying its reply topic and correlation id, and consumes the reply
// topic in the background to complete waiting calls.
type Client struct {
	producer   Producer
	replies    Consumer
	replyTopic string
	settings

	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]chan *kgo.Record
}

var _ cbus.Client = (*Client)(nil)

// NewClient returns a Client producing through producer and reading replyTopic from replies.
func NewClient(producer Producer, replies Consumer, replyTopic string, opts ...Option) *Client {
	return &Client{
		producer:   producer,
		replies:    replies,
		replyTopic: replyTopic,
		settings:   newSettings(opts),
		done:       make(chan struct{}),
		pending:    make(map[string]chan *kgo.Record),
	}
}

// Call implements bus.Client.
func (c *Client) Call(ctx context.Context, queue string, body []byte, headers map[string]string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.producer == nil || c.replies == nil || c.replyTopic == "" {
		return nil, fmt.Errorf("kafka call %s: %w", queue, berr.ErrTransportNotConfigured)
	}

	c.start.Do(c.listen)

	id := uuid.NewString()
	reply := make(chan *kgo.Record, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	h := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		h[k] = v
	}

	h[codec.HeaderCorrelationID] = id
	h[codec.HeaderReplyTo] = c.replyTopic

	rec := &kgo.Record{Topic: queue, Key: []byte(id), Value: body, Headers: recordHeaders(h)}
	if err := c.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		return nil, fmt.Errorf("kafka call %s: %w", queue, errors.Join(berr.ErrPublishFailed, err))
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-reply:
		if err := codec.CheckFault(headerMap(r.Headers), r.Value); err != nil {
			return nil, fmt.Errorf("kafka call %s: %w", queue, err)
		}

		return r.Value, nil
	}
}

func (c *Client) listen() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go func() {
		defer close(c.done)

		for {
			fetches := c.replies.PollRecords(ctx, 0)
			if ctx.Err() != nil || fetches.IsClientClosed() {
				return
			}

			fetches.EachRecord(func(r *kgo.Record) {
				id := headerMap(r.Headers)[codec.HeaderCorrelationID]

				c.mu.Lock()
				reply, ok := c.pending[id]
				c.mu.Unlock()

				if !ok {
					c.logger.Warn("dropping uncorrelated reply", "topic", r.Topic, "correlation_id", id)
					return
				}

				select {
				case reply <- r:
				default:
				}
			})
		}
	}()
}

// Close stops the reply loop and closes the reply consumer. A closed Client never starts listening.
func (c *Client) Close() error {
	c.start.Do(func() {})

	if c.cancel != nil {
		c.cancel()
	}

	if c.replies != nil {
		c.replies.Close()
	}

	if c.cancel != nil {
		<-c.done
	}

	return nil
}

func headerMap(hs []kgo.RecordHeader) map[string]string {
	m := make(map[string]string, len(hs))
	for _, h := range hs {
		m[h.Key] = string(h.Value)
	}

	return m
}

func recordHeaders(m map[string]string) []kgo.RecordHeader {
	if len(m) == 0 {
		return nil
	}

	hs := make([]kgo.RecordHeader, 0, len(m))
	for k, v := range m {
		hs = append(hs, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	return hs
}
