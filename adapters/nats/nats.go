package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
	"github.com/next-trace/scg-autorespond/internal/codec"
)

// DefaultQueueGroup is the queue group responders join unless configured otherwise.
const DefaultQueueGroup = "autorespond"

// pendingPerPrefetch scales a responder's prefetch into its subscription's pending message limit.
const pendingPerPrefetch = 64

// Msg is a NATS message reduced to what the adapter needs.
type Msg struct {
	Subject string
	Reply   string
	Data    []byte
	Headers map[string]string
}

// Conn is a minimal NATS-like connection decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Conn interface {
	QueueSubscribe(subject, queue string, handler func(Msg)) (Subscription, error)
	Publish(subject string, data []byte, headers map[string]string) error
	Request(ctx context.Context, subject string, data []byte, headers map[string]string) (Msg, error)
}

// Subscription is the subset of *nats.Subscription used by the Server.
type Subscription interface {
	SetPendingLimits(msgLimit, bytesLimit int) error
	Unsubscribe() error
}

// Option configures a Server.
type Option func(*Server)

// WithQueueGroup sets the queue group shared by every instance serving the same endpoints.
func WithQueueGroup(group string) Option {
	return func(s *Server) { s.group = group }
}

// WithPropagator extracts context from request headers before dispatching.
func WithPropagator(p cbus.HeaderPropagator) Option {
	return func(s *Server) { s.prop = p }
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server answers requests published to each endpoint's queue subject.
// Handlers run concurrently, at most PrefetchCount at a time per endpoint.
type Server struct {
	conn   Conn
	group  string
	prop   cbus.HeaderPropagator
	logger *slog.Logger
}

var _ cbus.Server = (*Server)(nil)

// NewServer creates a Server over conn.
func NewServer(conn Conn, opts ...Option) *Server {
	s := &Server{conn: conn, group: DefaultQueueGroup}
	for _, o := range opts {
		o(s)
	}

	if s.prop == nil {
		s.prop = cbus.NopHeaderPropagator{}
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s
}

// Serve subscribes every endpoint and blocks until ctx is done, then unsubscribes and waits
// for in-flight requests.
func (s *Server) Serve(ctx context.Context, endpoints ...cbus.Endpoint) error {
	if s.conn == nil {
		return fmt.Errorf("nats serve: %w", berr.ErrTransportNotConfigured)
	}

	var (
		inflight sync.WaitGroup
		subs     []Subscription
	)

	unsubscribe := func() {
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil {
				s.logger.Warn("nats unsubscribe", "error", err)
			}
		}

		inflight.Wait()
	}

	for _, ep := range endpoints {
		var sem *semaphore.Weighted
		if ep.PrefetchCount > 0 {
			sem = semaphore.NewWeighted(int64(ep.PrefetchCount))
		}

		sub, err := s.conn.QueueSubscribe(ep.Queue, s.group, func(m Msg) {
			if ctx.Err() != nil {
				return
			}

			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					return
				}
			}

			inflight.Add(1)

			go func() {
				defer inflight.Done()

				if sem != nil {
					defer sem.Release(1)
				}

				s.handle(ctx, ep, m)
			}()
		})
		if err != nil {
			unsubscribe()
			return fmt.Errorf("nats subscribe %s: %w", ep.Queue, err)
		}

		subs = append(subs, sub)

		if ep.PrefetchCount > 0 {
			if err := sub.SetPendingLimits(int(ep.PrefetchCount)*pendingPerPrefetch, -1); err != nil {
				unsubscribe()
				return fmt.Errorf("nats pending limits %s: %w", ep.Queue, err)
			}
		}

		s.logger.Info("subscribed", "subject", ep.Queue, "group", s.group, "prefetch", ep.PrefetchCount)
	}

	<-ctx.Done()
	unsubscribe()

	return nil
}

func (s *Server) handle(ctx context.Context, ep cbus.Endpoint, m Msg) {
	ctx = s.prop.Extract(ctx, m.Headers)

	body, headers := codec.Reply(ctx, ep, m.Data)
	if headers[codec.HeaderFaulted] != "" {
		s.logger.Warn("request faulted", "subject", ep.Queue, "error", headers[codec.HeaderError])
	}

	if m.Reply == "" {
		return
	}

	if err := s.conn.Publish(m.Reply, body, headers); err != nil {
		s.logger.Error("publish reply", "subject", ep.Queue, "reply", m.Reply, "error", err)
	}
}

// Client sends requests with NATS request/reply.
type Client struct {
	Conn Conn
}

var _ cbus.Client = (*Client)(nil)

// NewClient creates a Client over conn.
func NewClient(conn Conn) *Client { return &Client{Conn: conn} }

// Call implements bus.Client.
func (c *Client) Call(ctx context.Context, queue string, body []byte, headers map[string]string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.Conn == nil {
		return nil, fmt.Errorf("nats call %s: %w", queue, berr.ErrTransportNotConfigured)
	}

	m, err := c.Conn.Request(ctx, queue, body, headers)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		return nil, fmt.Errorf("nats call %s: %w", queue, errors.Join(berr.ErrPublishFailed, err))
	}

	if err := codec.CheckFault(m.Headers, m.Data); err != nil {
		return nil, fmt.Errorf("nats call %s: %w", queue, err)
	}

	return m.Data, nil
}
