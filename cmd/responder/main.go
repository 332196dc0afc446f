// Command responder serves the demo responders over the configured transport and sends
// requests to them.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/next-trace/scg-autorespond/autorespond"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
	"github.com/next-trace/scg-autorespond/internal/codec"
	"github.com/next-trace/scg-autorespond/internal/config"
	"github.com/next-trace/scg-autorespond/metrics"
	"github.com/next-trace/scg-autorespond/servicebus"
	"github.com/next-trace/scg-autorespond/tracing"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "responder",
		Short:         "Discover request handlers and serve them over a request/response bus",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(), requestCmd(), listCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// app is a bus with the demo responders registered into it.
type app struct {
	bus      *servicebus.Bus
	registry *prometheus.Registry
}

func newApp(cfg config.Config, logger *slog.Logger, opts ...servicebus.BusOption) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus := servicebus.New(logger, append([]servicebus.BusOption{
		servicebus.WithDefaultPrefetch(cfg.DefaultPrefetch),
		servicebus.WithPropagator(tracing.GlobalPropagator()),
	}, opts...)...)

	dispatcher := metrics.NewDispatcher(reg, tracing.NewDispatcher(nil, nil))

	ar, err := autorespond.New(bus, autorespond.WithDispatcher(dispatcher), autorespond.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if err := ar.Respond(syncResponders...); err != nil {
		return nil, err
	}

	if err := ar.RespondAsync(asyncResponders...); err != nil {
		return nil, err
	}

	return &app{bus: bus, registry: reg}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo responders until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := cfg.Logger()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.bus.Close() }()

			if cfg.MetricsAddr != "" {
				stopMetrics := serveMetrics(cfg.MetricsAddr, a.registry, logger)
				defer stopMetrics()
			}

			srv, cleanup, err := newServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			endpoints := a.bus.Endpoints()
			logger.Info("serving", "transport", cfg.Transport, "endpoints", len(endpoints))

			if srv == nil {
				<-ctx.Done()
				return nil
			}

			return srv.Serve(ctx, endpoints...)
		},
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = hs.Shutdown(ctx)
	}
}

func requestCmd() *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "request <queue> <json>",
		Short: "Send one JSON request to a queue and print the reply",
		Long: "Send one JSON request to a queue and print the reply.\n" +
			"With the memory transport the request is answered by an in-process copy of the demo responders.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()

			out, err := request(ctx, cfg, cfg.Logger(), args[0], []byte(args[1]))
			if err != nil {
				return err
			}

			if field != "" {
				v := gjson.GetBytes(out, field)
				if !v.Exists() {
					return fmt.Errorf("field %q not in reply %s", field, out)
				}

				out = []byte(v.String())
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))

			return err
		},
	}

	cmd.Flags().StringVarP(&field, "field", "f", "", "print only this gjson path of the reply")

	return cmd
}

func request(ctx context.Context, cfg config.Config, logger *slog.Logger, queue string, body []byte) ([]byte, error) {
	if !strings.EqualFold(cfg.Transport, config.TransportMemory) {
		client, cleanup, err := newClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		headers := map[string]string{}
		tracing.GlobalPropagator().Inject(ctx, headers)

		return client.Call(ctx, queue, body, headers)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.bus.Close() }()

	for _, ep := range a.bus.Endpoints() {
		if ep.Queue != queue {
			continue
		}

		out, headers := codec.Reply(ctx, ep, body)
		if err := codec.CheckFault(headers, out); err != nil {
			return nil, err
		}

		return out, nil
	}

	return nil, fmt.Errorf("queue %s: %w", queue, berr.ErrHandlerNotFound)
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the demo responders and their queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			a, err := newApp(cfg, slog.New(slog.DiscardHandler))
			if err != nil {
				return err
			}
			defer func() { _ = a.bus.Close() }()

			return printRegistrations(cmd, a.bus.Registrations())
		},
	}
}

func printRegistrations(cmd *cobra.Command, regs []servicebus.Registration) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tREQUEST\tRESPONSE\tSHAPE\tPREFETCH")

	for _, r := range regs {
		shape := "sync"
		if r.Async {
			shape = "async"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.Options.QueueName, r.RequestType, r.ResponseType, shape, r.Options.PrefetchCount)
	}

	return w.Flush()
}
