package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/beaconkit/beacon/internal/collector"
	"github.com/beaconkit/beacon/internal/config"
)

const (
	defaultNATSSubject = "beacon.batches"
	shutdownTimeout    = 5 * time.Second
)

func newCollectCmd() *cobra.Command {
	var (
		addr      string
		failEvery int
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run the reference collector",
		Long: `Run a collector that accepts beacon batches on POST /collect, lists them on
GET /batches and, when collector.nats_url is set, answers NATS requests too.

Examples:
  # Collect on the default address
  beacon collect

  # Fail every third request to exercise retries
  beacon collect --addr 127.0.0.1:9000 --fail-every 3`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Collector.Addr = addr
			}
			if cmd.Flags().Changed("fail-every") {
				cfg.Collector.FailEvery = failEvery
			}

			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := newCollectServer(cfg, logger)
			if err != nil {
				return err
			}
			return server.run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides collector.addr)")
	cmd.Flags().IntVar(&failEvery, "fail-every", 0, "fail every n-th request with 503")
	return cmd
}

type collectServer struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *collector.Collector
	metrics   *echo.Echo
}

func newCollectServer(cfg *config.Config, logger *zap.Logger) (*collectServer, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := collector.New(collector.Config{
		Addr:      cfg.Collector.Addr,
		FailEvery: cfg.Collector.FailEvery,
	}, logger, reg)
	if err != nil {
		return nil, fmt.Errorf("creating collector: %w", err)
	}

	s := &collectServer{cfg: cfg, logger: logger, registry: reg, collector: c}
	if cfg.Metrics.Addr == "" {
		c.MountMetrics(reg)
	} else {
		s.metrics = echo.New()
		s.metrics.HideBanner = true
		s.metrics.HidePort = true
		s.metrics.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	return s, nil
}

// run serves until ctx is done or a server fails.
func (s *collectServer) run(ctx context.Context) error {
	if s.cfg.Collector.NATSURL != "" {
		nc, err := nats.Connect(s.cfg.Collector.NATSURL, nats.Name("beacon-collector"))
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer func() { _ = nc.Drain() }()

		subject := s.cfg.Collector.NATSSubject
		if subject == "" {
			subject = defaultNATSSubject
		}
		if _, err := s.collector.ServeNATS(nc, subject); err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(s.collector.Start)
	if s.metrics != nil {
		g.Go(func() error {
			s.logger.Info("serving metrics", zap.String("addr", s.cfg.Metrics.Addr))
			if err := s.metrics.Start(s.cfg.Metrics.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := s.collector.Shutdown(shutdownCtx)
		if s.metrics != nil {
			err = errors.Join(err, s.metrics.Shutdown(shutdownCtx))
		}
		return err
	})

	return g.Wait()
}
