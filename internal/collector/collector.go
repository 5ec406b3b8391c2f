// Package collector is a reference collection server. It accepts beacon
// request bodies over HTTP or NATS, decodes them and keeps the batches in
// memory.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/beaconkit/beacon"
)

// maxBodyBytes bounds a single request body.
const maxBodyBytes = 8 << 20

// defaultEncoding is assumed when a request names no codec.
const defaultEncoding = "gzip"

// Config holds collector configuration.
type Config struct {
	Addr string
	// FailEvery makes every n-th request fail with 503 before it is decoded.
	// Zero disables failure injection.
	FailEvery int
}

// Received is one decoded batch.
type Received struct {
	Envelope         beacon.Envelope            `json:"envelope"`
	Records          []beacon.ObservationRecord `json:"records"`
	Encoding         string                     `json:"encoding"`
	CompressedLength int                        `json:"compressedLength"`
	RawLength        int                        `json:"rawLength"`
	ReceivedAt       time.Time                  `json:"receivedAt"`
	// Duplicate is set when a batch with the same session, impression and
	// sequence number was already accepted.
	Duplicate bool `json:"duplicate,omitempty"`
}

type batchKey struct {
	session    string
	impression string
	seq        int64
}

// Collector stores every batch it accepts.
type Collector struct {
	echo    *echo.Echo
	logger  *zap.Logger
	config  Config
	metrics *metrics

	mu       sync.Mutex
	requests int
	batches  []Received
	seen     map[batchKey]bool
}

// New creates a collector. reg may be nil.
func New(cfg Config, logger *zap.Logger, reg prometheus.Registerer) (*Collector, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.FailEvery < 0 {
		return nil, fmt.Errorf("fail every must not be negative, got %d", cfg.FailEvery)
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", maxBodyBytes>>20)))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	c := &Collector{
		echo:    e,
		logger:  logger,
		config:  cfg,
		metrics: m,
		seen:    make(map[batchKey]bool),
	}
	c.registerRoutes()
	return c, nil
}

func (c *Collector) registerRoutes() {
	c.echo.GET("/health", c.handleHealth)
	c.echo.POST("/collect", c.handleCollect)
	c.echo.GET("/batches", c.handleBatches)
}

// Handler exposes the HTTP routes, for tests and embedding.
func (c *Collector) Handler() http.Handler {
	return c.echo
}

// MountMetrics serves the metrics of g on GET /metrics.
func (c *Collector) MountMetrics(g prometheus.Gatherer) {
	c.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}

// ListenerAddr is the address the HTTP server listens on, or nil before Start.
func (c *Collector) ListenerAddr() net.Addr {
	return c.echo.ListenerAddr()
}

// Start serves HTTP on the configured address until Shutdown.
func (c *Collector) Start() error {
	c.logger.Info("starting collector", zap.String("addr", c.config.Addr))
	err := c.echo.Start(c.config.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.logger.Info("shutting down collector")
	return c.echo.Shutdown(ctx)
}

func (c *Collector) handleHealth(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (c *Collector) handleCollect(ctx echo.Context) error {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	status, err := c.Accept(body, ctx.Request().Header.Get(beacon.EncodingHeader))
	if err != nil {
		return echo.NewHTTPError(status, err.Error())
	}
	return ctx.NoContent(status)
}

func (c *Collector) handleBatches(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.Batches())
}

// Accept decodes one request body and stores the batch. It returns the
// status to answer with, and an error for any status outside 2xx.
func (c *Collector) Accept(body []byte, encoding string) (int, error) {
	if encoding == "" {
		encoding = defaultEncoding
	}

	c.mu.Lock()
	c.requests++
	n := c.requests
	c.mu.Unlock()

	if c.config.FailEvery > 0 && n%c.config.FailEvery == 0 {
		c.logger.Info("injecting failure", zap.Int("request", n))
		c.metrics.request("injected")
		return http.StatusServiceUnavailable, errors.New("injected failure")
	}

	batch, raw, err := beacon.DecodePayload(body, encoding)
	if err != nil {
		c.logger.Warn("rejecting payload", zap.String("encoding", encoding), zap.Error(err))
		c.metrics.request("invalid")
		return http.StatusBadRequest, err
	}

	records := make([]beacon.ObservationRecord, 0, len(batch.Events))
	for _, event := range batch.Events {
		record, err := beacon.DecodeRecord(event)
		if err != nil {
			c.logger.Warn("rejecting record", zap.Int64("sequenceNumber", batch.Envelope.SequenceNumber), zap.Error(err))
			c.metrics.request("invalid")
			return http.StatusBadRequest, err
		}
		records = append(records, record)
	}

	received := Received{
		Envelope:         batch.Envelope,
		Records:          records,
		Encoding:         encoding,
		CompressedLength: len(body),
		RawLength:        len(raw),
		ReceivedAt:       time.Now(),
	}
	key := batchKey{batch.Envelope.SessionID, batch.Envelope.ImpressionID, batch.Envelope.SequenceNumber}

	c.mu.Lock()
	received.Duplicate = c.seen[key]
	c.seen[key] = true
	c.batches = append(c.batches, received)
	c.mu.Unlock()

	c.metrics.request("accepted")
	c.metrics.records.Add(float64(len(records)))
	c.logger.Debug("accepted batch",
		zap.String("sessionId", batch.Envelope.SessionID),
		zap.Int64("sequenceNumber", batch.Envelope.SequenceNumber),
		zap.Int("records", len(records)),
		zap.Bool("duplicate", received.Duplicate),
	)
	return http.StatusOK, nil
}

// Batches returns the accepted batches ordered by session, impression and
// sequence number.
func (c *Collector) Batches() []Received {
	c.mu.Lock()
	out := append([]Received(nil), c.batches...)
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Envelope, out[j].Envelope
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		if a.ImpressionID != b.ImpressionID {
			return a.ImpressionID < b.ImpressionID
		}
		return a.SequenceNumber < b.SequenceNumber
	})
	return out
}

// Requests reports how many request bodies were handed to Accept.
func (c *Collector) Requests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}
