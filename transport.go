package beacon

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/certifi/gocertifi"

	"github.com/beaconkit/beacon/internal/compress"
	"github.com/beaconkit/beacon/internal/debuglog"
)

const (
	defaultBufferSize  = 30
	defaultWorkerCount = 2
	defaultHTTPTimeout = 30 * time.Second

	// EncodingHeader names the codec the payload was compressed with.
	EncodingHeader = "X-Beacon-Encoding"
	userAgent      = "beacon-go/" + Version
)

// maxDrainResponseBytes is the maximum number of bytes read from a response
// body when draining it. The body itself is never used, but net/http needs it
// drained and closed for keep-alive to work.
const maxDrainResponseBytes = 16 << 10

var (
	// ErrTransportQueueFull is logged when a payload is dropped because the send
	// queue is full. The payload completes with status 0.
	ErrTransportQueueFull = errors.New("transport queue full")

	// ErrTransportClosed is logged when a payload is sent after Close.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrUnknownCompression is the activation error for an unsupported codec
	// name.
	ErrUnknownCompression = compress.ErrUnknownCodec
)

// Transport delivers request bodies to the collector and reports the outcome
// of each as a status code, 0 meaning no response was received.
type Transport interface {
	// Configure is called by the session with its own options.
	Configure(options SessionOptions)
	// Send delivers payload and calls done exactly once with the status. done
	// may run synchronously, before Send returns.
	Send(payload []byte, done func(status int))
	// Flush waits until every payload handed to Send has completed.
	Flush(timeout time.Duration) bool
	Close()
}

type httpRequest struct {
	payload []byte
	done    func(status int)
}

// HTTPTransport posts payloads from a bounded queue served by a fixed pool of
// workers.
type HTTPTransport struct {
	endpoint  *Endpoint
	encoding  string
	client    *http.Client
	transport http.RoundTripper

	queue   chan *httpRequest
	pending sync.WaitGroup
	workers sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	sentCount    atomic.Int64
	droppedCount atomic.Int64

	// BufferSize is the capacity of the send queue.
	BufferSize int
	// WorkerCount is the number of concurrent uploads.
	WorkerCount int
	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	start sync.Once
}

// NewHTTPTransport returns a new pre-configured instance of HTTPTransport.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		BufferSize:  defaultBufferSize,
		WorkerCount: defaultWorkerCount,
		Timeout:     defaultHTTPTimeout,
	}
}

// Configure is called by the Session itself, providing it its own SessionOptions.
func (t *HTTPTransport) Configure(options SessionOptions) {
	if options.Endpoint == "" {
		return
	}
	endpoint, err := ParseEndpoint(options.Endpoint)
	if err != nil {
		debuglog.Printf("%v\n", err)
		return
	}
	if endpoint.Scheme() != SchemeHTTP && endpoint.Scheme() != SchemeHTTPS {
		debuglog.Printf("HTTPTransport cannot send to %s endpoints\n", endpoint.Scheme())
		return
	}
	t.endpoint = endpoint
	t.encoding = EncodingName(options)

	if options.BufferSize > 0 {
		t.BufferSize = options.BufferSize
	}
	if t.BufferSize <= 0 {
		t.BufferSize = defaultBufferSize
	}
	if t.WorkerCount <= 0 {
		t.WorkerCount = defaultWorkerCount
	}
	if options.HTTPTimeout > 0 {
		t.Timeout = options.HTTPTimeout
	}

	if options.HTTPTransport != nil {
		t.transport = options.HTTPTransport
	} else {
		t.transport = &http.Transport{
			Proxy:           getProxyConfig(options),
			TLSClientConfig: getTLSConfig(options),
		}
	}

	if options.HTTPClient != nil {
		t.client = options.HTTPClient
	} else {
		t.client = &http.Client{
			Transport: t.transport,
			Timeout:   t.Timeout,
		}
	}

	t.start.Do(func() {
		t.queue = make(chan *httpRequest, t.BufferSize)
		for i := 0; i < t.WorkerCount; i++ {
			t.workers.Add(1)
			go t.worker()
		}
	})
}

// Send queues payload for delivery. If the transport is unconfigured, closed or
// its queue is full, done is called right away with status 0.
func (t *HTTPTransport) Send(payload []byte, done func(status int)) {
	err := t.enqueue(&httpRequest{payload: payload, done: done})
	if err != nil {
		t.droppedCount.Add(1)
		debuglog.Printf("Dropping %d byte payload: %v\n", len(payload), err)
		done(0)
	}
}

func (t *HTTPTransport) enqueue(request *httpRequest) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.queue == nil {
		return errors.New("transport not configured")
	}
	if t.closed {
		return ErrTransportClosed
	}

	t.pending.Add(1)
	select {
	case t.queue <- request:
		return nil
	default:
		t.pending.Done()
		return ErrTransportQueueFull
	}
}

// Flush notifies when all the queued payloads have been sent by returning
// `true` or `false` if timeout was reached.
func (t *HTTPTransport) Flush(timeout time.Duration) bool {
	c := make(chan struct{})

	go func() {
		t.pending.Wait()
		close(c)
	}()

	select {
	case <-c:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close stops accepting payloads and waits for the workers to finish the queue.
func (t *HTTPTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	if t.queue != nil {
		close(t.queue)
	}
	t.mu.Unlock()

	t.workers.Wait()
}

// SentCount returns the number of requests that received a response.
func (t *HTTPTransport) SentCount() int64 {
	return t.sentCount.Load()
}

// DroppedCount returns the number of payloads dropped without a request.
func (t *HTTPTransport) DroppedCount() int64 {
	return t.droppedCount.Load()
}

func (t *HTTPTransport) worker() {
	defer t.workers.Done()

	for request := range t.queue {
		status := t.post(request.payload)
		request.done(status)
		t.pending.Done()
	}
}

func (t *HTTPTransport) post(payload []byte) int {
	ctx, cancel := context.WithTimeout(context.Background(), t.Timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint.URL().String(), bytes.NewReader(payload))
	if err != nil {
		debuglog.Printf("Failed to create request: %v\n", err)
		return 0
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", userAgent)
	request.Header.Set(EncodingHeader, t.encoding)

	response, err := t.client.Do(request)
	if err != nil {
		debuglog.Printf("There was an issue with sending a batch: %v\n", err)
		return 0
	}
	defer response.Body.Close()

	t.sentCount.Add(1)
	if !IsSuccessStatus(response.StatusCode) {
		if body, err := io.ReadAll(io.LimitReader(response.Body, maxDrainResponseBytes)); err == nil && len(body) > 0 {
			debuglog.Printf("Collector responded %d: %s\n", response.StatusCode, body)
		}
	}
	_, _ = io.CopyN(io.Discard, response.Body, maxDrainResponseBytes)

	return response.StatusCode
}

func getProxyConfig(options SessionOptions) func(*http.Request) (*url.URL, error) {
	if options.HTTPSProxy != "" {
		return func(*http.Request) (*url.URL, error) {
			return url.Parse(options.HTTPSProxy)
		}
	}

	if options.HTTPProxy != "" {
		return func(*http.Request) (*url.URL, error) {
			return url.Parse(options.HTTPProxy)
		}
	}

	return http.ProxyFromEnvironment
}

func getTLSConfig(options SessionOptions) *tls.Config {
	if options.CaCerts != nil {
		return &tls.Config{
			RootCAs:    options.CaCerts,
			MinVersion: tls.VersionTLS12,
		}
	}

	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		debuglog.Printf("Couldn't load CA certificates: %v\n", err)
		return nil
	}
	return &tls.Config{
		RootCAs:    rootCAs,
		MinVersion: tls.VersionTLS12,
	}
}

// noopTransport is used when no endpoint is configured.
type noopTransport struct{}

func (noopTransport) Configure(SessionOptions)      {}
func (noopTransport) Send(_ []byte, done func(int)) { done(0) }
func (noopTransport) Flush(time.Duration) bool      { return true }
func (noopTransport) Close()                        {}
