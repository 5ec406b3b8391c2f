// Package beaconfasthttp delivers beacon payloads with a fasthttp client.
package beaconfasthttp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/beaconkit/beacon"
	"github.com/beaconkit/beacon/internal/debuglog"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxConcurrent = 2
)

type Options struct {
	// Client used for uploads. Defaults to a fasthttp.Client named after the
	// library version.
	Client *fasthttp.Client
	// Timeout for a single upload.
	Timeout time.Duration
	// MaxConcurrent bounds the number of uploads in flight; further sends
	// wait for a slot.
	MaxConcurrent int
}

// Transport implements beacon.Transport on fasthttp.
type Transport struct {
	client  *fasthttp.Client
	timeout time.Duration
	slots   chan struct{}

	mu       sync.RWMutex
	url      string
	encoding string
	closed   bool

	pending sync.WaitGroup
	sent    atomic.Int64
	dropped atomic.Int64
}

// New returns a transport. It sends nothing until configured with an http
// or https endpoint.
func New(options Options) *Transport {
	if options.Client == nil {
		options.Client = &fasthttp.Client{Name: "beacon-go/" + beacon.Version}
	}
	if options.Timeout <= 0 {
		options.Timeout = defaultTimeout
	}
	if options.MaxConcurrent <= 0 {
		options.MaxConcurrent = defaultMaxConcurrent
	}
	return &Transport{
		client:  options.Client,
		timeout: options.Timeout,
		slots:   make(chan struct{}, options.MaxConcurrent),
	}
}

func (t *Transport) Configure(options beacon.SessionOptions) {
	if options.Endpoint == "" {
		return
	}
	endpoint, err := beacon.ParseEndpoint(options.Endpoint)
	if err != nil {
		debuglog.Printf("%v\n", err)
		return
	}
	if endpoint.Scheme() != beacon.SchemeHTTP && endpoint.Scheme() != beacon.SchemeHTTPS {
		debuglog.Printf("fasthttp transport cannot send to %s endpoints\n", endpoint.Scheme())
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.url = endpoint.URL().String()
	t.encoding = beacon.EncodingName(options)
}

func (t *Transport) Send(payload []byte, done func(status int)) {
	t.mu.RLock()
	url, encoding, closed := t.url, t.encoding, t.closed
	if !closed && url != "" {
		t.pending.Add(1)
	}
	t.mu.RUnlock()

	if closed || url == "" {
		t.dropped.Add(1)
		done(0)
		return
	}

	go func() {
		defer t.pending.Done()
		t.slots <- struct{}{}
		status := t.post(url, encoding, payload)
		<-t.slots
		done(status)
	}()
}

func (t *Transport) post(url, encoding string, payload []byte) int {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set(beacon.EncodingHeader, encoding)
	req.SetBody(payload)

	if err := t.client.DoTimeout(req, resp, t.timeout); err != nil {
		debuglog.Printf("Upload to %s failed: %v\n", url, err)
		return 0
	}
	t.sent.Add(1)
	return resp.StatusCode()
}

func (t *Transport) Flush(timeout time.Duration) bool {
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

// Close stops accepting payloads and closes idle connections.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.client.CloseIdleConnections()
}

func (t *Transport) SentCount() int64 {
	return t.sent.Load()
}

func (t *Transport) DroppedCount() int64 {
	return t.dropped.Load()
}
