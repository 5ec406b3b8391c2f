// Package beaconnats delivers beacon payloads as NATS requests. The collector
// answers every request with a reply carrying the upload status in the
// Beacon-Status header.
package beaconnats

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/beaconkit/beacon"
	"github.com/beaconkit/beacon/internal/debuglog"
)

const (
	// StatusHeader carries the upload status code in a reply.
	StatusHeader = "Beacon-Status"

	defaultTimeout = 10 * time.Second
)

// Transport implements beacon.Transport over NATS request-reply.
type Transport struct {
	// Timeout of a single request. Defaults to 10 seconds.
	Timeout time.Duration

	mu       sync.RWMutex
	conn     *nats.Conn
	ownsConn bool
	subject  string
	encoding string
	closed   bool

	pending sync.WaitGroup
	sent    atomic.Int64
	dropped atomic.Int64
}

// NewTransport returns a transport. If conn is nil, Configure connects to the
// server named by the session endpoint and Close closes that connection.
func NewTransport(conn *nats.Conn) *Transport {
	return &Transport{conn: conn, Timeout: defaultTimeout}
}

// Configure is called by the session with its own options. The endpoint must
// use the nats scheme; its path selects the subject.
func (t *Transport) Configure(options beacon.SessionOptions) {
	if options.Endpoint == "" {
		return
	}
	endpoint, err := beacon.ParseEndpoint(options.Endpoint)
	if err != nil {
		debuglog.Printf("%v\n", err)
		return
	}
	if endpoint.Scheme() != beacon.SchemeNATS {
		debuglog.Printf("NATS transport cannot send to %s endpoints\n", endpoint.Scheme())
		return
	}
	if t.Timeout <= 0 {
		t.Timeout = defaultTimeout
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.subject = endpoint.Subject()
	t.encoding = beacon.EncodingName(options)
	if t.conn == nil {
		conn, err := nats.Connect(endpoint.ServerURL(), nats.Name("beacon-go/"+beacon.Version))
		if err != nil {
			debuglog.Printf("Connecting to %s: %v\n", endpoint.ServerURL(), err)
			return
		}
		t.conn = conn
		t.ownsConn = true
	}
}

// Send publishes payload as a request and completes with the status from the
// reply, or 0 when no reply arrives in time.
func (t *Transport) Send(payload []byte, done func(status int)) {
	t.mu.RLock()
	conn, subject, encoding, closed := t.conn, t.subject, t.encoding, t.closed
	if !closed && conn != nil && subject != "" {
		t.pending.Add(1)
	}
	t.mu.RUnlock()

	if closed || conn == nil || subject == "" {
		t.dropped.Add(1)
		done(0)
		return
	}

	go func() {
		defer t.pending.Done()
		status := t.request(conn, subject, encoding, payload)
		if status != 0 {
			t.sent.Add(1)
		}
		done(status)
	}()
}

func (t *Transport) request(conn *nats.Conn, subject, encoding string, payload []byte) int {
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(beacon.EncodingHeader, encoding)

	ctx, cancel := context.WithTimeout(context.Background(), t.Timeout)
	defer cancel()

	reply, err := conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		debuglog.Printf("NATS request to %s failed: %v\n", subject, err)
		return 0
	}
	return ReplyStatus(reply)
}

// ReplyStatus reads the status code from a reply. A reply without a valid
// status counts as no response.
func ReplyStatus(reply *nats.Msg) int {
	status, err := strconv.Atoi(reply.Header.Get(StatusHeader))
	if err != nil || status <= 0 {
		debuglog.Printf("NATS reply without a valid %s header\n", StatusHeader)
		return 0
	}
	return status
}

// Flush waits until every request handed to Send has completed, or until
// timeout.
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

// Close stops accepting payloads. A connection opened by Configure is
// drained and closed.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn, owns := t.conn, t.ownsConn
	t.mu.Unlock()

	if owns && conn != nil {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}
}

// SentCount reports requests that got a reply.
func (t *Transport) SentCount() int64 {
	return t.sent.Load()
}

// DroppedCount reports payloads completed without being requested.
func (t *Transport) DroppedCount() int64 {
	return t.dropped.Load()
}
