package beacon

import (
	"crypto/x509"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/beaconkit/beacon/internal/debugstore"
)

const (
	defaultTotalByteLimit = 10 * 1024 * 1024
	defaultContext        = "default"
)

// DebugEntry is one batch kept by the debug store.
type DebugEntry = debugstore.Entry

// DebugStore keeps copies of sent batches while debug mode is on.
type DebugStore = debugstore.Store

// SessionOptions that configure a Session.
type SessionOptions struct {
	// The collector to send batches to. If empty, nothing is uploaded and no
	// bytes are charged.
	Endpoint string
	// Serialized size, in bytes, above which the buffered records are flushed.
	// Defaults to 10000.
	BatchSize int
	// Time after the last record at which a non-empty buffer is flushed.
	// Defaults to one second.
	FlushDelay time.Duration
	// Bytes the session may have in flight or delivered before it tears itself
	// down. Defaults to 10 MB.
	TotalByteLimit int64
	// In debug mode, diagnostic messages are printed to DebugWriter and every
	// compressed batch is kept in a debug store.
	Debug bool
	// The writer used for debug messages. Defaults to os.Stderr.
	DebugWriter io.Writer
	// Store for debug copies. Takes precedence over DebugStorePath.
	DebugStore DebugStore
	// Path of a SQLite file to keep debug copies in. If empty, an in-memory
	// ring of DebugStoreCapacity entries is used.
	DebugStorePath string
	// Capacity of the in-memory debug store. Defaults to 100.
	DebugStoreCapacity int
	// Codec applied to every batch: "gzip" (default), "zstd", "lz4" or "none".
	// An unknown name makes activation fail.
	Compression string
	// Custom compressor. Takes precedence over Compression. If it has a
	// Name() string method, the name is sent as the payload encoding.
	Compressor Compressor
	// Transport used to send payloads. Defaults to an HTTPTransport.
	Transport Transport
	// Additional sinks for instrumentation events. The session always records
	// events into itself as well.
	Sinks []Sink
	// Observer components driven by the session lifecycle.
	Components []Component
	// Host facilities that must be available for activation to succeed.
	Capabilities []Capability
	// Execution context the session claims on activation. Only one active
	// session per context is allowed. Defaults to "default".
	Context string
	// Session and impression identity. Random UUIDs are generated when empty.
	SessionID    string
	ImpressionID string
	// Location the records are observed on.
	PageURL string
	// If set, session metrics are registered here.
	MetricsRegisterer prometheus.Registerer
	// Size of the HTTPTransport queue. Defaults to 30.
	BufferSize int
	// Timeout of a single HTTP upload. Defaults to 30 seconds.
	HTTPTimeout time.Duration
	// The client used by HTTPTransport. Takes precedence over HTTPTransport.
	HTTPClient *http.Client
	// The round tripper used by HTTPTransport.
	HTTPTransport http.RoundTripper
	// Proxies used by HTTPTransport. HTTPSProxy takes precedence.
	HTTPProxy  string
	HTTPSProxy string
	// Root certificates used by HTTPTransport. Defaults to the certifi bundle.
	CaCerts *x509.CertPool
}

func (o *SessionOptions) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.FlushDelay <= 0 {
		o.FlushDelay = defaultFlushDelay
	}
	if o.TotalByteLimit <= 0 {
		o.TotalByteLimit = defaultTotalByteLimit
	}
	if o.Context == "" {
		o.Context = defaultContext
	}
}

// EncodingName returns the codec name transports send alongside a payload.
func EncodingName(options SessionOptions) string {
	if options.Compressor != nil {
		if named, ok := options.Compressor.(interface{ Name() string }); ok {
			return named.Name()
		}
		return "custom"
	}
	if options.Compression == "" {
		return "gzip"
	}
	return options.Compression
}
