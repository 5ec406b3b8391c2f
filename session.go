package beacon

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/beaconkit/beacon/internal/compress"
	"github.com/beaconkit/beacon/internal/debuglog"
	"github.com/beaconkit/beacon/internal/debugstore"
	"github.com/beaconkit/beacon/internal/outcome"
	"github.com/beaconkit/beacon/internal/protocol"
)

// Version is the library version, sent in the User-Agent header.
const Version = "0.3.0"

// OutcomeReport is a snapshot of what happened to the session's batches.
type OutcomeReport = outcome.Report

// Session owns one batcher, uploader and delivery tracker, and drives the
// observer components through their lifecycle.
type Session struct {
	options      SessionOptions
	sessionID    string
	impressionID string
	start        time.Time

	codec     Compressor
	codecErr  error
	encoding  string
	transport Transport

	envelopes  *EnvelopeBuilder
	batcher    *Batcher
	uploader   *Uploader
	tracker    *DeliveryTracker
	sink       Sink
	outcomes   *outcome.Aggregator
	metrics    *Metrics
	debugStore DebugStore
	ownsStore  bool

	ownsTransport bool

	mu           sync.Mutex
	state        SessionState
	closing      bool
	activating   bool
	quotaTripped bool
	components   []Component
	bindings     []func()
}

// NewSession creates a Loaded session. It fails only on invalid options: a
// malformed endpoint, a nats endpoint without a Transport, an unopenable debug
// store or a metrics registration conflict. An unknown compression name is not an error here; it makes
// Activate fail instead.
func NewSession(options SessionOptions) (*Session, error) {
	options.applyDefaults()

	if options.Debug {
		if options.DebugWriter == nil {
			options.DebugWriter = os.Stderr
		}
		debuglog.SetOutput(options.DebugWriter)
	}

	if options.Endpoint != "" {
		endpoint, err := ParseEndpoint(options.Endpoint)
		if err != nil {
			return nil, err
		}
		if options.Transport == nil && endpoint.Scheme() != SchemeHTTP && endpoint.Scheme() != SchemeHTTPS {
			return nil, fmt.Errorf("%s endpoint %q needs a Transport", endpoint.Scheme(), options.Endpoint)
		}
	}

	s := &Session{
		options:      options,
		sessionID:    options.SessionID,
		impressionID: options.ImpressionID,
		start:        time.Now(),
		outcomes:     outcome.NewAggregator(),
		components:   append([]Component(nil), options.Components...),
	}
	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
	}
	if s.impressionID == "" {
		s.impressionID = uuid.NewString()
	}

	s.codec, s.codecErr = selectCompressor(options)
	s.encoding = EncodingName(SessionOptions{Compressor: s.codec})

	if options.MetricsRegisterer != nil {
		reg := prometheus.WrapRegistererWith(prometheus.Labels{"impression": s.impressionID}, options.MetricsRegisterer)
		metrics, err := NewMetrics(reg)
		if err != nil {
			return nil, fmt.Errorf("registering session metrics: %w", err)
		}
		s.metrics = metrics
	}

	if options.Debug {
		switch {
		case options.DebugStore != nil:
			s.debugStore = options.DebugStore
		case options.DebugStorePath != "":
			store, err := debugstore.OpenSQLite(options.DebugStorePath)
			if err != nil {
				return nil, err
			}
			s.debugStore = store
			s.ownsStore = true
		default:
			s.debugStore = debugstore.NewMemory(options.DebugStoreCapacity)
			s.ownsStore = true
		}
	}

	s.transport = options.Transport
	if s.transport == nil {
		if options.Endpoint != "" {
			s.transport = NewHTTPTransport()
		} else {
			s.transport = noopTransport{}
		}
		s.ownsTransport = true
	}
	configured := options
	configured.Compressor = s.codec
	s.transport.Configure(configured)

	s.envelopes = NewEnvelopeBuilder(s.sessionID, s.impressionID, options.PageURL, s.start)
	s.batcher = NewBatcher(options.BatchSize, options.FlushDelay, s.envelopes, s.ship)
	s.uploader = NewUploader(s.transport, options.Endpoint)

	sinks := MultiSink{recordingSink{recorder: s}}
	sinks = append(sinks, options.Sinks...)
	s.sink = sinks

	s.tracker = NewDeliveryTracker(s.uploader, s.sink)
	s.tracker.outcomes = s.outcomes
	s.tracker.metrics = s.metrics

	s.metrics.setState(SessionLoaded)
	debuglog.Printf("Session %s created (endpoint %q, encoding %s)", s.sessionID, options.Endpoint, s.encoding)
	return s, nil
}

func selectCompressor(options SessionOptions) (Compressor, error) {
	if options.Compressor != nil {
		return options.Compressor, nil
	}
	codec, err := compress.ForName(options.Compression)
	if err != nil {
		debuglog.Printf("Compression %q unavailable: %v", options.Compression, err)
		return compress.None{}, err
	}
	return codec, nil
}

// Record stamps state with the current page time and buffers it.
func (s *Session) Record(state State) bool {
	return s.RecordAt(state, s.now())
}

// RecordAt buffers state with an explicit page time in milliseconds. It is
// accepted while the session is Loaded or Activated.
func (s *Session) RecordAt(state State, at int64) bool {
	if state == nil {
		return false
	}
	accepted := s.batcher.Add(ObservationRecord{
		Time:  at,
		Type:  state.Kind(),
		State: state,
	})
	s.metrics.record(accepted)
	return accepted
}

// Flush ships the buffered records now. It reports whether a batch was built.
func (s *Session) Flush() bool {
	return s.batcher.Flush()
}

// Shutdown tears the session down and waits up to timeout for in-flight
// uploads to complete. A transport the session created itself is closed even
// when the timeout is reached. It reports false if the timeout was reached.
func (s *Session) Shutdown(timeout time.Duration) bool {
	s.Teardown()
	ok := s.transport.Flush(timeout)
	if s.ownsTransport {
		s.transport.Close()
	}
	if s.ownsStore && s.debugStore != nil {
		if err := s.debugStore.Close(); err != nil {
			debuglog.Printf("Closing debug store: %v", err)
		}
	}
	return ok
}

func (s *Session) ship(batch *protocol.Batch, trigger FlushTrigger) {
	raw, err := batch.Serialize()
	if err != nil {
		debuglog.Printf("Failed to serialize batch %d: %v", batch.Envelope.SequenceNumber, err)
		return
	}
	s.metrics.flush(trigger)

	compressed, err := s.codec.Compress(raw)
	if err != nil {
		s.outcomes.RecordBatch(outcome.ReasonCompressionError, len(raw))
		s.sink.Report(InstrumentationEvent{
			Type:  InstrumentationCompressionFailure,
			Error: err.Error(),
		})
		return
	}

	payload, err := protocol.Wrap(compressed)
	if err != nil {
		debuglog.Printf("Failed to wrap batch %d: %v", batch.Envelope.SequenceNumber, err)
		return
	}

	s.keepDebugCopy(batch.Envelope.SequenceNumber, raw, compressed)

	size := len(payload)
	sent := s.uploader.Send(payload,
		func(status int) {
			s.outcomes.RecordBatch(outcome.ReasonDelivered, size)
			s.metrics.upload(uploadAttemptFirst, true)
			s.tracker.RetryAll()
		},
		func(status int) {
			s.outcomes.RecordBatch(failureReason(status), size)
			s.metrics.upload(uploadAttemptFirst, false)
			s.tracker.OnFirstFailure(status, raw, payload)
		},
	)
	if !sent {
		s.outcomes.RecordBatch(outcome.ReasonNoEndpoint, size)
		return
	}

	s.enforceQuota()
}

func (s *Session) keepDebugCopy(seq int64, raw, compressed []byte) {
	if s.debugStore == nil {
		return
	}
	err := s.debugStore.Append(debugstore.Entry{
		SequenceNumber: seq,
		Encoding:       s.encoding,
		RawLength:      len(raw),
		Payload:        compressed,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		debuglog.Printf("Failed to keep debug copy of batch %d: %v", seq, err)
	}
}

// enforceQuota tears an activated session down once the charged bytes exceed
// the total byte limit.
func (s *Session) enforceQuota() {
	used := s.uploader.Charged()
	s.metrics.setCharged(used)

	s.mu.Lock()
	over := s.state == SessionActivated && !s.closing && !s.quotaTripped && used > s.options.TotalByteLimit
	if over {
		s.quotaTripped = true
	}
	s.mu.Unlock()

	if !over {
		return
	}

	debuglog.Printf("Session %s exceeded its byte limit: %d > %d", s.sessionID, used, s.options.TotalByteLimit)
	s.sink.Report(InstrumentationEvent{
		Type:         InstrumentationTotalByteLimitExceeded,
		CurrentBytes: used,
		ByteLimit:    s.options.TotalByteLimit,
	})
	s.teardown(TeardownReasonQuota)
}

func (s *Session) now() int64 {
	return time.Since(s.start).Milliseconds()
}

// State returns the lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the session identity sent in every envelope.
func (s *Session) SessionID() string {
	return s.sessionID
}

// ImpressionID returns the page-view identity sent in every envelope.
func (s *Session) ImpressionID() string {
	return s.impressionID
}

// QuotaUsed returns the bytes currently charged against the total byte limit.
func (s *Session) QuotaUsed() int64 {
	return s.uploader.Charged()
}

// DroppedBatches returns the failed batches waiting for a retry.
func (s *Session) DroppedBatches() []DroppedBatch {
	return s.tracker.Entries()
}

// TakeOutcomes returns the outcomes accumulated since the last call, or nil.
func (s *Session) TakeOutcomes() *OutcomeReport {
	return s.outcomes.TakeReport()
}

// DebugEntries returns the batches kept by the debug store. It returns nil
// when debug mode is off.
func (s *Session) DebugEntries() ([]DebugEntry, error) {
	if s.debugStore == nil {
		return nil, nil
	}
	return s.debugStore.Entries()
}
