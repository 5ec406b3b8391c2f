package beacon

import (
	"fmt"
	"sync"
	"time"

	"github.com/beaconkit/beacon/internal/compress"
	"github.com/beaconkit/beacon/internal/protocol"
)

// Envelope is the per-batch metadata sent with every batch.
type Envelope = protocol.Envelope

// Batch is an envelope plus its serialized records.
type Batch = protocol.Batch

// EnvelopeBuilder stamps each outgoing batch with session identity and the
// next sequence number.
type EnvelopeBuilder struct {
	mu           sync.Mutex
	sessionID    string
	impressionID string
	pageURL      string
	start        time.Time
	sequence     int64
}

// NewEnvelopeBuilder returns a builder whose first envelope has sequence number 0.
func NewEnvelopeBuilder(sessionID, impressionID, pageURL string, start time.Time) *EnvelopeBuilder {
	return &EnvelopeBuilder{
		sessionID:    sessionID,
		impressionID: impressionID,
		pageURL:      pageURL,
		start:        start,
	}
}

// Build returns a new envelope and advances the sequence number. Every call
// yields a distinct number, one greater than the previous call.
func (b *EnvelopeBuilder) Build() Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	seq := b.sequence
	b.sequence++

	return Envelope{
		SessionID:      b.sessionID,
		ImpressionID:   b.impressionID,
		PageURL:        b.pageURL,
		Version:        protocol.FormatVersion,
		Time:           time.Since(b.start).Milliseconds(),
		SequenceNumber: seq,
	}
}

// Reset clears the sequence counter.
func (b *EnvelopeBuilder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sequence = 0
}

// Next reports the sequence number the next Build will use.
func (b *EnvelopeBuilder) Next() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sequence
}

// DecodePayload reverses the send pipeline for a request body: it unwraps the
// body, decompresses it with the named codec and decodes the batch. It also
// returns the uncompressed serialized batch.
func DecodePayload(body []byte, encoding string) (*Batch, []byte, error) {
	compressed, err := protocol.Unwrap(body)
	if err != nil {
		return nil, nil, err
	}
	codec, err := compress.ForName(encoding)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding %q: %w", encoding, err)
	}
	raw, err := codec.Decompress(compressed)
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing %s payload: %w", encoding, err)
	}
	batch, err := protocol.Decode(raw)
	if err != nil {
		return nil, raw, err
	}
	return batch, raw, nil
}
