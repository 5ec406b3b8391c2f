package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/buger/jsonparser"
)

// FormatVersion is stamped on every envelope so collectors can tell payload
// generations apart.
const FormatVersion = "0.6.0"

// ErrEmptyBatch is returned when a batch without events is serialized.
var ErrEmptyBatch = errors.New("batch has no events")

// Envelope carries the per-batch metadata that does not belong to any single record.
type Envelope struct {
	// SessionID identifies the instrumentation session (stable across page views).
	SessionID string `json:"sessionId"`

	// ImpressionID identifies a single page view within the session.
	ImpressionID string `json:"impressionId"`

	// PageURL is the location the records were observed on.
	PageURL string `json:"pageUrl"`

	// Version is the payload format version, see FormatVersion.
	Version string `json:"version"`

	// Time is the page-context timestamp, in milliseconds, when the batch was built.
	Time int64 `json:"time"`

	// SequenceNumber orders batches by flush call. It is assigned once and never
	// reused, even though network completions may arrive out of order.
	SequenceNumber int64 `json:"sequenceNumber"`
}

// Batch is one envelope plus the ordered, already-serialized records it carries.
type Batch struct {
	Envelope Envelope          `json:"envelope"`
	Events   []json.RawMessage `json:"events"`
}

// Serialize renders the batch in the transmission shape:
//
//	{"envelope": <Envelope>, "events": [<record>, ...]}
func (b *Batch) Serialize() ([]byte, error) {
	if len(b.Events) == 0 {
		return nil, ErrEmptyBatch
	}

	var buf bytes.Buffer

	envelopeBytes, err := json.Marshal(b.Envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	buf.WriteString(`{"envelope":`)
	buf.Write(envelopeBytes)
	buf.WriteString(`,"events":[`)
	for i, event := range b.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(event)
	}
	buf.WriteString("]}")

	return buf.Bytes(), nil
}

// WriteTo writes the serialized batch to w.
func (b *Batch) WriteTo(w io.Writer) (int64, error) {
	data, err := b.Serialize()
	if err != nil {
		return 0, err
	}

	n, err := w.Write(data)
	return int64(n), err
}

// Decode parses a serialized batch back into its envelope and raw events.
func Decode(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return &b, nil
}

// Wrap turns compressed bytes into the final request body: a JSON string
// literal holding the base64 form of the payload.
func Wrap(compressed []byte) ([]byte, error) {
	if compressed == nil {
		compressed = []byte{}
	}
	return json.Marshal(compressed)
}

// Unwrap is the inverse of Wrap.
func Unwrap(body []byte) ([]byte, error) {
	var compressed []byte
	if err := json.Unmarshal(body, &compressed); err != nil {
		return nil, fmt.Errorf("body is not a wrapped payload: %w", err)
	}
	return compressed, nil
}

// BatchInfo is the identifying data of a serialized batch.
type BatchInfo struct {
	SequenceNumber int64
	FirstRecordID  int64
	LastRecordID   int64
	RecordCount    int
}

// Inspect extracts the sequence number and the first and last record ids from a
// serialized batch without decoding the records themselves.
func Inspect(data []byte) (BatchInfo, error) {
	var info BatchInfo

	seq, err := jsonparser.GetInt(data, "envelope", "sequenceNumber")
	if err != nil {
		return info, fmt.Errorf("failed to read sequence number: %w", err)
	}
	info.SequenceNumber = seq

	var idErr error
	_, err = jsonparser.ArrayEach(data, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if idErr != nil {
			return
		}
		id, err := jsonparser.GetInt(value, "id")
		if err != nil {
			idErr = fmt.Errorf("record %d has no id: %w", info.RecordCount, err)
			return
		}
		if info.RecordCount == 0 {
			info.FirstRecordID = id
		}
		info.LastRecordID = id
		info.RecordCount++
	}, "events")
	if err != nil {
		return info, fmt.Errorf("failed to read events: %w", err)
	}
	if idErr != nil {
		return info, idErr
	}

	return info, nil
}
