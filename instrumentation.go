package beacon

import (
	"go.uber.org/zap/zapcore"

	"github.com/beaconkit/beacon/internal/debuglog"
)

// InstrumentationType names a self-diagnostic event.
type InstrumentationType string

const (
	InstrumentationDuplicateActivation    InstrumentationType = "DuplicateActivation"
	InstrumentationMissingCapability      InstrumentationType = "MissingCapability"
	InstrumentationDeliveryFailure        InstrumentationType = "DeliveryFailure"
	InstrumentationTotalByteLimitExceeded InstrumentationType = "TotalByteLimitExceeded"
	InstrumentationTeardown               InstrumentationType = "Teardown"
	InstrumentationCompressionFailure     InstrumentationType = "CompressionFailure"
)

// Teardown reasons carried by the Teardown event.
const (
	TeardownReasonAPI        = "api"
	TeardownReasonQuota      = "quota"
	TeardownReasonDuplicate  = "duplicate"
	TeardownReasonCapability = "capability"
)

// DeliveryError describes a batch the collector did not accept.
type DeliveryError struct {
	// RequestStatus is the HTTP status of the last attempt, or 0 for a network error.
	RequestStatus    int   `json:"requestStatus"`
	SequenceNumber   int64 `json:"sequenceNumber"`
	CompressedLength int   `json:"compressedLength"`
	RawLength        int   `json:"rawLength"`
	FirstRecordID    int64 `json:"firstRecordId"`
	LastRecordID     int64 `json:"lastRecordId"`
	// AttemptNumber is 0 for the first failure and grows by one per failed retry.
	AttemptNumber int `json:"attemptNumber"`
}

// InstrumentationEvent is the payload the session reports about itself. It is
// also a State, so the default sink records it like any other observation.
type InstrumentationEvent struct {
	Type InstrumentationType `json:"type"`

	*DeliveryError

	Capabilities []string `json:"capabilities,omitempty"`
	CurrentBytes int64    `json:"currentBytes,omitempty"`
	ByteLimit    int64    `json:"byteLimit,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func (InstrumentationEvent) Kind() Kind { return KindInstrumentation }

// MarshalLogObject lets logging sinks emit the event as structured fields.
func (e InstrumentationEvent) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("type", string(e.Type))
	if e.DeliveryError != nil {
		enc.AddInt("requestStatus", e.RequestStatus)
		enc.AddInt64("sequenceNumber", e.SequenceNumber)
		enc.AddInt("compressedLength", e.CompressedLength)
		enc.AddInt("rawLength", e.RawLength)
		enc.AddInt64("firstRecordId", e.FirstRecordID)
		enc.AddInt64("lastRecordId", e.LastRecordID)
		enc.AddInt("attemptNumber", e.AttemptNumber)
	}
	if len(e.Capabilities) > 0 {
		_ = enc.AddArray("capabilities", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
			for _, c := range e.Capabilities {
				arr.AppendString(c)
			}
			return nil
		}))
	}
	if e.ByteLimit != 0 {
		enc.AddInt64("currentBytes", e.CurrentBytes)
		enc.AddInt64("byteLimit", e.ByteLimit)
	}
	if e.Reason != "" {
		enc.AddString("reason", e.Reason)
	}
	if e.Error != "" {
		enc.AddString("error", e.Error)
	}
	return nil
}

// Sink receives instrumentation events.
type Sink interface {
	Report(event InstrumentationEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event InstrumentationEvent)

func (f SinkFunc) Report(event InstrumentationEvent) { f(event) }

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Report(event InstrumentationEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.Report(event)
		}
	}
}

// recordingSink feeds events back into the session as observation records.
type recordingSink struct {
	recorder Recorder
}

func (s recordingSink) Report(event InstrumentationEvent) {
	debuglog.Printf("Instrumentation event %s", event.Type)
	s.recorder.Record(event)
}

// IsFailure reports whether the event describes something going wrong, as
// opposed to an orderly teardown. Logging sinks use it to pick a level.
func (e InstrumentationEvent) IsFailure() bool {
	switch e.Type {
	case InstrumentationTeardown:
		return e.Reason != TeardownReasonAPI
	default:
		return true
	}
}
