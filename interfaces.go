package beacon

import (
	"encoding/json"
	"fmt"
)

// Kind names the observation type a record carries.
type Kind string

const (
	KindPointer         Kind = "Pointer"
	KindViewport        Kind = "Viewport"
	KindLayout          Kind = "Layout"
	KindPerformance     Kind = "Performance"
	KindError           Kind = "Error"
	KindLog             Kind = "Log"
	KindInstrumentation Kind = "Instrumentation"
)

// State is the kind-specific payload of an ObservationRecord.
type State interface {
	Kind() Kind
}

// PointerState is a pointer interaction such as a click or a move.
type PointerState struct {
	Type    string `json:"type"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Target  int64  `json:"target,omitempty"`
	Buttons int    `json:"buttons,omitempty"`
}

func (PointerState) Kind() Kind { return KindPointer }

// ViewportState is the visible area and scroll position of the page.
type ViewportState struct {
	Width          int  `json:"width"`
	Height         int  `json:"height"`
	ScrollX        int  `json:"scrollX"`
	ScrollY        int  `json:"scrollY"`
	DocumentWidth  int  `json:"documentWidth,omitempty"`
	DocumentHeight int  `json:"documentHeight,omitempty"`
	Visible        bool `json:"visible"`
}

func (ViewportState) Kind() Kind { return KindViewport }

// LayoutState is one structural change of the observed document.
type LayoutState struct {
	Action     string            `json:"action"`
	Index      int64             `json:"index"`
	Parent     int64             `json:"parent,omitempty"`
	Tag        string            `json:"tag,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Content    string            `json:"content,omitempty"`
}

func (LayoutState) Kind() Kind { return KindLayout }

// PerformanceState is a single timing entry.
type PerformanceState struct {
	EntryType string  `json:"entryType"`
	Name      string  `json:"name"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
}

func (PerformanceState) Kind() Kind { return KindPerformance }

// ErrorState is an uncaught error observed on the page.
type ErrorState struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

func (ErrorState) Kind() Kind { return KindError }

// LogState is a log entry forwarded from an application logger.
type LogState struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Logger  string         `json:"logger,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (LogState) Kind() Kind { return KindLog }

// RawState carries a payload whose kind has no dedicated type. Data is
// emitted verbatim.
type RawState struct {
	Type Kind
	Data json.RawMessage
}

func (s RawState) Kind() Kind { return s.Type }

func (s RawState) MarshalJSON() ([]byte, error) {
	if len(s.Data) == 0 {
		return []byte("null"), nil
	}
	return s.Data, nil
}

// ObservationRecord is the atomic unit fed into a session.
type ObservationRecord struct {
	// ID is assigned by the batcher, starting at 0 and strictly increasing.
	ID int64 `json:"id"`
	// Time is milliseconds since the session started.
	Time  int64 `json:"time"`
	Type  Kind  `json:"type"`
	State State `json:"state"`
}

// DecodeRecord parses one serialized record, picking the State type from the
// record's "type" field. Unknown kinds decode into RawState.
func DecodeRecord(data []byte) (ObservationRecord, error) {
	var envelope struct {
		ID    int64           `json:"id"`
		Time  int64           `json:"time"`
		Type  Kind            `json:"type"`
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ObservationRecord{}, fmt.Errorf("decoding record: %w", err)
	}

	record := ObservationRecord{ID: envelope.ID, Time: envelope.Time, Type: envelope.Type}
	state, err := decodeState(envelope.Type, envelope.State)
	if err != nil {
		return record, fmt.Errorf("decoding %s state of record %d: %w", envelope.Type, envelope.ID, err)
	}
	record.State = state
	return record, nil
}

// UnmarshalJSON decodes a record the way DecodeRecord does, so records nested
// in larger documents decode with their concrete State type.
func (r *ObservationRecord) UnmarshalJSON(data []byte) error {
	record, err := DecodeRecord(data)
	if err != nil {
		return err
	}
	*r = record
	return nil
}

func decodeState(kind Kind, data json.RawMessage) (State, error) {
	var target State
	switch kind {
	case KindPointer:
		var s PointerState
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		target = s
	case KindViewport:
		var s ViewportState
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		target = s
	case KindLayout:
		var s LayoutState
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		target = s
	case KindPerformance:
		var s PerformanceState
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		target = s
	case KindError:
		var s ErrorState
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		target = s
	case KindLog:
		var s LogState
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		target = s
	case KindInstrumentation:
		var s InstrumentationEvent
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		target = s
	default:
		target = RawState{Type: kind, Data: append(json.RawMessage(nil), data...)}
	}
	return target, nil
}

// Recorder accepts observations. Session implements it.
type Recorder interface {
	// Record stamps state with the current page time and hands it to the batcher.
	// It reports false when the session no longer accepts records.
	Record(state State) bool
	// RecordAt is Record with an explicit page time in milliseconds.
	RecordAt(state State, at int64) bool
}

// Component is an observer that produces records while the session is active.
type Component interface {
	// Reset clears any state left from a previous activation.
	Reset()
	// Activate starts observing and feeding records into r.
	Activate(r Recorder)
	// Teardown stops observing. It may record final observations.
	Teardown()
}

// Compressor encodes a serialized batch before upload.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
}

// Capability is a host facility the session needs before it can activate.
type Capability struct {
	Name      string
	Available func() bool
}
