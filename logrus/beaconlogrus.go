// Package beaconlogrus provides a logrus hook recording entries into a
// beacon session.
package beaconlogrus

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/beaconkit/beacon"
)

// These fields are simply omitted.
const (
	FieldGoVersion = "go_version"
	FieldMaxProcs  = "go_maxprocs"
)

var levelMap = map[logrus.Level]string{
	logrus.TraceLevel: "debug",
	logrus.DebugLevel: "debug",
	logrus.InfoLevel:  "info",
	logrus.WarnLevel:  "warn",
	logrus.ErrorLevel: "error",
	logrus.FatalLevel: "fatal",
	logrus.PanicLevel: "fatal",
}

// FallbackFunc handles entries that could not be recorded.
type FallbackFunc func(*logrus.Entry) error

// Hook is a logrus.Hook and a beacon.Component.
type Hook struct {
	beacon.Forwarder
	levels       []logrus.Level
	logger       string
	recordErrors bool
	fallback     FallbackFunc
}

var _ logrus.Hook = &Hook{}

// New creates a hook firing for levels. With no levels, it fires for every
// level from info up.
func New(levels ...logrus.Level) *Hook {
	if len(levels) == 0 {
		levels = []logrus.Level{
			logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel,
		}
	}
	return &Hook{levels: levels}
}

// SetLogger sets the logger name on every record.
func (h *Hook) SetLogger(name string) {
	h.logger = name
}

// SetRecordErrors makes entries at error level or above with an error field
// produce an Error record as well.
func (h *Hook) SetRecordErrors(enabled bool) {
	h.recordErrors = enabled
}

// SetFallback sets a function called for entries fired while no session is
// active.
func (h *Hook) SetFallback(fb FallbackFunc) {
	h.fallback = fb
}

func (h *Hook) Levels() []logrus.Level {
	return h.levels
}

func (h *Hook) Fire(entry *logrus.Entry) error {
	if !h.Active() {
		if h.fallback != nil {
			return h.fallback(entry)
		}
		return nil
	}

	state := h.entryToState(entry)
	h.Record(state)

	if err, ok := entry.Data[logrus.ErrorKey].(error); ok && h.recordErrors && entry.Level <= logrus.ErrorLevel {
		h.Record(beacon.ErrorState{Message: err.Error()})
	}

	// should flush before os.Exit
	if entry.Level <= logrus.FatalLevel {
		h.Flush()
	}
	return nil
}

func (h *Hook) entryToState(entry *logrus.Entry) beacon.LogState {
	state := beacon.LogState{
		Level:   levelMap[entry.Level],
		Message: entry.Message,
		Logger:  h.logger,
	}
	if len(entry.Data) == 0 {
		return state
	}

	fields := make(map[string]any, len(entry.Data))
	for k, v := range entry.Data {
		if k == FieldGoVersion || k == FieldMaxProcs {
			continue
		}
		fields[k] = fieldValue(v)
	}
	if len(fields) > 0 {
		state.Fields = fields
	}
	return state
}

func fieldValue(value any) any {
	switch val := value.(type) {
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case int:
		return int64(val)
	case uint, uint8, uint16, uint32, uint64:
		uval := reflect.ValueOf(val).Convert(reflect.TypeOf(uint64(0))).Uint()
		if uval <= math.MaxInt64 {
			return int64(uval)
		}
		return strconv.FormatUint(uval, 10)
	case string, bool, float64:
		return val
	case float32:
		return float64(val)
	case error:
		return val.Error()
	case time.Time:
		return val.Format(time.RFC3339)
	case time.Duration:
		return val.String()
	default:
		return fmt.Sprint(value)
	}
}

// NewSink returns a sink logging instrumentation events to logger.
func NewSink(logger logrus.FieldLogger) beacon.Sink {
	return beacon.SinkFunc(func(event beacon.InstrumentationEvent) {
		fields := logrus.Fields{"type": string(event.Type)}
		if event.DeliveryError != nil {
			fields["requestStatus"] = event.RequestStatus
			fields["sequenceNumber"] = event.SequenceNumber
			fields["attemptNumber"] = event.AttemptNumber
		}
		if len(event.Capabilities) > 0 {
			fields["capabilities"] = event.Capabilities
		}
		if event.ByteLimit != 0 {
			fields["currentBytes"] = event.CurrentBytes
			fields["byteLimit"] = event.ByteLimit
		}
		if event.Reason != "" {
			fields["reason"] = event.Reason
		}
		if event.Error != "" {
			fields["error"] = event.Error
		}

		entry := logger.WithFields(fields)
		if event.IsFailure() {
			entry.Warn("beacon instrumentation")
			return
		}
		entry.Info("beacon instrumentation")
	})
}
