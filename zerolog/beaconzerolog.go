// Package beaconzerolog records zerolog output into a beacon session.
package beaconzerolog

import (
	"encoding/json"
	"io"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"

	"github.com/beaconkit/beacon"
)

var (
	levelsMapping = map[zerolog.Level]string{
		zerolog.TraceLevel: "debug",
		zerolog.DebugLevel: "debug",
		zerolog.InfoLevel:  "info",
		zerolog.WarnLevel:  "warn",
		zerolog.ErrorLevel: "error",
		zerolog.FatalLevel: "fatal",
		zerolog.PanicLevel: "fatal",
	}

	_ = io.WriteCloser(new(Writer))
	_ = zerolog.LevelWriter(new(Writer))
)

// These fields are dropped; the record carries them elsewhere or they are noise.
const (
	FieldGoVersion = "go_version"
	FieldMaxProcs  = "go_maxprocs"
)

type Options struct {
	// Levels specifies the log levels recorded into the session. By default
	// every level from info up.
	Levels []zerolog.Level

	// Logger is the logger name set on every record.
	Logger string

	// RecordErrors makes entries at error level or above with an error field
	// produce an Error record as well.
	RecordErrors bool
}

func (o *Options) SetDefaults() {
	if len(o.Levels) == 0 {
		o.Levels = []zerolog.Level{
			zerolog.InfoLevel,
			zerolog.WarnLevel,
			zerolog.ErrorLevel,
			zerolog.FatalLevel,
			zerolog.PanicLevel,
		}
	}
}

// Writer is a beacon.Component with the io.Writer interface zerolog expects.
// Add it to a session and log through zerolog.New(writer).
type Writer struct {
	beacon.Forwarder
	levels       map[zerolog.Level]struct{}
	logger       string
	recordErrors bool
}

// New creates a writer.
func New(opts Options) *Writer {
	opts.SetDefaults()

	levels := make(map[zerolog.Level]struct{}, len(opts.Levels))
	for _, lvl := range opts.Levels {
		levels[lvl] = struct{}{}
	}

	return &Writer{
		levels:       levels,
		logger:       opts.Logger,
		recordErrors: opts.RecordErrors,
	}
}

// Write handles zerolog's json and records it.
func (w *Writer) Write(data []byte) (int, error) {
	lvl, err := parseLogLevel(data)
	if err != nil {
		return len(data), nil
	}
	return w.WriteLevel(lvl, data)
}

func (w *Writer) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	n := len(p)

	if !w.Active() {
		return n, nil
	}
	if _, enabled := w.levels[level]; !enabled {
		return n, nil
	}
	name, ok := levelsMapping[level]
	if !ok {
		return n, nil
	}

	state, errMsg, ok := parseLogEntry(p)
	if !ok {
		return n, nil
	}
	state.Level = name
	state.Logger = w.logger
	w.Record(state)

	if w.recordErrors && errMsg != "" && level >= zerolog.ErrorLevel {
		w.Record(beacon.ErrorState{Message: errMsg})
	}

	// should flush before os.Exit
	if level == zerolog.FatalLevel || level == zerolog.PanicLevel {
		w.Flush()
	}
	return n, nil
}

// Close ships whatever the session has buffered.
func (w *Writer) Close() error {
	w.Flush()
	return nil
}

func parseLogLevel(data []byte) (zerolog.Level, error) {
	level, err := jsonparser.GetUnsafeString(data, zerolog.LevelFieldName)
	if err != nil {
		return zerolog.NoLevel, nil
	}

	return zerolog.ParseLevel(level)
}

func parseLogEntry(data []byte) (beacon.LogState, string, bool) {
	var state beacon.LogState
	var errMsg string
	fields := map[string]any{}

	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		k := string(key)
		switch k {
		case zerolog.MessageFieldName:
			state.Message, _ = jsonparser.ParseString(value)
		case zerolog.ErrorFieldName:
			errMsg, _ = jsonparser.ParseString(value)
			fields[k] = errMsg
		case zerolog.LevelFieldName, zerolog.TimestampFieldName:
		case FieldGoVersion, FieldMaxProcs:
		default:
			fields[k] = fieldValue(value, dataType)
		}
		return nil
	})
	if len(fields) > 0 {
		state.Fields = fields
	}
	return state, errMsg, err == nil
}

func fieldValue(value []byte, dataType jsonparser.ValueType) any {
	switch dataType {
	case jsonparser.String:
		if s, err := jsonparser.ParseString(value); err == nil {
			return s
		}
	case jsonparser.Number:
		if f, err := jsonparser.ParseFloat(value); err == nil {
			return f
		}
	case jsonparser.Boolean:
		if b, err := jsonparser.ParseBoolean(value); err == nil {
			return b
		}
	case jsonparser.Null:
		return nil
	case jsonparser.Object, jsonparser.Array:
		return json.RawMessage(append([]byte(nil), value...))
	}
	return string(value)
}

// NewSink returns a sink logging instrumentation events to logger.
func NewSink(logger zerolog.Logger) beacon.Sink {
	return beacon.SinkFunc(func(event beacon.InstrumentationEvent) {
		e := logger.Info()
		if event.IsFailure() {
			e = logger.Warn()
		}
		e = e.Str("type", string(event.Type))
		if event.DeliveryError != nil {
			e = e.Int("requestStatus", event.RequestStatus).
				Int64("sequenceNumber", event.SequenceNumber).
				Int("attemptNumber", event.AttemptNumber)
		}
		if len(event.Capabilities) > 0 {
			e = e.Strs("capabilities", event.Capabilities)
		}
		if event.ByteLimit != 0 {
			e = e.Int64("currentBytes", event.CurrentBytes).Int64("byteLimit", event.ByteLimit)
		}
		if event.Reason != "" {
			e = e.Str("reason", event.Reason)
		}
		if event.Error != "" {
			e = e.Str("error", event.Error)
		}
		e.Msg("beacon instrumentation")
	})
}
