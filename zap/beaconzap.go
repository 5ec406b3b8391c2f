// Package beaconzap connects zap loggers to a beacon session: log entries
// become Log records, and session instrumentation events can be logged.
package beaconzap

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/beaconkit/beacon"
)

// Configuration is a minimal set of parameters for the zap integration.
type Configuration struct {
	// Level defines the minimum severity of entries recorded into the session.
	// Defaults to info.
	Level zapcore.LevelEnabler

	// Tags are added to the fields of every record.
	Tags map[string]string

	// RecordErrors makes entries at error level or above that carry an error
	// field produce an Error record as well.
	RecordErrors bool
}

// Integration is a beacon.Component. Add it to a session, then log through
// a logger built on Core.
type Integration struct {
	beacon.Forwarder
	cfg Configuration
}

// New creates an integration.
func New(cfg Configuration) *Integration {
	if cfg.Level == nil {
		cfg.Level = zapcore.InfoLevel
	}
	return &Integration{cfg: cfg}
}

// Core returns a zapcore.Core recording entries into the active session.
func (i *Integration) Core() zapcore.Core {
	fields := make(map[string]any, len(i.cfg.Tags))
	for k, v := range i.cfg.Tags {
		fields[k] = v
	}
	return &core{
		LevelEnabler: i.cfg.Level,
		forwarder:    &i.Forwarder,
		recordErrors: i.cfg.RecordErrors,
		fields:       fields,
	}
}

// AttachCoreToLogger tees the beacon core into the provided logger.
func AttachCoreToLogger(beaconCore zapcore.Core, l *zap.Logger) *zap.Logger {
	return l.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, beaconCore)
	}))
}

var levelMap = map[zapcore.Level]string{
	zapcore.DebugLevel:  "debug",
	zapcore.InfoLevel:   "info",
	zapcore.WarnLevel:   "warn",
	zapcore.ErrorLevel:  "error",
	zapcore.DPanicLevel: "fatal",
	zapcore.PanicLevel:  "fatal",
	zapcore.FatalLevel:  "fatal",
}

// NewSink returns a sink logging instrumentation events to logger. Failures
// are logged at warn level, everything else at info.
func NewSink(logger *zap.Logger) beacon.Sink {
	return beacon.SinkFunc(func(event beacon.InstrumentationEvent) {
		level := zapcore.InfoLevel
		if event.IsFailure() {
			level = zapcore.WarnLevel
		}
		logger.Log(level, "beacon instrumentation", zap.Object("event", event))
	})
}
