package beaconzap

import (
	"go.uber.org/zap/zapcore"

	"github.com/beaconkit/beacon"
)

type core struct {
	zapcore.LevelEnabler
	forwarder    *beacon.Forwarder
	recordErrors bool

	errs   []error
	fields map[string]any
}

func (c *core) With(fs []zapcore.Field) zapcore.Core {
	return c.with(fs)
}

func (c *core) with(fs []zapcore.Field) *core {
	fields := make(map[string]any, len(c.fields)+len(fs))
	for k, v := range c.fields {
		fields[k] = v
	}

	errs := append([]error{}, c.errs...)

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fs {
		f.AddTo(enc)
		if f.Type == zapcore.ErrorType {
			if err, ok := f.Interface.(error); ok {
				errs = append(errs, err)
			}
		}
	}

	for k, v := range enc.Fields {
		fields[k] = v
	}

	return &core{
		LevelEnabler: c.LevelEnabler,
		forwarder:    c.forwarder,
		recordErrors: c.recordErrors,
		errs:         errs,
		fields:       fields,
	}
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) && c.forwarder.Active() {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fs []zapcore.Field) error {
	clone := c.with(fs)

	state := beacon.LogState{
		Level:   levelMap[ent.Level],
		Message: ent.Message,
		Logger:  ent.LoggerName,
	}
	if len(clone.fields) > 0 {
		state.Fields = clone.fields
	}
	c.forwarder.Record(state)

	if c.recordErrors && ent.Level >= zapcore.ErrorLevel {
		for _, err := range clone.errs {
			c.forwarder.Record(beacon.ErrorState{Message: err.Error(), Stack: ent.Stack})
		}
	}

	if ent.Level > zapcore.ErrorLevel {
		return c.Sync()
	}
	return nil
}

// Sync ships the session buffer so entries logged right before a panic or
// exit are not lost.
func (c *core) Sync() error {
	c.forwarder.Flush()
	return nil
}
