// Package beaconslog provides a slog.Handler recording into a beacon
// session.
package beaconslog

import (
	"context"
	"log/slog"

	"github.com/beaconkit/beacon"
)

// Attribute handling is derived from https://github.com/samber/slog-sentry
// (MIT License, Copyright (c) 2023 Samuel Berthe).

var (
	_ slog.Handler = (*Handler)(nil)

	LogLevels = map[slog.Level]string{
		slog.LevelDebug: "debug",
		slog.LevelInfo:  "info",
		slog.LevelWarn:  "warn",
		slog.LevelError: "error",
	}

	errorKeys = map[string]struct{}{
		"error": {},
		"err":   {},
	}
)

type Option struct {
	// log level (default: info)
	Level slog.Leveler
	// logger name set on every record
	Logger string
	// record an Error state for error-level entries carrying an error attribute
	RecordErrors bool

	// optional: fetch attributes from context
	AttrFromContext []func(ctx context.Context) []slog.Attr

	// optional: see slog.HandlerOptions
	AddSource   bool
	ReplaceAttr func(groups []string, a slog.Attr) slog.Attr
}

// Integration is the beacon.Component side of the handler. Every handler
// derived from NewHandler shares it.
type Integration struct {
	beacon.Forwarder
}

func (o Option) NewHandler(integration *Integration) slog.Handler {
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}

	if o.AttrFromContext == nil {
		o.AttrFromContext = []func(ctx context.Context) []slog.Attr{}
	}

	return &Handler{
		option:      o,
		integration: integration,
		attrs:       []slog.Attr{},
		groups:      []string{},
	}
}

type Handler struct {
	option      Option
	integration *Integration
	attrs       []slog.Attr
	groups      []string
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.option.Level.Level() && h.integration.Active()
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	fromContext := contextExtractor(ctx, h.option.AttrFromContext)
	attrs := appendRecordAttrsToAttrs(append(append([]slog.Attr{}, h.attrs...), fromContext...), append([]string{}, h.groups...), &record)
	if h.option.AddSource {
		attrs = append(attrs, source(slog.SourceKey, &record))
	}
	attrs = replaceAttrs(h.option.ReplaceAttr, []string{}, attrs...)
	attrs = removeEmptyAttrs(attrs)
	attrs, err := extractError(attrs)

	state := beacon.LogState{
		Level:   levelName(record.Level),
		Message: record.Message,
		Logger:  h.option.Logger,
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if len(attrs) > 0 {
		state.Fields = attrsToMap(attrs...)
	}
	h.integration.Record(state)

	if err != nil && h.option.RecordErrors && record.Level >= slog.LevelError {
		h.integration.Record(beacon.ErrorState{Message: err.Error()})
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		option:      h.option,
		integration: h.integration,
		attrs:       appendAttrsToGroup(h.groups, h.attrs, attrs...),
		groups:      h.groups,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	// https://cs.opensource.google/go/x/exp/+/46b07846:slog/handler.go;l=247
	if name == "" {
		return h
	}

	return &Handler{
		option:      h.option,
		integration: h.integration,
		attrs:       h.attrs,
		groups:      append(h.groups, name),
	}
}

func levelName(level slog.Level) string {
	if name, ok := LogLevels[level]; ok {
		return name
	}
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

// NewSink returns a sink logging instrumentation events to logger.
func NewSink(logger *slog.Logger) beacon.Sink {
	return beacon.SinkFunc(func(event beacon.InstrumentationEvent) {
		attrs := []slog.Attr{slog.String("type", string(event.Type))}
		if event.DeliveryError != nil {
			attrs = append(attrs,
				slog.Int("requestStatus", event.RequestStatus),
				slog.Int64("sequenceNumber", event.SequenceNumber),
				slog.Int("attemptNumber", event.AttemptNumber),
			)
		}
		if len(event.Capabilities) > 0 {
			attrs = append(attrs, slog.Any("capabilities", event.Capabilities))
		}
		if event.ByteLimit != 0 {
			attrs = append(attrs, slog.Int64("currentBytes", event.CurrentBytes), slog.Int64("byteLimit", event.ByteLimit))
		}
		if event.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Reason))
		}
		if event.Error != "" {
			attrs = append(attrs, slog.String("error", event.Error))
		}

		level := slog.LevelInfo
		if event.IsFailure() {
			level = slog.LevelWarn
		}
		logger.LogAttrs(context.Background(), level, "beacon instrumentation", attrs...)
	})
}
