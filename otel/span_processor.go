package beaconotel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/beaconkit/beacon"
)

// EntryTypeSpan is the PerformanceState entry type of recorded spans.
const EntryTypeSpan = "span"

// SpanProcessor records every ended span as a Performance record while a
// session is active. It is both a trace.SpanProcessor and a beacon.Component.
type SpanProcessor struct {
	beacon.Forwarder

	// RecordErrors makes spans ending with an error status produce an Error
	// record as well.
	RecordErrors bool
}

var _ trace.SpanProcessor = (*SpanProcessor)(nil)

func NewSpanProcessor() *SpanProcessor {
	return &SpanProcessor{}
}

func (sp *SpanProcessor) OnStart(_ context.Context, _ trace.ReadWriteSpan) {}

func (sp *SpanProcessor) OnEnd(s trace.ReadOnlySpan) {
	if !sp.Active() || !s.SpanContext().IsSampled() {
		return
	}

	start, end := s.StartTime(), s.EndTime()
	sp.Record(beacon.PerformanceState{
		EntryType: EntryTypeSpan,
		Name:      s.Name(),
		StartTime: float64(start.UnixNano()) / 1e6,
		Duration:  float64(end.Sub(start).Nanoseconds()) / 1e6,
	})

	if sp.RecordErrors && s.Status().Code == codes.Error {
		message := s.Status().Description
		if message == "" {
			message = s.Name() + " failed"
		}
		sp.Record(beacon.ErrorState{Message: message, Source: spanSource(s.Attributes())})
	}
}

func (sp *SpanProcessor) Shutdown(_ context.Context) error {
	return nil
}

// ForceFlush ships the session buffer.
func (sp *SpanProcessor) ForceFlush(_ context.Context) error {
	sp.Flush()
	return nil
}

// spanSource picks the code location attributes of a span, if any.
func spanSource(attrs []attribute.KeyValue) string {
	for _, kv := range attrs {
		if kv.Key == "code.filepath" || kv.Key == "code.file.path" {
			return kv.Value.AsString()
		}
	}
	return ""
}
