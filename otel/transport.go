// Package beaconotel connects beacon to OpenTelemetry: uploads can be traced,
// and ended spans can be recorded into a session.
package beaconotel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/beaconkit/beacon"
)

const instrumentationName = "github.com/beaconkit/beacon/otel"

// Attribute keys set on upload spans.
const (
	AttrPayloadBytes = attribute.Key("beacon.payload.bytes")
	AttrEncoding     = attribute.Key("beacon.encoding")
	AttrStatus       = attribute.Key("beacon.upload.status")
	AttrEndpoint     = attribute.Key("beacon.endpoint")
)

// Transport wraps a beacon.Transport and traces every upload as a span that
// ends when the upload completes.
type Transport struct {
	next     beacon.Transport
	tracer   trace.Tracer
	encoding string
	endpoint string
}

// NewTransport wraps next. A nil provider selects the global one.
func NewTransport(next beacon.Transport, provider trace.TracerProvider) *Transport {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Transport{
		next:   next,
		tracer: provider.Tracer(instrumentationName, trace.WithInstrumentationVersion(beacon.Version)),
	}
}

func (t *Transport) Configure(options beacon.SessionOptions) {
	t.encoding = beacon.EncodingName(options)
	t.endpoint = options.Endpoint
	t.next.Configure(options)
}

func (t *Transport) Send(payload []byte, done func(status int)) {
	_, span := t.tracer.Start(context.Background(), "beacon.upload",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrPayloadBytes.Int(len(payload)),
			AttrEncoding.String(t.encoding),
			AttrEndpoint.String(t.endpoint),
		),
	)

	t.next.Send(payload, func(status int) {
		span.SetAttributes(AttrStatus.Int(status))
		if beacon.IsSuccessStatus(status) {
			span.SetStatus(codes.Ok, "")
		} else if status == 0 {
			span.SetStatus(codes.Error, "no response")
		} else {
			span.SetStatus(codes.Error, "rejected")
		}
		span.End()
		done(status)
	})
}

func (t *Transport) Flush(timeout time.Duration) bool {
	return t.next.Flush(timeout)
}

func (t *Transport) Close() {
	t.next.Close()
}
