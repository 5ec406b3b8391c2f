package beaconotel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/beaconkit/beacon"
)

func newSession(t *testing.T, transport beacon.Transport, components ...beacon.Component) *beacon.Session {
	t.Helper()
	s, err := beacon.NewSession(beacon.SessionOptions{
		Endpoint:    "https://collect.example.com/",
		Transport:   transport,
		Compression: "none",
		FlushDelay:  time.Hour,
		Components:  components,
		Context:     t.Name(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Teardown)
	return s
}

func sentStates(t *testing.T, transport *beacon.MockTransport) []beacon.State {
	t.Helper()
	var states []beacon.State
	for _, send := range transport.Sends() {
		batch, _, err := beacon.DecodePayload(send.Payload, "none")
		require.NoError(t, err)
		for _, event := range batch.Events {
			record, err := beacon.DecodeRecord(event)
			require.NoError(t, err)
			states = append(states, record.State)
		}
	}
	return states
}

func TestTransportTracesUploads(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	mock := &beacon.MockTransport{StatusFunc: func(n int, _ []byte) int {
		if n == 0 {
			return 503
		}
		return 200
	}}
	s := newSession(t, NewTransport(mock, provider))
	require.True(t, s.Activate())

	s.Record(beacon.LogState{Level: "info", Message: "first"})
	require.True(t, s.Flush())
	s.Record(beacon.LogState{Level: "info", Message: "second"})
	require.True(t, s.Flush())

	spans := recorder.Ended()
	// The second flush succeeds and retries the first batch.
	require.Len(t, spans, 3)
	for _, span := range spans {
		assert.Equal(t, "beacon.upload", span.Name())
	}
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
	assert.Equal(t, codes.Ok, spans[2].Status().Code)

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "none", attrs["beacon.encoding"])
	assert.Equal(t, int64(503), attrs["beacon.upload.status"])
	assert.Equal(t, int64(len(mock.Sends()[0].Payload)), attrs["beacon.payload.bytes"])

	assert.Empty(t, s.DroppedBatches())
}

func TestTransportNoResponse(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	mock := &beacon.MockTransport{}
	transport := NewTransport(mock, provider)
	transport.Configure(beacon.SessionOptions{Endpoint: "https://collect.example.com/"})

	var got []int
	transport.Send([]byte(`""`), func(status int) { got = append(got, status) })
	assert.Empty(t, recorder.Ended())

	mock.CompleteAll(0)
	assert.Equal(t, []int{0}, got)
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "no response", recorder.Ended()[0].Status().Description)
	assert.True(t, transport.Flush(time.Second))
}

func TestSpanProcessorRecordsSpans(t *testing.T) {
	processor := NewSpanProcessor()
	processor.RecordErrors = true
	mock := &beacon.MockTransport{}
	s := newSession(t, mock, processor)

	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(processor))
	tracer := provider.Tracer("test")

	_, early := tracer.Start(context.Background(), "before activation")
	early.End()

	require.True(t, s.Activate())

	start := time.Now()
	_, span := tracer.Start(context.Background(), "GET /cart", trace.WithTimestamp(start))
	span.End(trace.WithTimestamp(start.Add(120 * time.Millisecond)))

	_, failed := tracer.Start(context.Background(), "POST /pay")
	failed.SetStatus(codes.Error, "card declined")
	failed.End()

	require.NoError(t, provider.ForceFlush(context.Background()))
	states := sentStates(t, mock)
	require.Len(t, states, 3)

	perf, ok := states[0].(beacon.PerformanceState)
	require.True(t, ok)
	assert.Equal(t, EntryTypeSpan, perf.EntryType)
	assert.Equal(t, "GET /cart", perf.Name)
	assert.InDelta(t, 120.0, perf.Duration, 0.001)
	assert.InDelta(t, float64(start.UnixNano())/1e6, perf.StartTime, 1)

	assert.Equal(t, "POST /pay", states[1].(beacon.PerformanceState).Name)
	assert.Equal(t, beacon.ErrorState{Message: "card declined"}, states[2])
}
