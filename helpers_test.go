package beacon

import (
	"fmt"
	"reflect"
	"testing"
	"time"
)

const testEndpoint = "https://collect.example.com/v1/batches"

func assertEqual(t *testing.T, got, want interface{}, userMessage ...interface{}) {
	t.Helper()

	if !reflect.DeepEqual(got, want) {
		logFailedAssertion(t, formatUnequalValues(got, want), userMessage...)
	}
}

func assertNotEqual(t *testing.T, got, want interface{}, userMessage ...interface{}) {
	t.Helper()

	if reflect.DeepEqual(got, want) {
		logFailedAssertion(t, formatUnequalValues(got, want), userMessage...)
	}
}

func logFailedAssertion(t *testing.T, summary string, userMessage ...interface{}) {
	t.Helper()
	text := summary

	if len(userMessage) > 0 {
		if message, ok := userMessage[0].(string); ok {
			if message != "" && len(userMessage) > 1 {
				text = fmt.Sprintf(message, userMessage[1:]...) + text
			} else if message != "" {
				text = fmt.Sprint(message) + text
			}
		}
	}

	t.Error(text)
}

func formatUnequalValues(got, want interface{}) string {
	var a, b string

	if reflect.TypeOf(got) != reflect.TypeOf(want) {
		a, b = fmt.Sprintf("%T(%#v)", got, got), fmt.Sprintf("%T(%#v)", want, want)
	} else {
		a, b = fmt.Sprintf("%#v", got), fmt.Sprintf("%#v", want)
	}

	return fmt.Sprintf("\ngot: %s\nwant: %s", a, b)
}

// newTestSession returns a session wired to a fresh MockTransport. The flush
// timer is effectively disabled so batches are only built by size or Flush.
// Each test gets its own execution context.
func newTestSession(t *testing.T, options SessionOptions) (*Session, *MockTransport) {
	t.Helper()

	transport, ok := options.Transport.(*MockTransport)
	if !ok || transport == nil {
		transport = &MockTransport{}
		options.Transport = transport
	}
	if options.Endpoint == "" {
		options.Endpoint = testEndpoint
	}
	if options.FlushDelay == 0 {
		options.FlushDelay = time.Hour
	}
	if options.Compression == "" && options.Compressor == nil {
		options.Compression = "none"
	}
	if options.Context == "" {
		options.Context = t.Name()
	}

	session, err := NewSession(options)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(session.Teardown)
	return session, transport
}

// sentBatches decodes every payload the transport has seen, in send order.
func sentBatches(t *testing.T, transport *MockTransport) []*Batch {
	t.Helper()

	options, _ := transport.Options()
	encoding := EncodingName(options)

	var batches []*Batch
	for i, send := range transport.Sends() {
		batch, _, err := DecodePayload(send.Payload, encoding)
		if err != nil {
			t.Fatalf("decoding send %d: %v", i, err)
		}
		batches = append(batches, batch)
	}
	return batches
}

func decodeRecords(t *testing.T, batch *Batch) []ObservationRecord {
	t.Helper()

	records := make([]ObservationRecord, 0, len(batch.Events))
	for _, event := range batch.Events {
		record, err := DecodeRecord(event)
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, record)
	}
	return records
}

func click(x, y int) PointerState {
	return PointerState{Type: "click", X: x, Y: y}
}
