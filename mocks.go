package beacon

import (
	"sync"
	"time"
)

// MockSend is one payload handed to a MockTransport.
type MockSend struct {
	Payload   []byte
	Status    int
	Completed bool
	done      func(status int)
}

// MockTransport implements [Transport] for use in tests. With StatusFunc set,
// every send completes synchronously; otherwise sends stay pending until
// Complete is called, in any order.
type MockTransport struct {
	// StatusFunc decides the status of the n-th send (counting from 0).
	StatusFunc func(n int, payload []byte) int

	mu         sync.Mutex
	sends      []*MockSend
	options    SessionOptions
	configured bool
	closed     bool
}

func (t *MockTransport) Configure(options SessionOptions) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.options = options
	t.configured = true
}

func (t *MockTransport) Send(payload []byte, done func(status int)) {
	t.mu.Lock()
	n := len(t.sends)
	send := &MockSend{Payload: payload, done: done}
	t.sends = append(t.sends, send)
	statusFunc := t.StatusFunc
	t.mu.Unlock()

	if statusFunc != nil {
		t.complete(send, statusFunc(n, payload))
	}
}

// Complete finishes the i-th send with status. It reports false if there is
// no such send or it already completed.
func (t *MockTransport) Complete(i int, status int) bool {
	t.mu.Lock()
	if i < 0 || i >= len(t.sends) {
		t.mu.Unlock()
		return false
	}
	send := t.sends[i]
	t.mu.Unlock()
	return t.complete(send, status)
}

// CompleteAll finishes every pending send with status, oldest first.
func (t *MockTransport) CompleteAll(status int) int {
	n := 0
	for _, i := range t.Pending() {
		if t.Complete(i, status) {
			n++
		}
	}
	return n
}

func (t *MockTransport) complete(send *MockSend, status int) bool {
	t.mu.Lock()
	if send.Completed {
		t.mu.Unlock()
		return false
	}
	send.Completed = true
	send.Status = status
	t.mu.Unlock()

	send.done(status)
	return true
}

// Pending returns the indexes of sends that have not completed.
func (t *MockTransport) Pending() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var pending []int
	for i, send := range t.sends {
		if !send.Completed {
			pending = append(pending, i)
		}
	}
	return pending
}

// Sends returns a copy of every send so far.
func (t *MockTransport) Sends() []MockSend {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]MockSend, len(t.sends))
	for i, send := range t.sends {
		out[i] = MockSend{Payload: send.Payload, Status: send.Status, Completed: send.Completed}
	}
	return out
}

// Options returns the options passed to Configure.
func (t *MockTransport) Options() (SessionOptions, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.options, t.configured
}

func (t *MockTransport) Flush(_ time.Duration) bool {
	return len(t.Pending()) == 0
}

func (t *MockTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// MockSink implements [Sink] for use in tests.
type MockSink struct {
	mu     sync.Mutex
	events []InstrumentationEvent
}

func (s *MockSink) Report(event InstrumentationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *MockSink) Events() []InstrumentationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]InstrumentationEvent(nil), s.events...)
}

// OfType returns the reported events of type typ.
func (s *MockSink) OfType(typ InstrumentationType) []InstrumentationEvent {
	var out []InstrumentationEvent
	for _, event := range s.Events() {
		if event.Type == typ {
			out = append(out, event)
		}
	}
	return out
}

// MockComponent implements [Component] for use in tests.
type MockComponent struct {
	// OnActivate and OnTeardown run inside the matching lifecycle call.
	OnActivate func(r Recorder)
	OnTeardown func(r Recorder)

	mu        sync.Mutex
	recorder  Recorder
	resets    int
	activates int
	teardowns int
	calls     []string
}

func (c *MockComponent) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
	c.calls = append(c.calls, "reset")
}

func (c *MockComponent) Activate(r Recorder) {
	c.mu.Lock()
	c.recorder = r
	c.activates++
	c.calls = append(c.calls, "activate")
	hook := c.OnActivate
	c.mu.Unlock()

	if hook != nil {
		hook(r)
	}
}

func (c *MockComponent) Teardown() {
	c.mu.Lock()
	c.teardowns++
	c.calls = append(c.calls, "teardown")
	hook, r := c.OnTeardown, c.recorder
	c.mu.Unlock()

	if hook != nil {
		hook(r)
	}
}

// Calls returns the lifecycle calls in the order they were made.
func (c *MockComponent) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Counts returns how many times Reset, Activate and Teardown ran.
func (c *MockComponent) Counts() (resets, activates, teardowns int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets, c.activates, c.teardowns
}
