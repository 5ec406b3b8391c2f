package beacon

import (
	"sync/atomic"
)

type recorderRef struct {
	recorder Recorder
}

// Forwarder is a Component that remembers the recorder of the current
// activation. Integrations that turn foreign events (log entries, spans)
// into records embed it and call Record; outside an activation records are
// dropped.
type Forwarder struct {
	ref atomic.Pointer[recorderRef]
}

func (f *Forwarder) Reset() {}

func (f *Forwarder) Activate(r Recorder) {
	f.ref.Store(&recorderRef{recorder: r})
}

func (f *Forwarder) Teardown() {
	f.ref.Store(nil)
}

// Active reports whether a session is currently activated with f.
func (f *Forwarder) Active() bool {
	return f.ref.Load() != nil
}

// Record forwards state to the active session.
func (f *Forwarder) Record(state State) bool {
	ref := f.ref.Load()
	if ref == nil {
		return false
	}
	return ref.recorder.Record(state)
}

// RecordAt forwards state with an explicit page time.
func (f *Forwarder) RecordAt(state State, at int64) bool {
	ref := f.ref.Load()
	if ref == nil {
		return false
	}
	return ref.recorder.RecordAt(state, at)
}

// Flush asks the active session to ship its buffer now. It reports false if
// there is no active session or it cannot flush.
func (f *Forwarder) Flush() bool {
	ref := f.ref.Load()
	if ref == nil {
		return false
	}
	flusher, ok := ref.recorder.(interface{ Flush() bool })
	if !ok {
		return false
	}
	return flusher.Flush()
}
