package beacon

import (
	"github.com/beaconkit/beacon/internal/debuglog"
	"github.com/beaconkit/beacon/internal/registry"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	// SessionLoaded is the initial state. Records are accepted but components
	// are not running.
	SessionLoaded SessionState = iota
	// SessionActivated means components run and the byte quota is enforced.
	SessionActivated
	// SessionUnloaded is terminal. Records are rejected.
	SessionUnloaded
)

func (s SessionState) String() string {
	switch s {
	case SessionLoaded:
		return "loaded"
	case SessionActivated:
		return "activated"
	case SessionUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// Activate claims the execution context, checks capabilities and starts every
// component. It is a no-op unless the session is Loaded. On a duplicate
// activation or a missing capability the failure is reported and the session
// tears itself down. It reports whether the session is now Activated.
func (s *Session) Activate() bool {
	s.mu.Lock()
	if s.state != SessionLoaded || s.closing || s.activating {
		s.mu.Unlock()
		return false
	}
	s.activating = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.activating = false
		s.mu.Unlock()
	}()

	if !registry.Acquire(s.options.Context, s) {
		debuglog.Printf("Execution context %q already has an active session", s.options.Context)
		s.sink.Report(InstrumentationEvent{Type: InstrumentationDuplicateActivation})
		s.teardown(TeardownReasonDuplicate)
		return false
	}

	if missing := s.missingCapabilities(); len(missing) > 0 {
		debuglog.Printf("Missing capabilities: %v", missing)
		s.sink.Report(InstrumentationEvent{
			Type:         InstrumentationMissingCapability,
			Capabilities: missing,
		})
		s.teardown(TeardownReasonCapability)
		return false
	}

	s.mu.Lock()
	if s.closing || s.state != SessionLoaded {
		s.mu.Unlock()
		// A teardown that ran since Acquire has already released its claim.
		registry.Release(s.options.Context, s)
		return false
	}
	s.state = SessionActivated
	components := append([]Component(nil), s.components...)
	s.mu.Unlock()
	s.metrics.setState(SessionActivated)

	for _, c := range components {
		c.Reset()
		c.Activate(s)
	}

	debuglog.Printf("Session %s activated with %d components", s.sessionID, len(components))
	return true
}

// Teardown stops the session. It reports a Teardown event, stops components,
// releases bindings, flushes what is buffered and abandons pending retries.
// Only the first call has any effect; it is safe to call from any goroutine.
func (s *Session) Teardown() {
	s.teardown(TeardownReasonAPI)
}

func (s *Session) teardown(reason string) {
	s.mu.Lock()
	if s.state == SessionUnloaded || s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	activated := s.state == SessionActivated
	components := append([]Component(nil), s.components...)
	bindings := s.bindings
	s.bindings = nil
	s.mu.Unlock()

	s.sink.Report(InstrumentationEvent{Type: InstrumentationTeardown, Reason: reason})

	if activated {
		for _, c := range components {
			c.Teardown()
		}
	}

	for _, unbind := range bindings {
		unbind()
	}

	s.batcher.Close()
	s.tracker.Abandon()
	registry.Release(s.options.Context, s)

	s.mu.Lock()
	s.state = SessionUnloaded
	s.closing = false
	s.mu.Unlock()
	s.metrics.setState(SessionUnloaded)

	debuglog.Printf("Session %s unloaded (%s)", s.sessionID, reason)
}

// AddComponent registers a component while the session is Loaded. It reports
// false once activation started or the session is unloaded.
func (s *Session) AddComponent(c Component) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionLoaded || s.closing || s.activating {
		return false
	}
	s.components = append(s.components, c)
	return true
}

// AddBinding registers a function that releases an external hook. It runs
// once, during teardown. If the session is already unloading, unbind runs
// immediately.
func (s *Session) AddBinding(unbind func()) {
	if unbind == nil {
		return
	}
	s.mu.Lock()
	if s.state == SessionUnloaded || s.closing {
		s.mu.Unlock()
		unbind()
		return
	}
	s.bindings = append(s.bindings, unbind)
	s.mu.Unlock()
}

func (s *Session) missingCapabilities() []string {
	var missing []string
	if s.codecErr != nil {
		missing = append(missing, "compression:"+s.options.Compression)
	}
	for _, c := range s.options.Capabilities {
		if c.Available == nil || !c.Available() {
			missing = append(missing, c.Name)
		}
	}
	return missing
}
