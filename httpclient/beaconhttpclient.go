// Package beaconhttpclient records outgoing requests into a beacon session.
// It is compatible with `net/http.RoundTripper`.
//
//	roundTripper := beaconhttpclient.NewRoundTripper(nil)
//	session, _ := beacon.NewSession(beacon.SessionOptions{
//		Components: []beacon.Component{roundTripper},
//	})
//	client := &http.Client{Transport: roundTripper}
package beaconhttpclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/beaconkit/beacon"
)

// EntryTypeClient is the PerformanceState entry type of outgoing requests.
const EntryTypeClient = "http.client"

// RoundTripOption configures a RoundTripper.
type RoundTripOption func(*RoundTripper)

// WithRecordErrors makes failed round trips and 5xx responses produce an
// Error record.
func WithRecordErrors() RoundTripOption {
	return func(t *RoundTripper) {
		t.recordErrors = true
	}
}

// NewRoundTripper wraps next. If next is nil, http.DefaultTransport is used.
func NewRoundTripper(next http.RoundTripper, opts ...RoundTripOption) *RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}

	t := &RoundTripper{next: next}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// RoundTripper is an http.RoundTripper and a beacon.Component.
type RoundTripper struct {
	beacon.Forwarder
	next         http.RoundTripper
	recordErrors bool
}

func (t *RoundTripper) RoundTrip(request *http.Request) (*http.Response, error) {
	if !t.Active() {
		return t.next.RoundTrip(request)
	}

	// Redacted strips the password; the query may carry tokens as well.
	u := *request.URL
	u.RawQuery = ""
	u.Fragment = ""
	name := fmt.Sprintf("%s %s", request.Method, u.Redacted())

	start := time.Now()
	response, err := t.next.RoundTrip(request)

	t.Record(beacon.PerformanceState{
		EntryType: EntryTypeClient,
		Name:      name,
		StartTime: float64(start.UnixNano()) / 1e6,
		Duration:  float64(time.Since(start).Nanoseconds()) / 1e6,
	})

	if t.recordErrors {
		switch {
		case err != nil:
			t.Record(beacon.ErrorState{Message: err.Error(), Source: name})
		case response.StatusCode >= http.StatusInternalServerError:
			t.Record(beacon.ErrorState{Message: fmt.Sprintf("%s responded %d", name, response.StatusCode), Source: name})
		}
	}

	return response, err
}
