// Package beaconnegroni records requests passing a Negroni stack into a
// beacon session.
package beaconnegroni

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/urfave/negroni/v3"

	"github.com/beaconkit/beacon"
)

// EntryTypeServer is the PerformanceState entry type of handled requests.
const EntryTypeServer = "http.server"

type Options struct {
	Repanic         bool
	WaitForDelivery bool
	// RecordErrors makes responses with a 5xx status produce an Error record.
	RecordErrors bool
}

// Handler is a negroni.Handler and a beacon.Component.
type Handler struct {
	beacon.Forwarder
	repanic         bool
	waitForDelivery bool
	recordErrors    bool
}

var _ negroni.Handler = (*Handler)(nil)

func New(options Options) *Handler {
	return &Handler{
		repanic:         options.Repanic,
		waitForDelivery: options.WaitForDelivery,
		recordErrors:    options.RecordErrors,
	}
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if !h.Active() {
		next(rw, r)
		return
	}

	start := time.Now()
	name := r.Method + " " + r.URL.Path
	defer h.recoverWithBeacon(rw, name, start)

	next(rw, r)

	h.recordRequest(name, start)
	if nrw, ok := rw.(negroni.ResponseWriter); ok && h.recordErrors && nrw.Status() >= http.StatusInternalServerError {
		h.Record(beacon.ErrorState{
			Message: fmt.Sprintf("%s responded %d", name, nrw.Status()),
			Source:  name,
		})
	}
}

func (h *Handler) recoverWithBeacon(rw http.ResponseWriter, name string, start time.Time) {
	err := recover()
	if err == nil {
		return
	}

	h.Record(beacon.ErrorState{
		Message: fmt.Sprint(err),
		Source:  name,
		Stack:   string(debug.Stack()),
	})
	h.recordRequest(name, start)
	if h.waitForDelivery {
		h.Flush()
	}
	if h.repanic {
		panic(err)
	}
	if nrw, ok := rw.(negroni.ResponseWriter); !ok || !nrw.Written() {
		http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) recordRequest(name string, start time.Time) {
	h.Record(beacon.PerformanceState{
		EntryType: EntryTypeServer,
		Name:      name,
		StartTime: float64(start.UnixNano()) / 1e6,
		Duration:  float64(time.Since(start).Nanoseconds()) / 1e6,
	})
}
