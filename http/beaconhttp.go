// Package beaconhttp records handled net/http requests into a beacon session.
//
//	handler := beaconhttp.New(beaconhttp.Options{RecordErrors: true})
//	session, _ := beacon.NewSession(beacon.SessionOptions{
//		Components: []beacon.Component{handler},
//	})
//	http.Handle("/", handler.Handle(mux))
package beaconhttp

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/beaconkit/beacon"
)

// EntryTypeServer is the PerformanceState entry type of handled requests.
const EntryTypeServer = "http.server"

type Options struct {
	// Repanic re-raises a recovered panic after it was recorded. Otherwise the
	// client gets a 500.
	Repanic bool
	// WaitForDelivery ships the session buffer before a recovered panic
	// continues.
	WaitForDelivery bool
	// RecordErrors makes responses with a 5xx status produce an Error record.
	RecordErrors bool
}

// Handler is a beacon.Component wrapping http handlers.
type Handler struct {
	beacon.Forwarder
	repanic         bool
	waitForDelivery bool
	recordErrors    bool
}

func New(options Options) *Handler {
	return &Handler{
		repanic:         options.Repanic,
		waitForDelivery: options.WaitForDelivery,
		recordErrors:    options.RecordErrors,
	}
}

func (h *Handler) Handle(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		h.serve(rw, r, handler.ServeHTTP)
	})
}

func (h *Handler) HandleFunc(handler http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		h.serve(rw, r, handler)
	}
}

func (h *Handler) serve(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if !h.Active() {
		next(rw, r)
		return
	}

	start := time.Now()
	sw := &statusWriter{ResponseWriter: rw}
	defer func() {
		name := requestName(r)
		if err := recover(); err != nil {
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
			if !sw.wroteHeader {
				http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
			return
		}

		h.recordRequest(name, start)
		if h.recordErrors && sw.Status() >= http.StatusInternalServerError {
			h.Record(beacon.ErrorState{
				Message: fmt.Sprintf("%s responded %d", name, sw.Status()),
				Source:  name,
			})
		}
	}()

	// ServeMux sets r.Pattern on the request it is given, so r is not copied.
	next(sw, r)
}

func (h *Handler) recordRequest(name string, start time.Time) {
	h.Record(beacon.PerformanceState{
		EntryType: EntryTypeServer,
		Name:      name,
		StartTime: float64(start.UnixNano()) / 1e6,
		Duration:  float64(time.Since(start).Nanoseconds()) / 1e6,
	})
}

// requestName is the matched ServeMux pattern, or the path when there is none.
func requestName(r *http.Request) string {
	if r.Pattern != "" {
		if strings.Contains(r.Pattern, " ") {
			return r.Pattern
		}
		return r.Method + " " + r.Pattern
	}
	return r.Method + " " + r.URL.Path
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Status() int {
	if !w.wroteHeader {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
