// Package beaconecho records requests handled by Echo into a beacon session.
package beaconecho

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/beaconkit/beacon"
)

// EntryTypeServer is the PerformanceState entry type of handled requests.
const EntryTypeServer = "http.server"

type Options struct {
	// Repanic configures whether to repanic after recovery. In most cases it
	// should be true, as Echo includes its own Recover middleware that handles
	// HTTP responses.
	Repanic bool
	// WaitForDelivery ships the session buffer before a recovered panic
	// continues.
	WaitForDelivery bool
	// RecordErrors makes handler errors with a 5xx status produce an Error
	// record.
	RecordErrors bool
}

// Middleware is a beacon.Component. Register it with e.Use(m.Handle).
type Middleware struct {
	beacon.Forwarder
	repanic         bool
	waitForDelivery bool
	recordErrors    bool
}

func New(options Options) *Middleware {
	return &Middleware{
		repanic:         options.Repanic,
		waitForDelivery: options.WaitForDelivery,
		recordErrors:    options.RecordErrors,
	}
}

func (m *Middleware) Handle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) (err error) {
		if !m.Active() {
			return next(ctx)
		}

		start := time.Now()

		defer func() {
			name := routeName(ctx)
			if recovered := recover(); recovered != nil {
				m.Record(beacon.ErrorState{
					Message: fmt.Sprint(recovered),
					Source:  name,
					Stack:   string(debug.Stack()),
				})
				m.recordRequest(name, start)
				if m.waitForDelivery {
					m.Flush()
				}
				if m.repanic {
					panic(recovered)
				}
				err = echo.NewHTTPError(http.StatusInternalServerError)
				return
			}

			m.recordRequest(name, start)

			status := ctx.Response().Status
			var httpError *echo.HTTPError
			if errors.As(err, &httpError) {
				status = httpError.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			if m.recordErrors && err != nil && status >= http.StatusInternalServerError {
				m.Record(beacon.ErrorState{Message: err.Error(), Source: name})
			}
		}()

		return next(ctx)
	}
}

func (m *Middleware) recordRequest(name string, start time.Time) {
	m.Record(beacon.PerformanceState{
		EntryType: EntryTypeServer,
		Name:      name,
		StartTime: float64(start.UnixNano()) / 1e6,
		Duration:  float64(time.Since(start).Nanoseconds()) / 1e6,
	})
}

// routeName prefers the registered route over the request path.
func routeName(ctx echo.Context) string {
	r := ctx.Request()
	if path := ctx.Path(); path != "" {
		return r.Method + " " + path
	}
	return r.Method + " " + r.URL.Path
}
