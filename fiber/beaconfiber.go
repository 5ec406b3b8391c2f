// Package beaconfiber records requests handled by Fiber into a beacon session.
package beaconfiber

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/beaconkit/beacon"
)

// EntryTypeServer is the PerformanceState entry type of handled requests.
const EntryTypeServer = "http.server"

type Options struct {
	// Repanic configures whether to repanic after recovery. In most cases it
	// should be false, as fasthttp doesn't include its own recovery handler.
	Repanic bool
	// WaitForDelivery ships the session buffer before a recovered panic
	// continues.
	WaitForDelivery bool
	// RecordErrors makes handler errors with a 5xx status produce an Error
	// record.
	RecordErrors bool
}

// Handler is a beacon.Component. Register it with app.Use(h.Handle).
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

func (h *Handler) Handle(ctx *fiber.Ctx) (err error) {
	if !h.Active() {
		return ctx.Next()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			name := routeName(ctx)
			h.Record(beacon.ErrorState{
				Message: fmt.Sprint(r),
				Source:  name,
				Stack:   string(debug.Stack()),
			})
			h.recordRequest(name, start)
			if h.waitForDelivery {
				h.Flush()
			}
			if h.repanic {
				panic(r)
			}
			err = fiber.ErrInternalServerError
		}
	}()

	err = ctx.Next()

	// The matched route is known only once the chain ran.
	name := routeName(ctx)
	h.recordRequest(name, start)
	if h.recordErrors && err != nil && errorStatus(err) >= fiber.StatusInternalServerError {
		h.Record(beacon.ErrorState{Message: err.Error(), Source: name})
	}
	return err
}

func (h *Handler) recordRequest(name string, start time.Time) {
	h.Record(beacon.PerformanceState{
		EntryType: EntryTypeServer,
		Name:      name,
		StartTime: float64(start.UnixNano()) / 1e6,
		Duration:  float64(time.Since(start).Nanoseconds()) / 1e6,
	})
}

func errorStatus(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return fiber.StatusInternalServerError
}

func routeName(ctx *fiber.Ctx) string {
	if route := ctx.Route(); route != nil && route.Path != "" {
		return ctx.Method() + " " + route.Path
	}
	return ctx.Method() + " " + ctx.Path()
}
