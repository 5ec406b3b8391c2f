// Package beacongin records requests handled by Gin into a beacon session.
package beacongin

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beaconkit/beacon"
)

// EntryTypeServer is the PerformanceState entry type of handled requests.
const EntryTypeServer = "http.server"

type Options struct {
	Repanic         bool
	WaitForDelivery bool
	// RecordErrors makes every error attached with c.Error produce an Error
	// record.
	RecordErrors bool
}

// Handler is a beacon.Component. Register it with router.Use(h.Handle).
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

func (h *Handler) Handle(c *gin.Context) {
	if !h.Active() {
		c.Next()
		return
	}

	start := time.Now()
	defer h.recoverWithBeacon(c, start)
	c.Next()

	name := routeName(c)
	h.recordRequest(name, start)
	if h.recordErrors {
		for _, err := range c.Errors {
			h.Record(beacon.ErrorState{Message: err.Error(), Source: name})
		}
	}
}

func (h *Handler) recoverWithBeacon(c *gin.Context, start time.Time) {
	err := recover()
	if err == nil {
		return
	}

	name := routeName(c)
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
	c.AbortWithStatus(http.StatusInternalServerError)
}

func (h *Handler) recordRequest(name string, start time.Time) {
	h.Record(beacon.PerformanceState{
		EntryType: EntryTypeServer,
		Name:      name,
		StartTime: float64(start.UnixNano()) / 1e6,
		Duration:  float64(time.Since(start).Nanoseconds()) / 1e6,
	})
}

func routeName(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return c.Request.Method + " " + route
	}
	return c.Request.Method + " " + c.Request.URL.Path
}
