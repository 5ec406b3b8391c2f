package beacon

import (
	"sync"
	"sync/atomic"

	"github.com/beaconkit/beacon/internal/debuglog"
)

const (
	successStatusMin = 200
	successStatusMax = 208
)

// IsSuccessStatus reports whether status is in the band the collector uses
// for an accepted batch.
func IsSuccessStatus(status int) bool {
	return status >= successStatusMin && status <= successStatusMax
}

// Uploader sends payloads through a Transport and keeps the running total of
// bytes charged against the session quota.
//
// A payload is charged when it is sent and uncharged if it fails, so after all
// completions the total equals the size of the accepted payloads.
type Uploader struct {
	transport Transport
	enabled   bool
	charged   atomic.Int64
}

// NewUploader returns an Uploader. Without an endpoint every Send is a no-op.
func NewUploader(transport Transport, endpoint string) *Uploader {
	return &Uploader{
		transport: transport,
		enabled:   endpoint != "" && transport != nil,
	}
}

// Send charges the payload and hands it to the transport. Exactly one of
// onSuccess and onFailure runs per call, on whichever goroutine the transport
// completes on. It reports false when nothing was sent.
func (u *Uploader) Send(payload []byte, onSuccess, onFailure func(status int)) bool {
	if !u.enabled {
		return false
	}

	size := int64(len(payload))
	u.charged.Add(size)

	var once sync.Once
	u.transport.Send(payload, func(status int) {
		once.Do(func() {
			if IsSuccessStatus(status) {
				if onSuccess != nil {
					onSuccess(status)
				}
				return
			}

			u.charged.Add(-size)
			debuglog.Printf("Upload of %d bytes failed with status %d", size, status)
			if onFailure != nil {
				onFailure(status)
			}
		})
	})
	return true
}

// Charged returns the bytes currently counted against the quota.
func (u *Uploader) Charged() int64 {
	return u.charged.Load()
}

// Enabled reports whether an endpoint is configured.
func (u *Uploader) Enabled() bool {
	return u.enabled
}
