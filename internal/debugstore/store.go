// Package debugstore keeps a local copy of every compressed batch a session sends
// while debug mode is on, so payloads can be inspected after the fact.
package debugstore

import (
	"time"
)

// Entry is one persisted batch.
type Entry struct {
	SequenceNumber int64     `json:"sequenceNumber"`
	Encoding       string    `json:"encoding"`
	RawLength      int       `json:"rawLength"`
	Payload        []byte    `json:"payload"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store appends entries and lists them back in insertion order.
type Store interface {
	Append(entry Entry) error
	Entries() ([]Entry, error)
	Close() error
}
