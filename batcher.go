package beacon

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/beaconkit/beacon/internal/debuglog"
	"github.com/beaconkit/beacon/internal/protocol"
)

const (
	defaultBatchSize  = 10000
	defaultFlushDelay = time.Second
)

// FlushTrigger says why a batch left the buffer.
type FlushTrigger string

const (
	FlushTriggerSize     FlushTrigger = "size"
	FlushTriggerOversize FlushTrigger = "oversize"
	FlushTriggerTimer    FlushTrigger = "timer"
	FlushTriggerManual   FlushTrigger = "manual"
	FlushTriggerTeardown FlushTrigger = "teardown"
)

// Batcher accumulates serialized records and hands them off as batches when
// the buffered size would exceed the limit or the flush delay elapses.
//
// The ship callback is always invoked without the batcher lock held, so it
// may record again.
type Batcher struct {
	limit     int
	delay     time.Duration
	envelopes *EnvelopeBuilder
	ship      func(batch *protocol.Batch, trigger FlushTrigger)

	mu         sync.Mutex
	records    []json.RawMessage
	length     int
	nextID     int64
	timer      *time.Timer
	generation uint64
	closed     bool
}

type pendingBatch struct {
	batch   *protocol.Batch
	trigger FlushTrigger
}

// NewBatcher returns a Batcher. A non-positive limit or delay selects the default.
func NewBatcher(limit int, delay time.Duration, envelopes *EnvelopeBuilder, ship func(*protocol.Batch, FlushTrigger)) *Batcher {
	if limit <= 0 {
		limit = defaultBatchSize
	}
	if delay <= 0 {
		delay = defaultFlushDelay
	}
	return &Batcher{
		limit:     limit,
		delay:     delay,
		envelopes: envelopes,
		ship:      ship,
	}
}

// Add assigns the next record id, serializes the record and buffers it. It
// reports false if the batcher is closed or the record cannot be serialized;
// in both cases no id is consumed.
func (b *Batcher) Add(record ObservationRecord) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}

	record.ID = b.nextID
	data, err := json.Marshal(record)
	if err != nil {
		b.mu.Unlock()
		debuglog.Printf("Dropping %s record: %v", record.Type, err)
		return false
	}
	b.nextID++

	var pending []pendingBatch
	if len(b.records) > 0 && b.length+len(data) > b.limit {
		pending = append(pending, pendingBatch{b.takeLocked(), FlushTriggerSize})
	}

	b.records = append(b.records, data)
	b.length += len(data)

	if b.length > b.limit {
		// Only possible when the record alone is larger than the limit.
		pending = append(pending, pendingBatch{b.takeLocked(), FlushTriggerOversize})
	} else {
		b.armLocked()
	}
	b.mu.Unlock()

	for _, p := range pending {
		b.ship(p.batch, p.trigger)
	}
	return true
}

// Flush ships whatever is buffered. It is a no-op on an empty buffer and
// reports whether a batch was shipped.
func (b *Batcher) Flush() bool {
	b.mu.Lock()
	batch := b.takeLocked()
	b.mu.Unlock()

	if batch == nil {
		return false
	}
	b.ship(batch, FlushTriggerManual)
	return true
}

// Close ships the final batch and rejects every later Add. Only the first
// call has any effect.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	batch := b.takeLocked()
	b.mu.Unlock()

	if batch != nil {
		b.ship(batch, FlushTriggerTeardown)
	}
}

// Buffered reports the number of buffered records and their serialized size.
func (b *Batcher) Buffered() (records int, length int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records), b.length
}

// Closed reports whether Close was called.
func (b *Batcher) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// armLocked (re)starts the flush timer. Any timer started before is invalidated
// through the generation counter, including one that already fired and is
// waiting for the lock.
func (b *Batcher) armLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.generation++
	gen := b.generation
	b.timer = time.AfterFunc(b.delay, func() { b.fire(gen) })
}

func (b *Batcher) fire(gen uint64) {
	b.mu.Lock()
	if gen != b.generation || b.closed {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.mu.Unlock()

	if batch != nil {
		b.ship(batch, FlushTriggerTimer)
	}
}

// takeLocked cancels the timer, empties the buffer and wraps its contents in a
// freshly built envelope. It returns nil for an empty buffer, in which case no
// sequence number is consumed.
func (b *Batcher) takeLocked() *protocol.Batch {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.generation++

	if len(b.records) == 0 {
		return nil
	}

	records := b.records
	b.records = nil
	b.length = 0

	return &protocol.Batch{
		Envelope: b.envelopes.Build(),
		Events:   records,
	}
}
