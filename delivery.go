package beacon

import (
	"sort"
	"sync"

	"github.com/beaconkit/beacon/internal/debuglog"
	"github.com/beaconkit/beacon/internal/outcome"
	"github.com/beaconkit/beacon/internal/protocol"
)

// DroppedBatch is a batch whose upload failed and is waiting for a retry.
type DroppedBatch struct {
	// Payload is the request body, exactly as first sent.
	Payload []byte
	Error   DeliveryError
}

type trackedBatch struct {
	DroppedBatch
	inFlight bool
}

// DeliveryTracker remembers failed batches by sequence number and resends all
// of them whenever some upload succeeds.
//
// There is no retry cap and no backoff: an entry stays until a retry succeeds
// or the tracker is abandoned.
type DeliveryTracker struct {
	uploader *Uploader
	sink     Sink
	outcomes *outcome.Aggregator
	metrics  *Metrics

	mu        sync.Mutex
	entries   map[int64]*trackedBatch
	abandoned bool
}

// NewDeliveryTracker returns an empty tracker. Failure events go to sink.
func NewDeliveryTracker(uploader *Uploader, sink Sink) *DeliveryTracker {
	return &DeliveryTracker{
		uploader: uploader,
		sink:     sink,
		entries:  make(map[int64]*trackedBatch),
	}
}

// OnFirstFailure records a freshly failed batch. raw is the uncompressed
// serialized batch and payload the request body that was sent.
func (t *DeliveryTracker) OnFirstFailure(status int, raw, payload []byte) {
	info, err := protocol.Inspect(raw)
	if err != nil {
		debuglog.Printf("Cannot track failed batch: %v", err)
		return
	}

	deliveryErr := DeliveryError{
		RequestStatus:    status,
		SequenceNumber:   info.SequenceNumber,
		CompressedLength: len(payload),
		RawLength:        len(raw),
		FirstRecordID:    info.FirstRecordID,
		LastRecordID:     info.LastRecordID,
		AttemptNumber:    0,
	}

	t.mu.Lock()
	if t.abandoned {
		t.mu.Unlock()
		return
	}
	t.entries[info.SequenceNumber] = &trackedBatch{
		DroppedBatch: DroppedBatch{Payload: payload, Error: deliveryErr},
	}
	count := len(t.entries)
	t.mu.Unlock()

	t.metrics.setDroppedBatches(count)
	t.report(deliveryErr)
}

// RetryAll resends every tracked batch that is not already being retried.
func (t *DeliveryTracker) RetryAll() {
	type retry struct {
		seq     int64
		payload []byte
	}

	t.mu.Lock()
	if t.abandoned {
		t.mu.Unlock()
		return
	}
	due := make([]retry, 0, len(t.entries))
	for seq, entry := range t.entries {
		if entry.inFlight {
			continue
		}
		entry.inFlight = true
		due = append(due, retry{seq: seq, payload: entry.Payload})
	}
	t.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })

	for _, r := range due {
		seq, size := r.seq, len(r.payload)
		sent := t.uploader.Send(r.payload,
			func(status int) { t.retrySucceeded(seq, size) },
			func(status int) { t.retryFailed(seq, status, size) },
		)
		if !sent {
			t.mu.Lock()
			if entry, ok := t.entries[seq]; ok {
				entry.inFlight = false
			}
			t.mu.Unlock()
		}
	}
}

func (t *DeliveryTracker) retrySucceeded(seq int64, size int) {
	t.mu.Lock()
	_, ok := t.entries[seq]
	delete(t.entries, seq)
	count := len(t.entries)
	t.mu.Unlock()

	t.metrics.upload(uploadAttemptRetry, true)
	if !ok {
		return
	}
	t.outcomes.RecordBatch(outcome.ReasonRetryDelivered, size)
	t.metrics.setDroppedBatches(count)
}

func (t *DeliveryTracker) retryFailed(seq int64, status int, size int) {
	t.mu.Lock()
	entry, ok := t.entries[seq]
	if !ok || t.abandoned {
		t.mu.Unlock()
		return
	}
	entry.inFlight = false
	entry.Error.RequestStatus = status
	entry.Error.AttemptNumber++
	deliveryErr := entry.Error
	t.mu.Unlock()

	t.metrics.upload(uploadAttemptRetry, false)
	t.outcomes.RecordBatch(failureReason(status), size)
	t.report(deliveryErr)
}

// Abandon drops every entry. Completions arriving afterwards are ignored.
func (t *DeliveryTracker) Abandon() {
	t.mu.Lock()
	if t.abandoned {
		t.mu.Unlock()
		return
	}
	t.abandoned = true
	entries := t.entries
	t.entries = make(map[int64]*trackedBatch)
	t.mu.Unlock()

	for _, entry := range entries {
		t.outcomes.RecordBatch(outcome.ReasonAbandoned, len(entry.Payload))
	}
	t.metrics.setDroppedBatches(0)
}

// Len returns the number of tracked batches.
func (t *DeliveryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns a snapshot of the tracked batches ordered by sequence number.
func (t *DeliveryTracker) Entries() []DroppedBatch {
	t.mu.Lock()
	out := make([]DroppedBatch, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, entry.DroppedBatch)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Error.SequenceNumber < out[j].Error.SequenceNumber
	})
	return out
}

func (t *DeliveryTracker) report(deliveryErr DeliveryError) {
	if t.sink == nil {
		return
	}
	t.sink.Report(InstrumentationEvent{
		Type:          InstrumentationDeliveryFailure,
		DeliveryError: &deliveryErr,
	})
}

func failureReason(status int) outcome.Reason {
	if status == 0 {
		return outcome.ReasonNetworkError
	}
	return outcome.ReasonSendError
}
