package beacon

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beaconkit/beacon/internal/protocol"
	"github.com/beaconkit/beacon/internal/testutils"
)

type shipped struct {
	batch   *protocol.Batch
	trigger FlushTrigger
}

type shipRecorder struct {
	mu      sync.Mutex
	batches []shipped
}

func (r *shipRecorder) ship(batch *protocol.Batch, trigger FlushTrigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, shipped{batch, trigger})
}

func (r *shipRecorder) get() []shipped {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shipped(nil), r.batches...)
}

func newTestBatcher(limit int, delay time.Duration) (*Batcher, *shipRecorder) {
	recorder := &shipRecorder{}
	envelopes := NewEnvelopeBuilder("session", "impression", "https://example.com", time.Now())
	return NewBatcher(limit, delay, envelopes, recorder.ship), recorder
}

func rawRecord(size int) ObservationRecord {
	data, _ := json.Marshal(strings.Repeat("x", size))
	return ObservationRecord{Type: "Custom", State: RawState{Type: "Custom", Data: data}}
}

func batchLength(batch *protocol.Batch) int {
	n := 0
	for _, event := range batch.Events {
		n += len(event)
	}
	return n
}

func TestBatcherAssignsIncreasingIDs(t *testing.T) {
	b, recorder := newTestBatcher(1<<20, time.Hour)

	for i := 0; i < 5; i++ {
		testutils.AssertTrue(t, b.Add(ObservationRecord{Type: KindPointer, State: click(i, i)}))
	}
	testutils.AssertTrue(t, b.Flush())

	batches := recorder.get()
	testutils.AssertEqual(t, len(batches), 1)
	for i, event := range batches[0].batch.Events {
		record, err := DecodeRecord(event)
		if err != nil {
			t.Fatal(err)
		}
		testutils.AssertEqual(t, record.ID, int64(i))
		testutils.AssertEqual(t, record.State, click(i, i))
	}
}

func TestBatcherSizeTrigger(t *testing.T) {
	const limit = 400
	b, recorder := newTestBatcher(limit, time.Hour)

	sizes := []int{50, 120, 10, 200, 90, 30, 150, 150, 70, 5, 260, 40}
	for _, size := range sizes {
		b.Add(rawRecord(size))
	}
	b.Flush()

	batches := recorder.get()
	if len(batches) < 2 {
		t.Fatalf("expected several batches, got %d", len(batches))
	}

	var nextID int64
	for i, s := range batches {
		length := batchLength(s.batch)
		testutils.AssertTrue(t, length <= limit || len(s.batch.Events) == 1,
			"batch %d is %d bytes with %d records", i, length, len(s.batch.Events))

		if s.trigger == FlushTriggerSize {
			next := batches[i+1].batch.Events[0]
			testutils.AssertTrue(t, length+len(next) > limit,
				"batch %d flushed early: %d + %d <= %d", i, length, len(next), limit)
		}

		for _, event := range s.batch.Events {
			record, err := DecodeRecord(event)
			if err != nil {
				t.Fatal(err)
			}
			testutils.AssertEqual(t, record.ID, nextID)
			nextID++
		}
	}
	testutils.AssertEqual(t, nextID, int64(len(sizes)))
}

func TestBatcherOversizedRecordShipsAlone(t *testing.T) {
	b, recorder := newTestBatcher(100, time.Hour)

	b.Add(rawRecord(10))
	b.Add(rawRecord(500))

	batches := recorder.get()
	testutils.AssertEqual(t, len(batches), 2)
	testutils.AssertEqual(t, batches[0].trigger, FlushTriggerSize)
	testutils.AssertEqual(t, len(batches[0].batch.Events), 1)
	testutils.AssertEqual(t, batches[1].trigger, FlushTriggerOversize)
	testutils.AssertEqual(t, len(batches[1].batch.Events), 1)

	records, length := b.Buffered()
	testutils.AssertEqual(t, records, 0)
	testutils.AssertEqual(t, length, 0)
}

func TestBatcherFlushEmptyIsNoop(t *testing.T) {
	b, recorder := newTestBatcher(100, time.Hour)

	testutils.AssertFalse(t, b.Flush())
	testutils.AssertEqual(t, len(recorder.get()), 0)
	testutils.AssertEqual(t, b.envelopes.Next(), int64(0))

	b.Add(rawRecord(1))
	b.Flush()
	testutils.AssertEqual(t, recorder.get()[0].batch.Envelope.SequenceNumber, int64(0))
}

func TestBatcherTimerTrigger(t *testing.T) {
	b, recorder := newTestBatcher(1<<20, 50*time.Millisecond)

	b.Add(rawRecord(1))
	b.Add(rawRecord(1))

	testutils.WaitUntil(t, func() bool { return len(recorder.get()) == 1 })
	batches := recorder.get()
	testutils.AssertEqual(t, batches[0].trigger, FlushTriggerTimer)
	testutils.AssertEqual(t, len(batches[0].batch.Events), 2)
}

func TestBatcherTimerRearmsOnEveryRecord(t *testing.T) {
	b, recorder := newTestBatcher(1<<20, 300*time.Millisecond)

	b.Add(rawRecord(1))
	time.Sleep(150 * time.Millisecond)
	b.Add(rawRecord(1))
	time.Sleep(200 * time.Millisecond)

	// 350ms after the first record, 200ms after the second.
	testutils.AssertEqual(t, len(recorder.get()), 0, "timer was not rearmed")

	testutils.WaitUntil(t, func() bool { return len(recorder.get()) == 1 })
	testutils.AssertEqual(t, len(recorder.get()[0].batch.Events), 2)
}

func TestBatcherSizeFlushCancelsTimer(t *testing.T) {
	b, recorder := newTestBatcher(100, 50*time.Millisecond)

	b.Add(rawRecord(30))
	b.Add(rawRecord(30))
	b.Flush()
	time.Sleep(150 * time.Millisecond)

	batches := recorder.get()
	testutils.AssertEqual(t, len(batches), 2)
	testutils.AssertEqual(t, batches[0].trigger, FlushTriggerSize)
	testutils.AssertEqual(t, batches[1].trigger, FlushTriggerManual)
}

func TestBatcherClose(t *testing.T) {
	b, recorder := newTestBatcher(1<<20, time.Hour)

	b.Add(rawRecord(1))
	b.Close()
	b.Close()

	testutils.AssertFalse(t, b.Add(rawRecord(1)))
	testutils.AssertFalse(t, b.Flush())
	testutils.AssertTrue(t, b.Closed())

	batches := recorder.get()
	testutils.AssertEqual(t, len(batches), 1)
	testutils.AssertEqual(t, batches[0].trigger, FlushTriggerTeardown)
}

func TestBatcherRejectsUnserializableRecord(t *testing.T) {
	b, recorder := newTestBatcher(1<<20, time.Hour)

	bad := ObservationRecord{Type: "Custom", State: RawState{Type: "Custom", Data: json.RawMessage("{not json")}}
	testutils.AssertFalse(t, b.Add(bad))
	testutils.AssertTrue(t, b.Add(rawRecord(1)))
	b.Flush()

	record, err := DecodeRecord(recorder.get()[0].batch.Events[0])
	if err != nil {
		t.Fatal(err)
	}
	testutils.AssertEqual(t, record.ID, int64(0))
}

func TestBatcherConcurrentAddsKeepSequenceContiguous(t *testing.T) {
	b, recorder := newTestBatcher(300, 5*time.Millisecond)

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				b.Add(rawRecord(i % 40))
				if i%37 == 0 {
					b.Flush()
				}
			}
		}()
	}
	wg.Wait()
	b.Close()

	// A timer flush may still be shipping when Close returns.
	testutils.WaitUntil(t, func() bool {
		n := 0
		for _, s := range recorder.get() {
			n += len(s.batch.Events)
		}
		return n == workers*perWorker
	})

	seen := make(map[int64]bool)
	ids := make(map[int64]bool)
	for _, s := range recorder.get() {
		seq := s.batch.Envelope.SequenceNumber
		testutils.AssertFalse(t, seen[seq], "sequence number %d reused", seq)
		seen[seq] = true
		for _, event := range s.batch.Events {
			record, err := DecodeRecord(event)
			if err != nil {
				t.Fatal(err)
			}
			ids[record.ID] = true
		}
	}
	for seq := int64(0); seq < int64(len(seen)); seq++ {
		testutils.AssertTrue(t, seen[seq], "sequence number %d missing", seq)
	}
	testutils.AssertEqual(t, len(ids), workers*perWorker)
}
