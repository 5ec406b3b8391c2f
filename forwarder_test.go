package beacon

import (
	"testing"

	"github.com/beaconkit/beacon/internal/testutils"
)

func TestForwarderDropsOutsideActivation(t *testing.T) {
	var f Forwarder

	testutils.AssertFalse(t, f.Active())
	testutils.AssertFalse(t, f.Record(LogState{Message: "early"}))
	testutils.AssertFalse(t, f.Flush())
}

func TestForwarderFollowsSessionLifecycle(t *testing.T) {
	f := &Forwarder{}
	s, transport := newTestSession(t, SessionOptions{Components: []Component{f}})

	testutils.AssertTrue(t, s.Activate())
	testutils.AssertTrue(t, f.Active())
	testutils.AssertTrue(t, f.Record(LogState{Level: "info", Message: "one"}))
	testutils.AssertTrue(t, f.RecordAt(LogState{Level: "info", Message: "two"}, 42))
	testutils.AssertTrue(t, f.Flush())

	batches := sentBatches(t, transport)
	testutils.AssertEqual(t, len(batches), 1)
	records := decodeRecords(t, batches[0])
	testutils.AssertEqual(t, len(records), 2)
	testutils.AssertEqual(t, records[1].Time, int64(42))

	s.Teardown()
	testutils.AssertFalse(t, f.Active())
	testutils.AssertFalse(t, f.Record(LogState{Message: "late"}))
}

func TestInstrumentationEventIsFailure(t *testing.T) {
	testutils.AssertFalse(t, InstrumentationEvent{Type: InstrumentationTeardown, Reason: TeardownReasonAPI}.IsFailure())
	testutils.AssertTrue(t, InstrumentationEvent{Type: InstrumentationTeardown, Reason: TeardownReasonQuota}.IsFailure())
	testutils.AssertTrue(t, InstrumentationEvent{Type: InstrumentationDeliveryFailure}.IsFailure())
}
