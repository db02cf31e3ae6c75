package rcbatch

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// CallRecord describes one executed (or unanswered) physical call.
type CallRecord struct {
	BatchID  string
	Round    int
	Endpoint string
	CallID   string
	Members  int
	Answered bool
}

// Observer receives a record for every physical call the engine routes.
// It replaces the executed-call log the engine would otherwise have to
// keep in package-level state; inject a RecordingObserver where the
// history matters and NopObserver everywhere else.
type Observer interface {
	CallExecuted(record CallRecord)
}

// NopObserver discards all records.
type NopObserver struct{}

// CallExecuted implements Observer.
func (NopObserver) CallExecuted(CallRecord) {}

// RecordingObserver keeps executed-call records per endpoint. It is
// safe for concurrent use.
type RecordingObserver struct {
	records *xsync.MapOf[string, []CallRecord]
}

// NewRecordingObserver creates an empty recording observer.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{records: xsync.NewMapOf[string, []CallRecord]()}
}

// CallExecuted implements Observer.
func (o *RecordingObserver) CallExecuted(record CallRecord) {
	o.records.Compute(record.Endpoint, func(old []CallRecord, _ bool) ([]CallRecord, bool) {
		return append(old, record), false
	})
}

// Records returns the recorded calls for one endpoint.
func (o *RecordingObserver) Records(endpoint string) []CallRecord {
	records, _ := o.records.Load(endpoint)
	return records
}

// Total returns the number of records across all endpoints.
func (o *RecordingObserver) Total() int {
	total := 0
	o.records.Range(func(_ string, records []CallRecord) bool {
		total += len(records)
		return true
	})
	return total
}

// Reset drops all recorded calls.
func (o *RecordingObserver) Reset() {
	o.records.Clear()
}
