package metrics

import (
	"sync"
	"sync/atomic"
)

// ingestStats holds counters for the event-ingestion paths. Kept
// simple/thread-safe for use from services and exposition.
type ingestStats struct {
	total     uint64
	mu        sync.Mutex
	byOutcome map[string]uint64
}

var ing ingestStats

// IncIngest increments the counter for the given outcome. Outcomes in
// use: "accepted", "stale", "validation_error", "invalid_transition",
// "conflict", "dedupe_hit", "queue_full".
func IncIngest(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	atomic.AddUint64(&ing.total, 1)
	ing.mu.Lock()
	if ing.byOutcome == nil {
		ing.byOutcome = make(map[string]uint64)
	}
	ing.byOutcome[outcome]++
	ing.mu.Unlock()
}

// IngestSnapshot returns a copy of the current counters.
func IngestSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&ing.total)
	ing.mu.Lock()
	defer ing.mu.Unlock()
	by = make(map[string]uint64, len(ing.byOutcome))
	for k, v := range ing.byOutcome {
		by[k] = v
	}
	return total, by
}

// ResetIngest clears all counters. Only used from tests.
func ResetIngest() {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	atomic.StoreUint64(&ing.total, 0)
	ing.byOutcome = nil
}
