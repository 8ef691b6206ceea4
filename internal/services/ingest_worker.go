package services

import (
	"context"
	"sync"

	"intelboard/internal/metrics"

	"github.com/sirupsen/logrus"
)

// queuedEvent is one unit of inbound work: exactly one of the two
// fields is set.
type queuedEvent struct {
	workflow *WorkflowEvent
	signal   *RawSignal
}

// IngestQueue decouples callback arrival rate from persistence latency.
// The buffer is bounded: a full queue rejects new work so backpressure
// reaches the automation engine instead of growing memory without limit.
type IngestQueue struct {
	events    chan queuedEvent
	workers   int
	workflows *WorkflowService
	alerts    *AlertService
	logger    *logrus.Logger
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
}

func NewIngestQueue(workflows *WorkflowService, alerts *AlertService, logger *logrus.Logger, size, workers int) *IngestQueue {
	if logger == nil {
		logger = logrus.New()
	}
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 4
	}
	return &IngestQueue{
		events:    make(chan queuedEvent, size),
		workers:   workers,
		workflows: workflows,
		alerts:    alerts,
		logger:    logger,
	}
}

// Start launches the worker pool. Workers run until Stop closes the
// queue, draining whatever is still buffered.
func (q *IngestQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
}

func (q *IngestQueue) run() {
	defer q.wg.Done()
	for ev := range q.events {
		q.dispatch(context.Background(), ev)
	}
}

func (q *IngestQueue) dispatch(ctx context.Context, ev queuedEvent) {
	switch {
	case ev.workflow != nil:
		if err := q.workflows.IngestEvent(ctx, ev.workflow); err != nil {
			q.logger.Warnf("workflow event %s seq=%d not applied: %v",
				ev.workflow.WorkflowID, ev.workflow.Seq, err)
		}
	case ev.signal != nil:
		if _, err := q.alerts.IngestRaw(ctx, ev.signal); err != nil {
			q.logger.Warnf("competitor signal %s/%s not applied: %v",
				ev.signal.CompetitorName, ev.signal.AlertType, err)
		}
	}
}

// EnqueueWorkflowEvent queues an automation-engine callback.
func (q *IngestQueue) EnqueueWorkflowEvent(evt *WorkflowEvent) error {
	return q.enqueue(queuedEvent{workflow: evt})
}

// EnqueueSignal queues a competitor-change signal.
func (q *IngestQueue) EnqueueSignal(sig *RawSignal) error {
	return q.enqueue(queuedEvent{signal: sig})
}

func (q *IngestQueue) enqueue(ev queuedEvent) error {
	// The read lock pins the channel open, so a concurrent Stop cannot
	// close it between the flag check and the send.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return Errf(KindUnavailable, "ingest queue stopped")
	}
	select {
	case q.events <- ev:
		return nil
	default:
		metrics.IncIngest("queue_full")
		return Errf(KindUnavailable, "ingest queue full")
	}
}

// Depth reports how many events are currently buffered.
func (q *IngestQueue) Depth() int {
	return len(q.events)
}

// Stop refuses new work, drains the buffer and waits for the workers.
// Callers must stop accepting HTTP traffic first.
func (q *IngestQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.events)
	q.wg.Wait()
}
