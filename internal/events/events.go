// Package events implements C8: the exposure-check job queue that hands
// off from the write pipeline (C3) to the exposure checker (C4), and the
// session event dispatcher that batches violation/confirmation/resolution
// notifications per session. The dispatcher generalizes the teacher's
// internal/dlq claim-then-process pattern (UPDATE ... WHERE workflow_id IS
// NULL) from "failed commit retries" to "session event batches".
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rohankatakam/memory-engine/internal/models"
	"github.com/rohankatakam/memory-engine/internal/storage"
)

// ConditionEmbedding is one embedded invalidates_if/confirms_if clause.
type ConditionEmbedding struct {
	Kind   string // "inv" or "conf"
	Index  int
	Text   string
	Vector []float32
}

// ExposureJob is the payload enqueued by C3 step 7 and consumed by C4.
// The queue is treated as an at-least-once FIFO channel per partition
// (spec.md §1) with no queue-level dedup, and C4 does not consult
// exposure_status before running a job. A replayed job creates no
// duplicate edges (edge IDs derive from the request ID and target), but
// its violation and confirmation counter appends are applied again.
type ExposureJob struct {
	MemoryID   string
	Content    string
	Embedding  []float32
	Conditions []ConditionEmbedding
	TimeBound  bool
	SessionID  string
	RequestID  string
}

// ExposureQueue is the C3→C4 handoff contract.
type ExposureQueue interface {
	Enqueue(ctx context.Context, job ExposureJob) error
}

// InMemoryExposureQueue is a buffered-channel FIFO, the simplest backend
// satisfying the "at-least-once FIFO channel per partition" contract for
// a single-process deployment. memory-sweeper's background re-enqueue
// (storage.ListPendingMemories) is the durable fallback when this buffer
// is full or the process restarts mid-flight.
type InMemoryExposureQueue struct {
	jobs chan ExposureJob
}

// NewInMemoryExposureQueue creates a queue with the given buffer depth.
func NewInMemoryExposureQueue(buffer int) *InMemoryExposureQueue {
	return &InMemoryExposureQueue{jobs: make(chan ExposureJob, buffer)}
}

// Enqueue submits a job, blocking if the buffer is full and ctx permits,
// or returning ctx.Err() if it doesn't.
func (q *InMemoryExposureQueue) Enqueue(ctx context.Context, job ExposureJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("events: enqueue exposure job %s: %w", job.MemoryID, ctx.Err())
	}
}

// Jobs exposes the consumption channel for a worker pool to range over.
func (q *InMemoryExposureQueue) Jobs() <-chan ExposureJob {
	return q.jobs
}

// Dispatcher implements the session event accumulator and sweeper
// described in spec.md §4.8.
type Dispatcher struct {
	store storage.Store
}

// NewDispatcher wraps a Store for the claim-then-process sweep.
func NewDispatcher(store storage.Store) *Dispatcher {
	return &Dispatcher{store: store}
}

// Record inserts a significant event row (violation, confirmation,
// resolution) tagged with its session for later batched dispatch.
func (d *Dispatcher) Record(ctx context.Context, e *models.MemoryEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return d.store.InsertEvent(ctx, e)
}

// DispatchedBatch is one claimed, fully-drained session batch, ready for
// whatever out-of-scope notification surface (webhook, pushover, MCP
// poll) the caller wires up.
type DispatchedBatch struct {
	SessionID  string
	WorkflowID string
	Events     []*models.MemoryEvent
}

// Sweep finds sessions idle since before cutoff, claims them with a fresh
// workflow ID, and returns their event batches. The caller is responsible
// for calling MarkDispatched once delivery succeeds; on crash between
// claim and delivery, ReleaseStuckClaims recovers the batch for a later
// sweep. This is exactly the claim-then-process pattern the teacher's
// internal/dlq uses for retrying failed commits.
func (d *Dispatcher) Sweep(ctx context.Context, idleSince time.Time) ([]DispatchedBatch, error) {
	workflowID := uuid.NewString()

	sessionIDs, err := d.store.ClaimStaleSessions(ctx, idleSince, workflowID)
	if err != nil {
		return nil, fmt.Errorf("events: claim stale sessions: %w", err)
	}
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	evs, err := d.store.EventsForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("events: load claimed events for workflow %s: %w", workflowID, err)
	}

	bySession := make(map[string][]*models.MemoryEvent, len(sessionIDs))
	for _, e := range evs {
		bySession[e.SessionID] = append(bySession[e.SessionID], e)
	}

	batches := make([]DispatchedBatch, 0, len(sessionIDs))
	for _, sid := range sessionIDs {
		batches = append(batches, DispatchedBatch{SessionID: sid, WorkflowID: workflowID, Events: bySession[sid]})
	}
	return batches, nil
}

// MarkDispatched marks every event in a claimed workflow as delivered.
func (d *Dispatcher) MarkDispatched(ctx context.Context, workflowID string) error {
	return d.store.MarkEventsDispatched(ctx, workflowID)
}

// ReleaseStuckClaims nulls workflow_id on claims older than the grace
// period, recovering from a crash between claim and dispatch.
func (d *Dispatcher) ReleaseStuckClaims(ctx context.Context, graceCutoff time.Time) (int, error) {
	return d.store.ReleaseStuckClaims(ctx, graceCutoff)
}
