// Package storage implements the entity store: the transactional
// relational backing for memories, edges, violations, versions, access
// events, memory events, system stats and notifications. Two backends
// share one interface, exactly as the teacher's Store does for
// Postgres/SQLite: PostgresStore for production, SQLiteStore for local
// development and tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rohankatakam/memory-engine/internal/models"
)

// Common errors returned by both backends.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store defines the entity store interface (C1).
type Store interface {
	// Memory writes. CreateMemory is idempotent on ID (INSERT ... ON
	// CONFLICT DO NOTHING): replaying the same ID is a no-op.
	CreateMemory(ctx context.Context, m *models.Memory) error
	GetMemory(ctx context.Context, id string) (*models.Memory, error)
	// GetMemories performs a single round-trip batched read by ID list.
	GetMemories(ctx context.Context, ids []string) ([]*models.Memory, error)
	// ListMemories returns all non-retracted memories, optionally
	// restricted to a single agent scope tag. Used by C6's component
	// discovery and C7's fallback candidate gathering.
	ListMemories(ctx context.Context, agentID string) ([]*models.Memory, error)
	// ListPendingMemories returns rows stuck in exposure_status="pending"
	// older than olderThan, for the background sweep.
	ListPendingMemories(ctx context.Context, olderThan time.Time) ([]*models.Memory, error)

	SetExposureStatus(ctx context.Context, id string, status string) error
	PromoteDraft(ctx context.Context, id string) error

	// IncrementCentrality applies a signed delta via a dedicated
	// SET centrality = centrality + $delta row-level CAS.
	IncrementCentrality(ctx context.Context, id string, delta int) error

	// AppendViolation atomically appends a violation, increments
	// contradictions and times_tested by exactly one, and applies the
	// resulting state transition. Returns the memory's centrality as
	// observed inside the same transaction so the caller can decide
	// core vs. peripheral without a second round-trip.
	AppendViolation(ctx context.Context, id string, v models.Violation) (centrality int, err error)
	// AppendConfirmation atomically appends a confirmation, incrementing
	// confirmations and times_tested by exactly one.
	AppendConfirmation(ctx context.Context, id string) error

	// UpdateState sets state directly ("last writer wins").
	UpdateState(ctx context.Context, id string, state models.MemoryState) error
	// UpdateConfidence writes back a propagated_confidence value, used by
	// C5 and C6's batched write-back.
	UpdateConfidence(ctx context.Context, id string, confidence float64) error
	// ReplaceContent overwrites content (and, when resetCounters is set,
	// resets the earned-ratio counters).
	ReplaceContent(ctx context.Context, id string, content string, resetCounters bool) error

	RetractMemory(ctx context.Context, id string, reason string) error
	ResolveMemory(ctx context.Context, id string, outcome models.Outcome) error

	// Edges.
	CreateEdge(ctx context.Context, e *models.Edge) error
	// EdgesFrom returns edges whose source is in ids, optionally filtered
	// by edge type (nil/empty means all types) — a frontier query.
	EdgesFrom(ctx context.Context, ids []string, types []models.EdgeType) ([]*models.Edge, error)
	EdgesTo(ctx context.Context, ids []string, types []models.EdgeType) ([]*models.Edge, error)
	// ScaleEdgeStrength multiplies every outgoing edge of the given types
	// from sourceID by factor, clamped to [0,1]. Decay and recovery
	// operations share this one primitive.
	ScaleEdgeStrength(ctx context.Context, sourceID string, types []models.EdgeType, factor float64) error
	// ListPositiveEdges returns every support edge with strength >=
	// minStrength, the input to C6's component discovery.
	ListPositiveEdges(ctx context.Context, minStrength float64) ([]*models.Edge, error)
	// ListContradictionEdges returns every violated_by edge, used by C6's
	// cross-component contradiction term.
	ListContradictionEdges(ctx context.Context) ([]*models.Edge, error)

	// Versions, access events.
	InsertVersion(ctx context.Context, v *models.Version) error
	NextVersionNumber(ctx context.Context, entityID string) (int, error)
	ListVersions(ctx context.Context, entityID string) ([]*models.Version, error)
	InsertAccessEvent(ctx context.Context, e *models.AccessEvent) error
	ListAccessEvents(ctx context.Context, entityID string) ([]*models.AccessEvent, error)

	// Event queue / session dispatcher (C8).
	InsertEvent(ctx context.Context, e *models.MemoryEvent) error
	// ClaimStaleSessions finds sessions whose last event predates cutoff
	// and are not yet claimed, stamping them with workflowID, and returns
	// the claimed session IDs (the claim-then-process pattern).
	ClaimStaleSessions(ctx context.Context, cutoff time.Time, workflowID string) ([]string, error)
	EventsForWorkflow(ctx context.Context, workflowID string) ([]*models.MemoryEvent, error)
	MarkEventsDispatched(ctx context.Context, workflowID string) error
	// ReleaseStuckClaims nulls workflow_id on claimed-but-undispatched
	// events older than the grace period (crash recovery).
	ReleaseStuckClaims(ctx context.Context, olderThan time.Time) (int, error)

	// System stats.
	GetSystemStat(ctx context.Context, key string) (*models.SystemStat, error)
	SetSystemStat(ctx context.Context, key string, value float64) error

	// Notifications.
	InsertNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error

	Close() error
}
