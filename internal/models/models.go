// Package models defines the belief-graph's persisted entities: memories,
// edges, violations, versions, access/event logs, system stats and
// notifications. Struct tags mirror both the JSON wire format and the
// storage column names so the same type serves API responses and sqlx
// scans.
package models

import (
	"encoding/json"
	"time"
)

// MemoryState is the lifecycle state of a memory.
type MemoryState string

const (
	StateActive    MemoryState = "active"
	StateDraft     MemoryState = "draft"
	StateConfirmed MemoryState = "confirmed"
	StateViolated  MemoryState = "violated"
	StateExpired   MemoryState = "expired"
	StateResolved  MemoryState = "resolved"
)

// DamageLevel classifies how central a violated memory is.
type DamageLevel string

const (
	DamageCore       DamageLevel = "core"
	DamagePeripheral DamageLevel = "peripheral"
)

// Outcome is the result recorded when a prediction resolves.
type Outcome string

const (
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomeVoid      Outcome = "void"
)

// EdgeType enumerates the directed relationships between memories.
type EdgeType string

const (
	EdgeDerivedFrom EdgeType = "derived_from"
	EdgeConfirmedBy EdgeType = "confirmed_by"
	EdgeViolatedBy  EdgeType = "violated_by"
	EdgeSupersedes  EdgeType = "supersedes"
)

// IsSupport reports whether the edge type belongs to the positive
// (support) subgraph used for component discovery and shock propagation.
func (t EdgeType) IsSupport() bool {
	return t == EdgeDerivedFrom || t == EdgeConfirmedBy
}

// IsContradiction reports whether the edge type is the negative
// (contradiction) relationship.
func (t EdgeType) IsContradiction() bool {
	return t == EdgeViolatedBy
}

// Violation is one append-only record of a memory failing its own
// invalidates_if condition.
type Violation struct {
	Condition     string      `json:"condition"`
	ObservedAt    time.Time   `json:"observed_at"`
	ObservationID string      `json:"observation_id,omitempty"`
	DamageLevel   DamageLevel `json:"damage_level"`
}

// StringList is a JSON-encoded array field persisted as a TEXT column
// via the Scan/Value driver methods in sql.go.
type StringList []string

// Memory is a node in the belief graph: a claim with content, origin and
// confidence accounting. Exactly one of Source / DerivedFrom identifies
// the memory's origin.
type Memory struct {
	ID      string `json:"id" db:"id"`
	Content string `json:"content" db:"content"`

	// Origin: an observation has Source set; a thought has a non-empty
	// DerivedFrom. Never both, never neither.
	Source      *string    `json:"source,omitempty" db:"source"`
	DerivedFrom StringList `json:"derived_from,omitempty" db:"derived_from"`

	// Time-bound (prediction) fields. ResolvesBy implies OutcomeCondition.
	ResolvesBy       *time.Time `json:"resolves_by,omitempty" db:"resolves_by"`
	OutcomeCondition *string    `json:"outcome_condition,omitempty" db:"outcome_condition"`

	Assumes       StringList `json:"assumes,omitempty" db:"assumes"`
	InvalidatesIf StringList `json:"invalidates_if,omitempty" db:"invalidates_if"`
	ConfirmsIf    StringList `json:"confirms_if,omitempty" db:"confirms_if"`
	Tags          StringList `json:"tags,omitempty" db:"tags"`

	StartingConfidence   float64  `json:"starting_confidence" db:"starting_confidence"`
	Confirmations        int      `json:"confirmations" db:"confirmations"`
	TimesTested          int      `json:"times_tested" db:"times_tested"`
	Contradictions       int      `json:"contradictions" db:"contradictions"`
	Centrality           int      `json:"centrality" db:"centrality"`
	PropagatedConfidence *float64 `json:"propagated_confidence,omitempty" db:"propagated_confidence"`

	State MemoryState `json:"state" db:"state"`

	Retracted        bool       `json:"retracted" db:"retracted"`
	RetractedAt      *time.Time `json:"retracted_at,omitempty" db:"retracted_at"`
	RetractionReason *string    `json:"retraction_reason,omitempty" db:"retraction_reason"`

	Outcome *Outcome `json:"outcome,omitempty" db:"outcome"`

	Violations ViolationList `json:"violations,omitempty" db:"violations"`

	// ExposureStatus tracks the write pipeline's durability handoff:
	// "pending" until vectors are upserted and the exposure job enqueued,
	// "ready" once the exposure job has been durably enqueued.
	ExposureStatus string `json:"exposure_status" db:"exposure_status"`

	AgentID string `json:"agent_id,omitempty" db:"agent_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsObservation reports whether the memory's origin is an external source.
func (m *Memory) IsObservation() bool {
	return m.Source != nil && *m.Source != ""
}

// IsTimeBound reports whether the memory is a prediction.
func (m *Memory) IsTimeBound() bool {
	return m.ResolvesBy != nil
}

// EarnedRatio returns confirmations/times_tested, or false if untested.
func (m *Memory) EarnedRatio() (float64, bool) {
	if m.TimesTested == 0 {
		return 0, false
	}
	return float64(m.Confirmations) / float64(m.TimesTested), true
}

// EffectiveConfidence returns the confidence value zone scoring and
// reporting should use: propagated confidence if set, else the earned
// ratio, else starting confidence.
func (m *Memory) EffectiveConfidence() float64 {
	if m.PropagatedConfidence != nil {
		return *m.PropagatedConfidence
	}
	if ratio, ok := m.EarnedRatio(); ok {
		return ratio
	}
	return m.StartingConfidence
}

// DamageLevelFor returns the damage classification for a memory's current
// centrality.
func (m *Memory) DamageLevelFor() DamageLevel {
	if m.Centrality >= 5 {
		return DamageCore
	}
	return DamagePeripheral
}

// Edge is a directed, typed, signed relationship between two memories.
type Edge struct {
	ID        string    `json:"id" db:"id"`
	SourceID  string    `json:"source_id" db:"source_id"`
	TargetID  string    `json:"target_id" db:"target_id"`
	EdgeType  EdgeType  `json:"edge_type" db:"edge_type"`
	Strength  float64   `json:"strength" db:"strength"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Sign returns +1 for support edges, -1 for contradiction edges.
func (e *Edge) Sign() int {
	if e.EdgeType.IsContradiction() {
		return -1
	}
	return 1
}

// Version is an append-only snapshot of a memory's content at a point in
// the memory's history.
type Version struct {
	ID              int64           `json:"id" db:"id"`
	EntityID        string          `json:"entity_id" db:"entity_id"`
	VersionNumber   int             `json:"version_number" db:"version_number"`
	ChangeType      string          `json:"change_type" db:"change_type"`
	ContentSnapshot json.RawMessage `json:"content_snapshot" db:"content_snapshot"`
	ChangeReason    *string         `json:"change_reason,omitempty" db:"change_reason"`
	SessionID       *string         `json:"session_id,omitempty" db:"session_id"`
	RequestID       *string         `json:"request_id,omitempty" db:"request_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// AccessEvent is an append-only audit/session-recap record of a read.
type AccessEvent struct {
	ID         int64     `json:"id" db:"id"`
	EntityID   string    `json:"entity_id" db:"entity_id"`
	AccessType string    `json:"access_type" db:"access_type"`
	SessionID  *string   `json:"session_id,omitempty" db:"session_id"`
	QueryText  *string   `json:"query_text,omitempty" db:"query_text"`
	ResultRank *int      `json:"result_rank,omitempty" db:"result_rank"`
	Similarity *float64  `json:"similarity,omitempty" db:"similarity"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// MemoryEventType enumerates the significant events C8 accumulates.
type MemoryEventType string

const (
	EventViolation    MemoryEventType = "violation"
	EventConfirmation MemoryEventType = "confirmation"
	EventResolution   MemoryEventType = "resolution"
)

// MemoryEvent is a row tagged with a session for batched, debounced
// dispatch.
type MemoryEvent struct {
	ID           int64           `json:"id" db:"id"`
	SessionID    string          `json:"session_id" db:"session_id"`
	EventType    MemoryEventType `json:"event_type" db:"event_type"`
	MemoryID     string          `json:"memory_id" db:"memory_id"`
	ViolatedBy   *string         `json:"violated_by,omitempty" db:"violated_by"`
	DamageLevel  *DamageLevel    `json:"damage_level,omitempty" db:"damage_level"`
	Context      json.RawMessage `json:"context,omitempty" db:"context"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	Dispatched   bool            `json:"dispatched" db:"dispatched"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty" db:"dispatched_at"`
	WorkflowID   *string         `json:"workflow_id,omitempty" db:"workflow_id"`
}

// SystemStat is a single key/value entry in the system_stats table, e.g.
// max_times_tested or source:<name>:learned_confidence.
type SystemStat struct {
	Key       string    `json:"key" db:"key"`
	Value     float64   `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Notification is an unread-tracked alert, e.g. a core-violation notice.
type Notification struct {
	ID        int64           `json:"id" db:"id"`
	Type      string          `json:"type" db:"type"`
	MemoryID  string          `json:"memory_id" db:"memory_id"`
	Content   string          `json:"content" db:"content"`
	Context   json.RawMessage `json:"context,omitempty" db:"context"`
	Read      bool            `json:"read" db:"read"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
