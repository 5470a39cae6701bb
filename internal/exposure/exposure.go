// Package exposure implements C4: given a newly-committed memory, search
// the invalidates/confirms condition indexes to detect violations and
// confirmations against existing memories, decay or recover their support
// edges, and trigger shock propagation (C5) on core violations. Grounded
// on the teacher's internal/risk scoring pass, which similarly fans a
// freshly-ingested change out against a pre-built index and writes back
// derived state.
package exposure

import (
	"context"
	"time"

	"github.com/rohankatakam/memory-engine/internal/errors"
	"github.com/rohankatakam/memory-engine/internal/events"
	"github.com/rohankatakam/memory-engine/internal/models"
	"github.com/rohankatakam/memory-engine/internal/storage"
	"github.com/rohankatakam/memory-engine/internal/vectorindex"
)

const (
	minMatchSimilarity = 0.35
	coreDecay           = 0.5
	peripheralDecay     = 0.25
	recoveryFactor      = 1.1
)

// Shocker is the C5 collaborator triggered on a core violation.
type Shocker interface {
	PropagateFrom(ctx context.Context, seedID string, core bool) error
}

// Checker runs the exposure pass described in spec.md §4.4.
type Checker struct {
	store      storage.Store
	vectors    *vectorindex.Set
	dispatcher *events.Dispatcher
	shocker    Shocker
	topK       uint64
}

// New builds a Checker. shocker may be nil in tests that only assert
// violation/confirmation bookkeeping.
func New(store storage.Store, vectors *vectorindex.Set, dispatcher *events.Dispatcher, shocker Shocker, topK int) *Checker {
	if topK <= 0 {
		topK = 5
	}
	return &Checker{store: store, vectors: vectors, dispatcher: dispatcher, shocker: shocker, topK: uint64(topK)}
}

// Outcome summarizes what a Check call did, for API responses and tests.
type Outcome struct {
	Violations    []string // memory IDs violated
	Confirmations []string // memory IDs confirmed
	Resolved      bool
}

// Check runs the full exposure pass for a newly-committed job.
func (c *Checker) Check(ctx context.Context, job events.ExposureJob) (*Outcome, error) {
	out := &Outcome{}

	violated, err := c.matchAndApply(ctx, job, c.vectors.Invalidates, models.EventViolation)
	if err != nil {
		return nil, err
	}
	out.Violations = violated

	confirmed, err := c.matchAndApply(ctx, job, c.vectors.Confirms, models.EventConfirmation)
	if err != nil {
		return nil, err
	}
	out.Confirmations = confirmed

	if job.TimeBound {
		resolved, err := c.tryAutoResolve(ctx, job)
		if err != nil {
			return nil, err
		}
		out.Resolved = resolved
	}

	return out, nil
}

// matchAndApply runs the content vector against one condition index and
// applies the violation or confirmation side effects for every match.
func (c *Checker) matchAndApply(ctx context.Context, job events.ExposureJob, idx *vectorindex.Index, kind models.MemoryEventType) ([]string, error) {
	matches, err := idx.Query(ctx, job.Embedding, c.topK, float32(minMatchSimilarity))
	if err != nil {
		return nil, errors.DependencyError(err, "query condition index")
	}

	var affected []string
	for _, match := range matches {
		memoryID, _ := match.Payload["memory_id"].(string)
		conditionText, _ := match.Payload["condition_text"].(string)
		if memoryID == "" || memoryID == job.MemoryID {
			continue
		}

		switch kind {
		case models.EventViolation:
			if err := c.applyViolation(ctx, memoryID, conditionText, job); err != nil {
				return nil, err
			}
		case models.EventConfirmation:
			if err := c.applyConfirmation(ctx, memoryID, job); err != nil {
				return nil, err
			}
		}
		affected = append(affected, memoryID)
	}
	return affected, nil
}

func (c *Checker) applyViolation(ctx context.Context, targetID, condition string, job events.ExposureJob) error {
	v := models.Violation{
		Condition:     condition,
		ObservedAt:    time.Now().UTC(),
		ObservationID: job.MemoryID,
	}

	centrality, err := c.store.AppendViolation(ctx, targetID, v)
	if err != nil {
		return errors.DependencyError(err, "append violation")
	}

	damage := models.DamagePeripheral
	if centrality >= 5 {
		damage = models.DamageCore
	}

	edge := &models.Edge{
		ID:        job.RequestID + "-violated-" + targetID,
		SourceID:  targetID,
		TargetID:  job.MemoryID,
		EdgeType:  models.EdgeViolatedBy,
		Strength:  1.0,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.CreateEdge(ctx, edge); err != nil {
		return errors.DependencyError(err, "create violated_by edge")
	}

	decay := peripheralDecay
	if damage == models.DamageCore {
		decay = coreDecay
	}
	if err := c.store.ScaleEdgeStrength(ctx, targetID, []models.EdgeType{models.EdgeDerivedFrom, models.EdgeConfirmedBy}, 1-decay); err != nil {
		return errors.DependencyError(err, "decay support edges")
	}

	damageLevel := damage
	evt := &models.MemoryEvent{
		SessionID:   job.SessionID,
		EventType:   models.EventViolation,
		MemoryID:    targetID,
		ViolatedBy:  &job.MemoryID,
		DamageLevel: &damageLevel,
	}
	if c.dispatcher != nil {
		if err := c.dispatcher.Record(ctx, evt); err != nil {
			return errors.DependencyError(err, "record violation event")
		}
	}

	if damage == models.DamageCore {
		notification := &models.Notification{
			Type:      "core_violation",
			MemoryID:  targetID,
			Content:   "core memory violated: " + condition,
			CreatedAt: time.Now().UTC(),
		}
		if err := c.store.InsertNotification(ctx, notification); err != nil {
			return errors.DependencyError(err, "insert core-violation notification")
		}
		if c.shocker != nil {
			if err := c.shocker.PropagateFrom(ctx, targetID, true); err != nil {
				return errors.DependencyError(err, "propagate shock")
			}
		}
	} else if err := c.store.UpdateState(ctx, targetID, models.StateViolated); err != nil {
		return errors.DependencyError(err, "mark memory violated")
	}

	return nil
}

func (c *Checker) applyConfirmation(ctx context.Context, targetID string, job events.ExposureJob) error {
	if err := c.store.AppendConfirmation(ctx, targetID); err != nil {
		return errors.DependencyError(err, "append confirmation")
	}

	edge := &models.Edge{
		ID:        job.RequestID + "-confirmed-" + targetID,
		SourceID:  targetID,
		TargetID:  job.MemoryID,
		EdgeType:  models.EdgeConfirmedBy,
		Strength:  1.0,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.CreateEdge(ctx, edge); err != nil {
		return errors.DependencyError(err, "create confirmed_by edge")
	}

	if err := c.store.ScaleEdgeStrength(ctx, targetID, []models.EdgeType{models.EdgeDerivedFrom, models.EdgeConfirmedBy}, recoveryFactor); err != nil {
		return errors.DependencyError(err, "recover support edges")
	}

	if c.dispatcher != nil {
		evt := &models.MemoryEvent{SessionID: job.SessionID, EventType: models.EventConfirmation, MemoryID: targetID}
		if err := c.dispatcher.Record(ctx, evt); err != nil {
			return errors.DependencyError(err, "record confirmation event")
		}
	}
	return nil
}

// tryAutoResolve checks whether the job's own memory, being time-bound,
// matches its own outcome condition via this observation.
func (c *Checker) tryAutoResolve(ctx context.Context, job events.ExposureJob) (bool, error) {
	m, err := c.store.GetMemory(ctx, job.MemoryID)
	if err != nil || m == nil || m.OutcomeCondition == nil {
		return false, nil
	}

	matches, err := c.vectors.Content.Query(ctx, job.Embedding, 1, float32(minMatchSimilarity))
	if err != nil || len(matches) == 0 {
		return false, nil
	}

	if err := c.store.ResolveMemory(ctx, job.MemoryID, models.OutcomeCorrect); err != nil {
		return false, errors.DependencyError(err, "auto-resolve memory")
	}
	return true, nil
}
