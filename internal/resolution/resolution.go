// Package resolution implements C9: the resolution cascade run when a
// prediction resolves. A correct outcome recovers the resolved memory's
// support edges; an incorrect outcome triggers a core-level shock from
// it; void is a no-op beyond the state change. Grounded on the teacher's
// internal/resolution fuzzy-match package, repurposed from "reconcile a
// fuzzy string match" to "reconcile a prediction's outcome".
package resolution

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/rohankatakam/memory-engine/internal/errors"
	"github.com/rohankatakam/memory-engine/internal/events"
	"github.com/rohankatakam/memory-engine/internal/models"
	"github.com/rohankatakam/memory-engine/internal/storage"
)

const recoveryFactor = 1.1

// Shocker is the C5 collaborator triggered on an incorrect resolution.
type Shocker interface {
	PropagateFrom(ctx context.Context, seedID string, core bool) error
}

// Cascade runs the resolve(memory, outcome) operation from spec.md §4.9.
type Cascade struct {
	store      storage.Store
	shocker    Shocker
	dispatcher *events.Dispatcher
}

// New wraps the collaborators a resolution needs.
func New(store storage.Store, shocker Shocker, dispatcher *events.Dispatcher) *Cascade {
	return &Cascade{store: store, shocker: shocker, dispatcher: dispatcher}
}

// Resolve marks memoryID resolved with outcome and applies the
// corresponding cascade.
func (c *Cascade) Resolve(ctx context.Context, memoryID string, outcome models.Outcome, sessionID string) error {
	m, err := c.store.GetMemory(ctx, memoryID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFoundErrorf("memory %s not found", memoryID)
	}
	if err != nil {
		return errors.DependencyError(err, "load memory for resolution")
	}
	if m.State == models.StateResolved {
		return errors.ValidationErrorf("memory %s is already resolved", memoryID)
	}

	if err := c.store.ResolveMemory(ctx, memoryID, outcome); err != nil {
		return errors.DependencyError(err, "mark memory resolved")
	}

	switch outcome {
	case models.OutcomeCorrect:
		if err := c.store.ScaleEdgeStrength(ctx, memoryID, []models.EdgeType{models.EdgeDerivedFrom, models.EdgeConfirmedBy}, recoveryFactor); err != nil {
			return errors.DependencyError(err, "recover support edges on correct resolution")
		}
	case models.OutcomeIncorrect:
		if c.shocker != nil {
			if err := c.shocker.PropagateFrom(ctx, memoryID, true); err != nil {
				return errors.DependencyError(err, "shock cascade on incorrect resolution")
			}
		}
	case models.OutcomeVoid:
		// no propagation, state change only.
	default:
		return errors.ValidationErrorf("unknown outcome %q", outcome)
	}

	if c.dispatcher != nil {
		evt := &models.MemoryEvent{
			SessionID: sessionID,
			EventType: models.EventResolution,
			MemoryID:  memoryID,
			CreatedAt: time.Now().UTC(),
		}
		if err := c.dispatcher.Record(ctx, evt); err != nil {
			return errors.DependencyError(err, "record resolution event")
		}
	}

	return nil
}
