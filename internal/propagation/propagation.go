// Package propagation implements C6: the periodic damped fixed-point
// iteration over the positive-edge subgraph's connected components,
// writing propagated confidence back to every non-observation memory.
// Grounded on the teacher's internal/risk convergent-scoring pass, which
// runs a similar "blend local signal with neighbor signal" loop to a
// fixed-point.
package propagation

import (
	"context"
	"math"

	"github.com/rohankatakam/memory-engine/internal/errors"
	"github.com/rohankatakam/memory-engine/internal/models"
	"github.com/rohankatakam/memory-engine/internal/numerics"
	"github.com/rohankatakam/memory-engine/internal/storage"
)

const (
	positiveEdgeFloor  = 0.1
	alpha              = 0.6
	eta                = 0.8
	maxIterations      = 100
	convergence        = 1e-4
	fallbackMaxTested  = 10
	maxTimesTestedKey  = "max_times_tested"
	writeBackThreshold = 1e-4
)

type weightedEdge struct {
	source   string
	strength float64
}

// Propagator runs the nightly full-graph fixed-point iteration.
type Propagator struct {
	store storage.Store
}

// New wraps a Store for component discovery and the batched write-back.
func New(store storage.Store) *Propagator {
	return &Propagator{store: store}
}

// Run executes one full pass: loads the graph, iterates every component
// of the positive-edge subgraph to convergence, and writes back nodes
// whose propagated confidence changed by more than the write threshold.
func (p *Propagator) Run(ctx context.Context) error {
	memories, err := p.store.ListMemories(ctx, "")
	if err != nil {
		return errors.DependencyError(err, "list memories for propagation")
	}
	if len(memories) == 0 {
		return nil
	}

	positiveEdges, err := p.store.ListPositiveEdges(ctx, positiveEdgeFloor)
	if err != nil {
		return errors.DependencyError(err, "list positive edges")
	}
	contradictionEdges, err := p.store.ListContradictionEdges(ctx)
	if err != nil {
		return errors.DependencyError(err, "list contradiction edges")
	}

	maxTested, err := p.maxTimesTested(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]*models.Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}

	supportIn := make(map[string][]weightedEdge)
	for _, e := range positiveEdges {
		supportIn[e.TargetID] = append(supportIn[e.TargetID], weightedEdge{source: e.SourceID, strength: e.Strength})
	}
	contradictionIn := make(map[string][]weightedEdge)
	for _, e := range contradictionEdges {
		contradictionIn[e.TargetID] = append(contradictionIn[e.TargetID], weightedEdge{source: e.SourceID, strength: e.Strength})
	}

	x := make(map[string]float64, len(memories))
	b := make(map[string]float64, len(memories))
	mutable := make(map[string]bool, len(memories))

	for _, m := range memories {
		if m.IsObservation() {
			x[m.ID] = m.EffectiveConfidence()
			continue
		}
		mutable[m.ID] = true
		bx := localConfidence(m, maxTested)
		b[m.ID] = bx
		if m.PropagatedConfidence != nil {
			x[m.ID] = *m.PropagatedConfidence
		} else {
			x[m.ID] = bx
		}
	}

	for iter := 0; iter < maxIterations; iter++ {
		next := make(map[string]float64, len(x))
		for id, v := range x {
			next[id] = v
		}

		maxDelta := 0.0
		for id := range mutable {
			support := weightedMean(supportIn[id], x, b[id])
			contradiction := weightedMean(contradictionIn[id], x, 0)
			newVal := numerics.Clamp01((1-alpha)*b[id] + alpha*(support-eta*contradiction))

			delta := numerics.Abs(newVal - x[id])
			if delta > maxDelta {
				maxDelta = delta
			}
			next[id] = newVal
		}

		x = next
		if maxDelta < convergence {
			break
		}
	}

	return p.writeBack(ctx, byID, x, mutable)
}

// localConfidence computes b(x) per spec.md §4.6: a blend of starting
// confidence and earned ratio, weighted by an evidence factor that grows
// with times_tested relative to the system-wide maximum.
func localConfidence(m *models.Memory, maxTested float64) float64 {
	w := evidenceWeight(float64(m.TimesTested), maxTested)
	ratio, ok := m.EarnedRatio()
	if !ok {
		ratio = 0
	}
	return numerics.Clamp01(m.StartingConfidence*(1-w) + ratio*w)
}

// evidenceWeight is w(t) = log(1+t)/log(1+maxTested), clamped to [0,1].
func evidenceWeight(t, maxTested float64) float64 {
	if maxTested <= 0 {
		maxTested = fallbackMaxTested
	}
	return numerics.Clamp01(math.Log(1+t) / math.Log(1+maxTested))
}

func weightedMean(edges []weightedEdge, x map[string]float64, fallback float64) float64 {
	if len(edges) == 0 {
		return fallback
	}
	var sumStrength, sumWeighted float64
	for _, e := range edges {
		v, ok := x[e.source]
		if !ok {
			continue
		}
		sumStrength += e.strength
		sumWeighted += e.strength * v
	}
	if sumStrength == 0 {
		return fallback
	}
	return sumWeighted / sumStrength
}

func (p *Propagator) maxTimesTested(ctx context.Context) (float64, error) {
	stat, err := p.store.GetSystemStat(ctx, maxTimesTestedKey)
	if err != nil {
		return fallbackMaxTested, nil
	}
	if stat == nil || stat.Value <= 0 {
		return fallbackMaxTested, nil
	}
	return stat.Value, nil
}

func (p *Propagator) writeBack(ctx context.Context, byID map[string]*models.Memory, x map[string]float64, mutable map[string]bool) error {
	for id := range mutable {
		m := byID[id]
		newVal := x[id]

		var prev float64
		if m.PropagatedConfidence != nil {
			prev = *m.PropagatedConfidence
		} else {
			prev = m.StartingConfidence
		}

		if numerics.Abs(newVal-prev) <= writeBackThreshold {
			continue
		}
		if err := p.store.UpdateConfidence(ctx, id, newVal); err != nil {
			return errors.DependencyError(err, "write back propagated confidence")
		}
	}
	return nil
}
