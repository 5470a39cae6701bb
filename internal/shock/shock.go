// Package shock implements C5: the local BFS/relaxation cascade that
// models a core violation's impulse traveling outward along support
// edges, with step-size backtracking guarded by a spectral-radius
// estimate. Grounded on the BFS traversal idiom (visited sets, depth
// tracking) shown in katalvlaran-lvlath's graph package, adapted here to
// a damped-impulse relaxation instead of a shortest-path search.
package shock

import (
	"context"
	"math"

	"github.com/rohankatakam/memory-engine/internal/errors"
	"github.com/rohankatakam/memory-engine/internal/models"
	"github.com/rohankatakam/memory-engine/internal/numerics"
	"github.com/rohankatakam/memory-engine/internal/storage"
)

const (
	coreSeedMagnitude       = 0.4
	peripheralSeedMagnitude = 0.15
	decayGamma              = 0.7
	maxDepth                = 4
	maxBacktracks           = 3
	maxIterations           = 25
	convergence             = 1e-3
	spectralGuard           = 1.0
)

type edge struct {
	target   string
	strength float64
	depth    int
}

// Propagator runs the local shock cascade from a newly-violated seed.
type Propagator struct {
	store storage.Store
}

// New wraps a Store for cascade reads and the batched write-back.
func New(store storage.Store) *Propagator {
	return &Propagator{store: store}
}

// PropagateFrom runs the cascade from seedID. core selects the initial
// impulse magnitude (h0 = 0.4 core, 0.15 peripheral).
func (p *Propagator) PropagateFrom(ctx context.Context, seedID string, core bool) error {
	h0 := peripheralSeedMagnitude
	if core {
		h0 = coreSeedMagnitude
	}

	adjacency, order, err := p.buildSubgraph(ctx, seedID)
	if err != nil {
		return err
	}
	if len(adjacency) == 0 {
		return nil
	}

	rho := estimateSpectralRadius(adjacency, order)
	backtracks := 0
	for rho > spectralGuard && backtracks < maxBacktracks {
		h0 /= 2
		backtracks++
		rho = estimateSpectralRadius(adjacency, order)
	}

	shocks := relax(seedID, h0, adjacency, order)

	updates, err := p.computeUpdates(ctx, seedID, shocks)
	if err != nil {
		return err
	}

	return p.writeBack(ctx, updates)
}

// buildSubgraph does a depth-capped BFS over outgoing derived_from /
// confirmed_by edges, returning an adjacency map and a stable visitation
// order (used as the relaxation sweep order).
func (p *Propagator) buildSubgraph(ctx context.Context, seedID string) (map[string][]edge, []string, error) {
	adjacency := make(map[string][]edge)
	visited := map[string]int{seedID: 0}
	order := []string{seedID}
	frontier := []string{seedID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		edges, err := p.store.EdgesFrom(ctx, frontier, []models.EdgeType{models.EdgeDerivedFrom, models.EdgeConfirmedBy})
		if err != nil {
			return nil, nil, errors.DependencyError(err, "load outgoing support edges")
		}

		var next []string
		for _, e := range edges {
			adjacency[e.SourceID] = append(adjacency[e.SourceID], edge{target: e.TargetID, strength: e.Strength, depth: depth + 1})
			if _, ok := visited[e.TargetID]; !ok {
				visited[e.TargetID] = depth + 1
				order = append(order, e.TargetID)
				next = append(next, e.TargetID)
			}
		}
		frontier = next
	}

	return adjacency, order, nil
}

// relax propagates the seed's impulse along the subgraph, taking the
// strongest incoming impulse at each node (multiple paths may reach the
// same node), stopping at convergence or the iteration cap.
func relax(seedID string, h0 float64, adjacency map[string][]edge, order []string) map[string]float64 {
	h := map[string]float64{seedID: h0}

	for iter := 0; iter < maxIterations; iter++ {
		maxDelta := 0.0
		for _, u := range order {
			hu, ok := h[u]
			if !ok || hu == 0 {
				continue
			}
			for _, e := range adjacency[u] {
				candidate := hu * e.strength * decayGamma
				if candidate > h[e.target] {
					delta := candidate - h[e.target]
					if delta > maxDelta {
						maxDelta = delta
					}
					h[e.target] = candidate
				}
			}
		}
		if maxDelta < convergence {
			break
		}
	}

	return h
}

// estimateSpectralRadius estimates the spectral radius of the
// strength*gamma-weighted adjacency of the reachable subgraph via a
// bounded power iteration (≤5 steps).
func estimateSpectralRadius(adjacency map[string][]edge, order []string) float64 {
	if len(order) == 0 {
		return 0
	}
	x := make(map[string]float64, len(order))
	for _, n := range order {
		x[n] = 1.0 / float64(len(order))
	}

	var lambda float64
	for step := 0; step < 5; step++ {
		next := make(map[string]float64, len(order))
		for _, u := range order {
			for _, e := range adjacency[u] {
				next[e.target] += x[u] * e.strength * decayGamma
			}
		}

		var norm float64
		for _, v := range next {
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			return 0
		}
		lambda = norm
		for k := range next {
			next[k] /= norm
		}
		x = next
	}

	return lambda
}

// computeUpdates resolves h-values into new confidence values, excluding
// observations (never shocked) and the seed itself (already state-
// transitioned by the exposure checker).
func (p *Propagator) computeUpdates(ctx context.Context, seedID string, shocks map[string]float64) (map[string]float64, error) {
	ids := make([]string, 0, len(shocks))
	for id, h := range shocks {
		if id == seedID || h <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	memories, err := p.store.GetMemories(ctx, ids)
	if err != nil {
		return nil, errors.DependencyError(err, "load cascade targets")
	}

	updates := make(map[string]float64, len(memories))
	for _, m := range memories {
		if m.IsObservation() || m.Retracted {
			continue
		}
		h := shocks[m.ID]
		newConf := numerics.Clamp01(m.EffectiveConfidence() - h)
		updates[m.ID] = newConf
	}
	return updates, nil
}

// writeBack applies the cascade's confidence updates. The store lacks a
// multi-row transaction primitive, so this loop is best-effort rather
// than a true all-or-nothing batch; a failure mid-loop is surfaced so the
// caller can log the partial cascade rather than silently swallow it.
func (p *Propagator) writeBack(ctx context.Context, updates map[string]float64) error {
	for id, conf := range updates {
		if err := p.store.UpdateConfidence(ctx, id, conf); err != nil {
			return errors.DependencyError(err, "write back cascade confidence")
		}
	}
	return nil
}
