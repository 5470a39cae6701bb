// Package zone implements C7: around a seed, assemble the structurally
// balanced consistent neighborhood using Harary 2-coloring, then compute
// its boundary cut/loss counts and a quality score. Grounded on the BFS
// coloring idiom from katalvlaran-lvlath's graph package (visited sets,
// per-component traversal), applied here to signed-edge balance checking
// instead of plain connectivity.
package zone

import (
	"context"
	stderrors "errors"

	"github.com/rohankatakam/memory-engine/internal/embedding"
	"github.com/rohankatakam/memory-engine/internal/errors"
	"github.com/rohankatakam/memory-engine/internal/models"
	"github.com/rohankatakam/memory-engine/internal/storage"
	"github.com/rohankatakam/memory-engine/internal/vectorindex"
)

const (
	lambdaCutWeight  = 0.2
	rhoLossWeight    = 0.1
	defaultDepth     = 2
	overwhelmedRatio = 0.5
)

var traversalTypes = []models.EdgeType{models.EdgeDerivedFrom, models.EdgeConfirmedBy, models.EdgeSupersedes}

// Member is one zone participant with its assigned color.
type Member struct {
	ID    string
	Color int
}

// ConflictEdge names the edge whose sign broke 2-colorability.
type ConflictEdge struct {
	SourceID string
	TargetID string
	EdgeType models.EdgeType
}

// BoundaryItem is one edge with exactly one endpoint in the zone.
type BoundaryItem struct {
	EdgeID   string
	SourceID string
	TargetID string
	EdgeType models.EdgeType
	Reason   string
}

// Report is the zone builder's full output.
type Report struct {
	SeedID        string
	Safe          bool
	ConflictEdge  *ConflictEdge
	Members       []Member
	InternalEdges []*models.Edge
	Boundary      []BoundaryItem
	CutMinus      int
	LossPlus      int
	Score         float64
}

// Builder assembles reasoning zones on demand.
type Builder struct {
	store    storage.Store
	content  *vectorindex.Index
	embedder embedding.Embedder
}

// New wraps the collaborators a zone build needs: the entity store, the
// content vector index for the optional query-driven top-K expansion,
// and the embedder to turn a query into a vector.
func New(store storage.Store, content *vectorindex.Index, embedder embedding.Embedder) *Builder {
	return &Builder{store: store, content: content, embedder: embedder}
}

// Build assembles the reasoning zone anchored at seedID.
func (b *Builder) Build(ctx context.Context, seedID, query string, depth, topK int) (*Report, error) {
	if depth <= 0 || depth > defaultDepth {
		depth = defaultDepth
	}

	seed, err := b.store.GetMemory(ctx, seedID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFoundErrorf("memory %s not found", seedID)
	}
	if err != nil {
		return nil, errors.DependencyError(err, "load zone seed")
	}

	candidateIDs, err := b.gatherCandidates(ctx, seed, query, depth, topK)
	if err != nil {
		return nil, err
	}

	candidates, err := b.store.GetMemories(ctx, candidateIDs)
	if err != nil {
		return nil, errors.DependencyError(err, "load zone candidates")
	}

	zoneIDs := make(map[string]bool, len(candidates))
	for _, m := range candidates {
		if m.Retracted || overwhelminglyViolated(m) {
			continue
		}
		zoneIDs[m.ID] = true
	}
	if !zoneIDs[seedID] {
		zoneIDs[seedID] = true
	}

	ids := make([]string, 0, len(zoneIDs))
	for id := range zoneIDs {
		ids = append(ids, id)
	}

	internal, boundary, err := b.partitionEdges(ctx, ids, zoneIDs)
	if err != nil {
		return nil, err
	}

	members, safe, conflict := colorZone(ids, internal)

	byID := make(map[string]*models.Memory, len(candidates))
	for _, m := range candidates {
		byID[m.ID] = m
	}
	if _, ok := byID[seedID]; !ok {
		byID[seedID] = seed
	}

	cutMinus, lossPlus := 0, 0
	for _, item := range boundary {
		switch {
		case item.EdgeType.IsContradiction():
			cutMinus++
		case item.EdgeType.IsSupport() && zoneIDs[item.TargetID]:
			lossPlus++
		}
	}

	score := computeScore(ids, byID, cutMinus, lossPlus)

	memberList := make([]Member, len(members))
	i := 0
	for id, color := range members {
		memberList[i] = Member{ID: id, Color: color}
		i++
	}

	return &Report{
		SeedID:        seedID,
		Safe:          safe,
		ConflictEdge:  conflict,
		Members:       memberList,
		InternalEdges: internal,
		Boundary:      boundary,
		CutMinus:      cutMinus,
		LossPlus:      lossPlus,
		Score:         score,
	}, nil
}

func (b *Builder) gatherCandidates(ctx context.Context, seed *models.Memory, query string, depth, topK int) ([]string, error) {
	visited := map[string]bool{seed.ID: true}
	order := []string{seed.ID}
	frontier := []string{seed.ID}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		out, err := b.store.EdgesFrom(ctx, frontier, traversalTypes)
		if err != nil {
			return nil, errors.DependencyError(err, "gather zone neighborhood (outgoing)")
		}
		in, err := b.store.EdgesTo(ctx, frontier, traversalTypes)
		if err != nil {
			return nil, errors.DependencyError(err, "gather zone neighborhood (incoming)")
		}

		var next []string
		for _, e := range out {
			if !visited[e.TargetID] {
				visited[e.TargetID] = true
				order = append(order, e.TargetID)
				next = append(next, e.TargetID)
			}
		}
		for _, e := range in {
			if !visited[e.SourceID] {
				visited[e.SourceID] = true
				order = append(order, e.SourceID)
				next = append(next, e.SourceID)
			}
		}
		frontier = next
	}

	if query != "" && b.content != nil && b.embedder != nil && topK > 0 {
		vec, err := b.embedder.Embed(ctx, seed.Content+" "+query)
		if err == nil {
			matches, err := b.content.Query(ctx, vec, uint64(topK), 0)
			if err == nil {
				for _, match := range matches {
					if !visited[match.ID] {
						visited[match.ID] = true
						order = append(order, match.ID)
					}
				}
			}
		}
	}

	return order, nil
}

// overwhelminglyViolated matches spec.md §4.7 step 2: any violation plus
// either zero confirmations or an earned ratio below 0.5.
func overwhelminglyViolated(m *models.Memory) bool {
	if len(m.Violations) == 0 {
		return false
	}
	if m.Confirmations == 0 {
		return true
	}
	ratio, ok := m.EarnedRatio()
	return ok && ratio < overwhelmedRatio
}

func (b *Builder) partitionEdges(ctx context.Context, ids []string, zoneIDs map[string]bool) ([]*models.Edge, []BoundaryItem, error) {
	out, err := b.store.EdgesFrom(ctx, ids, nil)
	if err != nil {
		return nil, nil, errors.DependencyError(err, "load zone edges (outgoing)")
	}
	in, err := b.store.EdgesTo(ctx, ids, nil)
	if err != nil {
		return nil, nil, errors.DependencyError(err, "load zone edges (incoming)")
	}

	seen := make(map[string]bool)
	var internal []*models.Edge
	var boundary []BoundaryItem

	classify := func(e *models.Edge) {
		if seen[e.ID] {
			return
		}
		seen[e.ID] = true

		srcIn, tgtIn := zoneIDs[e.SourceID], zoneIDs[e.TargetID]
		switch {
		case srcIn && tgtIn:
			internal = append(internal, e)
		case srcIn && !tgtIn:
			boundary = append(boundary, BoundaryItem{EdgeID: e.ID, SourceID: e.SourceID, TargetID: e.TargetID, EdgeType: e.EdgeType, Reason: "endpoint outside zone"})
		case !srcIn && tgtIn:
			boundary = append(boundary, BoundaryItem{EdgeID: e.ID, SourceID: e.SourceID, TargetID: e.TargetID, EdgeType: e.EdgeType, Reason: "endpoint outside zone"})
		}
	}

	for _, e := range out {
		classify(e)
	}
	for _, e := range in {
		classify(e)
	}

	return internal, boundary, nil
}

// colorZone runs a 2-coloring BFS per connected component of the induced
// signed subgraph. Positive edges demand the same color on both
// endpoints; negative edges demand opposite colors. The first conflicting
// edge encountered marks the whole zone unsafe.
func colorZone(ids []string, edges []*models.Edge) (map[string]int, bool, *ConflictEdge) {
	type neighbor struct {
		other string
		sign  int
		edge  *models.Edge
	}
	adjacency := make(map[string][]neighbor, len(ids))
	for _, id := range ids {
		adjacency[id] = nil
	}
	for _, e := range edges {
		sign := e.Sign()
		adjacency[e.SourceID] = append(adjacency[e.SourceID], neighbor{other: e.TargetID, sign: sign, edge: e})
		adjacency[e.TargetID] = append(adjacency[e.TargetID], neighbor{other: e.SourceID, sign: sign, edge: e})
	}

	color := make(map[string]int, len(ids))
	safe := true
	var conflict *ConflictEdge

	for _, start := range ids {
		if _, done := color[start]; done {
			continue
		}
		color[start] = 0
		queue := []string{start}
		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			for _, nb := range adjacency[u] {
				want := color[u]
				if nb.sign < 0 {
					want = 1 - color[u]
				}
				if c, ok := color[nb.other]; ok {
					if c != want && safe {
						safe = false
						conflict = &ConflictEdge{SourceID: nb.edge.SourceID, TargetID: nb.edge.TargetID, EdgeType: nb.edge.EdgeType}
					}
					continue
				}
				color[nb.other] = want
				queue = append(queue, nb.other)
			}
		}
	}

	return color, safe, conflict
}

func computeScore(ids []string, byID map[string]*models.Memory, cutMinus, lossPlus int) float64 {
	if len(ids) == 0 {
		return 0
	}
	var sum float64
	n := 0
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			sum += m.EffectiveConfidence()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	size := float64(len(ids))
	score := mean - lambdaCutWeight*float64(cutMinus)/size - rhoLossWeight*float64(lossPlus)/size
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
