// Package writepipeline implements C3: the ordered observation/assumption
// ingestion sequence (validate, normalize, persist row, persist edges,
// snapshot version, embed, upsert vectors, enqueue exposure job), the
// completeness-challenge draft path, and the thesis-change guard on
// content updates. Grounded on the teacher's multi-stage commit
// sequencing in internal/ingestion, generalized from "ingest a commit"
// to "ingest a claim".
package writepipeline

import (
	"context"
	stderrors "errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/memory-engine/internal/arbiter"
	"github.com/rohankatakam/memory-engine/internal/embedding"
	"github.com/rohankatakam/memory-engine/internal/errors"
	"github.com/rohankatakam/memory-engine/internal/events"
	"github.com/rohankatakam/memory-engine/internal/models"
	"github.com/rohankatakam/memory-engine/internal/storage"
	"github.com/rohankatakam/memory-engine/internal/vectorindex"
)

const (
	maxContentLen      = 10_000
	maxConditionLen    = 1_000
	maxTagsSerialized  = 500
	thesisChangeCosine = 0.7
	arbiterlessCosine  = 0.5
	defaultStartingConfidence = 0.50
)

// ObserveInput is the validated shape of a POST /observe or POST /assume
// request body (spec.md §4.3, §6).
type ObserveInput struct {
	Content          string
	Source           *string
	DerivedFrom      []string
	InvalidatesIf    []string
	ConfirmsIf       []string
	Assumes          []string
	ResolvesBy       *time.Time
	OutcomeCondition *string
	Tags             []string
	SessionID        string
	RequestID        string
	AgentID          string
}

// Result is what callers see after a successful (possibly draft) write.
type Result struct {
	ID       string
	Status   models.MemoryState
	Warnings []string
}

// CompletenessChecker runs the optional pre-publish LLM check described
// in spec.md §4.3. A nil checker always reports complete (no draft gate).
type CompletenessChecker interface {
	Check(ctx context.Context, in ObserveInput) (complete bool, warnings []string, err error)
}

// Pipeline wires the collaborators C3 commits through, in commit order.
type Pipeline struct {
	store      storage.Store
	vectors    *vectorindex.Set
	embedder   embedding.Embedder
	arb        arbiter.Arbiter
	queue      events.ExposureQueue
	dispatcher *events.Dispatcher
	completeness CompletenessChecker
}

// New builds a Pipeline. arb and completeness may be nil: a nil arbiter
// falls back to the similarity-threshold rule, a nil completeness checker
// never drafts.
func New(store storage.Store, vectors *vectorindex.Set, embedder embedding.Embedder, arb arbiter.Arbiter, queue events.ExposureQueue, dispatcher *events.Dispatcher, completeness CompletenessChecker) *Pipeline {
	return &Pipeline{
		store:        store,
		vectors:      vectors,
		embedder:     embedder,
		arb:          arb,
		queue:        queue,
		dispatcher:   dispatcher,
		completeness: completeness,
	}
}

// validate enforces spec.md §4.3's ordered validation rules.
func (p *Pipeline) validate(ctx context.Context, in ObserveInput) error {
	if strings.TrimSpace(in.Content) == "" {
		return errors.ValidationError("content must not be empty")
	}
	if len(in.Content) > maxContentLen {
		return errors.ValidationErrorf("content exceeds %d characters", maxContentLen)
	}

	hasSource := in.Source != nil && *in.Source != ""
	hasDerivedFrom := len(in.DerivedFrom) > 0
	if hasSource == hasDerivedFrom {
		return errors.ValidationError("exactly one of source or derived_from must be set")
	}

	if in.ResolvesBy != nil && (in.OutcomeCondition == nil || *in.OutcomeCondition == "") {
		return errors.ValidationError("resolves_by requires outcome_condition")
	}

	if hasDerivedFrom {
		parents, err := p.store.GetMemories(ctx, in.DerivedFrom)
		if err != nil {
			return errors.DependencyError(err, "loading derived_from parents")
		}
		found := make(map[string]*models.Memory, len(parents))
		for _, parent := range parents {
			found[parent.ID] = parent
		}
		for _, id := range in.DerivedFrom {
			parent, ok := found[id]
			if !ok {
				return errors.NotFoundErrorf("derived_from parent %s does not exist", id)
			}
			if parent.Retracted {
				return errors.ValidationErrorf("derived_from parent %s is retracted", id)
			}
		}
	}

	serializedTags := strings.Join(in.Tags, ",")
	if len(serializedTags) > maxTagsSerialized {
		return errors.ValidationErrorf("serialized tags exceed %d characters", maxTagsSerialized)
	}

	for _, c := range append(append([]string{}, in.InvalidatesIf...), in.ConfirmsIf...) {
		if len(c) > maxConditionLen {
			return errors.ValidationErrorf("condition exceeds %d characters", maxConditionLen)
		}
	}

	return nil
}

func (p *Pipeline) startingConfidence(ctx context.Context, in ObserveInput) float64 {
	if in.Source == nil || *in.Source == "" {
		return defaultStartingConfidence
	}
	stat, err := p.store.GetSystemStat(ctx, "source:"+*in.Source+":learned_confidence")
	if err != nil || stat == nil {
		return defaultStartingConfidence
	}
	return stat.Value
}

// Observe runs the full C3 commit sequence for a new memory.
func (p *Pipeline) Observe(ctx context.Context, in ObserveInput) (*Result, error) {
	if err := p.validate(ctx, in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &models.Memory{
		ID:                 uuid.NewString(),
		Content:            in.Content,
		Source:             in.Source,
		DerivedFrom:        models.StringList(in.DerivedFrom),
		ResolvesBy:         in.ResolvesBy,
		OutcomeCondition:   in.OutcomeCondition,
		Assumes:            models.StringList(in.Assumes),
		InvalidatesIf:      models.StringList(in.InvalidatesIf),
		ConfirmsIf:         models.StringList(in.ConfirmsIf),
		Tags:               models.StringList(in.Tags),
		StartingConfidence: p.startingConfidence(ctx, in),
		State:              models.StateActive,
		ExposureStatus:     "pending",
		AgentID:            in.AgentID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var warnings []string
	if p.completeness != nil {
		complete, w, err := p.completeness.Check(ctx, in)
		if err != nil {
			return nil, errors.DependencyError(err, "completeness check")
		}
		warnings = w
		if !complete {
			m.State = models.StateDraft
		}
	}

	// Step 2: write the row. Idempotent on ID (ON CONFLICT DO NOTHING).
	if err := p.store.CreateMemory(ctx, m); err != nil {
		return nil, errors.DependencyError(err, "persist memory row")
	}

	// Step 3: derivation edges, parent centrality.
	for _, parentID := range in.DerivedFrom {
		edge := &models.Edge{
			ID:        uuid.NewString(),
			SourceID:  parentID,
			TargetID:  m.ID,
			EdgeType:  models.EdgeDerivedFrom,
			Strength:  1.0,
			CreatedAt: now,
		}
		if err := p.store.CreateEdge(ctx, edge); err != nil {
			return nil, errors.DependencyError(err, "persist derivation edge")
		}
		if err := p.store.IncrementCentrality(ctx, parentID, 1); err != nil {
			return nil, errors.DependencyError(err, "increment parent centrality")
		}
	}

	// Step 4: version snapshot.
	if err := p.snapshotVersion(ctx, m, "created", in); err != nil {
		return nil, err
	}

	if m.State == models.StateDraft {
		return &Result{ID: m.ID, Status: models.StateDraft, Warnings: warnings}, nil
	}

	// Steps 5-7: embed, upsert, enqueue. Failures here leave the row
	// "pending" for the background sweep rather than failing the commit.
	if err := p.embedAndEnqueue(ctx, m, in); err != nil {
		return &Result{ID: m.ID, Status: m.State, Warnings: warnings}, err
	}

	return &Result{ID: m.ID, Status: m.State, Warnings: warnings}, nil
}

func (p *Pipeline) snapshotVersion(ctx context.Context, m *models.Memory, changeType string, in ObserveInput) error {
	n, err := p.store.NextVersionNumber(ctx, m.ID)
	if err != nil {
		return errors.DependencyError(err, "compute next version number")
	}
	v := &models.Version{
		EntityID:      m.ID,
		VersionNumber: n,
		ChangeType:    changeType,
		CreatedAt:     time.Now().UTC(),
	}
	if in.SessionID != "" {
		v.SessionID = &in.SessionID
	}
	if in.RequestID != "" {
		v.RequestID = &in.RequestID
	}
	if err := p.store.InsertVersion(ctx, v); err != nil {
		return errors.DependencyError(err, "insert version snapshot")
	}
	return nil
}

// embedAndEnqueue performs C3 steps 5-7: embed content and conditions in
// parallel, upsert into the three vector indexes, then enqueue the
// exposure-check job. A failure anywhere in this block leaves
// exposure_status="pending" for the sweeper.
func (p *Pipeline) embedAndEnqueue(ctx context.Context, m *models.Memory, in ObserveInput) error {
	contentVec, conditionVecs, err := p.embedAll(ctx, m)
	if err != nil {
		return errors.DependencyError(err, "embed memory content/conditions")
	}

	if err := p.upsertVectors(ctx, m, contentVec, conditionVecs); err != nil {
		return errors.DependencyError(err, "upsert vectors")
	}

	job := events.ExposureJob{
		MemoryID:   m.ID,
		Content:    m.Content,
		Embedding:  contentVec,
		Conditions: conditionVecs,
		TimeBound:  m.IsTimeBound(),
		SessionID:  in.SessionID,
		RequestID:  in.RequestID,
	}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		return errors.DependencyError(err, "enqueue exposure job")
	}

	if err := p.store.SetExposureStatus(ctx, m.ID, "ready"); err != nil {
		return errors.DependencyError(err, "mark exposure status ready")
	}
	return nil
}

func (p *Pipeline) embedAll(ctx context.Context, m *models.Memory) ([]float32, []events.ConditionEmbedding, error) {
	type conditionSpec struct {
		kind  string
		index int
		text  string
	}
	var specs []conditionSpec
	for i, c := range m.InvalidatesIf {
		specs = append(specs, conditionSpec{"inv", i, c})
	}
	for i, c := range m.ConfirmsIf {
		specs = append(specs, conditionSpec{"conf", i, c})
	}

	var contentVec []float32
	conditionVecs := make([]events.ConditionEmbedding, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := p.embedder.Embed(gctx, m.Content)
		if err != nil {
			return err
		}
		contentVec = v
		return nil
	})
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			v, err := p.embedder.Embed(gctx, spec.text)
			if err != nil {
				return err
			}
			conditionVecs[i] = events.ConditionEmbedding{Kind: spec.kind, Index: spec.index, Text: spec.text, Vector: v}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return contentVec, conditionVecs, nil
}

func (p *Pipeline) upsertVectors(ctx context.Context, m *models.Memory, contentVec []float32, conditions []events.ConditionEmbedding) error {
	contentPayload := map[string]any{
		"memory_id":          m.ID,
		"type":              memoryType(m),
		"has_invalidates_if": len(m.InvalidatesIf) > 0,
		"has_confirms_if":    len(m.ConfirmsIf) > 0,
		"has_assumes":        len(m.Assumes) > 0,
		"time_bound":         m.IsTimeBound(),
	}
	if m.Source != nil {
		contentPayload["source"] = *m.Source
	}
	if m.ResolvesBy != nil {
		contentPayload["resolves_by"] = m.ResolvesBy.Unix()
	}
	if err := p.vectors.Content.Upsert(ctx, []vectorindex.Point{{ID: m.ID, Vector: contentVec, Payload: contentPayload}}); err != nil {
		return err
	}

	var invPoints, confPoints []vectorindex.Point
	for _, c := range conditions {
		id, key := vectorindex.ConditionPointID(m.ID, c.Kind, c.Index)
		payload := map[string]any{
			"memory_id":       m.ID,
			"condition_index": c.Index,
			"condition_text":  c.Text,
			"condition_key":   key,
			"time_bound":      m.IsTimeBound(),
		}
		point := vectorindex.Point{ID: id, Vector: c.Vector, Payload: payload}
		if c.Kind == "inv" {
			invPoints = append(invPoints, point)
		} else {
			confPoints = append(confPoints, point)
		}
	}
	if err := p.vectors.Invalidates.Upsert(ctx, invPoints); err != nil {
		return err
	}
	if err := p.vectors.Confirms.Upsert(ctx, confPoints); err != nil {
		return err
	}
	return nil
}

func memoryType(m *models.Memory) string {
	if m.IsObservation() {
		return "observation"
	}
	return "thought"
}

// Promote publishes a draft memory (spec.md §9 open question (b)): it
// runs the embed/upsert/enqueue steps that were skipped on initial draft
// write, then flips state to active.
func (p *Pipeline) Promote(ctx context.Context, id string) error {
	m, err := p.store.GetMemory(ctx, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFoundErrorf("memory %s not found", id)
	}
	if err != nil {
		return errors.DependencyError(err, "load memory for promotion")
	}
	if m.State != models.StateDraft {
		return errors.ValidationErrorf("memory %s is not a draft", id)
	}

	if err := p.embedAndEnqueue(ctx, m, ObserveInput{}); err != nil {
		return err
	}
	return p.store.PromoteDraft(ctx, id)
}

// Update implements the thesis-change guard on content replacement
// (spec.md §4.3). On THESIS_CHANGE it returns a semantic_guard error and
// makes no mutation.
func (p *Pipeline) Update(ctx context.Context, id, newContent, sessionID, requestID string) error {
	if strings.TrimSpace(newContent) == "" {
		return errors.ValidationError("content must not be empty")
	}
	if len(newContent) > maxContentLen {
		return errors.ValidationErrorf("content exceeds %d characters", maxContentLen)
	}

	m, err := p.store.GetMemory(ctx, id)
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFoundErrorf("memory %s not found", id)
	}
	if err != nil {
		return errors.DependencyError(err, "load memory for update")
	}
	if m.Retracted {
		return errors.ValidationErrorf("memory %s is retracted", id)
	}

	oldVec, err := p.embedder.Embed(ctx, m.Content)
	if err != nil {
		return errors.DependencyError(err, "embed old content")
	}
	newVec, err := p.embedder.Embed(ctx, newContent)
	if err != nil {
		return errors.DependencyError(err, "embed new content")
	}
	sim := cosine(oldVec, newVec)

	if sim < thesisChangeCosine {
		verdict, err := p.judgeThesisChange(ctx, m.Content, newContent, sim)
		if err != nil {
			return err
		}
		if verdict == arbiter.VerdictThesisChange {
			return errors.SemanticGuardError("content change is a thesis change, resolve + observe instead")
		}
	}

	resetCounters := false
	if time.Since(m.CreatedAt) > time.Hour {
		resetCounters = true
	}

	if err := p.store.ReplaceContent(ctx, id, newContent, resetCounters); err != nil {
		return errors.DependencyError(err, "replace memory content")
	}

	m.Content = newContent
	if err := p.snapshotVersion(ctx, m, "updated", ObserveInput{SessionID: sessionID, RequestID: requestID}); err != nil {
		return err
	}

	if err := p.embedAndEnqueue(ctx, m, ObserveInput{SessionID: sessionID, RequestID: requestID}); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) judgeThesisChange(ctx context.Context, oldContent, newContent string, sim float64) (arbiter.Verdict, error) {
	if p.arb == nil {
		if sim < arbiterlessCosine {
			return arbiter.VerdictThesisChange, nil
		}
		return arbiter.VerdictCorrection, nil
	}
	verdict, err := p.arb.Judge(ctx, oldContent, newContent)
	if err != nil {
		if sim < arbiterlessCosine {
			return arbiter.VerdictThesisChange, nil
		}
		return arbiter.VerdictCorrection, nil
	}
	return verdict, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
