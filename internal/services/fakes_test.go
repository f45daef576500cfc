package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/types"
)

func testLogger(t interface{ Fatalf(string, ...any) }) *logger.Logger {
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

// passTxRunner runs the function directly; the fakes ignore the tx handle.
type passTxRunner struct{}

func (passTxRunner) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeProposalRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*types.Proposal
}

func newFakeProposalRepo() *fakeProposalRepo {
	return &fakeProposalRepo{items: map[uuid.UUID]*types.Proposal{}}
}

func (r *fakeProposalRepo) put(p *types.Proposal) *types.Proposal {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.MergeState == "" {
		p.MergeState = types.MergeStateActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.items[p.ID] = p
	return p
}

func (r *fakeProposalRepo) Create(ctx context.Context, tx *gorm.DB, proposals []*types.Proposal) ([]*types.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range proposals {
		r.put(p)
	}
	return proposals, nil
}

func (r *fakeProposalRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProposalRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Proposal
	for _, id := range ids {
		if p, ok := r.items[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeProposalRepo) List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Proposal
	for _, p := range r.items {
		if p.MergeState == types.MergeStateMergedAway {
			continue
		}
		if p.Status == types.ProposalStatusRejected || p.Status == types.ProposalStatusMerged {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeProposalRepo) ListCandidates(ctx context.Context, tx *gorm.DB, excludeID uuid.UUID, limit int) ([]*types.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Proposal
	for _, p := range r.items {
		if p.ID == excludeID || p.MergeState != types.MergeStateActive {
			continue
		}
		if p.Status == types.ProposalStatusRejected || p.Status == types.ProposalStatusMerged {
			continue
		}
		cp := *p
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeProposalRepo) ListUnanalyzed(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Proposal
	for _, p := range r.items {
		if p.MergeState != types.MergeStateActive {
			continue
		}
		if p.Status == types.ProposalStatusRejected || p.Status == types.ProposalStatusMerged {
			continue
		}
		if p.AIAnalysis.Data().Quality != nil {
			continue
		}
		cp := *p
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeProposalRepo) ListEvaluated(ctx context.Context, tx *gorm.DB) ([]*types.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Proposal
	for _, p := range r.items {
		if p.MergeState == types.MergeStateMergedAway {
			continue
		}
		if p.Status == types.ProposalStatusRejected || p.Status == types.ProposalStatusMerged {
			continue
		}
		if p.AIAnalysis.Data().Quality == nil {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeProposalRepo) ListIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id := range r.items {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *fakeProposalRepo) UpdateAIAnalysis(ctx context.Context, tx *gorm.DB, id uuid.UUID, snapshot types.AIAnalysisSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.items[id]; ok {
		p.AIAnalysis = datatypes.NewJSONType(snapshot)
	}
	return nil
}

func (r *fakeProposalRepo) IncrementVotes(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.items[id]; ok {
		p.Votes++
	}
	return nil
}

func (r *fakeProposalRepo) RetireMerged(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, into uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		p, ok := r.items[id]
		if !ok || p.MergeState != types.MergeStateActive {
			continue
		}
		p.MergeState = types.MergeStateMergedAway
		mergedInto := into
		p.MergedInto = &mergedInto
		p.Status = types.ProposalStatusMerged
		n++
	}
	return n, nil
}

type fakeAnalysisRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*types.ProposalAnalysis // keyed by proposal ID
}

func newFakeAnalysisRepo() *fakeAnalysisRepo {
	return &fakeAnalysisRepo{items: map[uuid.UUID]*types.ProposalAnalysis{}}
}

func (r *fakeAnalysisRepo) Create(ctx context.Context, tx *gorm.DB, analyses []*types.ProposalAnalysis) ([]*types.ProposalAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range analyses {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		r.items[a.ProposalID] = a
	}
	return analyses, nil
}

func (r *fakeAnalysisRepo) GetByProposalID(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) (*types.ProposalAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[proposalID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAnalysisRepo) GetAll(ctx context.Context, tx *gorm.DB) ([]*types.ProposalAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.ProposalAnalysis
	for _, a := range r.items {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeAnalysisRepo) ListMergeCandidates(ctx context.Context, tx *gorm.DB) ([]*types.ProposalAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.ProposalAnalysis
	for _, a := range r.items {
		if a.MergeState != types.MergeStateActive || len(a.SimilarProposals) == 0 {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeAnalysisRepo) Upsert(ctx context.Context, tx *gorm.DB, analysis *types.ProposalAnalysis) (*types.ProposalAnalysis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *analysis
	if existing, ok := r.items[analysis.ProposalID]; ok {
		cp.ID = existing.ID
		// The real upsert leaves merge bookkeeping alone on conflict.
		cp.MergeStrategy = existing.MergeStrategy
		cp.MergeRationale = existing.MergeRationale
	} else if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	r.items[analysis.ProposalID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeAnalysisRepo) UpdateEvaluation(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID, eval types.AIEvaluation, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.items[proposalID]; ok {
		a.Evaluation = datatypes.NewJSONType(eval)
		a.IsProcessed = true
		at := processedAt
		a.LastProcessedAt = &at
	}
	return nil
}

func (r *fakeAnalysisRepo) RetireMerged(ctx context.Context, tx *gorm.DB, proposalIDs []uuid.UUID, into uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range proposalIDs {
		a, ok := r.items[id]
		if !ok || a.MergeState != types.MergeStateActive {
			continue
		}
		a.MergeState = types.MergeStateMergedAway
		mergedInto := into
		a.MergedInto = &mergedInto
	}
	return nil
}

func (r *fakeAnalysisRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := map[uuid.UUID]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var n int64
	for proposalID, a := range r.items {
		if drop[a.ID] {
			delete(r.items, proposalID)
			n++
		}
	}
	return n, nil
}

type fakeCommentRepo struct {
	mu    sync.Mutex
	items []*types.Comment
}

func newFakeCommentRepo() *fakeCommentRepo {
	return &fakeCommentRepo{}
}

func (r *fakeCommentRepo) Create(ctx context.Context, tx *gorm.DB, comments []*types.Comment) ([]*types.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range comments {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		r.items = append(r.items, c)
	}
	return comments, nil
}

func (r *fakeCommentRepo) ListByProposalID(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) ([]*types.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Comment
	for _, c := range r.items {
		if c.ProposalID == proposalID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeCommentRepo) Repoint(ctx context.Context, tx *gorm.DB, fromIDs []uuid.UUID, to uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from := map[uuid.UUID]bool{}
	for _, id := range fromIDs {
		from[id] = true
	}
	var n int64
	for _, c := range r.items {
		if from[c.ProposalID] {
			c.ProposalID = to
			n++
		}
	}
	return n, nil
}

type fakeCategoryRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*types.Category
}

func newFakeCategoryRepo() *fakeCategoryRepo {
	return &fakeCategoryRepo{items: map[uuid.UUID]*types.Category{}}
}

func (r *fakeCategoryRepo) Create(ctx context.Context, tx *gorm.DB, categories []*types.Category) ([]*types.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range categories {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		r.items[c.ID] = c
	}
	return categories, nil
}

func (r *fakeCategoryRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Category
	for _, id := range ids {
		if c, ok := r.items[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeCategoryRepo) ListActive(ctx context.Context, tx *gorm.DB) ([]*types.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Category
	for _, c := range r.items {
		if c.IsActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// stubOracle counts calls and delegates to per-method hooks. A nil hook
// returns a harmless default.
type stubOracle struct {
	mu sync.Mutex

	similarityCalls int
	evaluateCalls   int
	categoryCalls   int
	mergeCalls      int
	summarizeCalls  int

	similarityFn func(source ProposalView, candidates []ProposalView) (*SimilarityResult, error)
	evaluateFn   func(source ProposalView) (*types.AIEvaluation, error)
	categoriesFn func(source ProposalView, options []CategoryOption) ([]types.SuggestedCategory, error)
	mergeFn      func(source ProposalView, targets []ProposalView) (*MergeDraft, error)
	summarizeFn  func(source ProposalView) (string, error)
}

func (o *stubOracle) AnalyzeSimilarity(ctx context.Context, source ProposalView, candidates []ProposalView) (*SimilarityResult, error) {
	o.mu.Lock()
	o.similarityCalls++
	o.mu.Unlock()
	if o.similarityFn != nil {
		return o.similarityFn(source, candidates)
	}
	return NeutralSimilarity(), nil
}

func (o *stubOracle) Evaluate(ctx context.Context, source ProposalView) (*types.AIEvaluation, error) {
	o.mu.Lock()
	o.evaluateCalls++
	o.mu.Unlock()
	if o.evaluateFn != nil {
		return o.evaluateFn(source)
	}
	return &types.AIEvaluation{
		Quality:        0.8,
		Relevance:      0.7,
		Feasibility:    0.6,
		Sustainability: 0.5,
		Innovation:     0.4,
		Strengths:      []string{"clear"},
		Weaknesses:     []string{},
		Summary:        "test evaluation",
	}, nil
}

func (o *stubOracle) SuggestCategories(ctx context.Context, source ProposalView, options []CategoryOption) ([]types.SuggestedCategory, error) {
	o.mu.Lock()
	o.categoryCalls++
	o.mu.Unlock()
	if o.categoriesFn != nil {
		return o.categoriesFn(source, options)
	}
	return []types.SuggestedCategory{}, nil
}

func (o *stubOracle) Merge(ctx context.Context, source ProposalView, targets []ProposalView) (*MergeDraft, error) {
	o.mu.Lock()
	o.mergeCalls++
	o.mu.Unlock()
	if o.mergeFn != nil {
		return o.mergeFn(source, targets)
	}
	return &MergeDraft{
		Title:   "Merged: " + source.Title,
		Content: "Consolidated content",
		Summary: "combined duplicates",
	}, nil
}

func (o *stubOracle) Summarize(ctx context.Context, source ProposalView) (string, error) {
	o.mu.Lock()
	o.summarizeCalls++
	o.mu.Unlock()
	if o.summarizeFn != nil {
		return o.summarizeFn(source)
	}
	return "a short summary", nil
}

type orchestratorFixture struct {
	orchestrator *MergeOrchestrator
	proposals    *fakeProposalRepo
	analyses     *fakeAnalysisRepo
	comments     *fakeCommentRepo
	categories   *fakeCategoryRepo
	oracle       *stubOracle
}

func newOrchestratorFixture(t interface{ Fatalf(string, ...any) }) *orchestratorFixture {
	log := testLogger(t)
	f := &orchestratorFixture{
		proposals:  newFakeProposalRepo(),
		analyses:   newFakeAnalysisRepo(),
		comments:   newFakeCommentRepo(),
		categories: newFakeCategoryRepo(),
		oracle:     &stubOracle{},
	}
	f.orchestrator = NewMergeOrchestrator(
		passTxRunner{},
		f.proposals,
		f.analyses,
		f.comments,
		f.categories,
		f.oracle,
		NewMergeLocker(nil, 0, log),
		log,
	)
	return f
}

func (f *orchestratorFixture) addProposal(title string, votes int) *types.Proposal {
	p := &types.Proposal{
		ID:      uuid.New(),
		Title:   title,
		Content: "content for " + title,
		Status:  types.ProposalStatusSubmitted,
		Votes:   votes,
	}
	f.proposals.mu.Lock()
	f.proposals.put(p)
	f.proposals.mu.Unlock()
	return p
}
