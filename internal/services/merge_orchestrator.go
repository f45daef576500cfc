package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/repos"
	"github.com/civicvoice/civicvoice-backend/internal/types"
	"github.com/civicvoice/civicvoice-backend/internal/utils"
)

const (
	MergeStrategySynthesis = "ai_synthesis"
	MergeStrategyFallback  = "source_text"
)

// Ranking metrics accepted by GetTopProposals.
const (
	MetricQuality        = "quality"
	MetricRelevance      = "relevance"
	MetricFeasibility    = "feasibility"
	MetricSustainability = "sustainability"
	MetricInnovation     = "innovation"
	MetricCombined       = "combined"
)

// BatchItemResult reports the outcome for one proposal inside a batch
// operation. Batches never abort on a single failure.
type BatchItemResult struct {
	ProposalID uuid.UUID `json:"proposal_id"`
	Success    bool      `json:"success"`
	MergedInto uuid.UUID `json:"merged_into,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// MergeOrchestrator drives the analysis and deduplication pipeline: similarity
// detection, evaluation, category suggestion, merge synthesis and the
// follow-up bookkeeping (snapshot updates, comment repointing, retirement).
//
// Oracle calls happen before the transaction opens; all writes for one
// operation land in a single transaction.
type MergeOrchestrator struct {
	log        *logger.Logger
	tx         TxRunner
	proposals  repos.ProposalRepo
	analyses   repos.ProposalAnalysisRepo
	comments   repos.CommentRepo
	categories repos.CategoryRepo
	oracle     ProposalOracle
	locker     MergeLocker

	similarityThreshold float64
	candidateLimit      int
	batchLimit          int
}

func NewMergeOrchestrator(
	tx TxRunner,
	proposals repos.ProposalRepo,
	analyses repos.ProposalAnalysisRepo,
	comments repos.CommentRepo,
	categories repos.CategoryRepo,
	oracle ProposalOracle,
	locker MergeLocker,
	log *logger.Logger,
) *MergeOrchestrator {
	return &MergeOrchestrator{
		log:                 log.With("service", "MergeOrchestrator"),
		tx:                  tx,
		proposals:           proposals,
		analyses:            analyses,
		comments:            comments,
		categories:          categories,
		oracle:              oracle,
		locker:              locker,
		similarityThreshold: utils.GetEnvAsFloat("SIMILARITY_THRESHOLD", 0.7, log),
		candidateLimit:      utils.GetEnvAsInt("ANALYSIS_CANDIDATE_LIMIT", 10, log),
		batchLimit:          utils.GetEnvAsInt("ANALYSIS_BATCH_LIMIT", 5, log),
	}
}

func (s *MergeOrchestrator) buildView(ctx context.Context, p *types.Proposal) ProposalView {
	view := ProposalView{
		ID:      p.ID,
		Title:   p.Title,
		Content: p.Content,
	}
	ids := make([]uuid.UUID, 0, len(p.Categories))
	for _, a := range p.Categories {
		ids = append(ids, a.CategoryID)
	}
	if len(ids) == 0 {
		return view
	}
	cats, err := s.categories.GetByIDs(ctx, nil, ids)
	if err != nil {
		s.log.Warn("Failed to expand category names", "proposal_id", p.ID, "error", err.Error())
		return view
	}
	for _, c := range cats {
		view.Categories = append(view.Categories, c.Name)
	}
	return view
}

// AnalyzeProposal runs the full analysis pipeline for one proposal. A
// processed analysis is returned as-is unless force is set; the re-analysis
// path makes no oracle calls at all.
func (s *MergeOrchestrator) AnalyzeProposal(ctx context.Context, proposalID uuid.UUID, force bool) (*types.ProposalAnalysis, error) {
	proposal, err := s.proposals.GetByID(ctx, nil, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, ErrProposalNotFound
	}
	if proposal.IsMergeSource() {
		return nil, ErrProposalMerged
	}

	existing, err := s.analyses.GetByProposalID(ctx, nil, proposalID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.IsProcessed && !force {
		return existing, nil
	}

	candidates, err := s.proposals.ListCandidates(ctx, nil, proposalID, s.candidateLimit)
	if err != nil {
		return nil, err
	}

	sourceView := s.buildView(ctx, proposal)
	candidateViews := make([]ProposalView, 0, len(candidates))
	for _, c := range candidates {
		candidateViews = append(candidateViews, s.buildView(ctx, c))
	}

	var processingErrors []string

	similarity := NeutralSimilarity()
	if len(candidateViews) > 0 {
		result, simErr := s.oracle.AnalyzeSimilarity(ctx, sourceView, candidateViews)
		if simErr != nil {
			s.log.Warn("Similarity oracle failed, treating proposal as unique", "proposal_id", proposalID, "error", simErr.Error())
			processingErrors = append(processingErrors, fmt.Sprintf("similarity: %s", simErr.Error()))
		} else {
			similarity = result
		}
	}

	evaluation, evalErr := s.oracle.Evaluate(ctx, sourceView)
	if evalErr != nil {
		s.log.Warn("Evaluation oracle failed, using neutral scores", "proposal_id", proposalID, "error", evalErr.Error())
		processingErrors = append(processingErrors, fmt.Sprintf("evaluation: %s", evalErr.Error()))
		evaluation = NeutralEvaluation()
	}

	suggestions := []types.SuggestedCategory{}
	activeCategories, err := s.categories.ListActive(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(activeCategories) > 0 {
		options := make([]CategoryOption, 0, len(activeCategories))
		for _, c := range activeCategories {
			options = append(options, CategoryOption{ID: c.ID, Name: c.Name, Description: c.Description})
		}
		result, catErr := s.oracle.SuggestCategories(ctx, sourceView, options)
		if catErr != nil {
			s.log.Warn("Category oracle failed, suggesting nothing", "proposal_id", proposalID, "error", catErr.Error())
			processingErrors = append(processingErrors, fmt.Sprintf("categories: %s", catErr.Error()))
		} else {
			suggestions = result
		}
	}

	now := time.Now().UTC()
	analysis := &types.ProposalAnalysis{
		ProposalID:          proposalID,
		SimilarProposals:    datatypes.NewJSONSlice(similarity.SimilarProposals),
		Recommendation:      similarity.Recommendation,
		MergeState:          types.MergeStateActive,
		MergeStrategy:       similarity.MergeStrategy,
		MergeRationale:      similarity.Summary,
		Evaluation:          datatypes.NewJSONType(*evaluation),
		SuggestedCategories: datatypes.NewJSONSlice(suggestions),
		IsProcessed:         true,
		LastProcessedAt:     &now,
		ProcessingErrors:    datatypes.NewJSONSlice(processingErrors),
	}

	snapshot := snapshotFromEvaluation(*evaluation, now)

	var saved *types.ProposalAnalysis
	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		var txErr error
		saved, txErr = s.analyses.Upsert(ctx, tx, analysis)
		if txErr != nil {
			return txErr
		}
		return s.proposals.UpdateAIAnalysis(ctx, tx, proposalID, snapshot)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Proposal analyzed",
		"proposal_id", proposalID,
		"recommendation", analysis.Recommendation,
		"similar", len(similarity.SimilarProposals),
		"degraded", len(processingErrors) > 0,
	)
	return saved, nil
}

func snapshotFromEvaluation(eval types.AIEvaluation, at time.Time) types.AIAnalysisSnapshot {
	quality := eval.Quality
	relevance := eval.Relevance
	feasibility := eval.Feasibility
	sustainability := eval.Sustainability
	innovation := eval.Innovation
	return types.AIAnalysisSnapshot{
		AnalysisDate:   &at,
		Quality:        &quality,
		Relevance:      &relevance,
		Feasibility:    &feasibility,
		Sustainability: &sustainability,
		Innovation:     &innovation,
		Keywords:       eval.PoliticalDomains,
	}
}

// GetAnalysis returns the stored analysis for a proposal along with the
// proposals its similarity refs point at, so callers see titles instead of
// bare ids.
func (s *MergeOrchestrator) GetAnalysis(ctx context.Context, proposalID uuid.UUID) (*types.ProposalAnalysis, []*types.Proposal, error) {
	proposal, err := s.proposals.GetByID(ctx, nil, proposalID)
	if err != nil {
		return nil, nil, err
	}
	if proposal == nil {
		return nil, nil, ErrProposalNotFound
	}
	analysis, err := s.analyses.GetByProposalID(ctx, nil, proposalID)
	if err != nil {
		return nil, nil, err
	}
	if analysis == nil {
		return nil, nil, ErrAnalysisNotFound
	}

	var refIDs []uuid.UUID
	for _, ref := range analysis.SimilarProposals {
		refIDs = append(refIDs, ref.ProposalID)
	}
	similar, err := s.proposals.GetByIDs(ctx, nil, refIDs)
	if err != nil {
		return nil, nil, err
	}
	return analysis, similar, nil
}

// MergeProposals folds the target proposals and the source into one new
// proposal. The merge result carries the union of votes and the source's
// authorship and classification; comments from every parent are repointed to
// it and all parents are retired in the same transaction.
func (s *MergeOrchestrator) MergeProposals(ctx context.Context, sourceID uuid.UUID, targetIDs []uuid.UUID) (*types.Proposal, error) {
	seen := map[uuid.UUID]bool{sourceID: true}
	cleaned := make([]uuid.UUID, 0, len(targetIDs))
	for _, id := range targetIDs {
		if !seen[id] {
			seen[id] = true
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoMergeTargets
	}

	source, err := s.proposals.GetByID(ctx, nil, sourceID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, ErrProposalNotFound
	}
	if source.IsMergeSource() {
		return nil, ErrProposalMerged
	}

	targets, err := s.proposals.GetByIDs(ctx, nil, cleaned)
	if err != nil {
		return nil, err
	}
	if len(targets) != len(cleaned) {
		return nil, ErrTargetsNotFound
	}
	for _, t := range targets {
		if t.IsMergeSource() {
			return nil, ErrMergeConflict
		}
	}

	parentIDs := append([]uuid.UUID{sourceID}, cleaned...)
	release, acquired := s.locker.Acquire(ctx, parentIDs)
	if !acquired {
		return nil, ErrMergeLocked
	}
	defer release()

	sourceView := s.buildView(ctx, source)
	targetViews := make([]ProposalView, 0, len(targets))
	totalVotes := source.Votes
	for _, t := range targets {
		targetViews = append(targetViews, s.buildView(ctx, t))
		totalVotes += t.Votes
	}

	strategy := MergeStrategySynthesis
	draft, draftErr := s.oracle.Merge(ctx, sourceView, targetViews)
	if draftErr != nil {
		s.log.Warn("Merge oracle failed, falling back to source text", "source_id", sourceID, "error", draftErr.Error())
		draft = NeutralMergeDraft(sourceView)
		strategy = MergeStrategyFallback
	}

	merged := &types.Proposal{
		Title:        draft.Title,
		Content:      draft.Content,
		Status:       types.ProposalStatusSubmitted,
		UserID:       source.UserID,
		Categories:   source.Categories,
		Ministries:   source.Ministries,
		Votes:        totalVotes,
		Priority:     source.Priority,
		MergeState:   types.MergeStateMergeResult,
		MergeParents: datatypes.NewJSONSlice(parentIDs),
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		created, txErr := s.proposals.Create(ctx, tx, []*types.Proposal{merged})
		if txErr != nil {
			return txErr
		}
		merged = created[0]

		if _, txErr = s.comments.Repoint(ctx, tx, parentIDs, merged.ID); txErr != nil {
			return txErr
		}

		retired, txErr := s.proposals.RetireMerged(ctx, tx, parentIDs, merged.ID)
		if txErr != nil {
			return txErr
		}
		// A short count means another merge retired one of the parents after
		// our read; roll everything back.
		if retired != int64(len(parentIDs)) {
			return ErrMergeConflict
		}

		if txErr = s.analyses.RetireMerged(ctx, tx, parentIDs, merged.ID); txErr != nil {
			return txErr
		}

		now := time.Now().UTC()
		resultAnalysis := &types.ProposalAnalysis{
			ProposalID:       merged.ID,
			SimilarProposals: datatypes.NewJSONSlice([]types.SimilarProposalRef{}),
			MergeState:       types.MergeStateActive,
			MergeStrategy:    strategy,
			MergeRationale:   draft.Summary,
			IsProcessed:      true,
			LastProcessedAt:  &now,
		}
		_, txErr = s.analyses.Upsert(ctx, tx, resultAnalysis)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Proposals merged",
		"merged_id", merged.ID,
		"source_id", sourceID,
		"targets", len(cleaned),
		"strategy", strategy,
	)
	return merged, nil
}

// AutoAnalyzeProposal analyzes a proposal and, when the oracle recommends a
// merge with at least one match at or above the similarity threshold, performs
// the merge immediately. Returns the analysis and the merge result if one was
// created.
func (s *MergeOrchestrator) AutoAnalyzeProposal(ctx context.Context, proposalID uuid.UUID) (*types.ProposalAnalysis, *types.Proposal, error) {
	analysis, err := s.AnalyzeProposal(ctx, proposalID, false)
	if err != nil {
		return nil, nil, err
	}

	if analysis.Recommendation != RecommendationMerge {
		return analysis, nil, nil
	}
	targets := s.qualifyingTargets(analysis)
	if len(targets) == 0 {
		return analysis, nil, nil
	}

	merged, mergeErr := s.MergeProposals(ctx, proposalID, targets)
	if mergeErr != nil {
		// Analysis already persisted; an unmergeable recommendation is not an
		// analysis failure.
		s.log.Warn("Auto-merge after analysis failed", "proposal_id", proposalID, "error", mergeErr.Error())
		return analysis, nil, nil
	}
	return analysis, merged, nil
}

func (s *MergeOrchestrator) qualifyingTargets(analysis *types.ProposalAnalysis) []uuid.UUID {
	var targets []uuid.UUID
	for _, ref := range analysis.SimilarProposals {
		if ref.SimilarityScore >= s.similarityThreshold {
			targets = append(targets, ref.ProposalID)
		}
	}
	return targets
}

// ReevaluateProposal re-runs only the evaluation oracle and refreshes both the
// analysis row and the proposal's snapshot. An oracle failure degrades to
// neutral scores, same as the full pipeline.
func (s *MergeOrchestrator) ReevaluateProposal(ctx context.Context, proposalID uuid.UUID) (*types.ProposalAnalysis, error) {
	proposal, err := s.proposals.GetByID(ctx, nil, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, ErrProposalNotFound
	}
	if proposal.IsMergeSource() {
		return nil, ErrProposalMerged
	}

	evaluation, evalErr := s.oracle.Evaluate(ctx, s.buildView(ctx, proposal))
	if evalErr != nil {
		s.log.Warn("Evaluation oracle failed, using neutral scores", "proposal_id", proposalID, "error", evalErr.Error())
		evaluation = NeutralEvaluation()
	}
	return s.applyEvaluation(ctx, proposalID, *evaluation)
}

// AnalyzeProposalSummary scores a staff-provided summary on the five
// dimensions and stores those scores plus the summary text on the analysis
// and the proposal snapshot.
func (s *MergeOrchestrator) AnalyzeProposalSummary(ctx context.Context, proposalID uuid.UUID, summary string) (*types.ProposalAnalysis, error) {
	proposal, err := s.proposals.GetByID(ctx, nil, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, ErrProposalNotFound
	}
	if proposal.IsMergeSource() {
		return nil, ErrProposalMerged
	}

	view := s.buildView(ctx, proposal)
	view.Content = summary
	evaluation, evalErr := s.oracle.Evaluate(ctx, view)
	if evalErr != nil {
		s.log.Warn("Evaluation oracle failed, using neutral scores", "proposal_id", proposalID, "error", evalErr.Error())
		evaluation = NeutralEvaluation()
	}
	evaluation.Summary = summary
	return s.applyEvaluation(ctx, proposalID, *evaluation)
}

func (s *MergeOrchestrator) applyEvaluation(ctx context.Context, proposalID uuid.UUID, evaluation types.AIEvaluation) (*types.ProposalAnalysis, error) {
	now := time.Now().UTC()
	snapshot := snapshotFromEvaluation(evaluation, now)

	var saved *types.ProposalAnalysis
	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		existing, txErr := s.analyses.GetByProposalID(ctx, tx, proposalID)
		if txErr != nil {
			return txErr
		}
		if existing == nil {
			analysis := &types.ProposalAnalysis{
				ProposalID:       proposalID,
				SimilarProposals: datatypes.NewJSONSlice([]types.SimilarProposalRef{}),
				MergeState:       types.MergeStateActive,
				Evaluation:       datatypes.NewJSONType(evaluation),
				IsProcessed:      true,
				LastProcessedAt:  &now,
			}
			if saved, txErr = s.analyses.Upsert(ctx, tx, analysis); txErr != nil {
				return txErr
			}
		} else {
			if txErr = s.analyses.UpdateEvaluation(ctx, tx, proposalID, evaluation, now); txErr != nil {
				return txErr
			}
			if saved, txErr = s.analyses.GetByProposalID(ctx, tx, proposalID); txErr != nil {
				return txErr
			}
		}
		return s.proposals.UpdateAIAnalysis(ctx, tx, proposalID, snapshot)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// AnalyzeSummary produces a short neutral summary of one proposal. Nothing is
// persisted besides the call log.
func (s *MergeOrchestrator) AnalyzeSummary(ctx context.Context, proposalID uuid.UUID) (string, error) {
	proposal, err := s.proposals.GetByID(ctx, nil, proposalID)
	if err != nil {
		return "", err
	}
	if proposal == nil {
		return "", ErrProposalNotFound
	}
	return s.oracle.Summarize(ctx, s.buildView(ctx, proposal))
}

// ProcessUnanalyzed analyzes a bounded batch of proposals that have no
// evaluation snapshot yet. One failing item never aborts the batch.
func (s *MergeOrchestrator) ProcessUnanalyzed(ctx context.Context) ([]BatchItemResult, error) {
	pending, err := s.proposals.ListUnanalyzed(ctx, nil, s.batchLimit)
	if err != nil {
		return nil, err
	}

	results := make([]BatchItemResult, 0, len(pending))
	for _, p := range pending {
		item := BatchItemResult{ProposalID: p.ID}
		if _, analyzeErr := s.AnalyzeProposal(ctx, p.ID, false); analyzeErr != nil {
			item.Error = analyzeErr.Error()
			s.log.Warn("Batch analysis item failed", "proposal_id", p.ID, "error", analyzeErr.Error())
		} else {
			item.Success = true
		}
		results = append(results, item)
	}
	return results, nil
}

// AutoMerge walks every analysis that recommends merging, and merges each
// proposal with its matches at or above the similarity threshold. Conflicts
// from earlier merges in the same sweep are reported, not fatal.
func (s *MergeOrchestrator) AutoMerge(ctx context.Context) ([]BatchItemResult, error) {
	candidates, err := s.analyses.ListMergeCandidates(ctx, nil)
	if err != nil {
		return nil, err
	}

	results := []BatchItemResult{}
	for _, analysis := range candidates {
		if analysis.Recommendation != RecommendationMerge {
			continue
		}
		targets := s.qualifyingTargets(analysis)
		if len(targets) == 0 {
			continue
		}

		item := BatchItemResult{ProposalID: analysis.ProposalID}
		merged, mergeErr := s.MergeProposals(ctx, analysis.ProposalID, targets)
		if mergeErr != nil {
			item.Error = mergeErr.Error()
			s.log.Warn("Auto-merge item failed", "proposal_id", analysis.ProposalID, "error", mergeErr.Error())
		} else {
			item.Success = true
			item.MergedInto = merged.ID
		}
		results = append(results, item)
	}
	return results, nil
}

// PruneOrphanedAnalyses deletes analysis rows whose proposal no longer exists
// and returns how many were removed. The diff runs here rather than in SQL so
// the same logic covers stores without referential integrity on this edge.
func (s *MergeOrchestrator) PruneOrphanedAnalyses(ctx context.Context) (int64, error) {
	analyses, err := s.analyses.GetAll(ctx, nil)
	if err != nil {
		return 0, err
	}
	proposalIDs, err := s.proposals.ListIDs(ctx, nil)
	if err != nil {
		return 0, err
	}

	existing := make(map[uuid.UUID]bool, len(proposalIDs))
	for _, id := range proposalIDs {
		existing[id] = true
	}

	var orphanRowIDs []uuid.UUID
	for _, a := range analyses {
		if !existing[a.ProposalID] {
			orphanRowIDs = append(orphanRowIDs, a.ID)
		}
	}
	if len(orphanRowIDs) == 0 {
		return 0, nil
	}

	deleted, err := s.analyses.DeleteByIDs(ctx, nil, orphanRowIDs)
	if err != nil {
		return 0, err
	}
	s.log.Info("Pruned orphaned analyses", "deleted", deleted)
	return deleted, nil
}

// GetTopProposals ranks evaluated proposals by a single score dimension or by
// the combined mean. Ties break on votes, then recency.
func (s *MergeOrchestrator) GetTopProposals(ctx context.Context, metric string, limit int) ([]*types.Proposal, error) {
	scoreOf, err := metricExtractor(metric)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	evaluated, err := s.proposals.ListEvaluated(ctx, nil)
	if err != nil {
		return nil, err
	}

	ranked := make([]*types.Proposal, 0, len(evaluated))
	for _, p := range evaluated {
		if _, ok := scoreOf(p); ok {
			ranked = append(ranked, p)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		si, _ := scoreOf(ranked[i])
		sj, _ := scoreOf(ranked[j])
		if si != sj {
			return si > sj
		}
		if ranked[i].Votes != ranked[j].Votes {
			return ranked[i].Votes > ranked[j].Votes
		}
		return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func metricExtractor(metric string) (func(*types.Proposal) (float64, bool), error) {
	pick := func(get func(types.AIAnalysisSnapshot) *float64) func(*types.Proposal) (float64, bool) {
		return func(p *types.Proposal) (float64, bool) {
			v := get(p.AIAnalysis.Data())
			if v == nil {
				return 0, false
			}
			return *v, true
		}
	}

	switch metric {
	case MetricQuality:
		return pick(func(s types.AIAnalysisSnapshot) *float64 { return s.Quality }), nil
	case MetricRelevance:
		return pick(func(s types.AIAnalysisSnapshot) *float64 { return s.Relevance }), nil
	case MetricFeasibility:
		return pick(func(s types.AIAnalysisSnapshot) *float64 { return s.Feasibility }), nil
	case MetricSustainability:
		return pick(func(s types.AIAnalysisSnapshot) *float64 { return s.Sustainability }), nil
	case MetricInnovation:
		return pick(func(s types.AIAnalysisSnapshot) *float64 { return s.Innovation }), nil
	case MetricCombined, "":
		return func(p *types.Proposal) (float64, bool) {
			return p.AIAnalysis.Data().CombinedScore()
		}, nil
	default:
		return nil, ErrInvalidMetric
	}
}
