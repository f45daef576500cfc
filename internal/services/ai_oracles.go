package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/repos"
	"github.com/civicvoice/civicvoice-backend/internal/types"
)

const (
	RecommendationMerge   = "merge"
	RecommendationDiscard = "discard"
	RecommendationUnique  = "unique"
)

// ProposalView is the trimmed read the oracles see. Category IDs are expanded
// to names before prompting so the model never reasons over UUIDs.
type ProposalView struct {
	ID         uuid.UUID
	Title      string
	Content    string
	Categories []string
}

// CategoryOption is one selectable category offered to the category oracle.
type CategoryOption struct {
	ID          uuid.UUID
	Name        string
	Description string
}

type SimilarityResult struct {
	SimilarProposals []types.SimilarProposalRef
	Recommendation   string
	MergeStrategy    string
	Summary          string
	Confidence       float64
}

type MergeDraft struct {
	Title   string
	Content string
	Summary string
}

// ProposalOracle is the model-facing decision surface. Implementations must
// not write to storage; callers own persistence and fallback handling.
type ProposalOracle interface {
	AnalyzeSimilarity(ctx context.Context, source ProposalView, candidates []ProposalView) (*SimilarityResult, error)
	Evaluate(ctx context.Context, source ProposalView) (*types.AIEvaluation, error)
	SuggestCategories(ctx context.Context, source ProposalView, options []CategoryOption) ([]types.SuggestedCategory, error)
	Merge(ctx context.Context, source ProposalView, targets []ProposalView) (*MergeDraft, error)
	Summarize(ctx context.Context, source ProposalView) (string, error)
}

// NeutralSimilarity is the fallback when the similarity oracle is unavailable:
// treat the proposal as unique so nothing merges on a guess.
func NeutralSimilarity() *SimilarityResult {
	return &SimilarityResult{
		SimilarProposals: []types.SimilarProposalRef{},
		Recommendation:   RecommendationUnique,
		Confidence:       0,
	}
}

// NeutralEvaluation is the fallback evaluation: every dimension at the
// midpoint and no claims in either direction.
func NeutralEvaluation() *types.AIEvaluation {
	return &types.AIEvaluation{
		Quality:        0.5,
		Relevance:      0.5,
		Feasibility:    0.5,
		Sustainability: 0.5,
		Innovation:     0.5,
		Strengths:      []string{},
		Weaknesses:     []string{},
		Summary:        "Automatic evaluation unavailable.",
	}
}

// NeutralMergeDraft falls back to the source's own text so a forced merge can
// still complete without the oracle.
func NeutralMergeDraft(source ProposalView) *MergeDraft {
	return &MergeDraft{
		Title:   source.Title,
		Content: source.Content,
		Summary: "Merged without automatic synthesis.",
	}
}

type geminiOracle struct {
	log      *logger.Logger
	client   GeminiClient
	callLogs repos.AICallLogRepo
}

func NewProposalOracle(client GeminiClient, callLogs repos.AICallLogRepo, log *logger.Logger) ProposalOracle {
	return &geminiOracle{
		log:      log.With("service", "ProposalOracle"),
		client:   client,
		callLogs: callLogs,
	}
}

func (o *geminiOracle) record(ctx context.Context, operation string, proposalID uuid.UUID, started time.Time, callErr error, metadata map[string]any) {
	entry := &types.AICallLog{
		Operation:  operation,
		Model:      o.client.Model(),
		ProposalID: &proposalID,
		DurationMs: time.Since(started).Milliseconds(),
		Success:    callErr == nil,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = datatypes.JSON(raw)
		}
	}
	if _, err := o.callLogs.Create(ctx, nil, []*types.AICallLog{entry}); err != nil {
		o.log.Warn("Failed to write AI call log", "operation", operation, "error", err.Error())
	}
}

// decodeInto round-trips the loosely typed model output into a typed DTO.
func decodeInto(obj map[string]any, out any) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func renderProposal(v ProposalView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID: %s\nTitle: %s\n", v.ID, v.Title)
	if len(v.Categories) > 0 {
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(v.Categories, ", "))
	}
	fmt.Fprintf(&b, "Content: %s\n", v.Content)
	return b.String()
}

func (o *geminiOracle) AnalyzeSimilarity(ctx context.Context, source ProposalView, candidates []ProposalView) (*SimilarityResult, error) {
	started := time.Now()

	var b strings.Builder
	b.WriteString("You compare citizen proposals for a public participation platform.\n")
	b.WriteString("Compare the NEW proposal against each EXISTING proposal and decide which, if any, cover the same underlying idea.\n\n")
	b.WriteString("NEW proposal:\n")
	b.WriteString(renderProposal(source))
	b.WriteString("\nEXISTING proposals:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d]\n%s\n", i+1, renderProposal(c))
	}
	b.WriteString("\nRespond with ONLY a JSON object of the form:\n")
	b.WriteString(`{"similar_proposals":[{"proposal_id":"<uuid>","similarity_score":0.0,"reason":"..."}],"recommendation":"merge|discard|unique","merge_strategy":"...","summary":"...","confidence":0.0}` + "\n")
	b.WriteString("Scores and confidence are between 0 and 1. Include only existing proposals that are genuinely similar. Recommend \"merge\" only when the NEW proposal duplicates an existing one, \"discard\" when it adds nothing over the existing ones. In merge_strategy describe how the proposals should be combined; summarize the comparison in summary.\n")

	obj, err := o.client.GenerateJSON(ctx, b.String())
	if err != nil {
		o.record(ctx, "analyze_similarity", source.ID, started, err, map[string]any{"candidates": len(candidates)})
		return nil, err
	}

	var dto struct {
		SimilarProposals []struct {
			ProposalID      string  `json:"proposal_id"`
			SimilarityScore float64 `json:"similarity_score"`
			Reason          string  `json:"reason"`
		} `json:"similar_proposals"`
		Recommendation string  `json:"recommendation"`
		MergeStrategy  string  `json:"merge_strategy"`
		Summary        string  `json:"summary"`
		Confidence     float64 `json:"confidence"`
	}
	if err := decodeInto(obj, &dto); err != nil {
		o.record(ctx, "analyze_similarity", source.ID, started, err, nil)
		return nil, err
	}

	allowed := make(map[uuid.UUID]bool, len(candidates))
	for _, c := range candidates {
		allowed[c.ID] = true
	}

	result := &SimilarityResult{
		SimilarProposals: []types.SimilarProposalRef{},
		Recommendation:   strings.ToLower(strings.TrimSpace(dto.Recommendation)),
		MergeStrategy:    strings.TrimSpace(dto.MergeStrategy),
		Summary:          strings.TrimSpace(dto.Summary),
		Confidence:       clampScore(dto.Confidence),
	}
	switch result.Recommendation {
	case RecommendationMerge, RecommendationDiscard, RecommendationUnique:
	default:
		result.Recommendation = RecommendationUnique
	}
	for _, sp := range dto.SimilarProposals {
		id, parseErr := uuid.Parse(strings.TrimSpace(sp.ProposalID))
		if parseErr != nil || !allowed[id] || id == source.ID {
			// hallucinated or out-of-set reference
			continue
		}
		result.SimilarProposals = append(result.SimilarProposals, types.SimilarProposalRef{
			ProposalID:      id,
			SimilarityScore: clampScore(sp.SimilarityScore),
			Reason:          sp.Reason,
		})
	}

	o.record(ctx, "analyze_similarity", source.ID, started, nil, map[string]any{
		"candidates":     len(candidates),
		"matches":        len(result.SimilarProposals),
		"recommendation": result.Recommendation,
	})
	return result, nil
}

func (o *geminiOracle) Evaluate(ctx context.Context, source ProposalView) (*types.AIEvaluation, error) {
	started := time.Now()

	var b strings.Builder
	b.WriteString("You evaluate citizen proposals for a public participation platform.\n")
	b.WriteString("Rate the proposal below on quality, relevance, feasibility, sustainability and innovation, each between 0 and 1.\n\n")
	b.WriteString(renderProposal(source))
	b.WriteString("\nRespond with ONLY a JSON object of the form:\n")
	b.WriteString(`{"quality":0.0,"relevance":0.0,"feasibility":0.0,"sustainability":0.0,"innovation":0.0,"strengths":["..."],"weaknesses":["..."],"political_domains":["..."],"societal_benefit":"...","cost_benefit_ratio":"low|medium|high","summary":"..."}` + "\n")

	obj, err := o.client.GenerateJSON(ctx, b.String())
	if err != nil {
		o.record(ctx, "evaluate", source.ID, started, err, nil)
		return nil, err
	}

	var eval types.AIEvaluation
	if err := decodeInto(obj, &eval); err != nil {
		o.record(ctx, "evaluate", source.ID, started, err, nil)
		return nil, err
	}
	eval.Quality = clampScore(eval.Quality)
	eval.Relevance = clampScore(eval.Relevance)
	eval.Feasibility = clampScore(eval.Feasibility)
	eval.Sustainability = clampScore(eval.Sustainability)
	eval.Innovation = clampScore(eval.Innovation)
	if eval.Strengths == nil {
		eval.Strengths = []string{}
	}
	if eval.Weaknesses == nil {
		eval.Weaknesses = []string{}
	}
	switch strings.ToLower(eval.CostBenefitRatio) {
	case types.CostBenefitLow, types.CostBenefitMedium, types.CostBenefitHigh:
		eval.CostBenefitRatio = strings.ToLower(eval.CostBenefitRatio)
	default:
		eval.CostBenefitRatio = ""
	}

	o.record(ctx, "evaluate", source.ID, started, nil, nil)
	return &eval, nil
}

func (o *geminiOracle) SuggestCategories(ctx context.Context, source ProposalView, options []CategoryOption) ([]types.SuggestedCategory, error) {
	started := time.Now()

	var b strings.Builder
	b.WriteString("You assign citizen proposals to administrative categories.\n")
	b.WriteString("Pick the categories from the list below that best fit the proposal. Suggest at most 3.\n\n")
	b.WriteString(renderProposal(source))
	b.WriteString("\nAvailable categories:\n")
	for _, opt := range options {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", opt.ID, opt.Name, opt.Description)
	}
	b.WriteString("\nRespond with ONLY a JSON object of the form:\n")
	b.WriteString(`{"categories":[{"category_id":"<uuid>","confidence":0.0,"reason":"..."}]}` + "\n")

	obj, err := o.client.GenerateJSON(ctx, b.String())
	if err != nil {
		o.record(ctx, "suggest_categories", source.ID, started, err, nil)
		return nil, err
	}

	var dto struct {
		Categories []struct {
			CategoryID string  `json:"category_id"`
			Confidence float64 `json:"confidence"`
			Reason     string  `json:"reason"`
		} `json:"categories"`
	}
	if err := decodeInto(obj, &dto); err != nil {
		o.record(ctx, "suggest_categories", source.ID, started, err, nil)
		return nil, err
	}

	allowed := make(map[uuid.UUID]bool, len(options))
	for _, opt := range options {
		allowed[opt.ID] = true
	}

	suggestions := []types.SuggestedCategory{}
	for _, c := range dto.Categories {
		id, parseErr := uuid.Parse(strings.TrimSpace(c.CategoryID))
		if parseErr != nil || !allowed[id] {
			continue
		}
		suggestions = append(suggestions, types.SuggestedCategory{
			CategoryID: id,
			Confidence: clampScore(c.Confidence),
			Reason:     c.Reason,
		})
	}

	o.record(ctx, "suggest_categories", source.ID, started, nil, map[string]any{"suggestions": len(suggestions)})
	return suggestions, nil
}

func (o *geminiOracle) Merge(ctx context.Context, source ProposalView, targets []ProposalView) (*MergeDraft, error) {
	started := time.Now()

	var b strings.Builder
	b.WriteString("You merge duplicate citizen proposals into a single consolidated proposal.\n")
	b.WriteString("Write a new title and content that preserve every distinct point from all proposals below, without repetition.\n\n")
	b.WriteString("PRIMARY proposal:\n")
	b.WriteString(renderProposal(source))
	b.WriteString("\nPROPOSALS TO FOLD IN:\n")
	for i, t := range targets {
		fmt.Fprintf(&b, "[%d]\n%s\n", i+1, renderProposal(t))
	}
	b.WriteString("\nRespond with ONLY a JSON object of the form:\n")
	b.WriteString(`{"title":"...","content":"...","summary":"..."}` + "\n")
	b.WriteString("The summary explains in one or two sentences what was combined.\n")

	obj, err := o.client.GenerateJSON(ctx, b.String())
	if err != nil {
		o.record(ctx, "merge", source.ID, started, err, map[string]any{"targets": len(targets)})
		return nil, err
	}

	var draft MergeDraft
	if err := decodeInto(obj, &draft); err != nil {
		o.record(ctx, "merge", source.ID, started, err, nil)
		return nil, err
	}
	if strings.TrimSpace(draft.Title) == "" {
		draft.Title = source.Title
	}
	if strings.TrimSpace(draft.Content) == "" {
		draft.Content = source.Content
	}

	o.record(ctx, "merge", source.ID, started, nil, map[string]any{"targets": len(targets)})
	return &draft, nil
}

func (o *geminiOracle) Summarize(ctx context.Context, source ProposalView) (string, error) {
	started := time.Now()

	var b strings.Builder
	b.WriteString("Summarize the citizen proposal below in two to three sentences, neutral in tone.\n\n")
	b.WriteString(renderProposal(source))
	b.WriteString("\nRespond with ONLY a JSON object of the form:\n")
	b.WriteString(`{"summary":"..."}` + "\n")

	obj, err := o.client.GenerateJSON(ctx, b.String())
	if err != nil {
		o.record(ctx, "summarize", source.ID, started, err, nil)
		return "", err
	}

	var dto struct {
		Summary string `json:"summary"`
	}
	if err := decodeInto(obj, &dto); err != nil {
		o.record(ctx, "summarize", source.ID, started, err, nil)
		return "", err
	}
	if strings.TrimSpace(dto.Summary) == "" {
		err := fmt.Errorf("empty summary in model output")
		o.record(ctx, "summarize", source.ID, started, err, nil)
		return "", err
	}

	o.record(ctx, "summarize", source.ID, started, nil, nil)
	return dto.Summary, nil
}
