package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	CostBenefitLow    = "low"
	CostBenefitMedium = "medium"
	CostBenefitHigh   = "high"
)

type SimilarProposalRef struct {
	ProposalID      uuid.UUID `json:"proposal_id"`
	SimilarityScore float64   `json:"similarity_score"`
	Reason          string    `json:"reason"`
}

type SuggestedCategory struct {
	CategoryID uuid.UUID `json:"category_id"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
}

type AIEvaluation struct {
	Quality          float64  `json:"quality"`
	Relevance        float64  `json:"relevance"`
	Feasibility      float64  `json:"feasibility"`
	Sustainability   float64  `json:"sustainability"`
	Innovation       float64  `json:"innovation"`
	Strengths        []string `json:"strengths"`
	Weaknesses       []string `json:"weaknesses"`
	PoliticalDomains []string `json:"political_domains,omitempty"`
	SocietalBenefit  string   `json:"societal_benefit,omitempty"`
	CostBenefitRatio string   `json:"cost_benefit_ratio,omitempty"`
	Summary          string   `json:"summary"`
}

// ProposalAnalysis holds the derived AI results for exactly one proposal.
// Kept separate from the proposal row so expensive model output does not ride
// along with the proposal's own lifecycle.
type ProposalAnalysis struct {
	ID                  uuid.UUID                               `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProposalID          uuid.UUID                               `gorm:"type:uuid;not null;uniqueIndex;column:proposal_id" json:"proposal_id"`
	SimilarProposals    datatypes.JSONSlice[SimilarProposalRef] `gorm:"type:jsonb;column:similar_proposals" json:"similar_proposals"`
	Recommendation      string                                  `gorm:"column:recommendation" json:"recommendation,omitempty"`
	MergeState          string                                  `gorm:"not null;default:'active';column:merge_state;index" json:"merge_state"`
	MergedInto          *uuid.UUID                              `gorm:"type:uuid;column:merged_into" json:"merged_into,omitempty"`
	MergeStrategy       string                                  `gorm:"column:merge_strategy" json:"merge_strategy,omitempty"`
	MergeRationale      string                                  `gorm:"column:merge_rationale" json:"merge_rationale,omitempty"`
	Evaluation          datatypes.JSONType[AIEvaluation]        `gorm:"type:jsonb;column:ai_evaluation" json:"ai_evaluation"`
	SuggestedCategories datatypes.JSONSlice[SuggestedCategory]  `gorm:"type:jsonb;column:suggested_categories" json:"suggested_categories"`
	IsProcessed         bool                                    `gorm:"not null;default:false;column:is_processed" json:"is_processed"`
	LastProcessedAt     *time.Time                              `gorm:"column:last_processed_at" json:"last_processed_at,omitempty"`
	ProcessingErrors    datatypes.JSONSlice[string]             `gorm:"type:jsonb;column:processing_errors" json:"processing_errors,omitempty"`
	CreatedAt           time.Time                               `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time                               `gorm:"not null;default:now()" json:"updated_at"`
}

func (ProposalAnalysis) TableName() string {
	return "proposal_analysis"
}
