package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ProposalStatusSubmitted   = "submitted"
	ProposalStatusProcessing  = "processing"
	ProposalStatusCategorized = "categorized"
	ProposalStatusForwarded   = "forwarded"
	ProposalStatusAnswered    = "answered"
	ProposalStatusCompleted   = "completed"
	ProposalStatusRejected    = "rejected"
	ProposalStatusMerged      = "merged"
)

// Merge lifecycle is a single tagged state instead of independent booleans,
// so a merge source without a target is unrepresentable.
const (
	MergeStateActive      = "active"
	MergeStateMergedAway  = "merged_away"
	MergeStateMergeResult = "merge_result"
)

const (
	AssignmentTypeManual = "manual"
	AssignmentTypeAI     = "ai"
)

const (
	MinistryStatusAssigned   = "assigned"
	MinistryStatusProcessing = "processing"
	MinistryStatusAnswered   = "answered"
	MinistryStatusCompleted  = "completed"
)

type CategoryAssignment struct {
	CategoryID     uuid.UUID `json:"category_id"`
	AssignmentDate time.Time `json:"assignment_date"`
	AssignmentType string    `json:"assignment_type"`
	Confidence     float64   `json:"confidence"`
}

type MinistryAssignment struct {
	MinistryID     uuid.UUID `json:"ministry_id"`
	AssignmentDate time.Time `json:"assignment_date"`
	Status         string    `json:"status"`
	Priority       int       `json:"priority"`
}

// AIAnalysisSnapshot is the denormalized read cache of the latest evaluation.
// The ProposalAnalysis row stays authoritative; only the orchestrator writes
// this field.
type AIAnalysisSnapshot struct {
	AnalysisDate   *time.Time `json:"analysis_date,omitempty"`
	Quality        *float64   `json:"quality,omitempty"`
	Relevance      *float64   `json:"relevance,omitempty"`
	Feasibility    *float64   `json:"feasibility,omitempty"`
	Sustainability *float64   `json:"sustainability,omitempty"`
	Innovation     *float64   `json:"innovation,omitempty"`
	Keywords       []string   `json:"keywords,omitempty"`
}

type Proposal struct {
	ID           uuid.UUID                               `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Title        string                                  `gorm:"not null;column:title" json:"title"`
	Content      string                                  `gorm:"not null;column:content" json:"content"`
	Status       string                                  `gorm:"not null;default:'submitted';column:status;index" json:"status"`
	UserID       *uuid.UUID                              `gorm:"type:uuid;column:user_id" json:"user_id,omitempty"`
	Categories   datatypes.JSONSlice[CategoryAssignment] `gorm:"type:jsonb;column:categories" json:"categories"`
	Ministries   datatypes.JSONSlice[MinistryAssignment] `gorm:"type:jsonb;column:ministries" json:"ministries"`
	AIAnalysis   datatypes.JSONType[AIAnalysisSnapshot]  `gorm:"type:jsonb;column:ai_analysis" json:"ai_analysis"`
	Votes        int                                     `gorm:"not null;default:0;column:votes" json:"votes"`
	Priority     int                                     `gorm:"not null;default:0;column:priority" json:"priority"`
	MergeState   string                                  `gorm:"not null;default:'active';column:merge_state;index" json:"merge_state"`
	MergedInto   *uuid.UUID                              `gorm:"type:uuid;column:merged_into" json:"merged_into,omitempty"`
	MergeParents datatypes.JSONSlice[uuid.UUID]          `gorm:"type:jsonb;column:merge_parents" json:"merge_parents,omitempty"`
	CreatedAt    time.Time                               `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time                               `gorm:"not null;default:now()" json:"updated_at"`
}

func (Proposal) TableName() string {
	return "proposal"
}

// IsMergeSource reports whether this proposal has been folded into another
// and must be excluded from listings and merge candidacy.
func (p *Proposal) IsMergeSource() bool {
	return p.MergeState == MergeStateMergedAway
}

func (p *Proposal) IsMergeResult() bool {
	return p.MergeState == MergeStateMergeResult
}

// HasEvaluation reports whether the denormalized snapshot carries scores.
func (p *Proposal) HasEvaluation() bool {
	return p.AIAnalysis.Data().Quality != nil
}

// CombinedScore is the equal-weight mean of the score dimensions that are
// present. Returns false when no dimension is set.
func (s AIAnalysisSnapshot) CombinedScore() (float64, bool) {
	var sum float64
	var n int
	for _, v := range []*float64{s.Quality, s.Relevance, s.Feasibility, s.Sustainability, s.Innovation} {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
