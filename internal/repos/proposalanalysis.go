package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/types"
)

type ProposalAnalysisRepo interface {
	Create(ctx context.Context, tx *gorm.DB, analyses []*types.ProposalAnalysis) ([]*types.ProposalAnalysis, error)
	GetByProposalID(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) (*types.ProposalAnalysis, error)
	GetAll(ctx context.Context, tx *gorm.DB) ([]*types.ProposalAnalysis, error)
	ListMergeCandidates(ctx context.Context, tx *gorm.DB) ([]*types.ProposalAnalysis, error)
	Upsert(ctx context.Context, tx *gorm.DB, analysis *types.ProposalAnalysis) (*types.ProposalAnalysis, error)
	UpdateEvaluation(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID, eval types.AIEvaluation, processedAt time.Time) error
	RetireMerged(ctx context.Context, tx *gorm.DB, proposalIDs []uuid.UUID, into uuid.UUID) error
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (int64, error)
}

type proposalAnalysisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProposalAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) ProposalAnalysisRepo {
	repoLog := baseLog.With("repo", "ProposalAnalysisRepo")
	return &proposalAnalysisRepo{db: db, log: repoLog}
}

func (ar *proposalAnalysisRepo) Create(ctx context.Context, tx *gorm.DB, analyses []*types.ProposalAnalysis) ([]*types.ProposalAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	if len(analyses) == 0 {
		return []*types.ProposalAnalysis{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&analyses).Error; err != nil {
		return nil, err
	}
	return analyses, nil
}

func (ar *proposalAnalysisRepo) GetByProposalID(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) (*types.ProposalAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	var result types.ProposalAnalysis
	if err := transaction.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (ar *proposalAnalysisRepo) GetAll(ctx context.Context, tx *gorm.DB) ([]*types.ProposalAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	var results []*types.ProposalAnalysis
	if err := transaction.WithContext(ctx).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListMergeCandidates returns analyses that carry at least one similarity
// entry and whose proposal has not already been folded away.
func (ar *proposalAnalysisRepo) ListMergeCandidates(ctx context.Context, tx *gorm.DB) ([]*types.ProposalAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	var results []*types.ProposalAnalysis
	if err := transaction.WithContext(ctx).
		Where("merge_state = ?", types.MergeStateActive).
		Where("similar_proposals IS NOT NULL AND jsonb_array_length(similar_proposals) > 0").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (ar *proposalAnalysisRepo) Upsert(ctx context.Context, tx *gorm.DB, analysis *types.ProposalAnalysis) (*types.ProposalAnalysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	// merge_strategy and merge_rationale are deliberately absent from the
	// conflict update: a re-analysis must not wipe merge bookkeeping.
	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "proposal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"similar_proposals",
				"recommendation",
				"merge_state",
				"merged_into",
				"ai_evaluation",
				"suggested_categories",
				"is_processed",
				"last_processed_at",
				"processing_errors",
				"updated_at",
			}),
		}).
		Create(analysis).Error; err != nil {
		return nil, err
	}
	return ar.GetByProposalID(ctx, transaction, analysis.ProposalID)
}

// UpdateEvaluation replaces only the evaluation portion of an existing
// analysis row. Callers create the row first when none exists.
func (ar *proposalAnalysisRepo) UpdateEvaluation(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID, eval types.AIEvaluation, processedAt time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	return transaction.WithContext(ctx).
		Model(&types.ProposalAnalysis{}).
		Where("proposal_id = ?", proposalID).
		Updates(map[string]interface{}{
			"ai_evaluation":     datatypes.NewJSONType(eval),
			"is_processed":      true,
			"last_processed_at": processedAt,
			"updated_at":        time.Now().UTC(),
		}).Error
}

func (ar *proposalAnalysisRepo) RetireMerged(ctx context.Context, tx *gorm.DB, proposalIDs []uuid.UUID, into uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	if len(proposalIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.ProposalAnalysis{}).
		Where("proposal_id IN ?", proposalIDs).
		Where("merge_state = ?", types.MergeStateActive).
		Updates(map[string]interface{}{
			"merge_state": types.MergeStateMergedAway,
			"merged_into": into,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (ar *proposalAnalysisRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&types.ProposalAnalysis{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
