package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/types"
)

type ProposalRepo interface {
	Create(ctx context.Context, tx *gorm.DB, proposals []*types.Proposal) ([]*types.Proposal, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Proposal, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Proposal, error)
	List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Proposal, error)
	ListCandidates(ctx context.Context, tx *gorm.DB, excludeID uuid.UUID, limit int) ([]*types.Proposal, error)
	ListUnanalyzed(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Proposal, error)
	ListEvaluated(ctx context.Context, tx *gorm.DB) ([]*types.Proposal, error)
	ListIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error)
	UpdateAIAnalysis(ctx context.Context, tx *gorm.DB, id uuid.UUID, snapshot types.AIAnalysisSnapshot) error
	IncrementVotes(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	RetireMerged(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, into uuid.UUID) (int64, error)
}

type proposalRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProposalRepo(db *gorm.DB, baseLog *logger.Logger) ProposalRepo {
	repoLog := baseLog.With("repo", "ProposalRepo")
	return &proposalRepo{db: db, log: repoLog}
}

func (pr *proposalRepo) Create(ctx context.Context, tx *gorm.DB, proposals []*types.Proposal) ([]*types.Proposal, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	if len(proposals) == 0 {
		return []*types.Proposal{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&proposals).Error; err != nil {
		return nil, err
	}
	return proposals, nil
}

func (pr *proposalRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Proposal, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	var result types.Proposal
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (pr *proposalRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Proposal, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	var results []*types.Proposal
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// List is the default public listing: merge sources never appear.
func (pr *proposalRepo) List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Proposal, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	var results []*types.Proposal
	q := transaction.WithContext(ctx).
		Where("merge_state <> ?", types.MergeStateMergedAway).
		Where("status NOT IN ?", []string{types.ProposalStatusRejected, types.ProposalStatusMerged}).
		Order("created_at DESC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListCandidates returns proposals eligible for similarity comparison:
// not the proposal under analysis, not rejected/merged, never a merge source.
func (pr *proposalRepo) ListCandidates(ctx context.Context, tx *gorm.DB, excludeID uuid.UUID, limit int) ([]*types.Proposal, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	var results []*types.Proposal
	if err := transaction.WithContext(ctx).
		Where("id <> ?", excludeID).
		Where("merge_state = ?", types.MergeStateActive).
		Where("status NOT IN ?", []string{types.ProposalStatusRejected, types.ProposalStatusMerged}).
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (pr *proposalRepo) ListUnanalyzed(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Proposal, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	var results []*types.Proposal
	if err := transaction.WithContext(ctx).
		Where("ai_analysis IS NULL OR ai_analysis ->> 'quality' IS NULL").
		Where("merge_state = ?", types.MergeStateActive).
		Where("status NOT IN ?", []string{types.ProposalStatusRejected, types.ProposalStatusMerged}).
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListEvaluated returns ranking-eligible proposals; ordering happens in the
// service because the combined metric is computed at query time.
func (pr *proposalRepo) ListEvaluated(ctx context.Context, tx *gorm.DB) ([]*types.Proposal, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	var results []*types.Proposal
	if err := transaction.WithContext(ctx).
		Where("ai_analysis ->> 'quality' IS NOT NULL").
		Where("merge_state <> ?", types.MergeStateMergedAway).
		Where("status NOT IN ?", []string{types.ProposalStatusRejected, types.ProposalStatusMerged}).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (pr *proposalRepo) ListIDs(ctx context.Context, tx *gorm.DB) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	var ids []uuid.UUID
	if err := transaction.WithContext(ctx).
		Model(&types.Proposal{}).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (pr *proposalRepo) UpdateAIAnalysis(ctx context.Context, tx *gorm.DB, id uuid.UUID, snapshot types.AIAnalysisSnapshot) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Proposal{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ai_analysis": datatypes.NewJSONType(snapshot),
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (pr *proposalRepo) IncrementVotes(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Proposal{}).
		Where("id = ?", id).
		Update("votes", gorm.Expr("votes + 1")).Error
}

// RetireMerged soft-retires the given proposals into the merge result. The
// merge_state predicate is the compare-and-swap guard: a proposal already
// retired by a concurrent merge will not match, and the caller must treat a
// short row count as a conflict.
func (pr *proposalRepo) RetireMerged(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, into uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.Proposal{}).
		Where("id IN ?", ids).
		Where("merge_state = ?", types.MergeStateActive).
		Updates(map[string]interface{}{
			"merge_state": types.MergeStateMergedAway,
			"merged_into": into,
			"status":      types.ProposalStatusMerged,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
