package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/types"
)

type CommentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, comments []*types.Comment) ([]*types.Comment, error)
	ListByProposalID(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) ([]*types.Comment, error)
	Repoint(ctx context.Context, tx *gorm.DB, fromIDs []uuid.UUID, to uuid.UUID) (int64, error)
}

type commentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCommentRepo(db *gorm.DB, baseLog *logger.Logger) CommentRepo {
	repoLog := baseLog.With("repo", "CommentRepo")
	return &commentRepo{db: db, log: repoLog}
}

func (cr *commentRepo) Create(ctx context.Context, tx *gorm.DB, comments []*types.Comment) ([]*types.Comment, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	if len(comments) == 0 {
		return []*types.Comment{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&comments).Error; err != nil {
		return nil, err
	}
	return comments, nil
}

func (cr *commentRepo) ListByProposalID(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) ([]*types.Comment, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	var results []*types.Comment
	if err := transaction.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// Repoint moves every comment on the given proposals to the merge result.
// Runs inside the merge transaction, before retirement, so no comment ever
// references a vanished proposal.
func (cr *commentRepo) Repoint(ctx context.Context, tx *gorm.DB, fromIDs []uuid.UUID, to uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	if len(fromIDs) == 0 {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.Comment{}).
		Where("proposal_id IN ?", fromIDs).
		Updates(map[string]interface{}{
			"proposal_id": to,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
