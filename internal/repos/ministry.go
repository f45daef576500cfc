package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/types"
)

type MinistryRepo interface {
	Create(ctx context.Context, tx *gorm.DB, ministries []*types.Ministry) ([]*types.Ministry, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Ministry, error)
}

type ministryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMinistryRepo(db *gorm.DB, baseLog *logger.Logger) MinistryRepo {
	repoLog := baseLog.With("repo", "MinistryRepo")
	return &ministryRepo{db: db, log: repoLog}
}

func (mr *ministryRepo) Create(ctx context.Context, tx *gorm.DB, ministries []*types.Ministry) ([]*types.Ministry, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	if len(ministries) == 0 {
		return []*types.Ministry{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&ministries).Error; err != nil {
		return nil, err
	}
	return ministries, nil
}

func (mr *ministryRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Ministry, error) {
	transaction := tx
	if transaction == nil {
		transaction = mr.db
	}
	var results []*types.Ministry
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
