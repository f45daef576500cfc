package services

import (
	"context"
	"strings"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/repos"
	"github.com/civicvoice/civicvoice-backend/internal/types"
)

type CreateCategoryInput struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type CreateMinistryInput struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// TaxonomyService manages the category and ministry reference data the
// pipeline classifies proposals against.
type TaxonomyService struct {
	log        *logger.Logger
	categories repos.CategoryRepo
	ministries repos.MinistryRepo
}

func NewTaxonomyService(categories repos.CategoryRepo, ministries repos.MinistryRepo, log *logger.Logger) *TaxonomyService {
	return &TaxonomyService{
		log:        log.With("service", "TaxonomyService"),
		categories: categories,
		ministries: ministries,
	}
}

func (s *TaxonomyService) CreateCategory(ctx context.Context, input CreateCategoryInput) (*types.Category, error) {
	category := &types.Category{
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		IsActive:    true,
	}
	created, err := s.categories.Create(ctx, nil, []*types.Category{category})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (s *TaxonomyService) ListCategories(ctx context.Context) ([]*types.Category, error) {
	return s.categories.ListActive(ctx, nil)
}

func (s *TaxonomyService) CreateMinistry(ctx context.Context, input CreateMinistryInput) (*types.Ministry, error) {
	ministry := &types.Ministry{
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
	}
	created, err := s.ministries.Create(ctx, nil, []*types.Ministry{ministry})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}
