package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/repos"
	"github.com/civicvoice/civicvoice-backend/internal/types"
	"github.com/civicvoice/civicvoice-backend/internal/utils"
)

type CreateProposalInput struct {
	Title       string      `json:"title" binding:"required"`
	Content     string      `json:"content" binding:"required"`
	UserID      *uuid.UUID  `json:"user_id,omitempty"`
	Categories  []uuid.UUID `json:"categories,omitempty"`
	AutoAnalyze bool        `json:"autoAnalyze,omitempty"`
}

type CreateCommentInput struct {
	Content string     `json:"content" binding:"required"`
	UserID  *uuid.UUID `json:"user_id,omitempty"`
}

// ProposalService owns the proposal lifecycle outside the analysis pipeline:
// creation, listing, voting and comments. Creation optionally hands the new
// proposal straight to the orchestrator for analysis and auto-merge.
type ProposalService struct {
	log          *logger.Logger
	tx           TxRunner
	proposals    repos.ProposalRepo
	comments     repos.CommentRepo
	categories   repos.CategoryRepo
	orchestrator *MergeOrchestrator

	analyzeOnCreate bool
}

func NewProposalService(
	tx TxRunner,
	proposals repos.ProposalRepo,
	comments repos.CommentRepo,
	categories repos.CategoryRepo,
	orchestrator *MergeOrchestrator,
	log *logger.Logger,
) *ProposalService {
	return &ProposalService{
		log:             log.With("service", "ProposalService"),
		tx:              tx,
		proposals:       proposals,
		comments:        comments,
		categories:      categories,
		orchestrator:    orchestrator,
		analyzeOnCreate: utils.GetEnvAsBool("ANALYZE_ON_CREATE", true, log),
	}
}

// Create stores a new proposal and, when enabled, runs auto-analysis on it.
// The proposal is returned even when the analysis step fails; analysis is
// repairable later, a lost submission is not.
func (s *ProposalService) Create(ctx context.Context, input CreateProposalInput) (*types.Proposal, error) {
	assignments := make([]types.CategoryAssignment, 0, len(input.Categories))
	if len(input.Categories) > 0 {
		known, err := s.categories.GetByIDs(ctx, nil, input.Categories)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		for _, c := range known {
			assignments = append(assignments, types.CategoryAssignment{
				CategoryID:     c.ID,
				AssignmentDate: now,
				AssignmentType: types.AssignmentTypeManual,
				Confidence:     1,
			})
		}
	}

	proposal := &types.Proposal{
		Title:      strings.TrimSpace(input.Title),
		Content:    strings.TrimSpace(input.Content),
		Status:     types.ProposalStatusSubmitted,
		UserID:     input.UserID,
		Categories: datatypes.NewJSONSlice(assignments),
		MergeState: types.MergeStateActive,
	}

	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		created, txErr := s.proposals.Create(ctx, tx, []*types.Proposal{proposal})
		if txErr != nil {
			return txErr
		}
		proposal = created[0]
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.analyzeOnCreate || input.AutoAnalyze {
		if _, merged, analyzeErr := s.orchestrator.AutoAnalyzeProposal(ctx, proposal.ID); analyzeErr != nil {
			s.log.Warn("Auto-analysis on create failed", "proposal_id", proposal.ID, "error", analyzeErr.Error())
		} else if merged != nil {
			// The fresh submission was a duplicate and is already folded in;
			// hand back the merge result so the caller sees the live row.
			return merged, nil
		}
	}

	fresh, err := s.proposals.GetByID(ctx, nil, proposal.ID)
	if err != nil || fresh == nil {
		return proposal, nil
	}
	return fresh, nil
}

func (s *ProposalService) GetByID(ctx context.Context, id uuid.UUID) (*types.Proposal, error) {
	proposal, err := s.proposals.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, ErrProposalNotFound
	}
	return proposal, nil
}

// List returns the public listing; merge sources and rejected proposals are
// filtered out at the repository level.
func (s *ProposalService) List(ctx context.Context, limit, offset int) ([]*types.Proposal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.proposals.List(ctx, nil, limit, offset)
}

// Vote increments the vote counter. Voting on a merged-away proposal counts
// toward its merge result instead.
func (s *ProposalService) Vote(ctx context.Context, id uuid.UUID) (*types.Proposal, error) {
	proposal, err := s.proposals.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, ErrProposalNotFound
	}

	targetID := id
	if proposal.IsMergeSource() && proposal.MergedInto != nil {
		targetID = *proposal.MergedInto
	}

	if err := s.proposals.IncrementVotes(ctx, nil, targetID); err != nil {
		return nil, err
	}
	return s.proposals.GetByID(ctx, nil, targetID)
}

// AddComment attaches a comment, following a merged-away proposal to its
// merge result.
func (s *ProposalService) AddComment(ctx context.Context, proposalID uuid.UUID, input CreateCommentInput) (*types.Comment, error) {
	proposal, err := s.proposals.GetByID(ctx, nil, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, ErrProposalNotFound
	}

	targetID := proposalID
	if proposal.IsMergeSource() && proposal.MergedInto != nil {
		targetID = *proposal.MergedInto
	}

	comment := &types.Comment{
		ProposalID: targetID,
		UserID:     input.UserID,
		Content:    strings.TrimSpace(input.Content),
	}
	created, err := s.comments.Create(ctx, nil, []*types.Comment{comment})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (s *ProposalService) ListComments(ctx context.Context, proposalID uuid.UUID) ([]*types.Comment, error) {
	proposal, err := s.proposals.GetByID(ctx, nil, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal == nil {
		return nil, ErrProposalNotFound
	}

	targetID := proposalID
	if proposal.IsMergeSource() && proposal.MergedInto != nil {
		targetID = *proposal.MergedInto
	}
	return s.comments.ListByProposalID(ctx, nil, targetID)
}
