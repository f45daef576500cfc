package services

import "errors"

var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrAnalysisNotFound = errors.New("analysis not found")
	ErrProposalMerged   = errors.New("proposal has been merged into another proposal")
	ErrNoMergeTargets   = errors.New("no merge targets given")
	ErrTargetsNotFound  = errors.New("one or more merge targets not found")
	ErrMergeConflict    = errors.New("merge conflict: a proposal was merged concurrently")
	ErrMergeLocked      = errors.New("a merge involving these proposals is already in progress")
	ErrInvalidMetric    = errors.New("invalid ranking metric")
)
