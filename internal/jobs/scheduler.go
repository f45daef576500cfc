package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/services"
	"github.com/civicvoice/civicvoice-backend/internal/utils"
)

// Scheduler runs the background sweeps: analyzing proposals the inline path
// missed, merging detected duplicates and pruning orphaned analyses.
type Scheduler struct {
	log          *logger.Logger
	cron         *cron.Cron
	orchestrator *services.MergeOrchestrator

	analyzeSpec string
	mergeSpec   string
	pruneSpec   string
	jobTimeout  time.Duration
}

func NewScheduler(orchestrator *services.MergeOrchestrator, log *logger.Logger) *Scheduler {
	return &Scheduler{
		log:          log.With("component", "Scheduler"),
		cron:         cron.New(),
		orchestrator: orchestrator,
		analyzeSpec:  utils.GetEnv("JOBS_ANALYZE_CRON", "*/10 * * * *", log),
		mergeSpec:    utils.GetEnv("JOBS_AUTOMERGE_CRON", "0 * * * *", log),
		pruneSpec:    utils.GetEnv("JOBS_PRUNE_CRON", "30 3 * * *", log),
		jobTimeout:   time.Duration(utils.GetEnvAsInt("JOBS_TIMEOUT_SECONDS", 600, log)) * time.Second,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.analyzeSpec, s.runAnalyzeSweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.mergeSpec, s.runAutoMergeSweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.pruneSpec, s.runPruneSweep); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("Background jobs started",
		"analyze", s.analyzeSpec,
		"auto_merge", s.mergeSpec,
		"prune", s.pruneSpec,
	)
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("Background jobs stopped")
}

func (s *Scheduler) runAnalyzeSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	results, err := s.orchestrator.ProcessUnanalyzed(ctx)
	if err != nil {
		s.log.Error("Analyze sweep failed", "error", err)
		return
	}
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	s.log.Info("Analyze sweep finished", "processed", len(results), "failed", failed)
}

func (s *Scheduler) runAutoMergeSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	results, err := s.orchestrator.AutoMerge(ctx)
	if err != nil {
		s.log.Error("Auto-merge sweep failed", "error", err)
		return
	}
	merged := 0
	for _, r := range results {
		if r.Success {
			merged++
		}
	}
	s.log.Info("Auto-merge sweep finished", "attempted", len(results), "merged", merged)
}

func (s *Scheduler) runPruneSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	deleted, err := s.orchestrator.PruneOrphanedAnalyses(ctx)
	if err != nil {
		s.log.Error("Prune sweep failed", "error", err)
		return
	}
	s.log.Info("Prune sweep finished", "deleted", deleted)
}
