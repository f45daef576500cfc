package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/civicvoice/civicvoice-backend/internal/db"
	"github.com/civicvoice/civicvoice-backend/internal/handlers"
	"github.com/civicvoice/civicvoice-backend/internal/jobs"
	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/middleware"
	"github.com/civicvoice/civicvoice-backend/internal/observability"
	"github.com/civicvoice/civicvoice-backend/internal/repos"
	"github.com/civicvoice/civicvoice-backend/internal/server"
	"github.com/civicvoice/civicvoice-backend/internal/services"
	"github.com/civicvoice/civicvoice-backend/internal/utils"
)

func main() {
	bootstrapLog, err := logger.New("dev")
	if err != nil {
		panic(err)
	}

	logMode := utils.GetEnv("LOG_MODE", "dev", bootstrapLog)
	log, err := logger.New(logMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "civicvoice-backend",
		Environment: utils.GetEnv("APP_ENV", "dev", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				log.Warn("otel shutdown failed", "error", err)
			}
		}()
	}

	postgres, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Failed to initialize Postgres", "error", err)
	}
	if err := postgres.AutoMigrateAll(); err != nil {
		log.Fatal("Failed to migrate Postgres tables", "error", err)
	}

	var rdb *redis.Client
	if addr := utils.GetEnv("REDIS_ADDR", "", log); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: utils.GetEnv("REDIS_PASSWORD", "", log),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, merge locks disabled", "error", err)
			rdb = nil
		}
	}

	gormDB := postgres.DB()
	txRunner := services.NewTxRunner(gormDB)

	proposalRepo := repos.NewProposalRepo(gormDB, log)
	analysisRepo := repos.NewProposalAnalysisRepo(gormDB, log)
	commentRepo := repos.NewCommentRepo(gormDB, log)
	categoryRepo := repos.NewCategoryRepo(gormDB, log)
	ministryRepo := repos.NewMinistryRepo(gormDB, log)
	callLogRepo := repos.NewAICallLogRepo(gormDB, log)

	geminiClient, err := services.NewGeminiClient(log)
	if err != nil {
		log.Fatal("Failed to initialize Gemini client", "error", err)
	}
	oracle := services.NewProposalOracle(geminiClient, callLogRepo, log)

	lockTTL := time.Duration(utils.GetEnvAsInt("MERGE_LOCK_TTL_SECONDS", 120, log)) * time.Second
	locker := services.NewMergeLocker(rdb, lockTTL, log)

	orchestrator := services.NewMergeOrchestrator(
		txRunner,
		proposalRepo,
		analysisRepo,
		commentRepo,
		categoryRepo,
		oracle,
		locker,
		log,
	)
	proposalService := services.NewProposalService(
		txRunner,
		proposalRepo,
		commentRepo,
		categoryRepo,
		orchestrator,
		log,
	)
	taxonomyService := services.NewTaxonomyService(categoryRepo, ministryRepo, log)

	if utils.GetEnvAsBool("JOBS_ENABLED", true, log) {
		scheduler := jobs.NewScheduler(orchestrator, log)
		if err := scheduler.Start(); err != nil {
			log.Fatal("Failed to start background jobs", "error", err)
		}
		defer scheduler.Stop()
	}

	healthcheckHandler := handlers.NewHealthcheckHandler()
	proposalHandler := handlers.NewProposalHandler(proposalService, taxonomyService, log)
	aiHandler := handlers.NewAIHandler(orchestrator, log)
	authMiddleware := middleware.NewAuthMiddleware(log)

	srv := server.New(healthcheckHandler, proposalHandler, aiHandler, authMiddleware, log)
	if err := srv.Run(); err != nil {
		log.Fatal("HTTP server exited", "error", err)
	}
}
