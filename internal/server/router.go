package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/civicvoice/civicvoice-backend/internal/handlers"
	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/middleware"
	"github.com/civicvoice/civicvoice-backend/internal/types"
	"github.com/civicvoice/civicvoice-backend/internal/utils"
)

type Server struct {
	log    *logger.Logger
	engine *gin.Engine
	port   string
}

func New(
	healthcheck *handlers.HealthcheckHandler,
	proposals *handlers.ProposalHandler,
	ai *handlers.AIHandler,
	auth *middleware.AuthMiddleware,
	log *logger.Logger,
) *Server {
	mode := utils.GetEnv("GIN_MODE", gin.DebugMode, log)
	gin.SetMode(mode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("civicvoice-backend"))

	allowedOrigins := utils.GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000", log)
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(allowedOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	engine.GET("/healthcheck", healthcheck.Healthcheck)

	api := engine.Group("/api")
	{
		api.GET("/proposals", proposals.List)
		api.GET("/proposals/top", ai.TopProposals)
		api.GET("/proposals/:id", proposals.GetByID)
		api.GET("/proposals/:id/comments", proposals.ListComments)
		api.GET("/proposals/:id/analysis", ai.GetAnalysis)
		api.GET("/proposals/:id/summary", ai.Summary)
		api.GET("/categories", proposals.ListCategories)

		authed := api.Group("")
		authed.Use(auth.RequireAuth())
		{
			authed.POST("/proposals", proposals.Create)
			authed.POST("/proposals/:id/vote", proposals.Vote)
			authed.POST("/proposals/:id/comments", proposals.AddComment)
		}

		staff := api.Group("")
		staff.Use(auth.RequireAuth(), auth.RequireRole(types.UserRoleMinistry, types.UserRoleAdmin))
		{
			staff.POST("/proposals/:id/analyze", ai.Analyze)
			staff.POST("/proposals/:id/auto-analyze", ai.AutoAnalyze)
			staff.POST("/proposals/:id/evaluate", ai.Reevaluate)
			staff.POST("/proposals/:id/analyze-summary", ai.AnalyzeSummary)
			staff.POST("/proposals/:id/merge", ai.Merge)
			staff.POST("/proposals/process-unanalyzed", ai.ProcessUnanalyzed)
			staff.POST("/proposals/auto-merge", ai.AutoMerge)
			staff.POST("/cleanup/orphaned-analyses", ai.PruneOrphanedAnalyses)
		}

		admin := api.Group("")
		admin.Use(auth.RequireAuth(), auth.RequireRole(types.UserRoleAdmin))
		{
			admin.POST("/categories", proposals.CreateCategory)
			admin.POST("/ministries", proposals.CreateMinistry)
		}
	}

	return &Server{
		log:    log.With("component", "Server"),
		engine: engine,
		port:   utils.GetEnv("PORT", "8080", log),
	}
}

func (s *Server) Run() error {
	s.log.Info("Starting HTTP server", "port", s.port)
	return s.engine.Run(":" + s.port)
}
