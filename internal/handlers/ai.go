package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/services"
)

// AIHandler exposes the analysis and merge pipeline over HTTP.
type AIHandler struct {
	log          *logger.Logger
	orchestrator *services.MergeOrchestrator
}

func NewAIHandler(orchestrator *services.MergeOrchestrator, log *logger.Logger) *AIHandler {
	return &AIHandler{
		log:          log.With("handler", "AIHandler"),
		orchestrator: orchestrator,
	}
}

func (h *AIHandler) Analyze(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	force := c.Query("force") == "true"

	analysis, err := h.orchestrator.AnalyzeProposal(c.Request.Context(), id, force)
	if err != nil {
		h.log.Error("Analysis failed", "proposal_id", id, "error", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (h *AIHandler) GetAnalysis(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	analysis, similar, err := h.orchestrator.GetAnalysis(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis, "similar_proposals": similar})
}

type mergeRequest struct {
	TargetIDs []uuid.UUID `json:"target_ids" binding:"required"`
}

func (h *AIHandler) Merge(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	merged, err := h.orchestrator.MergeProposals(c.Request.Context(), id, req.TargetIDs)
	if err != nil {
		h.log.Error("Merge failed", "source_id", id, "error", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, merged)
}

func (h *AIHandler) AutoAnalyze(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	analysis, merged, err := h.orchestrator.AutoAnalyzeProposal(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if merged != nil {
		c.JSON(http.StatusCreated, gin.H{"analysis": analysis, "merged": merged})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}

type analyzeSummaryRequest struct {
	Summary string `json:"summary" binding:"required"`
}

func (h *AIHandler) AnalyzeSummary(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req analyzeSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	analysis, err := h.orchestrator.AnalyzeProposalSummary(c.Request.Context(), id, req.Summary)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (h *AIHandler) Reevaluate(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	analysis, err := h.orchestrator.ReevaluateProposal(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

func (h *AIHandler) Summary(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	summary, err := h.orchestrator.AnalyzeSummary(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal_id": id, "summary": summary})
}

func (h *AIHandler) ProcessUnanalyzed(c *gin.Context) {
	results, err := h.orchestrator.ProcessUnanalyzed(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (h *AIHandler) AutoMerge(c *gin.Context) {
	results, err := h.orchestrator.AutoMerge(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (h *AIHandler) PruneOrphanedAnalyses(c *gin.Context) {
	deleted, err := h.orchestrator.PruneOrphanedAnalyses(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *AIHandler) TopProposals(c *gin.Context) {
	metric := c.DefaultQuery("metric", services.MetricCombined)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	proposals, err := h.orchestrator.GetTopProposals(c.Request.Context(), metric, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metric": metric, "proposals": proposals})
}
