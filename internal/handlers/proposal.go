package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
	"github.com/civicvoice/civicvoice-backend/internal/requestdata"
	"github.com/civicvoice/civicvoice-backend/internal/services"
)

type ProposalHandler struct {
	log      *logger.Logger
	service  *services.ProposalService
	taxonomy *services.TaxonomyService
}

func NewProposalHandler(service *services.ProposalService, taxonomy *services.TaxonomyService, log *logger.Logger) *ProposalHandler {
	return &ProposalHandler{
		log:      log.With("handler", "ProposalHandler"),
		service:  service,
		taxonomy: taxonomy,
	}
}

func (h *ProposalHandler) Create(c *gin.Context) {
	var input services.CreateProposalInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if rd := requestdata.GetRequestData(c.Request.Context()); rd != nil {
		input.UserID = &rd.UserID
	}

	proposal, err := h.service.Create(c.Request.Context(), input)
	if err != nil {
		h.log.Error("Failed to create proposal", "error", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, proposal)
}

func (h *ProposalHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	proposals, err := h.service.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.log.Error("Failed to list proposals", "error", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals, "count": len(proposals)})
}

func (h *ProposalHandler) GetByID(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	proposal, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

func (h *ProposalHandler) Vote(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	proposal, err := h.service.Vote(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

func (h *ProposalHandler) AddComment(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var input services.CreateCommentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if rd := requestdata.GetRequestData(c.Request.Context()); rd != nil {
		input.UserID = &rd.UserID
	}

	comment, err := h.service.AddComment(c.Request.Context(), id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *ProposalHandler) ListComments(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	comments, err := h.service.ListComments(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments, "count": len(comments)})
}

func (h *ProposalHandler) CreateCategory(c *gin.Context) {
	var input services.CreateCategoryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	category, err := h.taxonomy.CreateCategory(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (h *ProposalHandler) ListCategories(c *gin.Context) {
	categories, err := h.taxonomy.ListCategories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (h *ProposalHandler) CreateMinistry(c *gin.Context) {
	var input services.CreateMinistryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ministry, err := h.taxonomy.CreateMinistry(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ministry)
}
