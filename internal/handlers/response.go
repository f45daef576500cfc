package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/civicvoice/civicvoice-backend/internal/services"
)

// respondError maps service sentinel errors onto HTTP statuses. Anything
// unmapped is a 500 with a generic body; details stay in the logs.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrProposalNotFound),
		errors.Is(err, services.ErrAnalysisNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNoMergeTargets),
		errors.Is(err, services.ErrTargetsNotFound),
		errors.Is(err, services.ErrInvalidMetric):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrProposalMerged),
		errors.Is(err, services.ErrMergeConflict),
		errors.Is(err, services.ErrMergeLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
