package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TaskHandler runs maintenance tasks triggered by a scheduler
type TaskHandler struct {
	tokens        TokenCleaner
	lifetimeHours int
	logger        *zap.Logger
}

// NewTaskHandler creates a new task handler. Records older than lifetimeHours are deleted by cleanup.
func NewTaskHandler(tokens TokenCleaner, lifetimeHours int, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		tokens:        tokens,
		lifetimeHours: lifetimeHours,
		logger:        logger,
	}
}

// CleanupTokens deletes old download token records
// @Summary Delete old download tokens
// @Security BearerAuth
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /tasks/cleanup-tokens [post]
func (h *TaskHandler) CleanupTokens(c *gin.Context) {
	deleted, err := h.tokens.Cleanup(c.Request.Context(), h.lifetimeHours)
	if err != nil {
		h.logger.Error("Token cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "An error occurred during cleanup."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Cleanup successful. Deleted %d records older than %d hours.", deleted, h.lifetimeHours),
		"deleted": deleted,
	})
}
