package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ovpn-manager/ovpn-manager/internal/service"
	"go.uber.org/zap"
)

// AdminHandler serves the administrator views
type AdminHandler struct {
	tokens TokenLister
	logger *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(tokens TokenLister, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		tokens: tokens,
		logger: logger,
	}
}

// Status lists issued download tokens
// @Summary List download tokens
// @Produce json
// @Param filter_by query string false "all_records, downloadable or collected"
// @Param time_limit query string false "1h, 12h, 1d, 1w, 1m, 6m or expiring"
// @Success 200 {object} map[string]interface{}
// @Router /admin/status [get]
func (h *AdminHandler) Status(c *gin.Context) {
	var filter service.StatusFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
		return
	}
	filter = filter.Normalize()

	tokens, err := h.tokens.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list download tokens", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list download tokens"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tokens":  tokens,
		"filters": filter,
		"count":   len(tokens),
	})
}
