package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/ovpn-manager/ovpn-manager/internal/crypto"
	"github.com/ovpn-manager/ovpn-manager/internal/service"
	"go.uber.org/zap"
)

// ProfileContentType is the media type of a served client configuration
const ProfileContentType = "application/x-openvpn-profile"

// DownloadHandler serves issued configurations
type DownloadHandler struct {
	tokens TokenRetriever
	logger *zap.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(tokens TokenRetriever, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		tokens: tokens,
		logger: logger,
	}
}

// Landing points the browser at the download for token
// @Summary Download landing page
// @Produce json,html
// @Param token path string true "Download token"
// @Router /download-landing/{token} [get]
func (h *DownloadHandler) Landing(c *gin.Context) {
	downloadURL := "/download?token=" + url.QueryEscape(c.Param("token"))

	switch c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) {
	case gin.MIMEJSON:
		c.JSON(http.StatusOK, gin.H{"download_url": downloadURL})
	default:
		c.HTML(http.StatusOK, "landing.html", gin.H{"DownloadURL": downloadURL})
	}
}

// Download redeems a token and returns the configuration it guards
// @Summary Download configuration
// @Produce application/x-openvpn-profile
// @Param token query string true "Download token"
// @Success 200 {file} file
// @Failure 401 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /download [get]
func (h *DownloadHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing download token."})
		return
	}

	document, record, err := h.tokens.Retrieve(c.Request.Context(), token)
	if err != nil {
		status, message := downloadError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to retrieve configuration", zap.Error(err))
		} else {
			h.logger.Info("Download refused", zap.String("reason", message), zap.String("ip", c.ClientIP()))
		}
		c.JSON(status, gin.H{"error": message})
		return
	}

	h.logger.Info("Configuration downloaded",
		zap.String("subject", record.Subject),
		zap.String("common_name", record.CommonName),
	)

	c.Header("Content-Disposition", "attachment; filename=config.ovpn")
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, ProfileContentType, document)
}

// downloadError maps a retrieval failure to a status and a message safe to show
func downloadError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrTokenNotFound):
		return http.StatusForbidden, "Invalid download token."
	case errors.Is(err, service.ErrTokenExpired):
		return http.StatusForbidden, "Download token has expired."
	case errors.Is(err, service.ErrTokenCollected):
		return http.StatusForbidden, "This download token has already been used."
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "This token is not available for download."
	case errors.Is(err, crypto.ErrDecryption):
		return http.StatusInternalServerError, "Failed to decrypt configuration data."
	default:
		return http.StatusInternalServerError, "Failed to retrieve configuration data."
	}
}
