package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ovpn-manager/ovpn-manager/internal/ovpn"
	"github.com/ovpn-manager/ovpn-manager/internal/service"
	"github.com/ovpn-manager/ovpn-manager/internal/session"
	"go.uber.org/zap"
)

const (
	msgAuthenticationFailed = "Authentication failed."
	msgMissingSubject       = "Could not retrieve user subject from token."
	msgGenerationFailed     = "Could not generate configuration file."
)

// AuthHandler runs the browser login flow and hands out download tokens
type AuthHandler struct {
	authenticator Authenticator
	issuer        Issuer
	sessions      *session.Manager
	logger        *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authenticator Authenticator, issuer Issuer, sessions *session.Manager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authenticator: authenticator,
		issuer:        issuer,
		sessions:      sessions,
		logger:        logger,
	}
}

// Login starts a login with the identity provider
// @Summary Start login
// @Description Remember the command-line client's loopback port and the requested option set, then redirect to the identity provider
// @Param cli_port query int false "Loopback port of the command-line client"
// @Param optionset query string false "Option set name"
// @Success 302
// @Router /login [get]
func (h *AuthHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()

	if raw := c.Query("cli_port"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 1 || port > 65535 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'cli_port' provided."})
			return
		}
		h.sessions.SetCLIPort(ctx, port)
	}

	optionSet := c.DefaultQuery("optionset", ovpn.DefaultOptionSet)
	h.sessions.SetOptionSet(ctx, optionSet)

	login := h.authenticator.StartLogin()
	h.sessions.SetLoginState(ctx, session.LoginState{
		State:        login.State,
		Nonce:        login.Nonce,
		CodeVerifier: login.CodeVerifier,
	})

	c.Redirect(http.StatusFound, login.URL)
}

// Callback completes a login and issues a configuration
// @Summary Login callback
// @Description Verify the identity provider response, issue a configuration and redirect to its download
// @Param code query string true "Authorization code"
// @Param state query string true "Login state"
// @Success 302
// @Router /auth [get]
func (h *AuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	login := h.sessions.PopLoginState(ctx)

	if idpErr := c.Query("error"); idpErr != "" {
		h.logger.Warn("Identity provider returned an error",
			zap.String("error", idpErr),
			zap.String("description", c.Query("error_description")),
		)
		redirectToError(c, msgAuthenticationFailed)
		return
	}

	if login.State == "" || c.Query("state") != login.State {
		h.logger.Warn("Login state mismatch", zap.String("ip", c.ClientIP()))
		redirectToError(c, msgAuthenticationFailed)
		return
	}

	code := c.Query("code")
	if code == "" {
		h.logger.Warn("Callback without authorization code")
		redirectToError(c, msgAuthenticationFailed)
		return
	}

	identity, err := h.authenticator.Exchange(ctx, code, login.CodeVerifier, login.Nonce)
	if err != nil {
		h.logger.Warn("Authentication failed", zap.Error(err))
		redirectToError(c, msgAuthenticationFailed)
		return
	}
	if identity == nil || identity.Subject == "" {
		redirectToError(c, msgMissingSubject)
		return
	}

	if err := h.sessions.RenewToken(ctx); err != nil {
		h.logger.Error("Failed to renew session token", zap.Error(err))
		redirectToError(c, msgAuthenticationFailed)
		return
	}
	h.sessions.SetUser(ctx, &session.User{Subject: identity.Subject, Groups: identity.Groups})

	if next := h.sessions.PopNextURL(ctx); isLocalPath(next) {
		c.Redirect(http.StatusFound, next)
		return
	}

	cliPort := h.sessions.PopCLIPort(ctx)
	optionSet := h.sessions.PopOptionSet(ctx)

	token, err := h.issuer.Issue(ctx, identity, optionSet, service.RequestMetadata{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if errors.Is(err, service.ErrIdentity) {
		redirectToError(c, msgMissingSubject)
		return
	}
	if err != nil {
		h.logger.Error("Failed to issue configuration",
			zap.String("subject", identity.Subject),
			zap.Error(err),
		)
		redirectToError(c, msgGenerationFailed)
		return
	}

	if cliPort > 0 {
		c.Redirect(http.StatusFound, fmt.Sprintf("http://localhost:%d/callback?token=%s", cliPort, url.QueryEscape(token)))
		return
	}
	c.Redirect(http.StatusFound, "/download-landing/"+url.PathEscape(token))
}

// isLocalPath accepts same-origin absolute paths only
func isLocalPath(next string) bool {
	return strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") && !strings.HasPrefix(next, "/\\")
}
