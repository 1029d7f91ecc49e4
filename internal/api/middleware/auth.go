// Package middleware provides the gin middleware of the OVPN manager HTTP
// server: request logging, CORS, bearer-token checks for task endpoints,
// session checks for admin pages and the issuance concurrency limit.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ovpn-manager/ovpn-manager/internal/auth"
	"github.com/ovpn-manager/ovpn-manager/internal/config"
	"github.com/ovpn-manager/ovpn-manager/internal/session"
	"go.uber.org/zap"
)

// AuthMiddleware validates HS256 bearer tokens and sets the caller in the context
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get token from Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(parts[1], cfg.JWT.Secret, cfg.JWT.Issuer)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("subject", claims.Subject)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// RequireRole rejects callers whose token does not carry exactly role
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, exists := c.Get("role")
		if !exists {
			c.JSON(http.StatusForbidden, gin.H{"error": "no role in context"})
			c.Abort()
			return
		}

		if userRole != role {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireSession sends browsers without a signed-in user through the login
// flow and brings them back to the requested page afterwards
func RequireSession(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := sessionUser(c, sessions); !ok {
			return
		}
		c.Next()
	}
}

// RequireAdminGroup allows signed-in session users belonging to adminGroup.
// Nobody is allowed while adminGroup is unset.
func RequireAdminGroup(sessions *session.Manager, adminGroup string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminGroup == "" {
			logger.Warn("Admin access denied: admin group is not configured")
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}

		user, ok := sessionUser(c, sessions)
		if !ok {
			return
		}

		if !user.InGroup(adminGroup) {
			logger.Warn("Admin access denied",
				zap.String("subject", user.Subject),
				zap.String("required_group", adminGroup),
				zap.Strings("groups", user.Groups),
			)
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// sessionUser returns the signed-in user, or stashes the requested URL,
// redirects to /login and aborts
func sessionUser(c *gin.Context, sessions *session.Manager) (*session.User, bool) {
	ctx := c.Request.Context()

	user, ok := sessions.GetUser(ctx)
	if !ok {
		sessions.SetNextURL(ctx, c.Request.URL.RequestURI())
		c.Redirect(http.StatusFound, "/login")
		c.Abort()
		return nil, false
	}

	c.Set("subject", user.Subject)
	return user, true
}
