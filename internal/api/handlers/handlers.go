// Package handlers implements the HTTP endpoints of the OVPN manager: the
// OIDC login flow that issues configurations, the one-time download, the
// cleanup task, the admin status listing and the small support pages.
package handlers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/ovpn-manager/ovpn-manager/internal/auth"
	"github.com/ovpn-manager/ovpn-manager/internal/database/models"
	"github.com/ovpn-manager/ovpn-manager/internal/service"
)

// Authenticator runs the identity provider side of a login
type Authenticator interface {
	StartLogin() *auth.LoginRequest
	Exchange(ctx context.Context, code, codeVerifier, nonce string) (*auth.Identity, error)
}

// Issuer creates a client configuration for a verified identity
type Issuer interface {
	Issue(ctx context.Context, identity *auth.Identity, optionSet string, meta service.RequestMetadata) (string, error)
}

// TokenRetriever redeems download tokens
type TokenRetriever interface {
	Retrieve(ctx context.Context, token string) ([]byte, *models.DownloadToken, error)
}

// TokenCleaner deletes old download token records
type TokenCleaner interface {
	Cleanup(ctx context.Context, maxAgeHours int) (int64, error)
}

// TokenLister lists download token records for administrators
type TokenLister interface {
	List(ctx context.Context, filter service.StatusFilter) ([]*models.DownloadToken, error)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// redirectToError sends the browser to the error page with a generic message
func redirectToError(c *gin.Context, message string) {
	c.Redirect(http.StatusFound, "/error?message="+url.QueryEscape(message))
}
