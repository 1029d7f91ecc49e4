package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ovpn-manager/ovpn-manager/internal/auth"
	"github.com/ovpn-manager/ovpn-manager/internal/config"
	"github.com/ovpn-manager/ovpn-manager/internal/database/models"
	"github.com/ovpn-manager/ovpn-manager/internal/service"
	"github.com/ovpn-manager/ovpn-manager/internal/session"
	"github.com/stretchr/testify/mock"
)

// MockAuthenticator is a mock implementation of Authenticator for testing
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) StartLogin() *auth.LoginRequest {
	args := m.Called()
	return args.Get(0).(*auth.LoginRequest)
}

func (m *MockAuthenticator) Exchange(ctx context.Context, code, codeVerifier, nonce string) (*auth.Identity, error) {
	args := m.Called(ctx, code, codeVerifier, nonce)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Identity), args.Error(1)
}

// MockIssuer is a mock implementation of Issuer for testing
type MockIssuer struct {
	mock.Mock
}

func (m *MockIssuer) Issue(ctx context.Context, identity *auth.Identity, optionSet string, meta service.RequestMetadata) (string, error) {
	args := m.Called(ctx, identity, optionSet, meta)
	return args.String(0), args.Error(1)
}

// MockTokenService is a mock implementation of the token interfaces for testing
type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) Retrieve(ctx context.Context, token string) ([]byte, *models.DownloadToken, error) {
	args := m.Called(ctx, token)
	var doc []byte
	if b := args.Get(0); b != nil {
		doc = b.([]byte)
	}
	var record *models.DownloadToken
	if r := args.Get(1); r != nil {
		record = r.(*models.DownloadToken)
	}
	return doc, record, args.Error(2)
}

func (m *MockTokenService) Cleanup(ctx context.Context, maxAgeHours int) (int64, error) {
	args := m.Called(ctx, maxAgeHours)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTokenService) List(ctx context.Context, filter service.StatusFilter) ([]*models.DownloadToken, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DownloadToken), args.Error(1)
}

// MockPinger is a mock implementation of Pinger for testing
type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.SetHTMLTemplate(Templates())
	return router
}

func newTestSessions() *session.Manager {
	return session.New(config.SessionConfig{Lifetime: time.Hour, CookieName: "ovpn_session"})
}

// browser replays session cookies across requests
type browser struct {
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newBrowser(h http.Handler) *browser {
	return &browser{handler: h, cookies: map[string]*http.Cookie{}}
}

func (b *browser) get(path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	b.handler.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return w
}
