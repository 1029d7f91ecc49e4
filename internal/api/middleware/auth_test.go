package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ovpn-manager/ovpn-manager/internal/auth"
	"github.com/ovpn-manager/ovpn-manager/internal/config"
	"github.com/ovpn-manager/ovpn-manager/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:     "test-secret-key-for-testing",
			Expiration: 24 * time.Hour,
			Issuer:     "test-issuer",
		},
	}
}

func serveWithToken(router http.Handler, path, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig()

	newRouter := func() *gin.Engine {
		router := setupTestRouter()
		router.Use(AuthMiddleware(cfg))
		router.GET("/protected", func(c *gin.Context) {
			subject, _ := c.Get("subject")
			role, _ := c.Get("role")
			c.JSON(http.StatusOK, gin.H{"subject": subject, "role": role})
		})
		return router
	}

	t.Run("Valid token allows access", func(t *testing.T) {
		token, err := auth.GenerateToken("cron", auth.RoleTask, cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiration)
		require.NoError(t, err)

		w := serveWithToken(newRouter(), "/protected", token)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"subject":"cron"`)
		assert.Contains(t, w.Body.String(), `"role":"task"`)
	})

	t.Run("Missing Authorization header returns 401", func(t *testing.T) {
		w := serveWithToken(newRouter(), "/protected", "")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "authorization header required")
	})

	t.Run("Invalid Authorization header format returns 401", func(t *testing.T) {
		router := newRouter()

		testCases := []struct {
			name   string
			header string
		}{
			{"No Bearer prefix", "invalid-token"},
			{"Wrong prefix", "Basic invalid-token"},
			{"Only Bearer", "Bearer"},
			{"Empty after Bearer", "Bearer "},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
				req.Header.Set("Authorization", tc.header)

				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)

				assert.Equal(t, http.StatusUnauthorized, w.Code)
			})
		}
	})

	t.Run("Invalid token returns 401", func(t *testing.T) {
		w := serveWithToken(newRouter(), "/protected", "invalid-token")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid or expired token")
	})

	t.Run("Expired token returns 401", func(t *testing.T) {
		token, err := auth.GenerateToken("cron", auth.RoleTask, cfg.JWT.Secret, cfg.JWT.Issuer, -1*time.Hour)
		require.NoError(t, err)

		w := serveWithToken(newRouter(), "/protected", token)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid or expired token")
	})

	t.Run("Token signed with wrong secret returns 401", func(t *testing.T) {
		token, err := auth.GenerateToken("cron", auth.RoleTask, "wrong-secret-key", cfg.JWT.Issuer, time.Hour)
		require.NoError(t, err)

		w := serveWithToken(newRouter(), "/protected", token)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Token from another issuer returns 401", func(t *testing.T) {
		token, err := auth.GenerateToken("cron", auth.RoleTask, cfg.JWT.Secret, "someone-else", time.Hour)
		require.NoError(t, err)

		w := serveWithToken(newRouter(), "/protected", token)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireRole(t *testing.T) {
	cfg := testConfig()

	newRouter := func() *gin.Engine {
		router := setupTestRouter()
		router.Use(AuthMiddleware(cfg))
		router.Use(RequireRole(auth.RoleTask))
		router.GET("/tasks", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "task access granted"})
		})
		return router
	}

	t.Run("Task role can access task endpoint", func(t *testing.T) {
		token, err := auth.GenerateToken("cron", auth.RoleTask, cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiration)
		require.NoError(t, err)

		w := serveWithToken(newRouter(), "/tasks", token)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "task access granted")
	})

	t.Run("Other roles are refused", func(t *testing.T) {
		for _, role := range []string{"admin", "user", ""} {
			token, err := auth.GenerateToken("someone", role, cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiration)
			require.NoError(t, err)

			w := serveWithToken(newRouter(), "/tasks", token)

			assert.Equal(t, http.StatusForbidden, w.Code, "role %q", role)
			assert.Contains(t, w.Body.String(), "insufficient permissions")
		}
	})

	t.Run("Missing role in context returns 403", func(t *testing.T) {
		router := setupTestRouter()
		router.Use(RequireRole(auth.RoleTask))
		router.GET("/tasks", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "task access granted"})
		})

		w := serveWithToken(router, "/tasks", "")

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "no role in context")
	})
}

func TestRequireAdminGroup(t *testing.T) {
	sessions := session.New(config.SessionConfig{Lifetime: time.Hour, CookieName: "ovpn_session"})

	newHandler := func(adminGroup string) http.Handler {
		router := setupTestRouter()
		// Seeds the session user named by the X-Test-User header
		router.GET("/seed", func(c *gin.Context) {
			sessions.SetUser(c.Request.Context(), &session.User{
				Subject: c.GetHeader("X-Test-User"),
				Groups:  []string{c.GetHeader("X-Test-Group")},
			})
			c.Status(http.StatusNoContent)
		})
		router.GET("/admin/status", RequireAdminGroup(sessions, adminGroup, zap.NewNop()), func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "admin access granted"})
		})
		router.GET("/next", func(c *gin.Context) {
			c.String(http.StatusOK, sessions.PopNextURL(c.Request.Context()))
		})
		return sessions.LoadAndSave(router)
	}

	login := func(t *testing.T, h http.Handler, subject, group string) []*http.Cookie {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/seed", nil)
		req.Header.Set("X-Test-User", subject)
		req.Header.Set("X-Test-Group", group)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusNoContent, w.Code)
		return w.Result().Cookies()
	}

	get := func(h http.Handler, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	t.Run("Anonymous browser is sent to login and remembered", func(t *testing.T) {
		h := newHandler("vpn-admins")

		w := get(h, "/admin/status?filter_by=collected", nil)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/login", w.Header().Get("Location"))

		w = get(h, "/next", w.Result().Cookies())
		assert.Equal(t, "/admin/status?filter_by=collected", w.Body.String())
	})

	t.Run("Member of the admin group is allowed", func(t *testing.T) {
		h := newHandler("vpn-admins")
		cookies := login(t, h, "auth|admin", "vpn-admins")

		w := get(h, "/admin/status", cookies)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "admin access granted")
	})

	t.Run("Non-member is refused", func(t *testing.T) {
		h := newHandler("vpn-admins")
		cookies := login(t, h, "auth|user", "engineering")

		w := get(h, "/admin/status", cookies)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Unconfigured admin group refuses everyone", func(t *testing.T) {
		h := newHandler("")
		cookies := login(t, h, "auth|admin", "")

		w := get(h, "/admin/status", cookies)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestConcurrencyLimit(t *testing.T) {
	t.Run("Requests within the limit pass", func(t *testing.T) {
		router := setupTestRouter()
		router.Use(ConcurrencyLimit(1))
		router.GET("/auth", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		for i := 0; i < 3; i++ {
			w := serveWithToken(router, "/auth", "")
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("Waiting request gives up when its context ends", func(t *testing.T) {
		entered := make(chan struct{})
		release := make(chan struct{})

		router := setupTestRouter()
		router.Use(ConcurrencyLimit(1))
		router.GET("/auth", func(c *gin.Context) {
			close(entered)
			<-release
			c.Status(http.StatusOK)
		})

		done := make(chan int)
		go func() {
			w := serveWithToken(router, "/auth", "")
			done <- w.Code
		}()
		<-entered

		req, _ := http.NewRequest(http.MethodGet, "/auth", nil)
		ctx, cancel := context.WithTimeout(req.Context(), 20*time.Millisecond)
		defer cancel()
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req.WithContext(ctx))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		close(release)
		assert.Equal(t, http.StatusOK, <-done)
	})

	t.Run("Zero disables the limit", func(t *testing.T) {
		router := setupTestRouter()
		router.Use(ConcurrencyLimit(0))
		router.GET("/auth", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := serveWithToken(router, "/auth", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireSession(t *testing.T) {
	sessions := session.New(config.SessionConfig{Lifetime: time.Hour, CookieName: "ovpn_session"})

	router := setupTestRouter()
	router.GET("/", RequireSession(sessions), func(c *gin.Context) {
		subject, _ := c.Get("subject")
		c.String(http.StatusOK, "hello %s", subject)
	})
	router.GET("/seed", func(c *gin.Context) {
		sessions.SetUser(c.Request.Context(), &session.User{Subject: "auth|user"})
		c.Status(http.StatusNoContent)
	})
	h := sessions.LoadAndSave(router)

	t.Run("Anonymous browser is redirected to login", func(t *testing.T) {
		w := serveWithToken(h, "/", "")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/login", w.Header().Get("Location"))
	})

	t.Run("Signed-in user reaches the page", func(t *testing.T) {
		w := serveWithToken(h, "/seed", "")
		require.Equal(t, http.StatusNoContent, w.Code)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for _, c := range w.Result().Cookies() {
			req.AddCookie(c)
		}
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hello auth|user", w.Body.String())
	})
}
