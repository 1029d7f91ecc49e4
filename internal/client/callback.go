package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const callbackPage = `<!DOCTYPE html>
<html>
<head><title>Authentication Success</title></head>
<body onload="window.close()">
  <h1>Authentication successful!</h1>
  <p>You can close this browser tab now.</p>
</body>
</html>
`

// ErrCallbackClosed means the callback server stopped before a token arrived
var ErrCallbackClosed = errors.New("callback server closed before a token was received")

// CallbackServer listens on a loopback port for the single redirect that
// carries the download token
type CallbackServer struct {
	listener net.Listener
	server   *http.Server
	tokens   chan string
	once     sync.Once
	done     chan struct{}
	logger   *zap.Logger
}

// NewCallbackServer listens on a free loopback port and starts serving
func NewCallbackServer(logger *zap.Logger) (*CallbackServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &CallbackServer{
		listener: listener,
		tokens:   make(chan string, 1),
		done:     make(chan struct{}),
		logger:   logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/callback", s.handleCallback)

	s.server = &http.Server{Handler: router}
	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Callback server stopped", zap.Error(err))
		}
	}()

	return s, nil
}

// Port returns the loopback port
func (s *CallbackServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *CallbackServer) handleCallback(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.String(http.StatusBadRequest, "missing token")
		return
	}

	accepted := false
	s.once.Do(func() {
		s.tokens <- token
		accepted = true
	})
	if !accepted {
		c.String(http.StatusConflict, "a token was already received")
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(callbackPage))
}

// Wait blocks until a token arrives or ctx ends
func (s *CallbackServer) Wait(ctx context.Context) (string, error) {
	select {
	case token := <-s.tokens:
		return token, nil
	case <-s.done:
		return "", ErrCallbackClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops the server
func (s *CallbackServer) Close(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
