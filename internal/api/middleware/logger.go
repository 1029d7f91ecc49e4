package middleware

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ovpn-manager/ovpn-manager/internal/metrics"
	"go.uber.org/zap"
)

const redacted = "[redacted]"

// LoggerMiddleware logs every request and records the HTTP request metrics.
// Download tokens in the path or query are redacted.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		// Route templates keep token values out of metric labels
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(latency.Seconds())

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", redactPath(c)),
			zap.String("query", redactQuery(c.Request.URL.RawQuery)),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		logger.Info("HTTP request", fields...)
	}
}

func redactPath(c *gin.Context) string {
	path := c.Request.URL.Path
	if token := c.Param("token"); token != "" {
		path = strings.Replace(path, token, redacted, 1)
	}
	return path
}

func redactQuery(raw string) string {
	if raw == "" || !strings.Contains(raw, "token=") {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return redacted
	}
	if values.Has("token") {
		values.Set("token", redacted)
	}
	return values.Encode()
}
