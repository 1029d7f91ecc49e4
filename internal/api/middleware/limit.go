package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimit admits at most n requests at a time. Waiting requests give
// up with 503 when their context ends. n <= 0 disables the limit.
func ConcurrencyLimit(n int) gin.HandlerFunc {
	if n <= 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	slots := semaphore.NewWeighted(int64(n))
	return func(c *gin.Context) {
		if err := slots.Acquire(c.Request.Context(), 1); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
			c.Abort()
			return
		}
		defer slots.Release(1)

		c.Next()
	}
}
