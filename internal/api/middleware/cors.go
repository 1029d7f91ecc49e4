package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ovpn-manager/ovpn-manager/internal/config"
)

// CORSMiddleware lets the configured origins call the landing and download
// endpoints from script. It is a no-op when CORS is disabled.
func CORSMiddleware(security config.SecurityConfig) gin.HandlerFunc {
	if !security.CORSEnabled || len(security.CORSOrigins) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return cors.New(cors.Config{
		AllowOrigins:     security.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Accept", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
