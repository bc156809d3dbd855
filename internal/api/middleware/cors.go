package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/egsm/perftrace/internal/infrastructure/tracing"
)

// The API only reads traces and posts stage transitions.
var (
	corsMethods = []string{"GET", "POST", "OPTIONS"}
	corsHeaders = []string{"Origin", "Accept", "Content-Type", "Content-Length", "Cache-Control", tracing.Header, ComponentHeader}
)

// CORS lets dashboards on the given origins call the API and read the
// correlation header of a response. With no origins every origin is
// allowed, without credentials.
func CORS(origins ...string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  corsMethods,
		AllowHeaders:  corsHeaders,
		ExposeHeaders: []string{tracing.Header},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}
