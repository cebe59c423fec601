package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"greencheck-workspace/internal/shared/telemetry"
)

// Context keys handlers may set to enrich the request log.
const (
	JobGenerationKey = "jobGeneration"
	ViewStateKey     = "viewState"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		generation, _ := c.Get(JobGenerationKey)
		viewState := c.GetString(ViewStateKey)

		telemetry.Info("request.complete", map[string]any{
			"request_id":     RequestIDFromContext(c),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"status":         c.Writer.Status(),
			"duration_ms":    float64(latency.Microseconds()) / 1000.0,
			"workspace_id":   WorkspaceIDFromContext(c),
			"job_generation": generation,
			"view_state":     viewState,
			"client_ip":      c.ClientIP(),
			"user_agent":     c.Request.UserAgent(),
		})
	}
}
