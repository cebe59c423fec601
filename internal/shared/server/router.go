package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/pipeline"
	"greencheck-workspace/internal/report"
	"greencheck-workspace/internal/services/health"
	"greencheck-workspace/internal/shared/config"
	"greencheck-workspace/internal/shared/metrics"
	"greencheck-workspace/internal/shared/server/middleware"
	"greencheck-workspace/internal/shared/server/respond"
	localstore "greencheck-workspace/internal/shared/storage/object/local"
	"greencheck-workspace/internal/workspace"
)

// Rate limit groups. Reads are not limited.
const (
	groupRead    = "READ"
	groupWrite   = "WRITE"
	groupAnalyze = "ANALYZE"
)

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(cfg config.Config) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin, cfg.ReportFilenameHeader),
	)

	// Dependencies
	probe, err := apiclient.New(cfg.APIBaseURL, cfg.HTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("api client: %w", err)
	}
	healthSvc := health.NewService(probe.Origin(), probe.HTTPClient())

	var reports *report.Store
	if cfg.ReportDir != "" {
		reports = report.NewStore(localstore.New(cfg.ReportDir))
	}
	opts := pipeline.OptionsFromConfig(cfg)
	registry := workspace.NewRegistry(cfg.WorkspaceTTL, func(id string) (*workspace.Controller, error) {
		client, err := apiclient.New(cfg.APIBaseURL, cfg.HTTPTimeout)
		if err != nil {
			return nil, err
		}
		return workspace.New(id, client, opts, reports), nil
	})
	workspaceHandler := workspace.NewHandler(registry, cfg.ReportFilenameHeader)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		status := healthSvc.Status(c.Request.Context())
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})
	api.GET("/metrics", metrics.Handler())

	console := api.Group("",
		middleware.Workspace(cfg.Env, int(cfg.WorkspaceTTL.Seconds())),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: groupRead,
			GroupFor:     rateLimitGroup,
			Rules: map[string]middleware.RateLimitRule{
				groupWrite:   {Rate: 5, Burst: 20},
				groupAnalyze: {Rate: 0.5, Burst: 5},
			},
		}),
	)
	workspaceHandler.RegisterRoutes(console)

	return r, nil
}

func rateLimitGroup(c *gin.Context) string {
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return groupRead
	}
	path := c.FullPath()
	if strings.HasSuffix(path, "/job/analyze") || strings.HasSuffix(path, "/job/report") {
		return groupAnalyze
	}
	return groupWrite
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8090"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
