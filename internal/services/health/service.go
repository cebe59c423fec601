package health

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	UpstreamUp       = "up"
	UpstreamDegraded = "degraded"
	UpstreamDown     = "down"
)

// Status is the console's view of the analysis backend.
type Status struct {
	OK        bool   `json:"ok"`
	Upstream  string `json:"upstream"`
	LatencyMs int64  `json:"latency_ms"`
}

// Service probes GET {origin}/health on the analysis backend.
type Service struct {
	origin string
	hc     *http.Client
}

// NewService constructs a new health service.
func NewService(origin string, hc *http.Client) *Service {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	return &Service{origin: strings.TrimRight(origin, "/"), hc: hc}
}

// Status probes the backend once.
func (s *Service) Status(ctx context.Context) Status {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.origin+"/health", nil)
	if err != nil {
		return Status{Upstream: UpstreamDown}
	}
	resp, err := s.hc.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Status{Upstream: UpstreamDown, LatencyMs: latency}
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Status{Upstream: UpstreamDegraded, LatencyMs: latency}
	}
	return Status{OK: true, Upstream: UpstreamUp, LatencyMs: latency}
}
