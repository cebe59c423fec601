package usage

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/shared/telemetry"
)

const (
	summaryEndpoint = "/usage/summary"
	historyEndpoint = "/me/usage"
)

// ErrInvalidLogID rejects history ids that would escape the endpoint path.
var ErrInvalidLogID = errors.New("invalid usage log id")

type api interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// Mirror caches the last usage summary the server reported. It is never
// decremented locally.
type Mirror struct {
	api api

	mu      sync.RWMutex
	summary *Summary
}

// NewMirror constructs a Mirror.
func NewMirror(client api) *Mirror {
	return &Mirror{api: client}
}

// Apply replaces the cached summary.
func (m *Mirror) Apply(s Summary) {
	m.mu.Lock()
	m.summary = &s
	m.mu.Unlock()
}

// Clear forgets the cached summary.
func (m *Mirror) Clear() {
	m.mu.Lock()
	m.summary = nil
	m.mu.Unlock()
}

// Summary returns a copy of the cached summary, or nil.
func (m *Mirror) Summary() *Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.summary == nil {
		return nil
	}
	s := *m.summary
	return &s
}

// Banner renders the cached summary.
func (m *Mirror) Banner() Banner {
	return RenderBanner(m.Summary())
}

// Refresh fetches the summary from the server. On failure the previous value
// is kept and the error is returned so callers can react to an expired
// session. A body of an unexpected shape is logged and ignored.
func (m *Mirror) Refresh(ctx context.Context) error {
	resp, err := m.api.Do(ctx, apiclient.Request{Name: "usage_summary", Method: http.MethodGet, Endpoint: summaryEndpoint})
	if err != nil {
		telemetry.Warn("usage.refresh.failed", map[string]any{"error": err})
		return err
	}
	var body any
	if err := resp.Decode(&body); err != nil {
		telemetry.Warn("usage.refresh.failed", map[string]any{"error": err})
		return err
	}
	s, ok := ParseSummary(body)
	if !ok {
		telemetry.Warn("usage.refresh.unexpected_shape", nil)
		return nil
	}
	m.Apply(s)
	return nil
}

// History lists the signed-in user's past analyses, newest first.
func (m *Mirror) History(ctx context.Context) ([]Log, error) {
	resp, err := m.api.Do(ctx, apiclient.Request{Name: "usage_history", Method: http.MethodGet, Endpoint: historyEndpoint})
	if err != nil {
		return nil, err
	}
	if resp.NoContent {
		return []Log{}, nil
	}
	var logs []Log
	if err := resp.Decode(&logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// HistoryEntry fetches one past analysis.
func (m *Mirror) HistoryEntry(ctx context.Context, id string) (Log, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "/?#") {
		return Log{}, ErrInvalidLogID
	}
	resp, err := m.api.Do(ctx, apiclient.Request{Name: "usage_history_entry", Method: http.MethodGet, Endpoint: historyEndpoint + "/" + url.PathEscape(id)})
	if err != nil {
		return Log{}, err
	}
	var entry Log
	if err := resp.Decode(&entry); err != nil {
		return Log{}, err
	}
	return entry, nil
}
