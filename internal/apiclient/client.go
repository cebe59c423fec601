package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"greencheck-workspace/internal/shared/metrics"
	"greencheck-workspace/internal/shared/telemetry"
)

const maxResponseBytes = 32 << 20

// Request describes one call to the backend. Credentials are never part of a
// request; they travel in the client's cookie jar.
type Request struct {
	// Name labels the call in logs and metrics. Defaults to Endpoint.
	Name     string
	Method   string
	Endpoint string
	Body     Body
	Header   http.Header
}

// Response is a successful (2xx) result.
type Response struct {
	StatusCode int
	Header     http.Header
	// NoContent is set for 204 responses and empty bodies.
	NoContent bool
	// JSON holds the body when the response declared a JSON content type.
	JSON json.RawMessage
	// Raw holds the body for any other content type, e.g. a PDF report.
	Raw []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if r == nil || len(r.JSON) == 0 {
		return fmt.Errorf("%w: no json body", ErrMalformedResponse)
	}
	if err := json.Unmarshal(r.JSON, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Client is a thin wrapper around http.Client that normalizes success and
// failure across backend endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	jar        *resettableJar
}

// New constructs a Client rooted at baseURL with its own cookie jar.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient uses hc for transport. hc.Jar is replaced by the client's jar.
func NewWithHTTPClient(baseURL string, hc *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", baseURL)
	}
	jar, err := newResettableJar()
	if err != nil {
		return nil, err
	}
	if hc == nil {
		hc = &http.Client{}
	}
	clone := *hc
	clone.Jar = jar
	return &Client{baseURL: base, httpClient: &clone, jar: jar}, nil
}

// Origin returns scheme://host of the API root.
func (c *Client) Origin() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL
	}
	return u.Scheme + "://" + u.Host
}

// ClearCookies drops every stored credential.
func (c *Client) ClearCookies() {
	c.jar.reset()
}

// HTTPClient exposes the underlying client for auxiliary probes.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Do sends req and classifies the outcome. Non-2xx responses always yield an
// *APIError; requests that never complete yield a *TransportError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	name := req.Name
	if name == "" {
		name = req.Endpoint
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	contentType := ""
	if req.Body != nil {
		r, ct, err := req.Body.encode()
		if err != nil {
			return nil, err
		}
		body, contentType = r, ct
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+ensureLeadingSlash(req.Endpoint), body)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", name, err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.ObserveAPIRequest(name, 0, time.Since(start))
		telemetry.Warn("api.request.failed", map[string]any{
			"endpoint":   name,
			"method":     method,
			"request_id": requestID,
			"error":      err,
		})
		return nil, &TransportError{Endpoint: name, Err: err}
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	metrics.ObserveAPIRequest(name, resp.StatusCode, latency)
	telemetry.Info("api.request", map[string]any{
		"endpoint":    name,
		"method":      method,
		"status":      resp.StatusCode,
		"request_id":  requestID,
		"duration_ms": float64(latency.Microseconds()) / 1000.0,
	})

	respContentType := resp.Header.Get("Content-Type")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body, respContentType)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Endpoint: name, Err: fmt.Errorf("read body: %w", err)}
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone()}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		out.NoContent = true
		return out, nil
	}
	if isJSON(respContentType) {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: %s returned invalid json", ErrMalformedResponse, name)
		}
		out.JSON = json.RawMessage(raw)
		return out, nil
	}
	out.Raw = raw
	return out, nil
}

// readErrorBody mirrors the browser behaviour: JSON when declared, else text,
// else nil when reading or parsing fails.
func readErrorBody(r io.Reader, contentType string) any {
	raw, err := io.ReadAll(io.LimitReader(r, maxResponseBytes))
	if err != nil {
		return nil
	}
	if isJSON(contentType) {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil
		}
		return v
	}
	return string(raw)
}

func isJSON(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

func ensureLeadingSlash(p string) string {
	if p == "" || strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

type resettableJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newResettableJar() (*resettableJar, error) {
	j, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &resettableJar{jar: j}, nil
}

func (r *resettableJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.jar.SetCookies(u, cookies)
}

func (r *resettableJar) Cookies(u *url.URL) []*http.Cookie {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jar.Cookies(u)
}

func (r *resettableJar) reset() {
	j, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		telemetry.Error("api.cookiejar.reset_failed", map[string]any{"error": err})
		return
	}
	r.mu.Lock()
	r.jar = j
	r.mu.Unlock()
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
