package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/shared/server/middleware"
)

type consoleHarness struct {
	router      *gin.Engine
	backend     *fakeBackend
	workspaceID string
}

func newConsole(t *testing.T) *consoleHarness {
	t.Helper()
	backend, baseURL := startBackend(t)
	reg := NewRegistry(time.Hour, func(id string) (*Controller, error) {
		client, err := apiclient.New(baseURL, 5*time.Second)
		if err != nil {
			return nil, err
		}
		return New(id, client, testOptions(), nil), nil
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Workspace("dev", 3600))
	NewHandler(reg, "").RegisterRoutes(r.Group("/api/v1"))
	return &consoleHarness{router: r, backend: backend, workspaceID: uuid.NewString()}
}

func (h *consoleHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.WorkspaceHeader, h.workspaceID)
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func (h *consoleHarness) upload(t *testing.T, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/job/file", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(middleware.WorkspaceHeader, h.workspaceID)
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func decodeState(t *testing.T, resp *httptest.ResponseRecorder) AppState {
	t.Helper()
	var st AppState
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &st))
	return st
}

type errorPayload struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var out errorPayload
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestConsoleStateStartsOnLanding(t *testing.T) {
	h := newConsole(t)

	resp := h.do(t, http.MethodGet, "/api/v1/state", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	st := decodeState(t, resp)
	assert.Equal(t, h.workspaceID, st.WorkspaceID)
	assert.Equal(t, "landing", string(st.View.State))

	resp = h.do(t, http.MethodGet, "/api/v1/state?fragment=%23register", nil)
	assert.Equal(t, "register_modal", string(decodeState(t, resp).View.State))
}

func TestConsoleFullFlow(t *testing.T) {
	h := newConsole(t)

	resp := h.do(t, http.MethodPost, "/api/v1/session/login", gin.H{"email": testEmail, "password": testPassword})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "onboarding_modal", string(decodeState(t, resp).View.State))

	resp = h.do(t, http.MethodPost, "/api/v1/session/onboarding", gin.H{"company_name": "ACME Bottles", "country": "NL"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "app_idle", string(decodeState(t, resp).View.State))

	resp = h.do(t, http.MethodPut, "/api/v1/job/text", gin.H{"text": "Our bottles are eco-friendly"})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = h.do(t, http.MethodPost, "/api/v1/job/analyze", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	st := decodeState(t, resp)
	assert.Equal(t, "app_results", string(st.View.State))
	require.NotNil(t, st.Job.Analysis)
	assert.Equal(t, 82, st.Job.Analysis.Score)

	resp = h.do(t, http.MethodPost, "/api/v1/job/report", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
	assert.Equal(t, "LeafCheck_ACME.pdf", resp.Header().Get("X-LeafCheck-Filename"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), `filename=LeafCheck_ACME.pdf`)
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF-")))

	resp = h.do(t, http.MethodGet, "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decodeState(t, resp).History, 1)

	resp = h.do(t, http.MethodPost, "/api/v1/job/reset", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "app_idle", string(decodeState(t, resp).View.State))

	resp = h.do(t, http.MethodPost, "/api/v1/session/logout", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "landing", string(decodeState(t, resp).View.State))
}

func TestConsoleHistoryEntry(t *testing.T) {
	h := newConsole(t)

	resp := h.do(t, http.MethodGet, "/api/v1/history/log-1", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "auth_error", decodeError(t, resp).Error.Code)

	h.do(t, http.MethodPost, "/api/v1/session/login", gin.H{"email": testEmail, "password": testPassword})
	resp = h.do(t, http.MethodGet, "/api/v1/history/log-1", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var out struct {
		Entry struct {
			ID     string         `json:"id"`
			Result map[string]any `json:"result_json"`
		} `json:"entry"`
		State AppState `json:"state"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "log-1", out.Entry.ID)
	assert.Equal(t, float64(82), out.Entry.Result["score"])
	assert.Equal(t, h.workspaceID, out.State.WorkspaceID)

	resp = h.do(t, http.MethodGet, "/api/v1/history/log-404", nil)
	assert.Equal(t, "server_error", decodeError(t, resp).Error.Code)
}

func TestConsoleAnalyzeSurvivesClientDisconnect(t *testing.T) {
	h := newConsole(t)
	h.do(t, http.MethodPost, "/api/v1/session/login", gin.H{"email": testEmail, "password": testPassword})
	h.do(t, http.MethodPut, "/api/v1/job/text", gin.H{"text": "Our bottles are eco-friendly"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/job/analyze", nil).WithContext(ctx)
	req.Header.Set(middleware.WorkspaceHeader, h.workspaceID)
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	st := decodeState(t, resp)
	assert.Equal(t, "completed", string(st.Job.Status))
	require.NotNil(t, st.Job.Analysis)
}

func TestConsoleAnalyzeWithoutInputIsValidation(t *testing.T) {
	h := newConsole(t)

	resp := h.do(t, http.MethodPost, "/api/v1/job/analyze", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "validation_error", payload.Error.Code)
	assert.Equal(t, "Please upload an image or provide text to analyze.", payload.Error.Message)
	assert.Equal(t, "analyze", payload.Error.Details["op"])
	assert.Equal(t, "landing", payload.Error.Details["state"])
}

func TestConsoleAnalyzeUnauthorized(t *testing.T) {
	h := newConsole(t)
	h.do(t, http.MethodPut, "/api/v1/job/text", gin.H{"text": "eco"})

	resp := h.do(t, http.MethodPost, "/api/v1/job/analyze", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "auth_error", decodeError(t, resp).Error.Code)
}

func TestConsoleQuotaExceeded(t *testing.T) {
	h := newConsole(t)
	h.do(t, http.MethodPost, "/api/v1/session/login", gin.H{"email": testEmail, "password": testPassword})
	h.backend.setAnalyze(http.StatusTooManyRequests, gin.H{"detail": gin.H{"limit": 3, "remaining_today": 0}})
	h.do(t, http.MethodPut, "/api/v1/job/text", gin.H{"text": "eco"})

	resp := h.do(t, http.MethodPost, "/api/v1/job/analyze", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "quota_exceeded", payload.Error.Code)
	quota, ok := payload.Error.Details["quota"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(0), quota["remaining_today"])
}

func TestConsoleLoginRejectsBadBody(t *testing.T) {
	h := newConsole(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/login", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(t, http.MethodPost, "/api/v1/session/login", gin.H{"email": "not-an-email", "password": "x"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "validation_error", payload.Error.Code)
	assert.Equal(t, "Enter a valid email address.", payload.Error.Message)
}

func TestConsoleUploadFiltersContentType(t *testing.T) {
	h := newConsole(t)

	resp := h.upload(t, "notes.txt", []byte("plain words"))
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "validation_error", decodeError(t, resp).Error.Code)

	resp = h.upload(t, "../ad.png", pngFile().Data)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	st := decodeState(t, resp)
	require.NotNil(t, st.Job.File)
	assert.Equal(t, "image/png", st.Job.File.ContentType)
	assert.NotContains(t, st.Job.File.Name, "/")
}

func TestSupportedUpload(t *testing.T) {
	assert.True(t, SupportedUpload("image/png"))
	assert.True(t, SupportedUpload("application/pdf"))
	assert.True(t, SupportedUpload("image/jpeg; charset=binary"))
	assert.False(t, SupportedUpload("text/plain; charset=utf-8"))
	assert.False(t, SupportedUpload(""))
}
