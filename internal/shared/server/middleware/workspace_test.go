package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func newWorkspaceRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Workspace("dev", 3600))
	router.GET("/api/v1/state", func(c *gin.Context) {
		c.String(http.StatusOK, WorkspaceIDFromContext(c))
	})
	router.OPTIONS("/api/v1/state", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func TestWorkspaceIssuesCookie(t *testing.T) {
	router := newWorkspaceRouter()
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))

	id := resp.Body.String()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected uuid workspace id, got %q", id)
	}
	cookies := resp.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != WorkspaceCookie || cookies[0].Value != id {
		t.Fatalf("expected %s cookie with id, got %+v", WorkspaceCookie, cookies)
	}
	if !cookies[0].HttpOnly {
		t.Fatalf("expected HttpOnly cookie")
	}
}

func TestWorkspaceReusesCookieAndHeader(t *testing.T) {
	router := newWorkspaceRouter()
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	req.AddCookie(&http.Cookie{Name: WorkspaceCookie, Value: id})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Body.String() != id {
		t.Fatalf("expected cookie id %s, got %s", id, resp.Body.String())
	}

	headerID := uuid.NewString()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	req.AddCookie(&http.Cookie{Name: WorkspaceCookie, Value: id})
	req.Header.Set(WorkspaceHeader, headerID)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Body.String() != headerID {
		t.Fatalf("expected header id to win, got %s", resp.Body.String())
	}
}

func TestWorkspaceReplacesInvalidCookie(t *testing.T) {
	router := newWorkspaceRouter()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	req.AddCookie(&http.Cookie{Name: WorkspaceCookie, Value: "../../etc"})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if _, err := uuid.Parse(resp.Body.String()); err != nil {
		t.Fatalf("expected a fresh uuid, got %q", resp.Body.String())
	}
}

func TestWorkspaceAllowsOptionsWithoutCookie(t *testing.T) {
	router := newWorkspaceRouter()
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodOptions, "/api/v1/state", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if len(resp.Result().Cookies()) != 0 {
		t.Fatalf("expected no cookie on preflight")
	}
}
