package workspace

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/pipeline"
	"greencheck-workspace/internal/report"
)

const (
	authCookie   = "greencheck_auth"
	testEmail    = "ada@example.com"
	testPassword = "secret"
)

type fakeBackend struct {
	mu            sync.Mutex
	tokens        map[string]bool
	companyName   string
	analyzeStatus int
	analyzeBody   any
	usageStatus   int
	calls         map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tokens:        map[string]bool{},
		analyzeStatus: http.StatusOK,
		analyzeBody: gin.H{
			"score":           82,
			"level":           "high_risk",
			"triggers":        gin.H{"vague_claims": []string{"eco-friendly"}},
			"recommendations": []any{gin.H{"message": "Cite a certification", "severity": "high"}},
		},
		calls: map[string]int{},
	}
}

func (b *fakeBackend) count(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

// revoke expires every issued session cookie.
func (b *fakeBackend) revoke() {
	b.mu.Lock()
	b.tokens = map[string]bool{}
	b.mu.Unlock()
}

func (b *fakeBackend) setAnalyze(status int, body any) {
	b.mu.Lock()
	b.analyzeStatus, b.analyzeBody = status, body
	b.mu.Unlock()
}

// failUsage makes the usage summary answer with status.
func (b *fakeBackend) failUsage(status int) {
	b.mu.Lock()
	b.usageStatus = status
	b.mu.Unlock()
}

func (b *fakeBackend) authorized(c *gin.Context) bool {
	token, err := c.Cookie(authCookie)
	if err != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens[token]
}

func (b *fakeBackend) routes() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		b.mu.Lock()
		b.calls[c.FullPath()]++
		b.mu.Unlock()
		c.Next()
	})
	unauthorized := func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Unauthorized"})
	}

	api.GET("/users/me", func(c *gin.Context) {
		if !b.authorized(c) {
			unauthorized(c)
			return
		}
		b.mu.Lock()
		company := b.companyName
		b.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"id": "user-1", "email": testEmail, "is_active": true, "company_name": company})
	})
	api.POST("/auth/jwt/login", func(c *gin.Context) {
		if c.PostForm("username") != testEmail || c.PostForm("password") != testPassword {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "LOGIN_BAD_CREDENTIALS"})
			return
		}
		b.mu.Lock()
		token := fmt.Sprintf("tok-%d", len(b.tokens)+1)
		b.tokens[token] = true
		b.mu.Unlock()
		c.SetCookie(authCookie, token, 3600, "/", "", false, true)
		c.Status(http.StatusNoContent)
	})
	api.POST("/auth/register", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "REGISTER_USER_ALREADY_EXISTS"})
	})
	api.POST("/auth/jwt/logout", func(c *gin.Context) {
		c.SetCookie(authCookie, "", -1, "/", "", false, true)
		c.Status(http.StatusNoContent)
	})
	api.POST("/me/onboarding", func(c *gin.Context) {
		if !b.authorized(c) {
			unauthorized(c)
			return
		}
		var body struct {
			CompanyName string `json:"company_name"`
		}
		_ = c.ShouldBindJSON(&body)
		b.mu.Lock()
		b.companyName = body.CompanyName
		b.mu.Unlock()
		c.Status(http.StatusNoContent)
	})
	api.GET("/usage/summary", func(c *gin.Context) {
		b.mu.Lock()
		status := b.usageStatus
		b.mu.Unlock()
		if !b.authorized(c) || status == http.StatusUnauthorized {
			unauthorized(c)
			return
		}
		c.JSON(http.StatusOK, gin.H{"used_today": 1, "remaining_today": 4, "limit": 5, "is_premium": false})
	})
	api.GET("/me/usage", func(c *gin.Context) {
		if !b.authorized(c) {
			unauthorized(c)
			return
		}
		c.JSON(http.StatusOK, []gin.H{{
			"id":                    "log-1",
			"timestamp":             "2026-10-18T09:00:00Z",
			"input_type":            "text",
			"premium_features_used": false,
			"duration_ms":           900,
		}})
	})
	api.GET("/me/usage/:id", func(c *gin.Context) {
		if !b.authorized(c) {
			unauthorized(c)
			return
		}
		if c.Param("id") != "log-1" {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Usage log not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":                    "log-1",
			"timestamp":             "2026-10-18T09:00:00Z",
			"input_type":            "text",
			"premium_features_used": false,
			"duration_ms":           900,
			"result_json":           gin.H{"score": 82},
		})
	})
	api.POST("/ocr", func(c *gin.Context) {
		if _, err := c.FormFile("file"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "file missing"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": "Certified green packaging", "confidences": []float64{0.97}})
	})
	api.POST("/analyze", func(c *gin.Context) {
		if !b.authorized(c) {
			unauthorized(c)
			return
		}
		b.mu.Lock()
		status, body := b.analyzeStatus, b.analyzeBody
		b.mu.Unlock()
		c.JSON(status, body)
	})
	api.POST("/report", func(c *gin.Context) {
		if !b.authorized(c) {
			unauthorized(c)
			return
		}
		c.Header("X-LeafCheck-Filename", "LeafCheck_ACME.pdf")
		c.Data(http.StatusOK, "application/pdf", onePagePDF())
	})
	return r
}

func onePagePDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func startBackend(t *testing.T) (*fakeBackend, string) {
	t.Helper()
	backend := newFakeBackend()
	srv := httptest.NewServer(backend.routes())
	t.Cleanup(srv.Close)
	return backend, srv.URL + "/api/v1"
}

func testOptions() pipeline.Options {
	return pipeline.Options{StepInterval: time.Hour}
}

func newTestController(t *testing.T, reports *report.Store) (*Controller, *fakeBackend) {
	t.Helper()
	backend, baseURL := startBackend(t)
	client, err := apiclient.New(baseURL, 5*time.Second)
	require.NoError(t, err)
	ctl := New("ws-test", client, testOptions(), reports)
	t.Cleanup(ctl.Close)
	return ctl, backend
}

func pngFile() apiclient.File {
	return apiclient.NewFile("ad.png", "", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRfake image bytes"))
}
