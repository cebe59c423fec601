package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/apperr"
)

const sessionCookie = "greencheck_auth"

type fakeAuthBackend struct {
	mu           sync.Mutex
	users        map[string]*User
	passwords    map[string]string
	tokens       map[string]string
	calls        map[string]int
	failLogout   bool
	onboardingOK bool
}

func newFakeAuthBackend() *fakeAuthBackend {
	return &fakeAuthBackend{
		users:        map[string]*User{},
		passwords:    map[string]string{},
		tokens:       map[string]string{},
		calls:        map[string]int{},
		onboardingOK: true,
	}
}

func (b *fakeAuthBackend) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func (b *fakeAuthBackend) current(c *gin.Context) *User {
	token, err := c.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	return b.users[b.tokens[token]]
}

func (b *fakeAuthBackend) routes() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		b.mu.Lock()
		b.calls[c.FullPath()]++
		b.mu.Unlock()
		c.Next()
	})

	api.GET("/users/me", func(c *gin.Context) {
		b.mu.Lock()
		defer b.mu.Unlock()
		u := b.current(c)
		if u == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Unauthorized"})
			return
		}
		c.JSON(http.StatusOK, u)
	})
	api.POST("/auth/register", func(c *gin.Context) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.users[body.Email]; ok {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "REGISTER_USER_ALREADY_EXISTS"})
			return
		}
		b.users[body.Email] = &User{ID: "id-" + body.Email, Email: body.Email, IsActive: true}
		b.passwords[body.Email] = body.Password
		c.JSON(http.StatusCreated, b.users[body.Email])
	})
	api.POST("/auth/jwt/login", func(c *gin.Context) {
		email, password := c.PostForm("username"), c.PostForm("password")
		b.mu.Lock()
		defer b.mu.Unlock()
		if pw, ok := b.passwords[email]; !ok || pw != password {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "LOGIN_BAD_CREDENTIALS"})
			return
		}
		token := "tok-" + email
		b.tokens[token] = email
		c.SetCookie(sessionCookie, token, 3600, "/", "", false, true)
		c.Status(http.StatusNoContent)
	})
	api.POST("/auth/jwt/logout", func(c *gin.Context) {
		if b.failLogout {
			c.String(http.StatusInternalServerError, "boom")
			return
		}
		c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
		c.Status(http.StatusNoContent)
	})
	api.POST("/me/onboarding", func(c *gin.Context) {
		var body Onboarding
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		u := b.current(c)
		if u == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Unauthorized"})
			return
		}
		if b.onboardingOK {
			u.CompanyName = body.CompanyName
			u.Sector = body.Sector
			u.Country = body.Country
		}
		c.JSON(http.StatusOK, body)
	})
	return r
}

func newTestManager(t *testing.T, backend *fakeAuthBackend) (*Manager, *apiclient.Client) {
	t.Helper()
	srv := httptest.NewServer(backend.routes())
	t.Cleanup(srv.Close)
	client, err := apiclient.New(srv.URL+"/api/v1", 5*time.Second)
	require.NoError(t, err)
	return NewManager(client), client
}

func TestFetchCurrentUserAnonymousOnFailure(t *testing.T) {
	m, _ := newTestManager(t, newFakeAuthBackend())
	s := m.FetchCurrentUser(context.Background())
	assert.Equal(t, Anonymous, s.Identity)
	assert.Nil(t, s.User)
}

func TestRegisterChainsIntoLogin(t *testing.T) {
	backend := newFakeAuthBackend()
	m, _ := newTestManager(t, backend)

	s, err := m.Register(context.Background(), " ada@example.com ", "secret")
	require.NoError(t, err)
	assert.True(t, s.IsAuthenticated())
	assert.False(t, s.OnboardingComplete)
	assert.Equal(t, "ada@example.com", s.User.Email)
	assert.Equal(t, 1, backend.count("/api/v1/auth/jwt/login"))
	assert.Equal(t, 1, backend.count("/api/v1/users/me"))
}

func TestRegisterDuplicatePropagates(t *testing.T) {
	backend := newFakeAuthBackend()
	m, _ := newTestManager(t, backend)
	_, err := m.Register(context.Background(), "ada@example.com", "secret")
	require.NoError(t, err)
	m.Reset()

	_, err = m.Register(context.Background(), "ada@example.com", "secret")
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindServer, ae.Kind)
	assert.Equal(t, "An account with this email already exists.", ae.Message)
	assert.Equal(t, Anonymous, m.State().Identity)
}

func TestLoginValidationSkipsNetwork(t *testing.T) {
	backend := newFakeAuthBackend()
	m, _ := newTestManager(t, backend)

	tests := []struct {
		name     string
		email    string
		password string
		message  string
	}{
		{name: "missing email", email: "", password: "secret", message: "Email is required."},
		{name: "bad email", email: "ada", password: "secret", message: "Enter a valid email address."},
		{name: "missing password", email: "ada@example.com", password: "", message: "Password is required."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Login(context.Background(), tt.email, tt.password)
			var ae *apperr.Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, apperr.KindValidation, ae.Kind)
			assert.Equal(t, tt.message, ae.Message)
		})
	}
	assert.Equal(t, 0, backend.count("/api/v1/auth/jwt/login"))
}

func TestLoginBadCredentials(t *testing.T) {
	m, _ := newTestManager(t, newFakeAuthBackend())
	_, err := m.Login(context.Background(), "nobody@example.com", "nope")
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.OpLogin, ae.Op)
	assert.Equal(t, "Login failed. Check your email and password.", ae.Message)
	assert.Equal(t, Anonymous, m.State().Identity)
}

func TestOnboardingCompletesGate(t *testing.T) {
	backend := newFakeAuthBackend()
	m, _ := newTestManager(t, backend)
	ctx := context.Background()
	_, err := m.Register(ctx, "ada@example.com", "secret")
	require.NoError(t, err)

	_, err = m.CompleteOnboarding(ctx, Onboarding{CompanyName: "  "})
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "Company name is required.", ae.Message)
	assert.Equal(t, 0, backend.count("/api/v1/me/onboarding"))

	s, err := m.CompleteOnboarding(ctx, Onboarding{CompanyName: "ACME Paper", Sector: "Packaging", Country: "NL"})
	require.NoError(t, err)
	assert.True(t, s.OnboardingComplete)
	assert.Equal(t, "ACME Paper", s.User.CompanyName)
}

func TestLogoutIsTerminalEvenWhenBackendFails(t *testing.T) {
	backend := newFakeAuthBackend()
	m, _ := newTestManager(t, backend)
	ctx := context.Background()
	_, err := m.Register(ctx, "ada@example.com", "secret")
	require.NoError(t, err)

	backend.failLogout = true
	s := m.Logout(ctx)
	assert.Equal(t, Anonymous, s.Identity)

	// The cookie jar was cleared too, so the backend no longer recognises us.
	s = m.FetchCurrentUser(ctx)
	assert.Equal(t, Anonymous, s.Identity)
}

func TestStateIsACopy(t *testing.T) {
	m, _ := newTestManager(t, newFakeAuthBackend())
	m.set(authenticated(User{ID: "u1", Email: "ada@example.com", UseCases: []string{"ads"}}))

	s := m.State()
	s.User.Email = "mallory@example.com"
	s.User.UseCases[0] = "changed"
	assert.Equal(t, "ada@example.com", m.State().User.Email)
	assert.Equal(t, "ads", m.State().User.UseCases[0])
}
