// Package session tracks who is signed in and whether they have completed
// onboarding.
package session

import (
	"context"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/apperr"
	"greencheck-workspace/internal/shared/telemetry"
)

const (
	identityEndpoint   = "/users/me"
	loginEndpoint      = "/auth/jwt/login"
	registerEndpoint   = "/auth/register"
	logoutEndpoint     = "/auth/jwt/logout"
	onboardingEndpoint = "/me/onboarding"
)

// Client is the subset of the API client the manager needs.
type Client interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
	ClearCookies()
}

// Manager owns the Session. Every mutation goes through its methods.
type Manager struct {
	client   Client
	validate *validator.Validate

	mu    sync.RWMutex
	state Session
}

// NewManager returns a Manager in the Anonymous state.
func NewManager(client Client) *Manager {
	return &Manager{client: client, validate: newValidator(), state: anonymous()}
}

// newValidator reports fields by their json names so messages read
// "Company name is required." rather than the Go field name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// State returns a copy of the current session.
func (m *Manager) State() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone()
}

// Reset forces the Anonymous state.
func (m *Manager) Reset() {
	m.set(anonymous())
}

func (m *Manager) set(s Session) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// FetchCurrentUser asks the backend who the cookie belongs to. Any failure
// leaves the session Anonymous; it never returns an error.
func (m *Manager) FetchCurrentUser(ctx context.Context) Session {
	resp, err := m.client.Do(ctx, apiclient.Request{Name: "identity", Method: http.MethodGet, Endpoint: identityEndpoint})
	if err != nil {
		if apiclient.StatusCode(err) != http.StatusUnauthorized {
			telemetry.Warn("session.identity.failed", map[string]any{"error": err})
		}
		m.Reset()
		return m.State()
	}
	var u User
	if err := resp.Decode(&u); err != nil || u.ID == "" {
		telemetry.Warn("session.identity.invalid", map[string]any{"error": err})
		m.Reset()
		return m.State()
	}
	m.set(authenticated(u))
	return m.State()
}

// Login signs in with email and password and hydrates the session.
func (m *Manager) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if err := m.validate.Struct(credentials{Email: email, Password: password}); err != nil {
		return m.State(), apperr.Classify(apperr.OpLogin, err)
	}

	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)
	if _, err := m.client.Do(ctx, apiclient.Request{
		Name:     "login",
		Method:   http.MethodPost,
		Endpoint: loginEndpoint,
		Body:     apiclient.FormBody(form),
	}); err != nil {
		return m.State(), apperr.Classify(apperr.OpLogin, err)
	}

	s := m.FetchCurrentUser(ctx)
	telemetry.Info("session.login", map[string]any{"authenticated": s.IsAuthenticated()})
	return s, nil
}

// Register creates an account and signs in with the same credentials.
func (m *Manager) Register(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	reg := registration{Email: email, Password: password}
	if err := m.validate.Struct(reg); err != nil {
		return m.State(), apperr.Classify(apperr.OpRegister, err)
	}

	if _, err := m.client.Do(ctx, apiclient.Request{
		Name:     "register",
		Method:   http.MethodPost,
		Endpoint: registerEndpoint,
		Body:     apiclient.JSONBody(reg),
	}); err != nil {
		return m.State(), apperr.Classify(apperr.OpRegister, err)
	}
	telemetry.Info("session.register", nil)
	return m.Login(ctx, email, password)
}

// Logout ends the session. The backend call is best effort; the local state
// is Anonymous afterwards in every case.
func (m *Manager) Logout(ctx context.Context) Session {
	if _, err := m.client.Do(ctx, apiclient.Request{Name: "logout", Method: http.MethodPost, Endpoint: logoutEndpoint}); err != nil {
		telemetry.Warn("session.logout.failed", map[string]any{"error": err})
	}
	m.client.ClearCookies()
	m.Reset()
	return m.State()
}

// CompleteOnboarding submits the company profile and re-fetches the user.
func (m *Manager) CompleteOnboarding(ctx context.Context, fields Onboarding) (Session, error) {
	fields.CompanyName = strings.TrimSpace(fields.CompanyName)
	if err := m.validate.Struct(fields); err != nil {
		return m.State(), apperr.Classify(apperr.OpOnboarding, err)
	}

	if _, err := m.client.Do(ctx, apiclient.Request{
		Name:     "onboarding",
		Method:   http.MethodPost,
		Endpoint: onboardingEndpoint,
		Body:     apiclient.JSONBody(fields),
	}); err != nil {
		return m.State(), apperr.Classify(apperr.OpOnboarding, err)
	}
	return m.FetchCurrentUser(ctx), nil
}
