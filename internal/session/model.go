package session

import "strings"

// Identity is who the controller believes is using it.
type Identity string

const (
	Anonymous     Identity = "anonymous"
	Authenticated Identity = "authenticated"
)

// User is the account record as the session backend reports it. It is never
// edited locally; mutations go through the backend and are re-fetched.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	IsActive    bool     `json:"is_active"`
	IsVerified  bool     `json:"is_verified"`
	IsPremium   bool     `json:"is_premium"`
	CompanyName string   `json:"company_name,omitempty"`
	Sector      string   `json:"sector,omitempty"`
	CompanySize string   `json:"company_size,omitempty"`
	Country     string   `json:"country,omitempty"`
	Role        string   `json:"role,omitempty"`
	UseCases    []string `json:"use_cases,omitempty"`
	CustomNeeds string   `json:"custom_needs,omitempty"`
}

// Session is the identity snapshot.
type Session struct {
	Identity           Identity `json:"identity"`
	User               *User    `json:"user,omitempty"`
	OnboardingComplete bool     `json:"onboarding_complete"`
}

// IsAuthenticated reports whether a user is signed in.
func (s Session) IsAuthenticated() bool {
	return s.Identity == Authenticated && s.User != nil
}

func anonymous() Session {
	return Session{Identity: Anonymous}
}

func authenticated(u User) Session {
	return Session{
		Identity:           Authenticated,
		User:               &u,
		OnboardingComplete: strings.TrimSpace(u.CompanyName) != "",
	}
}

func (s Session) clone() Session {
	if s.User == nil {
		return s
	}
	u := *s.User
	u.UseCases = append([]string(nil), s.User.UseCases...)
	s.User = &u
	return s
}

// Onboarding is the company profile submitted to leave the onboarding gate.
type Onboarding struct {
	CompanyName string   `json:"company_name" validate:"required,max=100"`
	Sector      string   `json:"sector,omitempty" validate:"max=100"`
	CompanySize string   `json:"company_size,omitempty" validate:"max=50"`
	Country     string   `json:"country,omitempty" validate:"max=100"`
	Role        string   `json:"role,omitempty" validate:"max=100"`
	UseCases    []string `json:"use_cases,omitempty"`
	CustomNeeds string   `json:"custom_needs,omitempty" validate:"max=500"`
}

type credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registration struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=3"`
}
