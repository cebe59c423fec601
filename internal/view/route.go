// Package view derives the single visible screen from session and pipeline
// state. Route is pure: the same inputs always give the same View.
package view

import (
	"strings"

	"greencheck-workspace/internal/apperr"
	"greencheck-workspace/internal/pipeline"
	"greencheck-workspace/internal/session"
)

// State is one of the mutually exclusive screens.
type State string

const (
	Landing         State = "landing"
	LoginModal      State = "login_modal"
	RegisterModal   State = "register_modal"
	OnboardingModal State = "onboarding_modal"
	AppIdle         State = "app_idle"
	AppInProgress   State = "app_in_progress"
	AppResults      State = "app_results"
	History         State = "history"
	Account         State = "account"
)

// View is the routed screen plus the error to display on it, if any.
type View struct {
	State State         `json:"state"`
	Error *apperr.Error `json:"error,omitempty"`
}

// Route applies, in order: anonymous routing by fragment, the onboarding
// gate, then fragment and pipeline status for signed-in users.
func Route(s session.Session, status pipeline.Status, jobErr *apperr.Error, fragment string) View {
	frag := NormalizeFragment(fragment)

	if !s.IsAuthenticated() {
		switch frag {
		case "login":
			return View{State: LoginModal}
		case "register":
			return View{State: RegisterModal}
		default:
			return View{State: Landing}
		}
	}

	if !s.OnboardingComplete {
		return View{State: OnboardingModal}
	}

	switch frag {
	case "history":
		return View{State: History}
	case "account":
		return View{State: Account}
	}

	switch status {
	case pipeline.StatusExtracting, pipeline.StatusAnalyzing:
		return View{State: AppInProgress}
	case pipeline.StatusCompleted:
		return View{State: AppResults}
	case pipeline.StatusFailed:
		return View{State: AppIdle, Error: jobErr}
	default:
		return View{State: AppIdle}
	}
}

// ForJob routes using a pipeline snapshot.
func ForJob(s session.Session, job pipeline.Job, fragment string) View {
	return Route(s, job.Status, job.Error, fragment)
}

// NormalizeFragment lowercases a URL fragment and strips the leading '#',
// any query part and surrounding slashes.
func NormalizeFragment(fragment string) string {
	f := strings.TrimSpace(fragment)
	f = strings.TrimPrefix(f, "#")
	if i := strings.IndexAny(f, "?&"); i >= 0 {
		f = f[:i]
	}
	return strings.ToLower(strings.Trim(f, "/"))
}
