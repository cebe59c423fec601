// Package apperr converts failures from every backend collaborator into a
// small, closed taxonomy with user-facing messages.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/shared/util"
	"greencheck-workspace/internal/usage"
)

// Kind is the failure class. The string value doubles as the error code in
// API responses.
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindAuth       Kind = "auth_error"
	KindQuota      Kind = "quota_exceeded"
	KindNetwork    Kind = "network_error"
	KindServer     Kind = "server_error"
)

// Op names the operation boundary that observed the failure.
type Op string

const (
	OpIdentity   Op = "identity"
	OpLogin      Op = "login"
	OpRegister   Op = "register"
	OpLogout     Op = "logout"
	OpOnboarding Op = "onboarding"
	OpExtract    Op = "extract"
	OpAnalyze    Op = "analyze"
	OpReport     Op = "report"
	OpUsage      Op = "usage"
	OpHistory    Op = "history"
)

const networkMessage = "Could not reach the GreenCheck service. Check your connection and try again."

var fallbackMessages = map[Op]string{
	OpIdentity:   "Could not load your account.",
	OpLogin:      "Login failed. Check your email and password.",
	OpRegister:   "Registration failed. Please try again.",
	OpLogout:     "Logout failed.",
	OpOnboarding: "Could not save your company profile. Please try again.",
	OpExtract:    "OCR request failed",
	OpAnalyze:    "Analysis failed. Please try again.",
	OpReport:     "Failed to generate report",
	OpUsage:      "Could not load usage.",
	OpHistory:    "Could not load your analysis history.",
}

// Known backend error codes that are not meant for end users.
var codeMessages = map[string]string{
	"LOGIN_BAD_CREDENTIALS":            "Login failed. Check your email and password.",
	"LOGIN_USER_NOT_VERIFIED":          "Please verify your email address before signing in.",
	"REGISTER_USER_ALREADY_EXISTS":     "An account with this email already exists.",
	"REGISTER_INVALID_PASSWORD":        "Password does not meet the requirements.",
	"UPDATE_USER_EMAIL_ALREADY_EXISTS": "An account with this email already exists.",
}

// Error is a classified failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Op      Op     `json:"op"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
	// Detail is the raw server-provided detail, when there was one.
	Detail string `json:"detail,omitempty"`
	// Quota is set for KindQuota when the rejection carried counters.
	Quota *usage.Summary `json:"quota,omitempty"`
	Err   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus is the status the console server answers with for this error.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindQuota:
		return http.StatusTooManyRequests
	case KindNetwork:
		return http.StatusBadGateway
	default:
		if e.Status >= 400 && e.Status < 600 {
			return e.Status
		}
		return http.StatusBadGateway
	}
}

// Validation builds a locally produced error; no request was sent.
func Validation(op Op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// Is reports whether err is a classified error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// Fallback returns the generic message for op.
func Fallback(op Op) string {
	if msg, ok := fallbackMessages[op]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}

// Classify maps err into the taxonomy. A nil err yields nil and an already
// classified error is returned as is.
func Classify(op Op, err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return &Error{Kind: KindValidation, Op: op, Message: validationMessage(verrs), Err: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || apiclient.IsTransport(err) {
		return &Error{Kind: KindNetwork, Op: op, Message: networkMessage, Err: err}
	}

	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		// Malformed success bodies and local encoding failures.
		return &Error{Kind: KindServer, Op: op, Message: Fallback(op), Err: err}
	}

	status := apiErr.StatusCode
	detail := extractDetail(apiErr.Body)

	switch {
	case status == http.StatusUnauthorized:
		msg := friendly(detail)
		if msg == "" || strings.EqualFold(msg, "unauthorized") {
			msg = "Your session has expired. Please sign in again."
		}
		return &Error{Kind: KindAuth, Op: op, Status: status, Message: msg, Detail: detail, Err: err}

	case status == http.StatusTooManyRequests && op == OpAnalyze:
		out := &Error{Kind: KindQuota, Op: op, Status: status, Detail: detail, Err: err}
		if s, ok := usage.ParseSummary(apiErr.Body); ok {
			out.Quota = &s
		}
		out.Message = QuotaMessage(out.Quota)
		return out
	}

	switch apiErr.Body.(type) {
	case nil, string:
		return &Error{Kind: KindNetwork, Op: op, Status: status, Message: networkMessage, Detail: detail, Err: err}
	}

	msg := friendly(detail)
	if msg == "" {
		msg = Fallback(op)
	}
	return &Error{Kind: KindServer, Op: op, Status: status, Message: msg, Detail: detail, Err: err}
}

// QuotaMessage synthesizes the message shown when the analysis quota rejects
// a request.
func QuotaMessage(s *usage.Summary) string {
	if s == nil || s.Limit == nil || s.RemainingToday == nil {
		return "Daily analysis limit reached."
	}
	limit, remaining := *s.Limit, *s.RemainingToday
	if remaining <= 0 {
		return fmt.Sprintf("You reached your daily limit of %d free analyses. Please come back tomorrow or upgrade to premium.", limit)
	}
	noun := "analyses"
	if remaining == 1 {
		noun = "analysis"
	}
	return fmt.Sprintf("You have %d %s left today (limit: %d).", remaining, noun, limit)
}

func friendly(detail string) string {
	if detail == "" {
		return ""
	}
	if msg, ok := codeMessages[detail]; ok {
		return msg
	}
	return detail
}

// extractDetail pulls the most specific human message out of an error body.
// It understands {detail: "..."}, {detail: {message|msg}}, the validation
// list form {detail: [{msg}]}, {message}, {error: "..."} and {error: {message}}.
func extractDetail(body any) string {
	obj, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	if d, ok := obj["detail"]; ok {
		if msg := messageOf(d); msg != "" {
			return msg
		}
	}
	if msg, ok := obj["message"].(string); ok {
		return util.StripMarkup(msg)
	}
	if e, ok := obj["error"]; ok {
		return messageOf(e)
	}
	return ""
}

func messageOf(v any) string {
	switch d := v.(type) {
	case string:
		return util.StripMarkup(d)
	case map[string]any:
		for _, key := range []string{"message", "msg", "reason", "code"} {
			if s, ok := d[key].(string); ok && strings.TrimSpace(s) != "" {
				return util.StripMarkup(s)
			}
		}
	case []any:
		var parts []string
		for _, item := range d {
			if m, ok := item.(map[string]any); ok {
				if s, ok := m["msg"].(string); ok {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(util.StripMarkupAll(parts), "; ")
	}
	return ""
}

func validationMessage(verrs validator.ValidationErrors) string {
	if len(verrs) == 0 {
		return "Invalid input."
	}
	fe := verrs[0]
	field := humanField(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return fmt.Sprintf("%s must be at least %s characters.", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", field, fe.Param())
	default:
		return field + " is invalid."
	}
}

func humanField(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	if name == "" {
		return "Value"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
