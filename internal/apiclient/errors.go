package apiclient

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse marks a 2xx JSON body that could not be decoded. It
// indicates a contract mismatch with the backend, not a user-facing failure.
var ErrMalformedResponse = errors.New("malformed response body")

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	// Body is the decoded JSON value, the raw text, or nil when the body
	// could not be read or parsed.
	Body any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed (%d)", e.StatusCode)
}

// TransportError is returned when the request never completed.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status from err, or 0 when err is not an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
