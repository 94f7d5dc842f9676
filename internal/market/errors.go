package market

import (
	"errors"
	"fmt"
)

// Sentinel errors for the data layer. Callers branch with errors.Is.
var (
	ErrInputInvalid      = errors.New("input invalid")
	ErrRateLimited       = errors.New("rate limited")
	ErrSymbolUnknown     = errors.New("symbol unknown")
	ErrUpstreamMalformed = errors.New("upstream response malformed")
	ErrInsufficientData  = errors.New("insufficient data")
)

// APIError wraps an upstream HTTP failure with retryability information.
type APIError struct {
	StatusCode int
	Body       string
	Retryable  bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps well-known status codes onto sentinel errors so callers can
// use errors.Is without inspecting status codes themselves.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == 429 || e.StatusCode == 418:
		return ErrRateLimited
	case e.StatusCode == 400 || e.StatusCode == 404:
		return ErrSymbolUnknown
	default:
		return nil
	}
}

// newAPIError classifies an upstream status code. 429/418 and 5xx are
// retryable; client errors are not.
func newAPIError(status int, body string) *APIError {
	return &APIError{
		StatusCode: status,
		Body:       body,
		Retryable:  status == 429 || status == 418 || status >= 500,
	}
}
