package domain

import (
	"errors"
	"net/http"
)

// Common domain errors
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrMalformedPayload     = errors.New("malformed interaction payload")
	ErrUpstreamUnavailable  = errors.New("upstream proxy api unavailable")
	ErrUnknownCommand       = errors.New("unknown command")
	ErrConfigInvalid        = errors.New("invalid configuration")
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    int
	Message string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewMalformedPayloadError reports a body that passed authentication but does
// not decode as an interaction.
func NewMalformedPayloadError(cause error) *DomainError {
	return &DomainError{
		Err:     errors.Join(ErrMalformedPayload, cause),
		Code:    http.StatusBadRequest,
		Message: "Malformed Payload",
	}
}

// ErrorResponse is the JSON body returned for protocol-level failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusCode maps an error onto the HTTP status the webhook answers with.
// Errors that carry no mapping are treated as internal failures.
func StatusCode(err error) int {
	var de *DomainError
	if errors.As(err, &de) && de.Code != 0 {
		return de.Code
	}

	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrUnknownCommand):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
