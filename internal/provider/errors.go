package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies adapter failures so callers never have to inspect messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidEndpoint
	KindModelNotFound
	KindFetchModelsFailed
	KindAPI
)

// Sentinels for errors.Is checks against an *Error of the matching kind.
var (
	ErrInvalidEndpoint   = errors.New("invalid endpoint")
	ErrModelNotFound     = errors.New("model not found")
	ErrFetchModelsFailed = errors.New("fetch models failed")
	ErrAPI               = errors.New("api error")
	ErrUnknown           = errors.New("unknown error")
)

// ErrEmptyBody indicates the upstream answered a streamed request without a body.
var ErrEmptyBody = errors.New("response body is empty")

func (k Kind) String() string {
	switch k {
	case KindInvalidEndpoint:
		return "INVALID_ENDPOINT"
	case KindModelNotFound:
		return "MODEL_NOT_FOUND"
	case KindFetchModelsFailed:
		return "FETCH_MODELS_FAILED"
	case KindAPI:
		return "API_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidEndpoint:
		return ErrInvalidEndpoint
	case KindModelNotFound:
		return ErrModelNotFound
	case KindFetchModelsFailed:
		return ErrFetchModelsFailed
	case KindAPI:
		return ErrAPI
	default:
		return ErrUnknown
	}
}

// Error is the typed failure surfaced by the chat adapter.
// Message is what a user should see; Status mirrors an HTTP status.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

// Error implements error.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Code is the machine-readable name of the error kind.
func (e *Error) Code() string {
	return e.Kind.String()
}

var _ error = (*Error)(nil)

// InvalidEndpoint reports a transport failure reaching the configured endpoint.
func InvalidEndpoint(endpoint string, err error) *Error {
	return &Error{
		Kind:    KindInvalidEndpoint,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("could not reach endpoint %s", endpoint),
		Err:     err,
	}
}

// ModelNotFound reports a model identifier absent from the resolved catalogue.
func ModelNotFound(id string) *Error {
	return &Error{
		Kind:    KindModelNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("model %q not found", id),
	}
}

// APIError carries the message and status reported by the upstream API verbatim.
func APIError(status int, message string) *Error {
	return &Error{
		Kind:    KindAPI,
		Status:  status,
		Message: message,
	}
}

// AsError converts any error into an *Error, classifying untyped errors as unknown.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{
		Kind:    KindUnknown,
		Status:  http.StatusInternalServerError,
		Message: err.Error(),
		Err:     err,
	}
}
