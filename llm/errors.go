package llm

import "fmt"

// ErrorKind categorizes a backend failure.
type ErrorKind string

const (
	ErrAuth       ErrorKind = "auth"
	ErrRateLimit  ErrorKind = "rate_limit"
	ErrConnection ErrorKind = "connection"
	ErrUnknown    ErrorKind = "unknown"
)

// BackendError is the failure of a single backend call. The router catches
// it and fails over; it is never surfaced raw to callers.
type BackendError struct {
	Backend string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Backend, e.Kind, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// newBackendError wraps err with a classified kind for the given backend.
func newBackendError(backend string, kind ErrorKind, err error) *BackendError {
	return &BackendError{Backend: backend, Kind: kind, Message: err.Error(), Err: err}
}

// kindFromStatus maps an HTTP status code to an error kind.
func kindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 429:
		return ErrRateLimit
	case status >= 500:
		return ErrConnection
	default:
		return ErrUnknown
	}
}

// transportError classifies an error from http.Client.Do. Failures at this
// level (DNS, refused connections, timeouts, cancellation) never carry an
// HTTP status, so they are all connection errors.
func transportError(backend string, err error) *BackendError {
	return newBackendError(backend, ErrConnection, err)
}
