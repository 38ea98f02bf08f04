package authclient

import (
	"errors"
	"fmt"
)

const internalErrorMessage = "Internal server error"

var (
	// ErrRefreshFailed is the cause of an InternalError when the refresh endpoint answered non-2xx
	ErrRefreshFailed = errors.New("failed to refresh")

	// ErrNoToken is returned by TokenSource when the client holds no access token
	ErrNoToken = errors.New("no access token")
)

// RequestError reports a non-2xx response. Message is the backend's "message" field.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return e.Message
}

// InternalError covers every failure that is not a backend-reported error:
// transport failures, undecodable bodies and failed refreshes. Its message is
// fixed; the underlying cause is only reachable through Unwrap.
type InternalError struct {
	cause error
}

func (e *InternalError) Error() string {
	return internalErrorMessage
}

func (e *InternalError) Unwrap() error {
	return e.cause
}

func newInternalError(format string, args ...any) *InternalError {
	return &InternalError{cause: fmt.Errorf(format, args...)}
}

// IsRequestError reports whether err carries a backend error response
func IsRequestError(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr)
}

// IsInternalError reports whether err is an InternalError
func IsInternalError(err error) bool {
	var intErr *InternalError
	return errors.As(err, &intErr)
}

// StatusCode returns the HTTP status of a RequestError in err's chain
func StatusCode(err error) (int, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode, true
	}
	return 0, false
}
