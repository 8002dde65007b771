package distribution

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches every *TransportError with errors.Is.
	ErrTransport = errors.New("transport error")
	// errAPIKeyRequired is returned by New when no credential is given.
	errAPIKeyRequired = errors.New("api key must be provided")
	// errBaseURLRequired is returned by New when the endpoint URL is empty or invalid.
	errBaseURLRequired = errors.New("base url must be an absolute http(s) url")
	// errBadHTTPStatus is wrapped for non-2xx responses.
	errBadHTTPStatus = errors.New("unexpected http status")
	// errBundleTooLarge is wrapped when the bundle exceeds the configured limit.
	errBundleTooLarge = errors.New("bundle exceeds size limit")
)

// TransportError describes a failed call to the distribution endpoint.
type TransportError struct {
	// Op is the logical operation: health, catalog or bundle.
	Op string
	// URL is the requested address.
	URL string
	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) true for every TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
