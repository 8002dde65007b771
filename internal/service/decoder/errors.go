package decoder

import (
	"errors"
	"strings"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
)

var (
	// ErrDecode matches every *DecodeError with errors.Is.
	ErrDecode = errors.New("bundle could not be decoded")
	// errEmptyPayload is returned for a zero-length payload.
	errEmptyPayload = errors.New("payload is empty")
	// errNotJSONObject is returned when a payload does not look like a JSON object.
	errNotJSONObject = errors.New("payload is not a JSON object")
	// errEntryTooLarge is returned when an archive entry exceeds the size limit.
	errEntryTooLarge = errors.New("archive entry exceeds size limit")
	// errScratchEscape is returned when an entry would land outside the scratch directory.
	errScratchEscape = errors.New("entry escapes scratch directory")
	// errUnsafeScratch is returned when the scratch directory is the working or root directory.
	errUnsafeScratch = errors.New("refusing to use scratch directory")
)

// AttemptError records why one format did not match.
type AttemptError struct {
	// Encoding is the format that was tried.
	Encoding bundle.ContentEncoding
	// Err is the parse failure.
	Err error
}

// DecodeError is returned when no format matched the payload.
type DecodeError struct {
	// Attempts lists every failed format in the order tried.
	Attempts []AttemptError
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, attempt.Encoding.String()+": "+attempt.Err.Error())
	}

	return ErrDecode.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap exposes the attempt causes to errors.Is and errors.As.
func (e *DecodeError) Unwrap() []error {
	causes := make([]error, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		causes = append(causes, attempt.Err)
	}

	return causes
}

// Is makes errors.Is(err, ErrDecode) true for every DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
