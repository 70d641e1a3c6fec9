package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors of the framework. Callers classify with errors.Is.
var (
	// ErrValidation covers null or empty required arguments. Raised
	// synchronously, before any I/O.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateContent means a file with the same md5 hash is already
	// stored. Raised before any node is contacted.
	ErrDuplicateContent = errors.New("file content already stored")

	// ErrStorageBackend covers local persistent store failures.
	ErrStorageBackend = errors.New("storage backend failure")

	// ErrNodeUnreachable covers network or timeout failures talking to a
	// storage node. Never fatal to the overall operation.
	ErrNodeUnreachable = errors.New("storage node unreachable")

	// ErrMalformedReply covers bad JSON or missing fields in a node reply.
	// Control-flow equivalent to ErrNodeUnreachable.
	ErrMalformedReply = errors.New("malformed node reply")

	// ErrNotFound is the generic absent-record error.
	ErrNotFound = errors.New("not found")
)

// Validation wraps ErrValidation with a field description.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsNodeFailure reports whether the error is a per-node failure that should
// advance to the next candidate.
func IsNodeFailure(err error) bool {
	return errors.Is(err, ErrNodeUnreachable) || errors.Is(err, ErrMalformedReply)
}
