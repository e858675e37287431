package seriallink

import "errors"

var (
	// ErrNoEndpointsFound is returned when endpoint enumeration comes back empty.
	ErrNoEndpointsFound = errors.New("no serial endpoints found")

	// ErrOpenFailed is returned when the target endpoint cannot be opened.
	ErrOpenFailed = errors.New("failed to open serial endpoint")

	// ErrWriteFailed is returned when a command cannot be written to the link.
	ErrWriteFailed = errors.New("failed to write command")

	// ErrReadTimeout is returned when no sensor response arrives within the
	// response timeout.
	ErrReadTimeout = errors.New("sensor read timed out")

	// ErrInvalidFormat is returned when the awaited response line does not
	// match the two-number sensor pattern.
	ErrInvalidFormat = errors.New("sensor response has invalid format")

	// ErrClosed is returned when an operation is attempted on a closed link.
	ErrClosed = errors.New("serial link is closed")
)
