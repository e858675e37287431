package recorder

import (
	"context"
	"errors"
)

var (
	// ErrEncoderUnavailable is returned when the external encoder binary
	// cannot be located.
	ErrEncoderUnavailable = errors.New("encoder binary not found")

	// ErrDeviceUnavailable is returned when the capture source does not
	// answer a short capability probe.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrEncodingProcess is returned when the encoding process fails to
	// start, exits abnormally, or exits before it was asked to stop.
	ErrEncodingProcess = errors.New("encoding process error")
)

// Encoder drives an external encoding process that continuously writes
// fixed-duration video segments to sequentially numbered output targets.
// How the process reports its progress is an implementation detail behind
// this contract.
type Encoder interface {
	// Start launches the process writing segments to outputPattern, a
	// printf-style pattern with one integer verb for the segment ordinal.
	Start(ctx context.Context, outputPattern string) error

	// SegmentOpened yields the path of each output target as the process
	// begins writing it.
	SegmentOpened() <-chan string

	// Done yields the process exit result exactly once. A receive before
	// Stop was requested means the process died on its own.
	Done() <-chan error

	// Stop requests graceful termination, escalating to a forced kill if
	// the process has not exited within the stop grace period.
	Stop(ctx context.Context) error
}
