package stream

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyStreaming is returned by Start when a session is already active
	ErrAlreadyStreaming = errors.New("already streaming")

	// ErrTooFewBuffers is returned when fewer than two ring buffers are requested.
	// With a single buffer every fill overwrites the frame being read.
	ErrTooFewBuffers = errors.New("at least two buffers are required for streaming")

	// ErrNilConsumer is returned when Start is called without a consumer
	ErrNilConsumer = errors.New("consumer is nil, it must be callable")

	// ErrBadGeometry is returned when a frame has zero or negative width or height
	ErrBadGeometry = errors.New("frame width and height must be positive")

	// ErrNoSource is returned when a Config has neither or both of Producer and Hardware
	ErrNoSource = errors.New("exactly one of Producer or Hardware must be set")

	// ErrTimeout is returned by hardware sources when no frame arrived in time
	ErrTimeout = errors.New("timeout waiting for frame")
)

// FatalError wraps an acquisition error that must end the session,
// for example a disconnected or faulted device
type FatalError struct {
	Err error
}

// Error satisfies the error interface
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal acquisition error: %v", e.Err)
}

// Cause returns the wrapped error, for github.com/pkg/errors.Cause
func (e *FatalError) Cause() error { return e.Err }

// Unwrap returns the wrapped error
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as fatal to the session.  Fatal(nil) is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal returns true if err, or anything it wraps, is a *FatalError
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsTimeout returns true if the root cause of err is ErrTimeout
func IsTimeout(err error) bool {
	return errors.Cause(err) == ErrTimeout
}

// OverflowError reports that the fill side lapped the drainer.
// Possible is set when the lap was observed after a burst was delivered,
// in which case the frames may or may not have been overwritten in time.
type OverflowError struct {
	// Delta is the number of unprocessed frames that were observed
	Delta uint64

	// N is the number of buffers in the ring
	N int

	// Possible distinguishes the post-burst warning from a detected overflow
	Possible bool
}

// Error satisfies the error interface
func (e *OverflowError) Error() string {
	if e.Possible {
		return fmt.Sprintf("possible overflow, filler advanced %d frames past the drainer with %d buffers", e.Delta, e.N)
	}
	return fmt.Sprintf("buffer overflow, saw %d new frames but the ring holds %d", e.Delta, e.N)
}

// ConsumerError wraps a failure of the per-frame consumer
type ConsumerError struct {
	// Index is the logical index of the frame being consumed
	Index uint64

	Err error
}

// Error satisfies the error interface
func (e *ConsumerError) Error() string {
	return fmt.Sprintf("consumer failed on frame %d: %v", e.Index, e.Err)
}

// Cause returns the wrapped error
func (e *ConsumerError) Cause() error { return e.Err }

// Unwrap returns the wrapped error
func (e *ConsumerError) Unwrap() error { return e.Err }
