package cw

import "errors"

// Core error taxonomy. All failures are local and recoverable by the
// caller; nothing in this package terminates the process.
var (
	// ErrInvalidArgument reports a parameter outside its documented range.
	ErrInvalidArgument = errors.New("cw: invalid argument")

	// ErrInvalidState reports malformed call ordering, such as beginning a
	// mark while one is already open. The receiver or keyer is left
	// unchanged and the call is not retried automatically.
	ErrInvalidState = errors.New("cw: invalid call sequence")

	// ErrQueueFull is returned by Enqueue when the tone queue is at
	// capacity. The queue is unchanged; the caller may wait and retry.
	ErrQueueFull = errors.New("cw: tone queue full")

	// ErrQueueEmpty is returned by Dequeue when there is nothing queued.
	ErrQueueEmpty = errors.New("cw: tone queue empty")

	// ErrMarkOutOfRange reports a received mark that fits neither the dot
	// nor the dash window. The receiver stays usable; the caller may
	// resynchronize instead of tearing it down.
	ErrMarkOutOfRange = errors.New("cw: mark length out of range")

	// ErrNotReady is returned by the poll functions when the pending space
	// is not yet long enough to decide anything.
	ErrNotReady = errors.New("cw: not ready")

	// ErrNoiseSpike reports a mark shorter than the noise threshold. The
	// mark is discarded and receiver state is restored.
	ErrNoiseSpike = errors.New("cw: mark discarded as noise spike")
)
