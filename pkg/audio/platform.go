package audio

import (
	"context"
	"time"
)

// InputStream is an open capture stream, typically a microphone.
//
// ReadSamples blocks until len(p) samples are available or the stream ends.
// It returns the number of samples written to p. After Close, pending and
// future reads return an error.
//
// Implementations must allow Close to be called concurrently with a blocked
// ReadSamples.
type InputStream interface {
	ReadSamples(p []float32) (int, error)
	Close() error
}

// Microphone opens capture streams. Open fails when the device is missing or
// the user denied access.
type Microphone interface {
	Open(ctx context.Context, format Format) (InputStream, error)
}

// Source is a buffer scheduled on an [Output].
type Source interface {
	// Stop silences the source immediately. It does not invoke the source's
	// onEnded callback. Calling Stop more than once is a no-op.
	Stop()
}

// Output is a device output context with its own monotonically increasing
// clock, in the style of a browser AudioContext.
//
// Implementations must be safe for concurrent use. The onEnded callback passed
// to Start is invoked at most once, after the buffer has fully played, and
// never while the implementation holds its own locks or from within Start or
// Stop.
type Output interface {
	// CurrentTime returns the position of the output clock.
	CurrentTime() time.Duration

	// Start schedules buf to begin playing at the given clock position. A
	// position in the past starts the buffer immediately.
	Start(buf Buffer, at time.Duration, onEnded func()) (Source, error)

	// Resume starts the clock if the context is suspended.
	Resume(ctx context.Context) error

	// Format returns the sample format the context renders.
	Format() Format

	// Close stops every source and releases the device.
	Close() error
}

// OutputOpener creates an [Output] on demand.
type OutputOpener func(ctx context.Context) (Output, error)
