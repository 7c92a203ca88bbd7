// Package audio captures microphone input into recording sessions.
//
// A Source hands out exclusive Streams on an input device. A Session drives
// one Stream from acquisition to a finalized Payload.
package audio

import "context"

// Source acquires exclusive access to an audio input device.
type Source interface {
	// Open acquires the device and starts capturing. A host refusal is
	// reported as a *PermissionError.
	Open(ctx context.Context) (Stream, error)
}

// Stream is a live capture on an acquired device.
//
// Chunks are delivered in arrival order. The channel returned by Chunks is
// closed exactly once, after the final chunk, and only once Stop has been
// called or the device has faulted. Observing that close is the only signal
// that capture has been finalized.
type Stream interface {
	// Chunks returns the channel carrying raw capture data.
	Chunks() <-chan []byte
	// Tracks lists every track held by the stream.
	Tracks() []Track
	// Format describes the PCM layout of the chunks.
	Format() Format
	// Stop ends capture and releases the device. It is safe to call more than once.
	Stop() error
	// Err reports a fault observed during capture, if any.
	Err() error
}

// Track is one held input of a Stream. Stop is idempotent.
type Track interface {
	Stop() error
}

// PermissionError reports that the host refused access to the input device.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string { return e.Err.Error() }

func (e *PermissionError) Unwrap() error { return e.Err }
