package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// State is the lifecycle position of a Session.
type State int

const (
	// Idle: no device held. Start may be called.
	Idle State = iota
	// Recording: the device is held and chunks are buffered.
	Recording
	// Processing: capture has ended; the session is finished.
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrSessionStarted is returned by Start on a session that already left Idle.
	ErrSessionStarted = errors.New("audio: session already started")
	// ErrSessionClosed is returned by Start on a session that was torn down.
	ErrSessionClosed = errors.New("audio: session closed")
)

// StartError reports that the device could not be acquired.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return "audio: start capture: " + e.Err.Error() }

func (e *StartError) Unwrap() error { return e.Err }

// PermissionDenied reports whether the host refused device access.
func (e *StartError) PermissionDenied() bool {
	var pe *PermissionError
	return errors.As(e.Err, &pe)
}

// Session owns one recording attempt: Idle -> Recording -> Processing.
// A new Session is needed for every recording.
type Session struct {
	id     string
	source Source

	mu      sync.Mutex
	state   State
	opening bool
	closed  bool
	stream  Stream
	drained chan struct{}
	chunks  [][]byte
	size    int
}

// NewSession creates an idle session that captures from src.
func NewSession(src Source) *Session {
	return &Session{
		id:     uuid.NewString(),
		source: src,
	}
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start acquires the device and begins buffering chunks. On failure the
// session stays Idle and the error is a *StartError.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != Idle || s.opening {
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.opening = true
	s.mu.Unlock()

	stream, err := s.source.Open(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening = false

	if err != nil {
		slog.Debug("capture open failed", "session", s.id, "error", err)
		return &StartError{Err: err}
	}
	if s.closed {
		if err := release(stream); err != nil {
			slog.Warn("releasing capture device", "session", s.id, "error", err)
		}
		return ErrSessionClosed
	}

	s.stream = stream
	s.state = Recording
	s.drained = make(chan struct{})
	go s.collect(stream.Chunks(), s.drained)

	slog.Debug("capture started", "session", s.id)
	return nil
}

// Stop ends capture, releases the device and moves the session to
// Processing. The returned Pending resolves once every buffered chunk has
// been flushed into the payload. Stop reports false, and does nothing, when
// the session is not Recording.
func (s *Session) Stop() (*Pending, bool) {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return nil, false
	}
	stream, drained := s.stream, s.drained
	s.stream = nil
	s.state = Processing
	s.mu.Unlock()

	if err := release(stream); err != nil {
		slog.Warn("releasing capture device", "session", s.id, "error", err)
	}

	p := newPending()
	go func() {
		<-drained
		p.resolve(s.finalize(stream))
	}()
	return p, true
}

// Close tears the session down. An active capture is released and its
// buffer discarded; a closed session reports Idle unless it already
// reached Processing.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	stream, drained := s.stream, s.drained
	s.stream = nil
	if s.state == Recording {
		s.state = Idle
	}
	s.mu.Unlock()

	if stream == nil {
		return nil
	}

	err := release(stream)
	<-drained

	s.mu.Lock()
	s.chunks, s.size = nil, 0
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("audio: release device: %w", err)
	}
	return nil
}

// collect buffers chunks until the stream closes its channel.
func (s *Session) collect(ch <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for chunk := range ch {
		s.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		s.size += len(chunk)
		s.mu.Unlock()
	}
}

// finalize concatenates the buffer into a payload and clears it.
func (s *Session) finalize(stream Stream) (Payload, error) {
	s.mu.Lock()
	chunks, size := s.chunks, s.size
	s.chunks, s.size = nil, 0
	s.mu.Unlock()

	if err := stream.Err(); err != nil {
		return Payload{}, fmt.Errorf("audio: capture: %w", err)
	}

	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c...)
	}

	p := Payload{
		Data:     data,
		MIMEType: MIMEType,
		Format:   stream.Format(),
	}
	slog.Debug("capture finalized", "session", s.id, "chunks", len(chunks), "bytes", p.Size(), "duration", p.Duration())
	return p, nil
}

// release stops the stream and then every track it holds, so the host
// input indicator turns off even if the stream left a track running.
func release(stream Stream) error {
	err := stream.Stop()
	for _, t := range stream.Tracks() {
		if terr := t.Stop(); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}

// Pending is the eventual payload of a stopped Session.
type Pending struct {
	done    chan struct{}
	payload Payload
	err     error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(payload Payload, err error) {
	p.payload, p.err = payload, err
	close(p.done)
}

// Done is closed once the payload is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the payload is finalized or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Payload, error) {
	select {
	case <-p.done:
		return p.payload, p.err
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	}
}
