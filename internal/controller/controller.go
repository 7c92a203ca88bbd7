// Package controller holds the observable recording state and wires a
// capture source to a transcriber behind a single toggle action.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/gostt-scribe/internal/audio"
	"github.com/chaz8081/gostt-scribe/internal/transcribe"
)

// Button labels derived from State.
const (
	LabelStart      = "Start Recording"
	LabelStop       = "Stop Recording"
	LabelProcessing = "Processing..."
)

// ErrorKind categorizes the error shown to the user.
type ErrorKind int

const (
	// KindNone: no error is set.
	KindNone ErrorKind = iota
	// KindPermissionDenied: the host refused microphone access.
	KindPermissionDenied
	// KindCaptureFailure: the device or the capture buffer failed.
	KindCaptureFailure
	// KindTranscriptionFailure: the remote model call failed.
	KindTranscriptionFailure
	// KindUnknown: anything else, such as a recovered panic.
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPermissionDenied:
		return "permission-denied"
	case KindCaptureFailure:
		return "capture-failure"
	case KindTranscriptionFailure:
		return "transcription-failure"
	default:
		return "unknown"
	}
}

// State is a snapshot of everything the UI shows. Transcript and Error are
// nil when unset.
type State struct {
	Recording  bool
	Processing bool
	Transcript *string
	Error      *string
	ErrorKind  ErrorKind
}

// ButtonLabel returns the label for the toggle action.
func (s State) ButtonLabel() string {
	switch {
	case s.Recording:
		return LabelStop
	case s.Processing:
		return LabelProcessing
	default:
		return LabelStart
	}
}

// Controller is the single source of UI truth. Toggle is its only action.
type Controller struct {
	source      audio.Source
	transcriber transcribe.Transcriber

	mu        sync.Mutex
	state     State
	starting  bool
	closed    bool
	session   *audio.Session
	observers map[int]func(State)
	nextID    int

	// notifyMu keeps observer calls in change order.
	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

// New creates an idle controller.
func New(source audio.Source, transcriber transcribe.Transcriber) *Controller {
	return &Controller{
		source:      source,
		transcriber: transcriber,
		observers:   make(map[int]func(State)),
	}
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to receive a snapshot after every change. The
// returned function removes the subscription. Observers are called outside
// the state lock, in change order, and must not block for long.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Toggle stops an active recording, or clears the previous result and
// starts a new one. It is ignored while the device is being acquired or a
// recording is being processed.
func (c *Controller) Toggle(ctx context.Context) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return
	case c.starting || c.state.Processing:
		starting, processing := c.starting, c.state.Processing
		c.mu.Unlock()
		slog.Debug("toggle ignored", "starting", starting, "processing", processing)
		return
	case c.state.Recording:
		c.stopLocked(ctx)
		return
	}

	c.state.Transcript = nil
	c.state.Error = nil
	c.state.ErrorKind = KindNone
	c.starting = true
	c.publishLocked()

	session := audio.NewSession(c.source)
	err := session.Start(ctx)

	c.mu.Lock()
	c.starting = false
	if err != nil {
		c.state.Recording = false
		c.setErrorLocked(startErrorKind(err), fmt.Sprintf("Could not start recording: %s. Please grant microphone permissions.", startErrorMessage(err)))
		c.publishLocked()
		slog.Warn("could not start recording", "session", session.ID(), "error", err)
		return
	}
	if c.closed {
		c.mu.Unlock()
		if err := session.Close(); err != nil {
			slog.Warn("releasing device after close", "session", session.ID(), "error", err)
		}
		return
	}
	c.session = session
	c.state.Recording = true
	c.publishLocked()
	slog.Info("recording", "session", session.ID())
}

// stopLocked ends the active session and processes its payload in the
// background. It is called with c.mu held and releases it.
func (c *Controller) stopLocked(ctx context.Context) {
	session := c.session
	c.session = nil

	pending, ok := session.Stop()
	if !ok {
		c.state.Recording = false
		c.publishLocked()
		return
	}
	c.state.Recording = false
	c.state.Processing = true
	c.wg.Add(1)
	c.publishLocked()

	go c.process(context.WithoutCancel(ctx), session.ID(), pending)
}

// process waits for the payload, transcribes it and records exactly one of
// transcript or error. Processing is always cleared.
func (c *Controller) process(ctx context.Context, id string, pending *audio.Pending) {
	defer c.wg.Done()

	var (
		text string
		kind ErrorKind
		msg  string
	)
	defer func() {
		if r := recover(); r != nil {
			kind, msg = KindUnknown, fmt.Sprintf("An unknown error occurred: %v", r)
		}
		c.mu.Lock()
		if msg != "" {
			c.setErrorLocked(kind, msg)
		} else {
			c.state.Transcript = &text
		}
		c.state.Processing = false
		c.publishLocked()
	}()

	payload, err := pending.Wait(ctx)
	if err != nil {
		slog.Error("finalizing recording", "session", id, "error", err)
		kind, msg = KindCaptureFailure, fmt.Sprintf("Error during transcription: %s", err)
		return
	}
	slog.Info("transcribing", "session", id, "bytes", payload.Size(), "duration", payload.Duration())

	res := c.transcriber.Transcribe(ctx, payload)
	if !res.OK() {
		slog.Error("transcription failed", "session", id, "error", res.Err)
		kind, msg = KindTranscriptionFailure, fmt.Sprintf("Error during transcription: %s", res.Err)
		return
	}
	text = res.Text
	slog.Info("transcribed", "session", id, "chars", len(text))
}

// Wait blocks until every in-flight transcription has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close releases the device if a recording is active, discarding it, and
// stops accepting toggles. It does not wait for an in-flight transcription;
// use Wait for that.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	session := c.session
	c.session = nil
	wasRecording := c.state.Recording
	c.state.Recording = false
	if wasRecording {
		c.publishLocked()
	} else {
		c.mu.Unlock()
	}

	var err error
	if session != nil {
		err = session.Close()
	}
	return err
}

func (c *Controller) setErrorLocked(kind ErrorKind, msg string) {
	c.state.Transcript = nil
	c.state.Error = &msg
	c.state.ErrorKind = kind
}

// publishLocked snapshots the state, releases c.mu and notifies observers.
// Observers must not call back into the controller synchronously.
func (c *Controller) publishLocked() {
	snap := c.state
	observers := make([]func(State), 0, len(c.observers))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.observers[id]; ok {
			observers = append(observers, fn)
		}
	}
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func startErrorKind(err error) ErrorKind {
	var se *audio.StartError
	if !errors.As(err, &se) {
		return KindUnknown
	}
	if se.PermissionDenied() {
		return KindPermissionDenied
	}
	return KindCaptureFailure
}

// startErrorMessage returns the device's own message, without the
// package prefixes added on the way up.
func startErrorMessage(err error) string {
	var se *audio.StartError
	if errors.As(err, &se) {
		return se.Err.Error()
	}
	return err.Error()
}
