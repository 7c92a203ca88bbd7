// Package hotkey turns a global key combination into recording toggles.
//
// In "toggle" mode every press toggles. In "hold" mode a press starts a
// recording and the release stops it.
package hotkey

import (
	"context"
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType distinguishes key presses from releases.
type EventType int

const (
	// EventPress is emitted when the combination goes down.
	EventPress EventType = iota
	// EventRelease is emitted when the combination comes up (hold mode only).
	EventRelease
)

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Toggler is the action a hotkey drives.
type Toggler interface {
	Toggle(ctx context.Context)
}

// Dispatch applies ev to t. In toggle mode each press toggles. In hold mode
// a press toggles only when idle and a release only while recording, so a
// missed key-up never inverts the meaning of the key.
func Dispatch(ctx context.Context, ev Event, mode string, recording bool, t Toggler) bool {
	if mode == "hold" {
		switch {
		case ev.Type == EventPress && !recording,
			ev.Type == EventRelease && recording:
			t.Toggle(ctx)
			return true
		}
		return false
	}

	if ev.Type != EventPress {
		return false
	}
	t.Toggle(ctx)
	return true
}

// Listener watches a global key combination and emits events.
type Listener struct {
	keys []string
	mode string // "hold" or "toggle"
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "r"]).
func NewListener(keys []string, mode string) *Listener {
	return &Listener{
		keys: keys,
		mode: mode,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Mode returns the configured mode.
func (l *Listener) Mode() string {
	return l.mode
}

// Start registers the hook and blocks until Stop is called. Run it in a
// goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) {
		l.emit(EventPress)
	})
	if l.mode == "hold" {
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) {
			l.emit(EventRelease)
		})
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// emit never blocks the hook thread; events beyond the buffer are dropped.
func (l *Listener) emit(t EventType) {
	select {
	case l.ch <- Event{Type: t}:
	default:
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
