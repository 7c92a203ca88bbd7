// Package display renders controller state to a terminal.
package display

import (
	"fmt"
	"io"
	"sync"

	"github.com/chaz8081/gostt-scribe/internal/controller"
)

// Renderer prints a line per visible change of controller state.
type Renderer struct {
	mu   sync.Mutex
	w    io.Writer
	last controller.State
	seen bool
}

// NewRenderer returns a Renderer writing to w.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// Render prints what changed since the last call. It is suitable as a
// controller.Subscribe observer.
func (r *Renderer) Render(s controller.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.seen || s.ButtonLabel() != r.last.ButtonLabel() {
		fmt.Fprintf(r.w, "[%s]\n", s.ButtonLabel())
	}
	if s.Transcript != nil && (r.last.Transcript == nil || *r.last.Transcript != *s.Transcript) {
		fmt.Fprintf(r.w, "Transcript:\n%s\n", *s.Transcript)
	}
	if s.Error != nil && (r.last.Error == nil || *r.last.Error != *s.Error) {
		fmt.Fprintf(r.w, "Error: %s\n", *s.Error)
	}

	r.last = s
	r.seen = true
}
