// Package inject delivers finished transcripts to the focused application,
// either as simulated keystrokes or through the clipboard.
package inject

import (
	"fmt"
	"runtime"

	"github.com/go-vgo/robotgo"
)

// keyboard is the subset of robotgo used for delivery.
type keyboard interface {
	Type(text string)
	ReadClipboard() (string, error)
	WriteClipboard(text string) error
	KeyTap(key string, modifier string) error
}

type robotKeyboard struct{}

func (robotKeyboard) Type(text string) { robotgo.Type(text) }

func (robotKeyboard) ReadClipboard() (string, error) { return robotgo.ReadAll() }

func (robotKeyboard) WriteClipboard(text string) error { return robotgo.WriteAll(text) }

func (robotKeyboard) KeyTap(key, modifier string) error { return robotgo.KeyTap(key, modifier) }

// Injector sends transcripts to the active application.
type Injector struct {
	method string // "none", "type" or "paste"
	kb     keyboard
	goos   string
}

// NewInjector creates an Injector for method "none", "type" or "paste".
func NewInjector(method string) (*Injector, error) {
	return newInjector(method, robotKeyboard{}, runtime.GOOS)
}

func newInjector(method string, kb keyboard, goos string) (*Injector, error) {
	switch method {
	case "none", "type", "paste":
	default:
		return nil, fmt.Errorf("inject: unknown method %q", method)
	}
	return &Injector{method: method, kb: kb, goos: goos}, nil
}

// Enabled reports whether transcripts are delivered at all.
func (inj *Injector) Enabled() bool {
	return inj.method != "none"
}

// Inject sends text to the active application using the configured method.
func (inj *Injector) Inject(text string) error {
	if text == "" || !inj.Enabled() {
		return nil
	}

	if inj.method == "paste" {
		return inj.paste(text)
	}
	inj.kb.Type(text)
	return nil
}

// paste puts text on the clipboard, pastes it and restores the previous
// clipboard contents (best effort).
func (inj *Injector) paste(text string) error {
	prev, _ := inj.kb.ReadClipboard()

	if err := inj.kb.WriteClipboard(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}

	mod := pasteModifier(inj.goos)
	if err := inj.kb.KeyTap("v", mod); err != nil {
		return fmt.Errorf("inject: key tap %s+v: %w", mod, err)
	}

	_ = inj.kb.WriteClipboard(prev)
	return nil
}

// pasteModifier returns the paste shortcut modifier for the platform.
func pasteModifier(goos string) string {
	if goos == "darwin" {
		return "cmd"
	}
	return "ctrl"
}
