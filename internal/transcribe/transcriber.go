// Package transcribe turns recorded audio into text.
//
// The only backend is the Gemini API: one generateContent call per
// recording, carrying a fixed instruction and the audio inline.
package transcribe

import (
	"context"

	"github.com/chaz8081/gostt-scribe/internal/audio"
)

// Transcriber converts a finalized recording to text.
type Transcriber interface {
	// Transcribe never returns a Go error; failures are carried in the Result.
	Transcribe(ctx context.Context, payload audio.Payload) Result
}

// Result is the outcome of one transcription: exactly one of Text and Err
// is meaningful.
type Result struct {
	Text string
	Err  error
}

// OK reports whether the transcription succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

func failure(err error) Result {
	return Result{Err: err}
}
