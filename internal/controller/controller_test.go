package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/gostt-scribe/internal/audio"
	"github.com/chaz8081/gostt-scribe/internal/transcribe"
)

type mockTrack struct {
	mu      sync.Mutex
	stopped bool
}

func (t *mockTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

type mockStream struct {
	once  sync.Once
	ch    chan []byte
	track *mockTrack
	err   error
}

func (s *mockStream) Chunks() <-chan []byte { return s.ch }
func (s *mockStream) Tracks() []audio.Track { return []audio.Track{s.track} }
func (s *mockStream) Format() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1}
}
func (s *mockStream) Err() error { return s.err }
func (s *mockStream) Stop() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

// mockMic is a Source whose streams can be fed by the test.
type mockMic struct {
	mu      sync.Mutex
	openErr error
	// streamErr is reported by every opened stream as a capture fault.
	streamErr error
	block     chan struct{}
	streams []*mockStream
}

func (m *mockMic) Open(ctx context.Context) (audio.Stream, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	st := &mockStream{ch: make(chan []byte, 16), track: &mockTrack{}, err: m.streamErr}
	m.streams = append(m.streams, st)
	return st, nil
}

func (m *mockMic) last() *mockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[len(m.streams)-1]
}

func (m *mockMic) activeTracks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, st := range m.streams {
		st.track.mu.Lock()
		if !st.track.stopped {
			n++
		}
		st.track.mu.Unlock()
	}
	return n
}

// fakeTranscriber returns a fixed result and records the payload it saw.
type fakeTranscriber struct {
	mu      sync.Mutex
	result  transcribe.Result
	release chan struct{}
	calls   int
	payload audio.Payload
}

func (f *fakeTranscriber) Transcribe(_ context.Context, p audio.Payload) transcribe.Result {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payload = p
	return f.result
}

func deref(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestToggleRecordAndTranscribe(t *testing.T) {
	mic := &mockMic{}
	tr := &fakeTranscriber{result: transcribe.Result{Text: "hello world"}}
	c := New(mic, tr)
	ctx := context.Background()

	c.Toggle(ctx)
	st := c.State()
	if !st.Recording || st.Processing {
		t.Fatalf("after first toggle: %+v, want recording", st)
	}
	if st.ButtonLabel() != LabelStop {
		t.Errorf("ButtonLabel() = %q, want %q", st.ButtonLabel(), LabelStop)
	}

	mic.last().ch <- make([]byte, 100)
	mic.last().ch <- make([]byte, 200)

	c.Toggle(ctx)
	if mic.activeTracks() != 0 {
		t.Errorf("active tracks after stop = %d, want 0", mic.activeTracks())
	}
	c.Wait()

	st = c.State()
	if st.Recording || st.Processing {
		t.Errorf("after transcription: %+v, want idle", st)
	}
	if deref(st.Transcript) != "hello world" {
		t.Errorf("Transcript = %q, want %q", deref(st.Transcript), "hello world")
	}
	if st.Error != nil {
		t.Errorf("Error = %q, want nil", *st.Error)
	}
	if tr.payload.Size() != 300 {
		t.Errorf("payload size = %d, want 300", tr.payload.Size())
	}
	if tr.payload.MIMEType != audio.MIMEType {
		t.Errorf("payload MIMEType = %q, want %q", tr.payload.MIMEType, audio.MIMEType)
	}
	if st.ButtonLabel() != LabelStart {
		t.Errorf("ButtonLabel() = %q, want %q", st.ButtonLabel(), LabelStart)
	}
}

func TestTogglePermissionDenied(t *testing.T) {
	mic := &mockMic{openErr: &audio.PermissionError{Err: errors.New("Permission denied")}}
	c := New(mic, &fakeTranscriber{})

	c.Toggle(context.Background())

	st := c.State()
	if st.Recording || st.Processing {
		t.Errorf("state = %+v, want idle", st)
	}
	want := "Could not start recording: Permission denied. Please grant microphone permissions."
	if deref(st.Error) != want {
		t.Errorf("Error = %q, want %q", deref(st.Error), want)
	}
	if st.ErrorKind != KindPermissionDenied {
		t.Errorf("ErrorKind = %v, want permission-denied", st.ErrorKind)
	}
	if st.Transcript != nil {
		t.Errorf("Transcript = %q, want nil", *st.Transcript)
	}
	if mic.activeTracks() != 0 {
		t.Errorf("active tracks = %d, want 0", mic.activeTracks())
	}
}

func TestToggleCaptureFailure(t *testing.T) {
	mic := &mockMic{openErr: errors.New("no input device")}
	c := New(mic, &fakeTranscriber{})

	c.Toggle(context.Background())

	st := c.State()
	if st.ErrorKind != KindCaptureFailure {
		t.Errorf("ErrorKind = %v, want capture-failure", st.ErrorKind)
	}
	want := "Could not start recording: no input device. Please grant microphone permissions."
	if deref(st.Error) != want {
		t.Errorf("Error = %q, want %q", deref(st.Error), want)
	}
}

func TestToggleTranscriptionFailure(t *testing.T) {
	mic := &mockMic{}
	tr := &fakeTranscriber{result: transcribe.Result{Err: errors.New("network timeout")}}
	c := New(mic, tr)
	ctx := context.Background()

	c.Toggle(ctx)
	c.Toggle(ctx)
	c.Wait()

	st := c.State()
	if st.Transcript != nil {
		t.Errorf("Transcript = %q, want nil", *st.Transcript)
	}
	if deref(st.Error) != "Error during transcription: network timeout" {
		t.Errorf("Error = %q", deref(st.Error))
	}
	if st.ErrorKind != KindTranscriptionFailure {
		t.Errorf("ErrorKind = %v, want transcription-failure", st.ErrorKind)
	}
	if st.Processing {
		t.Error("Processing should be cleared after a failure")
	}
}

func TestToggleIgnoredWhileProcessing(t *testing.T) {
	mic := &mockMic{}
	tr := &fakeTranscriber{result: transcribe.Result{Text: "ok"}, release: make(chan struct{})}
	c := New(mic, tr)
	ctx := context.Background()

	c.Toggle(ctx)
	c.Toggle(ctx)

	st := c.State()
	if !st.Processing || st.Recording {
		t.Fatalf("state = %+v, want processing", st)
	}
	if st.ButtonLabel() != LabelProcessing {
		t.Errorf("ButtonLabel() = %q, want %q", st.ButtonLabel(), LabelProcessing)
	}

	c.Toggle(ctx)
	if got := len(mic.streams); got != 1 {
		t.Errorf("device opened %d times, want 1", got)
	}
	if c.State().Recording {
		t.Error("toggle during processing must not start a recording")
	}

	close(tr.release)
	c.Wait()
	if c.State().Processing {
		t.Error("Processing should be cleared")
	}
}

func TestToggleIgnoredWhileStarting(t *testing.T) {
	mic := &mockMic{block: make(chan struct{})}
	c := New(mic, &fakeTranscriber{result: transcribe.Result{Text: "ok"}})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		c.Toggle(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		starting := c.starting
		c.mu.Unlock()
		if starting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("controller never entered the starting state")
		}
		time.Sleep(time.Millisecond)
	}

	c.Toggle(ctx)

	close(mic.block)
	<-done

	if got := len(mic.streams); got != 1 {
		t.Errorf("device opened %d times, want 1", got)
	}
	if !c.State().Recording {
		t.Error("first toggle should have started recording")
	}
	c.Close()
}

func TestExactlyOneResultAfterEachAttempt(t *testing.T) {
	tests := []struct {
		name     string
		mic      *mockMic
		result   transcribe.Result
		wantKind ErrorKind
		wantErr  string
	}{
		{"success", &mockMic{}, transcribe.Result{Text: "text"}, KindNone, ""},
		{"transcription failure", &mockMic{}, transcribe.Result{Err: errors.New("boom")}, KindTranscriptionFailure, "Error during transcription: boom"},
		{"start failure", &mockMic{openErr: errors.New("busy")}, transcribe.Result{}, KindCaptureFailure, "Could not start recording: busy. Please grant microphone permissions."},
		{"capture fault after stop", &mockMic{streamErr: errors.New("device unplugged")}, transcribe.Result{Text: "unused"}, KindCaptureFailure, "Error during transcription: audio: capture: device unplugged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.mic, &fakeTranscriber{result: tt.result})
			ctx := context.Background()
			c.Toggle(ctx)
			if c.State().Recording {
				c.Toggle(ctx)
			}
			c.Wait()

			st := c.State()
			if (st.Transcript == nil) == (st.Error == nil) {
				t.Errorf("Transcript = %q, Error = %q: want exactly one set", deref(st.Transcript), deref(st.Error))
			}
			if st.ErrorKind != tt.wantKind {
				t.Errorf("ErrorKind = %v, want %v", st.ErrorKind, tt.wantKind)
			}
			if tt.wantErr != "" && deref(st.Error) != tt.wantErr {
				t.Errorf("Error = %q, want %q", deref(st.Error), tt.wantErr)
			}
			if st.Processing {
				t.Error("Processing should be cleared")
			}
		})
	}
}

func TestToggleClearsPreviousResult(t *testing.T) {
	mic := &mockMic{}
	tr := &fakeTranscriber{result: transcribe.Result{Text: "first"}}
	c := New(mic, tr)
	ctx := context.Background()

	c.Toggle(ctx)
	c.Toggle(ctx)
	c.Wait()
	if deref(c.State().Transcript) != "first" {
		t.Fatalf("Transcript = %q, want first", deref(c.State().Transcript))
	}

	c.Toggle(ctx)
	st := c.State()
	if st.Transcript != nil || st.Error != nil {
		t.Errorf("new recording should clear previous result, got %+v", st)
	}
	c.Close()
}

func TestSubscribeReceivesChangesInOrder(t *testing.T) {
	mic := &mockMic{}
	c := New(mic, &fakeTranscriber{result: transcribe.Result{Text: "done"}})
	ctx := context.Background()

	var (
		mu     sync.Mutex
		labels []string
	)
	unsubscribe := c.Subscribe(func(s State) {
		mu.Lock()
		labels = append(labels, s.ButtonLabel())
		mu.Unlock()
	})

	c.Toggle(ctx)
	c.Toggle(ctx)
	c.Wait()

	mu.Lock()
	got := append([]string(nil), labels...)
	mu.Unlock()

	// clear, recording, processing, done
	want := []string{LabelStart, LabelStop, LabelProcessing, LabelStart}
	if len(got) != len(want) {
		t.Fatalf("labels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("labels[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	unsubscribe()
	c.Toggle(ctx)
	mu.Lock()
	n := len(labels)
	mu.Unlock()
	if n != len(want) {
		t.Errorf("observer called after unsubscribe: %d notifications", n)
	}
	c.Close()
}

func TestCloseReleasesActiveRecording(t *testing.T) {
	mic := &mockMic{}
	tr := &fakeTranscriber{}
	c := New(mic, tr)

	c.Toggle(context.Background())
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if mic.activeTracks() != 0 {
		t.Errorf("active tracks = %d, want 0", mic.activeTracks())
	}
	if c.State().Recording {
		t.Error("Recording should be false after Close()")
	}
	if tr.calls != 0 {
		t.Errorf("transcriber called %d times, want 0", tr.calls)
	}

	c.Toggle(context.Background())
	if got := len(mic.streams); got != 1 {
		t.Errorf("Toggle() after Close() opened the device again")
	}
}

func TestCloseDoesNotWaitForTranscription(t *testing.T) {
	mic := &mockMic{}
	tr := &fakeTranscriber{result: transcribe.Result{Text: "late"}, release: make(chan struct{})}
	c := New(mic, tr)
	ctx := context.Background()

	c.Toggle(ctx)
	c.Toggle(ctx)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Close() blocked on an in-flight transcription; state = %+v", c.State())
	}
	if !c.State().Processing {
		t.Error("transcription should still be in flight after Close()")
	}

	close(tr.release)
	c.Wait()
	st := c.State()
	if st.Processing {
		t.Error("Processing should be cleared once the transcription returns")
	}
	if deref(st.Transcript) != "late" {
		t.Errorf("Transcript = %q, want %q", deref(st.Transcript), "late")
	}
}

func TestButtonLabel(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{State{}, LabelStart},
		{State{Recording: true}, LabelStop},
		{State{Processing: true}, LabelProcessing},
		{State{Recording: true, Processing: true}, LabelStop},
	}
	for _, tt := range tests {
		if got := tt.state.ButtonLabel(); got != tt.want {
			t.Errorf("%+v.ButtonLabel() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestErrorKindString(t *testing.T) {
	tests := map[ErrorKind]string{
		KindNone:                 "none",
		KindPermissionDenied:     "permission-denied",
		KindCaptureFailure:       "capture-failure",
		KindTranscriptionFailure: "transcription-failure",
		KindUnknown:              "unknown",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
