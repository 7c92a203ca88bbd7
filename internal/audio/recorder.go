package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// chunkBacklog bounds how many device callbacks may be queued ahead of the
// session. At typical miniaudio period sizes this is several seconds.
const chunkBacklog = 1024

var (
	errDeviceBusy = errors.New("capture device already in use")
	errDeviceLost = errors.New("capture device stopped unexpectedly")
)

// MalgoSource captures from the default microphone through miniaudio.
// Only one Stream may be open at a time.
type MalgoSource struct {
	ctx    *malgo.AllocatedContext
	format Format

	mu     sync.Mutex
	active bool
}

// NewMalgoSource initializes the audio backend. Call Close() when done.
func NewMalgoSource(sampleRate, channels uint32) (*MalgoSource, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}

	return &MalgoSource{
		ctx:    ctx,
		format: Format{SampleRate: sampleRate, Channels: channels},
	}, nil
}

// Open starts a signed 16-bit capture on the default input device.
func (m *MalgoSource) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil, errDeviceBusy
	}
	m.active = true
	m.mu.Unlock()

	st := &deviceStream{
		format:    m.format,
		chunks:    make(chan []byte, chunkBacklog),
		onRelease: m.release,
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = m.format.Channels
	deviceCfg.SampleRate = m.format.SampleRate

	device, err := malgo.InitDevice(m.ctx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: st.onData,
		Stop: st.onStop,
	})
	if err != nil {
		m.release()
		return nil, deviceError("initializing capture device", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		m.release()
		return nil, deviceError("starting capture device", err)
	}

	st.device = device
	st.track = &deviceTrack{device: device}
	return st, nil
}

// Close releases the audio backend.
func (m *MalgoSource) Close() error {
	if m.ctx == nil {
		return nil
	}
	if err := m.ctx.Uninit(); err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	m.ctx.Free()
	m.ctx = nil
	return nil
}

func (m *MalgoSource) release() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

// deviceStream adapts a miniaudio capture device to Stream.
type deviceStream struct {
	format    Format
	device    *malgo.Device
	track     *deviceTrack
	onRelease func()
	once      sync.Once

	mu       sync.Mutex
	chunks   chan []byte
	stopping bool
	closed   bool
	dropped  int
	err      error
}

func (s *deviceStream) Chunks() <-chan []byte { return s.chunks }

func (s *deviceStream) Tracks() []Track { return []Track{s.track} }

func (s *deviceStream) Format() Format { return s.format }

func (s *deviceStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop halts the device, waits for miniaudio to finish its callbacks and
// then closes the chunk channel.
func (s *deviceStream) Stop() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()

		err = s.track.Stop()
		s.device.Uninit()

		s.mu.Lock()
		s.closeLocked()
		if s.dropped > 0 && s.err == nil {
			s.err = fmt.Errorf("capture buffer overrun: %d chunks dropped", s.dropped)
		}
		s.mu.Unlock()

		s.onRelease()
	})
	return err
}

// onStop is the malgo callback invoked whenever the device stops. A stop
// not requested through Stop means the device was lost mid-capture.
func (s *deviceStream) onStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return
	}
	if s.err == nil {
		s.err = errDeviceLost
	}
	s.closeLocked()
	slog.Warn("capture device stopped unexpectedly")
}

func (s *deviceStream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.chunks)
}

// onData is the malgo callback invoked when audio data is available.
// pSample holds frameCount interleaved S16 frames.
func (s *deviceStream) onData(_, pSample []byte, frameCount uint32) {
	n := frameBytes(frameCount, s.format.Channels)
	if n > len(pSample) {
		n = len(pSample)
	}
	chunk := make([]byte, n)
	copy(chunk, pSample[:n])

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.chunks <- chunk:
	default:
		s.dropped++
	}
}

// deviceTrack is the single input track of a miniaudio capture device.
type deviceTrack struct {
	device *malgo.Device
	once   sync.Once
}

func (t *deviceTrack) Stop() error {
	var err error
	t.once.Do(func() {
		if err = t.device.Stop(); err != nil {
			slog.Debug("stopping capture device", "error", err)
		}
	})
	return err
}

// frameBytes returns the byte length of frameCount S16 frames.
func frameBytes(frameCount, channels uint32) int {
	return int(frameCount) * int(channels) * BitDepth / 8
}

// deviceError wraps a backend failure, surfacing host refusals as
// *PermissionError.
func deviceError(op string, err error) error {
	if isPermissionDenied(err) {
		return &PermissionError{Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isPermissionDenied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "denied") || strings.Contains(msg, "permission")
}
