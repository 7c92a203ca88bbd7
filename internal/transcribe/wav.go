package transcribe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chaz8081/gostt-scribe/internal/audio"
)

// wavMIMEType is the container the model receives.
const wavMIMEType = "audio/wav"

// encodeWAV wraps little-endian S16 PCM in a RIFF/WAVE container.
func encodeWAV(p audio.Payload) ([]byte, error) {
	if p.Format.SampleRate == 0 || p.Format.Channels == 0 {
		return nil, fmt.Errorf("transcribe: invalid audio format %+v", p.Format)
	}

	samples := make([]int, len(p.Data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(p.Data[i*2:])))
	}

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: int(p.Format.Channels),
			SampleRate:  int(p.Format.SampleRate),
		},
		Data:           samples,
		SourceBitDepth: audio.BitDepth,
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, int(p.Format.SampleRate), audio.BitDepth, int(p.Format.Channels), 1)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("transcribe: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("transcribe: finish wav: %w", err)
	}
	return ws.buf, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back
// to patch chunk sizes once the data length is known.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("writeSeeker: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("writeSeeker: negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
