package audio

import "time"

// MIMEType tags every payload produced by a Session: raw signed 16-bit
// little-endian PCM.
const MIMEType = "audio/pcm"

// BitDepth is the sample width of every capture, in bits.
const BitDepth = 16

// Format describes the layout of captured PCM.
type Format struct {
	SampleRate uint32
	Channels   uint32
}

// Payload is a finalized recording, ready to hand to a transcriber.
type Payload struct {
	Data     []byte
	MIMEType string
	Format   Format
}

// Size returns the payload length in bytes.
func (p Payload) Size() int {
	return len(p.Data)
}

// Duration returns the playback length of the payload.
func (p Payload) Duration() time.Duration {
	bytesPerSecond := int(p.Format.SampleRate) * int(p.Format.Channels) * BitDepth / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(len(p.Data)) * time.Second / time.Duration(bytesPerSecond)
}
