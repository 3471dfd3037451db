// Package audio holds the PCM types and codec shared by the capture and
// playback sides of a call.
//
// Audio travels through the system in three shapes:
//
//   - [AudioFrame]: a fixed-size block of float samples read from a capture
//     device.
//   - [Blob]: base64 text of little-endian int16 PCM, tagged with a
//     "audio/pcm;rate=N" MIME type. This is what crosses the wire.
//   - [Buffer]: de-interleaved float planes ready to be scheduled on an
//     output device.
//
// The codec functions in this package convert between them.
package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Well-known formats of the voice call. Capture runs at 16 kHz mono, the
// remote model answers at 24 kHz mono.
var (
	CaptureFormat  = Format{SampleRate: 16000, Channels: 1}
	PlaybackFormat = Format{SampleRate: 24000, Channels: 1}
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable description, e.g. "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// AudioFrame is a single block of captured audio. All frames produced by one
// capture pipeline have the same length.
type AudioFrame struct {
	// Samples are mono float samples in [-1, 1].
	Samples []float32

	// Format of the samples.
	Format Format

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Blob is an encoded PCM payload as exchanged with the remote agent.
type Blob struct {
	// MIMEType is "audio/pcm;rate=N".
	MIMEType string

	// Data is the base64 (standard alphabet) encoding of s16le PCM bytes.
	Data string
}

// Buffer is decoded audio, one float plane per channel.
type Buffer struct {
	// Planes holds one slice per channel, all of equal length.
	Planes [][]float32

	// SampleRate in Hz.
	SampleRate int
}

// Channels returns the number of planes.
func (b Buffer) Channels() int { return len(b.Planes) }

// Frames returns the number of sample frames per channel.
func (b Buffer) Frames() int {
	if len(b.Planes) == 0 {
		return 0
	}
	return len(b.Planes[0])
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// PCMMIMEType returns the MIME descriptor for raw PCM at the given rate.
func PCMMIMEType(sampleRate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(sampleRate)
}

// ParseRate extracts the rate parameter from an "audio/pcm;rate=N" MIME type.
// It returns ok=false when the type is not raw PCM or carries no rate.
func ParseRate(mimeType string) (rate int, ok bool) {
	base, params, _ := strings.Cut(mimeType, ";")
	if !strings.EqualFold(strings.TrimSpace(base), "audio/pcm") {
		return 0, false
	}
	for _, p := range strings.Split(params, ";") {
		k, v, found := strings.Cut(strings.TrimSpace(p), "=")
		if !found || !strings.EqualFold(k, "rate") {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
