package audio

import (
	"encoding/base64"
	"fmt"
	"math"
)

// pcmScale maps int16 samples onto [-1, 1).
const pcmScale = 32768.0

// DecodeError reports a malformed transport payload.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio: decode payload: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeBase64 returns the transport encoding of raw bytes.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 reverses [EncodeBase64]. Malformed input yields a
// [*DecodeError].
func DecodeBase64(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return data, nil
}

// BytesToBuffer reinterprets pcm as interleaved little-endian int16 samples
// and splits them into channels planes, normalised to [-1, 1).
//
// The frame count is len(pcm)/2/channels. Trailing bytes that do not form a
// whole frame are dropped.
func BytesToBuffer(pcm []byte, sampleRate, channels int) Buffer {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / 2 / channels
	planes := make([][]float32, channels)
	for ch := range planes {
		planes[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			s := int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8)
			planes[ch][i] = float32(s) / pcmScale
		}
	}
	return Buffer{Planes: planes, SampleRate: sampleRate}
}

// FloatToPCM16 converts float samples to little-endian int16 bytes. Values
// outside [-1, 1) are clamped instead of wrapping.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		s := clamp16(float64(f) * pcmScale)
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// EncodeFrame turns a captured frame into a wire blob.
func EncodeFrame(frame AudioFrame) Blob {
	return Blob{
		MIMEType: PCMMIMEType(frame.Format.SampleRate),
		Data:     EncodeBase64(FloatToPCM16(frame.Samples)),
	}
}

// clamp16 truncates v toward zero and clamps it to the int16 range.
func clamp16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	if v >= math.MaxInt16 {
		return math.MaxInt16
	}
	if v <= math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
