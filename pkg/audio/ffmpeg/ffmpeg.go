// Package ffmpeg adapts the ffmpeg command-line tools to the device interfaces
// of package audio. Capture runs ffmpeg against the platform's default input
// device and reads raw s16le PCM from its stdout; playback pipes PCM into
// ffplay's stdin.
//
// Both binaries must be on PATH.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/MrWong99/telecaller/pkg/audio"
	"github.com/MrWong99/telecaller/pkg/audio/render"
)

var (
	_ audio.Microphone  = (*Microphone)(nil)
	_ audio.InputStream = (*stream)(nil)
)

// ErrUnsupportedPlatform is returned when no capture backend is known for the
// running operating system.
var ErrUnsupportedPlatform = errors.New("ffmpeg: microphone capture is not supported on this platform")

// Microphone captures from the system's default input device.
type Microphone struct {
	// Device overrides the input device name. Empty means "default" on Linux
	// and ":0" on macOS.
	Device string

	// Binary is the ffmpeg executable. Empty means "ffmpeg".
	Binary string
}

// Open starts an ffmpeg capture process producing format. The process is
// killed when the returned stream is closed or ctx is cancelled.
func (m *Microphone) Open(ctx context.Context, format audio.Format) (audio.InputStream, error) {
	bin := m.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("ffmpeg: %s not found in PATH: %w", bin, err)
	}
	args, err := captureArgs(runtime.GOOS, m.Device, format)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: open stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start capture: %w", err)
	}
	return newStream(stdout, format.Channels, func() error {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil
	}), nil
}

func captureArgs(goos, device string, format audio.Format) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		if device == "" {
			device = ":0"
		}
		input = []string{"-f", "avfoundation", "-i", device}
	case "linux":
		if device == "" {
			device = "default"
		}
		input = []string{"-f", "pulse", "-i", device}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-ac", strconv.Itoa(max(format.Channels, 1)),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le", "-",
	), nil
}

// stream converts an s16le byte stream into float samples. Multi-channel
// input is averaged down to mono.
type stream struct {
	r        io.Reader
	channels int
	raw      []byte

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
}

func newStream(r io.Reader, channels int, closeFn func() error) *stream {
	return &stream{r: r, channels: max(channels, 1), closeFn: closeFn}
}

// ReadSamples fills p completely or returns an error. A stream that ends
// mid-frame reports [io.ErrUnexpectedEOF].
func (s *stream) ReadSamples(p []float32) (int, error) {
	need := len(p) * 2 * s.channels
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]
	if _, err := io.ReadFull(s.r, raw); err != nil {
		return 0, err
	}
	buf := audio.BytesToBuffer(raw, 0, s.channels)
	if s.channels == 1 {
		return copy(p, buf.Planes[0]), nil
	}
	scale := 1 / float32(s.channels)
	for i := range p {
		var sum float32
		for _, plane := range buf.Planes {
			sum += plane[i]
		}
		p[i] = sum * scale
	}
	return len(p), nil
}

// Close stops the capture process. Subsequent calls return the first result.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

// Speaker plays PCM through ffplay.
type Speaker struct {
	// Binary is the ffplay executable. Empty means "ffplay".
	Binary string
}

// Open starts an ffplay process consuming s16le PCM in format on stdin.
// Closing the returned writer kills the process.
func (sp *Speaker) Open(ctx context.Context, format audio.Format) (io.WriteCloser, error) {
	bin := sp.Binary
	if bin == "" {
		bin = "ffplay"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("ffmpeg: %s not found in PATH: %w", bin, err)
	}

	cmd := exec.CommandContext(ctx, bin, playerArgs(format)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start ffplay: %w", err)
	}
	return &player{cmd: cmd, stdin: stdin}, nil
}

// Opener returns an [audio.OutputOpener] that renders to a fresh ffplay
// process. The output context is resumed before it is returned.
//
// The process is bound to context.Background rather than the opener's ctx
// because the output outlives the request that first needed it.
func (sp *Speaker) Opener(format audio.Format, opts ...render.Option) audio.OutputOpener {
	return func(ctx context.Context) (audio.Output, error) {
		w, err := sp.Open(context.Background(), format)
		if err != nil {
			return nil, err
		}
		out := render.New(w, format, opts...)
		if err := out.Resume(ctx); err != nil {
			_ = out.Close()
			return nil, err
		}
		return out, nil
	}
}

func playerArgs(format audio.Format) []string {
	return []string{
		"-nodisp",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-f", "s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(max(format.Channels, 1)),
		"-i", "pipe:0",
	}
}

type player struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (p *player) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return 0, errors.New("ffmpeg: ffplay is closed")
	}
	return p.stdin.Write(data)
}

func (p *player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return nil
	}
	_ = p.stdin.Close()
	p.stdin = nil
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	return nil
}
