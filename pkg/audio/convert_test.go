package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/telecaller/pkg/audio"
)

func TestResample_SameRate(t *testing.T) {
	in := audio.Buffer{Planes: [][]float32{{0.1, 0.2, 0.3}}, SampleRate: 24000}
	out := audio.Resample(in, 24000)
	if &out.Planes[0][0] != &in.Planes[0][0] {
		t.Error("same-rate resample should return the input buffer")
	}
}

func TestResample_InvalidRate(t *testing.T) {
	in := audio.Buffer{Planes: [][]float32{{0.1, 0.2}}, SampleRate: 16000}
	if out := audio.Resample(in, 0); out.SampleRate != 16000 || out.Frames() != 2 {
		t.Errorf("Resample(rate=0) = %d frames @%d, want input unchanged", out.Frames(), out.SampleRate)
	}
	in.SampleRate = 0
	if out := audio.Resample(in, 24000); out.SampleRate != 0 {
		t.Errorf("Resample of rateless buffer changed rate to %d", out.SampleRate)
	}
}

func TestResample_Upsample(t *testing.T) {
	// 16 kHz capture played on a 24 kHz device.
	in := audio.Buffer{Planes: [][]float32{{0, 0.3, 0.6, 0.9}}, SampleRate: 16000}
	out := audio.Resample(in, 24000)

	if out.SampleRate != 24000 {
		t.Fatalf("SampleRate = %d", out.SampleRate)
	}
	if out.Frames() != 6 {
		t.Fatalf("Frames = %d, want 6", out.Frames())
	}
	want := []float32{0, 0.2, 0.4, 0.6, 0.8, 0.9}
	for i, w := range want {
		if math.Abs(float64(out.Planes[0][i]-w)) > 1e-5 {
			t.Errorf("sample %d = %v, want %v", i, out.Planes[0][i], w)
		}
	}
}

func TestResample_DownsampleKeepsDuration(t *testing.T) {
	planes := [][]float32{make([]float32, 48000), make([]float32, 48000)}
	for i := range planes[0] {
		planes[0][i] = 0.5
		planes[1][i] = -0.5
	}
	out := audio.Resample(audio.Buffer{Planes: planes, SampleRate: 48000}, 16000)

	if out.Channels() != 2 {
		t.Fatalf("Channels = %d, want 2", out.Channels())
	}
	if out.Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", out.Duration())
	}
	if out.Planes[0][100] != 0.5 || out.Planes[1][100] != -0.5 {
		t.Errorf("constant signal changed: %v / %v", out.Planes[0][100], out.Planes[1][100])
	}
}
