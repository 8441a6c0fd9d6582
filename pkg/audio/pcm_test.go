package audio_test

import (
	"errors"
	"testing"

	"github.com/parleyvoice/parley/pkg/audio"
)

func TestFloat32ToPCM16_SymmetricScaling(t *testing.T) {
	t.Parallel()

	got := audio.Float32ToPCM16([]float32{0, 1, -1, 0.5})

	wantSamples := []int16{0, 32767, -32768, 16383}
	if len(got) != len(wantSamples)*2 {
		t.Fatalf("output bytes = %d, want %d", len(got), len(wantSamples)*2)
	}
	for i, want := range wantSamples {
		s := int16(got[i*2]) | int16(got[i*2+1])<<8
		if s != want {
			t.Errorf("sample %d = %d, want %d", i, s, want)
		}
	}
}

func TestFloat32ToPCM16_ClampsOutOfRange(t *testing.T) {
	t.Parallel()

	got := audio.Float32ToPCM16([]float32{2.5, -3})

	if s := int16(got[0]) | int16(got[1])<<8; s != 32767 {
		t.Errorf("positive overflow clamped to %d, want 32767", s)
	}
	if s := int16(got[2]) | int16(got[3])<<8; s != -32768 {
		t.Errorf("negative overflow clamped to %d, want -32768", s)
	}
}

func TestPCM16ToFloat32_FullRange(t *testing.T) {
	t.Parallel()

	// -32768, 32767, 0 as little-endian int16.
	pcm := []byte{0x00, 0x80, 0xFF, 0x7F, 0x00, 0x00}

	got, err := audio.PCM16ToFloat32(pcm)
	if err != nil {
		t.Fatalf("PCM16ToFloat32: %v", err)
	}
	want := []float32{-1, 1, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCM16ToFloat32_TruncatedInput(t *testing.T) {
	t.Parallel()

	_, err := audio.PCM16ToFloat32([]byte{0x01, 0x02, 0x03})
	if !errors.Is(err, audio.ErrTruncatedPCM) {
		t.Fatalf("error = %v, want ErrTruncatedPCM", err)
	}
}

func TestDecimate_KeepsEveryNthSample(t *testing.T) {
	t.Parallel()

	src := make([]float32, 100)
	for i := range src {
		src[i] = float32(i)
	}

	got := audio.Decimate(src, 7)

	if len(got) != 100/7 {
		t.Fatalf("len = %d, want %d", len(got), 100/7)
	}
	for i, v := range got {
		if v != src[i*7] {
			t.Errorf("out[%d] = %v, want src[%d] = %v", i, v, i*7, src[i*7])
		}
	}
}

func TestDecimate_48kBufferTo16k(t *testing.T) {
	t.Parallel()

	// A 4096-sample capture buffer decimated 48000→16000 (ratio 3) yields
	// exactly 1365 samples, the remainder truncated.
	src := make([]float32, 4096)
	got := audio.Decimate(src, 3)
	if len(got) != 1365 {
		t.Fatalf("len = %d, want 1365", len(got))
	}
}

func TestDecimate_RatioOneIsIdentity(t *testing.T) {
	t.Parallel()

	src := []float32{0.1, 0.2, 0.3}
	got := audio.Decimate(src, 1)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := range src {
		if got[i] != src[i] {
			t.Errorf("out[%d] = %v, want %v", i, got[i], src[i])
		}
	}
}
