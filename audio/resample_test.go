package audio

import (
	"math"
	"testing"
)

func TestResample_Identity(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3, 0.4}
	out := Resample(in, 16000, 16000)

	if len(out) != len(in) {
		t.Fatalf("length: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}

	// Копия, а не тот же массив
	out[0] = 1
	if in[0] == 1 {
		t.Error("identity resample must return a copy")
	}
}

func TestResample_NearestPreceding(t *testing.T) {
	in := make([]float32, 12)
	for i := range in {
		in[i] = float32(i)
	}

	out := Resample(in, 48000, 16000)
	want := []float32{0, 3, 6, 9}
	if len(out) != len(want) {
		t.Fatalf("length: got %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_LengthBound(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 100, 4801, 96000} {
		in := make([]float32, n)
		out := Resample(in, 48000, 16000)
		if len(out) > n/3 {
			t.Errorf("n=%d: output length %d exceeds %d", n, len(out), n/3)
		}
	}
}

func TestResample_Upsample(t *testing.T) {
	in := []float32{1, 2, 3}
	out := Resample(in, 8000, 16000)
	want := []float32{1, 1, 2, 2, 3, 3}
	if len(out) != len(want) {
		t.Fatalf("length: got %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_Deterministic(t *testing.T) {
	in := make([]float32, 44100)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) / 10))
	}
	a := Resample(in, 44100, 16000)
	b := Resample(in, 44100, 16000)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("outputs differ at %d", i)
		}
	}
	if len(a) > 16000 || len(a) < 15999 {
		t.Errorf("expected about 16000 samples for one second, got %d", len(a))
	}
}

func TestToWhisper(t *testing.T) {
	in := make([]float32, 48000)
	if got := len(ToWhisper(in, 48000)); got != 16000 {
		t.Fatalf("expected 16000 samples, got %d", got)
	}
}
