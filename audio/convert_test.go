package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestDecodeSamples(t *testing.T) {
	f32 := make([]byte, 8)
	binary.LittleEndian.PutUint32(f32[0:], math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(f32[4:], math.Float32bits(-0.25))

	s16 := make([]byte, 6)
	binary.LittleEndian.PutUint16(s16[0:], uint16(16384))
	neg := int16(-32768)
	binary.LittleEndian.PutUint16(s16[2:], uint16(neg))
	binary.LittleEndian.PutUint16(s16[4:], 0)

	s32 := make([]byte, 4)
	half := int32(1 << 30)
	binary.LittleEndian.PutUint32(s32, uint32(half))

	tests := []struct {
		name   string
		format SampleFormat
		data   []byte
		want   []float32
	}{
		{"f32", FormatF32, f32, []float32{0.5, -0.25}},
		{"s16", FormatS16, s16, []float32{0.5, -1, 0}},
		{"s32", FormatS32, s32, []float32{0.5}},
		{"partial tail dropped", FormatS16, []byte{0, 0, 1}, []float32{0}},
		{"empty", FormatF32, nil, []float32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeSamples(tt.format, tt.data)
			if len(got) != len(tt.want) {
				t.Fatalf("length: got %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if math.Abs(float64(got[i]-tt.want[i])) > 1e-6 {
					t.Errorf("sample %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseSampleFormat(t *testing.T) {
	cases := map[string]SampleFormat{"s16": FormatS16, "s32": FormatS32, "f32": FormatF32, "": FormatF32, "u8": FormatF32}
	for name, want := range cases {
		if got := ParseSampleFormat(name); got != want {
			t.Errorf("%q: got %v, want %v", name, got, want)
		}
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Fatal("empty input must yield 0")
	}
	for _, a := range []float32{0, 0.001, 0.1, -0.5, 1} {
		frame := make([]float32, 512)
		for i := range frame {
			frame[i] = a
		}
		if got := RMS(frame); math.Abs(got-math.Abs(float64(a))) > 1e-9 {
			t.Errorf("RMS of constant %v = %v", a, got)
		}
	}
}
