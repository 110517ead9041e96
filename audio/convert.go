package audio

import (
	"encoding/binary"
	"math"
)

// SampleFormat формат сэмплов, которые отдаёт устройство
type SampleFormat int

const (
	FormatF32 SampleFormat = iota
	FormatS16
	FormatS32
)

// BytesPerSample размер одного сэмпла в байтах
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatS16:
		return 2
	default:
		return 4
	}
}

func (f SampleFormat) String() string {
	switch f {
	case FormatS16:
		return "s16"
	case FormatS32:
		return "s32"
	default:
		return "f32"
	}
}

// ParseSampleFormat разбирает имя формата из конфигурации, неизвестное -> f32
func ParseSampleFormat(name string) SampleFormat {
	switch name {
	case "s16":
		return FormatS16
	case "s32":
		return FormatS32
	default:
		return FormatF32
	}
}

// DecodeSamples переводит little-endian байты устройства в float32 [-1, 1].
// Неполный хвостовой сэмпл отбрасывается.
func DecodeSamples(format SampleFormat, data []byte) []float32 {
	size := format.BytesPerSample()
	count := len(data) / size
	samples := make([]float32, count)

	switch format {
	case FormatS16:
		for i := 0; i < count; i++ {
			v := int16(binary.LittleEndian.Uint16(data[i*2:]))
			samples[i] = float32(v) / 32768.0
		}
	case FormatS32:
		for i := 0; i < count; i++ {
			v := int32(binary.LittleEndian.Uint32(data[i*4:]))
			samples[i] = float32(float64(v) / 2147483648.0)
		}
	default:
		for i := 0; i < count; i++ {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	}

	return samples
}
