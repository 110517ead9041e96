package audio

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// RMS вычисляет среднеквадратичную энергию сэмплов. Пустой вход -> 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	buf := make([]float64, len(samples))
	for i, s := range samples {
		buf[i] = float64(s)
	}

	return math.Sqrt(floats.Dot(buf, buf) / float64(len(buf)))
}
