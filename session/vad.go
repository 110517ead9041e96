package session

import (
	"math"

	"kiku/audio"
)

// FrameSize размер кадра VAD в сэмплах
const FrameSize = 512

// SilenceState результат обработки кадра
type SilenceState int

const (
	Voice SilenceState = iota
	PossibleSilence
	SilenceDetected
)

func (s SilenceState) String() string {
	switch s {
	case Voice:
		return "voice"
	case PossibleSilence:
		return "possible_silence"
	case SilenceDetected:
		return "silence_detected"
	default:
		return "unknown"
	}
}

// Detector энергетический детектор тишины.
// Состояние - счётчик подряд идущих тихих кадров.
type Detector struct {
	threshold    float64
	target       int
	silentFrames int
}

// NewDetector создаёт детектор.
// Порог тишины в кадрах: max(1, round(silenceMs * sampleRate / 1000 / FrameSize)).
func NewDetector(energyThreshold float64, silenceDurationMs, sampleRate int) *Detector {
	frames := float64(silenceDurationMs) * float64(sampleRate) / 1000 / FrameSize
	target := int(math.Round(frames))
	if target < 1 {
		target = 1
	}
	return &Detector{
		threshold: energyThreshold,
		target:    target,
	}
}

// Energy RMS кадра, 0 для пустого
func (d *Detector) Energy(frame []float32) float64 {
	return audio.RMS(frame)
}

// IsActive true если энергия кадра выше порога
func (d *Detector) IsActive(frame []float32) bool {
	return d.Energy(frame) > d.threshold
}

// ProcessFrame переход автомата по одному кадру
func (d *Detector) ProcessFrame(frame []float32) SilenceState {
	if d.IsActive(frame) {
		d.silentFrames = 0
		return Voice
	}
	d.silentFrames++
	if d.silentFrames >= d.target {
		return SilenceDetected
	}
	return PossibleSilence
}

// Reset обнуляет счётчик, конфигурация не меняется
func (d *Detector) Reset() {
	d.silentFrames = 0
}

// SilentFrames текущая серия тихих кадров
func (d *Detector) SilentFrames() int {
	return d.silentFrames
}

// SilenceFrameTarget сколько тихих кадров подряд означает конец речи
func (d *Detector) SilenceFrameTarget() int {
	return d.target
}

// IsSilenceDetected true, если серия достигла цели
func (d *Detector) IsSilenceDetected() bool {
	return d.silentFrames >= d.target
}
