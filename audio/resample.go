package audio

// WhisperSampleRate частота, которую ожидает движок распознавания
const WhisperSampleRate = 16000

// Resample переводит сэмплы из sourceRate в targetRate выбором ближайшего
// предшествующего сэмпла (без антиалиасинга). Функция детерминирована:
// на одинаковых входах всегда один и тот же результат.
//
// При равных (или некорректных) частотах возвращается копия входа.
func Resample(samples []float32, sourceRate, targetRate int) []float32 {
	if sourceRate == targetRate || sourceRate <= 0 || targetRate <= 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(sourceRate) / float64(targetRate)
	outputLength := int(float64(len(samples)) / ratio)

	out := make([]float32, 0, outputLength)
	for i := 0; i < outputLength; i++ {
		index := int(float64(i) * ratio)
		if index >= len(samples) {
			continue
		}
		out = append(out, samples[index])
	}
	return out
}

// ToWhisper конвертирует моно сэмплы в 16kHz для транскрипции
func ToWhisper(samples []float32, sourceRate int) []float32 {
	return Resample(samples, sourceRate, WhisperSampleRate)
}
