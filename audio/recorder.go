package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultCaptureSampleRate частота захвата микрофона по умолчанию
const DefaultCaptureSampleRate = 48000

// DefaultGraceDelay пауза после остановки, чтобы долетел последний callback
const DefaultGraceDelay = 100 * time.Millisecond

// RecorderOption настройка Recorder
type RecorderOption func(*Recorder)

// WithGraceDelay задаёт паузу между остановкой и чтением буфера
func WithGraceDelay(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d >= 0 {
			r.graceDelay = d
		}
	}
}

// WithSampleRate задаёт частоту, запрашиваемую у устройства
func WithSampleRate(hz uint32) RecorderOption {
	return func(r *Recorder) {
		if hz > 0 {
			r.rate = hz
		}
	}
}

// WithDevice задаёт устройство для следующих Start
func WithDevice(name string) RecorderOption {
	return func(r *Recorder) { r.device = name }
}

// Recorder владеет потоком захвата и копит сэмплы в общий буфер.
//
// Буфер и флаг записи защищены одним мьютексом, поэтому читатель никогда не
// увидит "идёт запись" вместе с обрезаемым буфером. Start/Stop
// сериализуются отдельным мьютексом, который не нужен callback'у захвата.
type Recorder struct {
	provider   CaptureProvider
	rate       uint32
	graceDelay time.Duration

	opMu sync.Mutex // Start/Stop/Close

	mu         sync.Mutex
	samples    []float32
	recording  bool
	generation uint64
	stream     Stream
	streamRate int
	device     string
}

// NewRecorder создаёт рекордер поверх провайдера захвата
func NewRecorder(provider CaptureProvider, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		provider:   provider,
		rate:       DefaultCaptureSampleRate,
		graceDelay: DefaultGraceDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start начинает новую запись. Если запись уже идёт - перезапускает её,
// буфер очищается.
func (r *Recorder) Start() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	old := r.stream
	r.stream = nil
	r.recording = false
	generation := r.generation + 1
	device := r.device
	r.mu.Unlock()

	// Закрываем вне r.mu: закрытие ждёт callback, а callback берёт r.mu
	if old != nil {
		closeStream(old)
	}

	stream, err := r.provider.Open(device, r.rate, func(chunk []float32) {
		r.append(generation, chunk)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	r.mu.Lock()
	r.generation = generation
	r.samples = r.samples[:0]
	r.recording = true
	r.stream = stream
	r.streamRate = stream.SampleRate()
	r.mu.Unlock()

	log.Debug().Str("device", deviceLabel(device)).Int("sampleRate", stream.SampleRate()).Msg("recording started")
	return nil
}

// append вызывается из потока захвата. Сэмплы после остановки или от
// потока прошлой записи молча отбрасываются.
func (r *Recorder) append(generation uint64, chunk []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording || r.generation != generation {
		return
	}
	r.samples = append(r.samples, chunk...)
}

// Stop останавливает запись и возвращает копию буфера.
// Без активной записи возвращает последний снимок (пустой, если записи не было).
func (r *Recorder) Stop() []float32 {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if !r.recording {
		snapshot := r.snapshotLocked()
		r.mu.Unlock()
		return snapshot
	}
	r.recording = false
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()

	// Даём завершиться callback'у, который мог уже быть в полёте
	time.Sleep(r.graceDelay)

	if stream != nil {
		closeStream(stream)
	}

	r.mu.Lock()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	log.Debug().Int("samples", len(snapshot)).Msg("recording stopped")
	return snapshot
}

// Peek возвращает копию буфера, не меняя состояние
func (r *Recorder) Peek() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Tail возвращает копию последних n сэмплов (или меньше, если их меньше)
func (r *Recorder) Tail(n int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 {
		return []float32{}
	}
	start := len(r.samples) - n
	if start < 0 {
		start = 0
	}
	out := make([]float32, len(r.samples)-start)
	copy(out, r.samples[start:])
	return out
}

// Len количество накопленных сэмплов
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// IsRecording возвращает true пока идёт запись
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// SampleRate частота текущего (или последнего) потока
func (r *Recorder) SampleRate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streamRate > 0 {
		return r.streamRate
	}
	return int(r.rate)
}

// SetDevice выбирает устройство для следующих Start. Пустое имя - устройство
// по умолчанию. На текущую запись не влияет.
func (r *Recorder) SetDevice(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.device = name
}

// Device возвращает выбранное устройство ("" - по умолчанию)
func (r *Recorder) Device() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

// ListDevices перечисляет устройства ввода независимо от состояния записи
func (r *Recorder) ListDevices() ([]DeviceInfo, error) {
	return r.provider.ListInputDevices()
}

// Close останавливает запись без паузы и освобождает поток
func (r *Recorder) Close() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	r.recording = false
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()

	if stream != nil {
		closeStream(stream)
	}
}

func (r *Recorder) snapshotLocked() []float32 {
	out := make([]float32, len(r.samples))
	copy(out, r.samples)
	return out
}

func closeStream(s Stream) {
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close capture stream")
	}
}
