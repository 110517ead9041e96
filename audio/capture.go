package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

// ErrDeviceUnavailable возвращается когда нет устройства ввода или его конфигурации
var ErrDeviceUnavailable = errors.New("audio input device unavailable")

// DeviceInfo описывает устройство ввода
type DeviceInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// Stream - открытый поток захвата. Принадлежит тому, кто его открыл,
// и должен быть закрыт ровно один раз.
type Stream interface {
	// SampleRate фактическая частота дискретизации потока
	SampleRate() int
	// Close останавливает поток. После возврата callback больше не вызывается.
	Close() error
}

// CaptureProvider источник аудио: перечисление устройств и открытие потоков.
// onSamples вызывается из потока захвата с моно сэмплами переменной длины.
type CaptureProvider interface {
	ListInputDevices() ([]DeviceInfo, error)
	Open(device string, sampleRate uint32, onSamples func([]float32)) (Stream, error)
}

// MalgoProvider захватывает микрофон через miniaudio (malgo)
type MalgoProvider struct {
	ctx    *malgo.AllocatedContext
	format malgo.FormatType
	mu     sync.Mutex
}

// NewMalgoProvider инициализирует контекст miniaudio
func NewMalgoProvider() (*MalgoProvider, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("source", "miniaudio").Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	return &MalgoProvider{
		ctx:    ctx,
		format: malgo.FormatF32,
	}, nil
}

// SetFormat задаёт формат сэмплов, запрашиваемый у устройства.
// Целочисленные форматы нормализуются в [-1, 1] при приёме.
func (p *MalgoProvider) SetFormat(format SampleFormat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch format {
	case FormatS16:
		p.format = malgo.FormatS16
	case FormatS32:
		p.format = malgo.FormatS32
	default:
		p.format = malgo.FormatF32
	}
}

// ListInputDevices возвращает список устройств захвата
func (p *MalgoProvider) ListInputDevices() ([]DeviceInfo, error) {
	infos, err := p.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for _, dev := range infos {
		devices = append(devices, DeviceInfo{
			ID:        deviceIDToString(dev.ID),
			Name:      dev.Name(),
			IsDefault: dev.IsDefault != 0,
		})
	}
	return devices, nil
}

// findDevice ищет устройство по имени (частичное совпадение без учёта регистра)
func (p *MalgoProvider) findDevice(name string) (*malgo.DeviceID, error) {
	infos, err := p.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, err
	}

	nameLower := strings.ToLower(name)
	for _, dev := range infos {
		if strings.Contains(strings.ToLower(dev.Name()), nameLower) {
			id := dev.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// Open открывает моно поток захвата. Пустое имя - устройство по умолчанию.
func (p *MalgoProvider) Open(device string, sampleRate uint32, onSamples func([]float32)) (Stream, error) {
	p.mu.Lock()
	format := p.format
	p.mu.Unlock()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = format
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	if device != "" {
		id, err := p.findDevice(device)
		if err != nil {
			return nil, err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	sampleFormat := formatFromMalgo(format)
	bytesPerSample := sampleFormat.BytesPerSample()

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		sampleCount := int(framecount) * int(deviceConfig.Capture.Channels)
		if len(pInputSamples) < sampleCount*bytesPerSample {
			return
		}
		onSamples(DecodeSamples(sampleFormat, pInputSamples[:sampleCount*bytesPerSample]))
	}

	dev, err := malgo.InitDevice(p.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init capture device: %w", err)
	}

	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	log.Info().
		Str("device", deviceLabel(device)).
		Uint32("sampleRate", sampleRate).
		Str("format", sampleFormat.String()).
		Msg("microphone capture started")

	return &malgoStream{device: dev, sampleRate: int(sampleRate)}, nil
}

// Close освобождает контекст miniaudio
func (p *MalgoProvider) Close() {
	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}

type malgoStream struct {
	device     *malgo.Device
	sampleRate int
	once       sync.Once
}

func (s *malgoStream) SampleRate() int {
	return s.sampleRate
}

// Close останавливает устройство. Uninit дожидается завершения callback.
func (s *malgoStream) Close() error {
	s.once.Do(func() {
		s.device.Uninit()
		log.Info().Msg("microphone capture stopped")
	})
	return nil
}

func formatFromMalgo(format malgo.FormatType) SampleFormat {
	switch format {
	case malgo.FormatS16:
		return FormatS16
	case malgo.FormatS32:
		return FormatS32
	default:
		return FormatF32
	}
}

func deviceLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}

func deviceIDToString(id malgo.DeviceID) string {
	// Первые 32 байта ID как строка
	var result strings.Builder
	for _, b := range id[:32] {
		if b == 0 {
			break
		}
		result.WriteByte(b)
	}
	return result.String()
}
