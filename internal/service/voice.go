package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kiku/ai"
	"kiku/audio"
	"kiku/internal/observe"
	"kiku/session"
)

const errNotInitialized = "Voice system not initialized"

// TranscriberFactory создаёт незагруженный транскрайбер для модели
type TranscriberFactory func(modelPath string) ai.Transcriber

// Источники команд для метрик
const (
	SourceManual     = "manual"
	SourceVAD        = "vad"
	SourceBackground = "background"
)

// VoiceService фасад для внешних клиентов.
// Все ошибки отдаются как простые строки.
type VoiceService struct {
	Recorder       *audio.Recorder
	NewTranscriber TranscriberFactory
	Config         session.Config
	Metrics        *observe.Metrics

	// Колбэки фонового прослушивания
	OnEvent   func(session.ListeningEvent)
	OnCommand func(session.VoiceCommand)

	// initMu сериализует Initialize целиком, включая загрузку модели
	initMu sync.Mutex

	mu          sync.Mutex
	handler     *session.Handler
	transcriber ai.Transcriber
	modelPath   string

	logMu   sync.Mutex
	lastLog string

	closers []func()
}

func NewVoiceService(recorder *audio.Recorder, factory TranscriberFactory, cfg session.Config, metrics *observe.Metrics) *VoiceService {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &VoiceService{
		Recorder:       recorder,
		NewTranscriber: factory,
		Config:         cfg,
		Metrics:        metrics,
	}
}

// Initialize загружает модель и создаёт обработчик.
// Повторный вызов с той же моделью ничего не делает, с другой - заменяет обработчик.
func (s *VoiceService) Initialize(ctx context.Context, modelPath string) (string, error) {
	if _, err := os.Stat(modelPath); err != nil {
		s.Metrics.RecordError(ctx, "initialize", "model_missing")
		return "", fmt.Errorf("Model file not found at: %s", modelPath)
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.mu.Lock()
	if s.handler != nil && s.modelPath == modelPath && s.handler.IsInitialized() {
		s.mu.Unlock()
		return "Voice system initialized successfully", nil
	}
	s.mu.Unlock()

	transcriber := s.NewTranscriber(modelPath)
	handler := session.NewHandler(s.Recorder, transcriber, s.Config)
	handler.OnEvent(s.handleEvent)
	handler.OnCommand(func(cmd session.VoiceCommand) {
		s.handleBackgroundCommand(handler, cmd)
	})

	start := time.Now()
	if err := handler.Initialize(ctx); err != nil {
		s.Metrics.RecordError(ctx, "initialize", errorKind(err))
		return "", err
	}

	s.mu.Lock()
	oldHandler, oldTranscriber := s.handler, s.transcriber
	s.handler = handler
	s.transcriber = transcriber
	s.modelPath = modelPath
	s.mu.Unlock()

	if oldHandler != nil {
		oldHandler.Close(time.Second)
	}
	if oldTranscriber != nil {
		if err := oldTranscriber.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to release previous model")
		}
	}

	log.Info().Str("model", modelPath).Dur("took", time.Since(start)).Msg("voice system initialized")
	return "Voice system initialized successfully", nil
}

func (s *VoiceService) current() (*session.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return nil, errors.New(errNotInitialized)
	}
	return s.handler, nil
}

// IsInitialized true, если обработчик создан и модель загружена
func (s *VoiceService) IsInitialized() bool {
	h, err := s.current()
	return err == nil && h.IsInitialized()
}

func (s *VoiceService) StartRecording() (string, error) {
	h, err := s.current()
	if err != nil {
		return "", err
	}
	if err := h.StartRecording(); err != nil {
		s.Metrics.RecordError(context.Background(), "start_recording", errorKind(err))
		return "", err
	}
	return "Recording started", nil
}

func (s *VoiceService) StopRecording(ctx context.Context) (session.VoiceCommand, error) {
	h, err := s.current()
	if err != nil {
		return session.VoiceCommand{}, err
	}

	length := time.Duration(h.GetRecordingStatus().DurationMs) * time.Millisecond
	start := time.Now()
	cmd, err := h.StopRecordingAndTranscribe(ctx)
	if err != nil {
		s.Metrics.RecordError(ctx, "stop_recording", errorKind(err))
		return session.VoiceCommand{}, err
	}
	s.Metrics.RecordTranscription(ctx, time.Since(start))
	if length > 0 {
		s.Metrics.RecordUtterance(ctx, length)
	}
	s.recordCommand(ctx, h, cmd, SourceManual)
	return cmd, nil
}

func (s *VoiceService) RecordCommandWithVAD(ctx context.Context) (session.VoiceCommand, error) {
	h, err := s.current()
	if err != nil {
		return session.VoiceCommand{}, err
	}

	start := time.Now()
	cmd, err := h.RecordCommandWithVAD(ctx)
	if err != nil {
		s.Metrics.RecordError(ctx, "record_command_with_vad", errorKind(err))
		return session.VoiceCommand{}, err
	}
	s.Metrics.RecordUtterance(ctx, time.Since(start))
	s.recordCommand(ctx, h, cmd, SourceVAD)
	return cmd, nil
}

func (s *VoiceService) GetStatus() (session.RecordingStatus, error) {
	h, err := s.current()
	if err != nil {
		return session.RecordingStatus{}, err
	}
	return h.GetRecordingStatus(), nil
}

// ProcessCommand возвращает метку намерения, false если ни одно правило не подошло
func (s *VoiceService) ProcessCommand(cmd session.VoiceCommand) (string, bool, error) {
	h, err := s.current()
	if err != nil {
		return "", false, err
	}
	intent, ok := h.ProcessCommand(cmd)
	return string(intent), ok, nil
}

func (s *VoiceService) StartBackgroundListening() (string, error) {
	h, err := s.current()
	if err != nil {
		return "", err
	}
	if err := h.StartBackgroundListening(); err != nil {
		s.Metrics.RecordError(context.Background(), "start_background_listening", errorKind(err))
		return "", err
	}
	return "Background listening started", nil
}

func (s *VoiceService) StopBackgroundListening() (string, error) {
	h, err := s.current()
	if err != nil {
		return "", err
	}
	if err := h.StopBackgroundListening(); err != nil {
		return "", err
	}
	return "Background listening stopped", nil
}

func (s *VoiceService) IsBackgroundListening() bool {
	h, err := s.current()
	return err == nil && h.IsBackgroundListening()
}

// ListAudioDevices не требует инициализации
func (s *VoiceService) ListAudioDevices() ([]audio.DeviceInfo, error) {
	devices, err := s.Recorder.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("Failed to list audio devices: %s", err)
	}
	return devices, nil
}

// SetAudioDevice nil или пустое имя - устройство по умолчанию
func (s *VoiceService) SetAudioDevice(name *string) error {
	h, err := s.current()
	if err != nil {
		return err
	}
	device := ""
	if name != nil {
		device = *name
	}
	h.SetAudioDevice(device)
	log.Info().Str("device", device).Msg("audio device selected")
	return nil
}

// LogCommand запоминает команду одной строкой в памяти и возвращает эту строку
func (s *VoiceService) LogCommand(cmd session.VoiceCommand) string {
	line := FormatLogLine(time.Now(), cmd)

	s.logMu.Lock()
	s.lastLog = line
	s.logMu.Unlock()

	log.Info().Str("id", cmd.ID).Str("text", cmd.Text).Msg("voice command logged")
	return line
}

// LastLogLine последняя записанная строка, пустая если команд не было
func (s *VoiceService) LastLogLine() string {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	return s.lastLog
}

// FormatLogLine формат: [2006-01-02 15:04:05 UTC] text (confidence: 1)
func FormatLogLine(at time.Time, cmd session.VoiceCommand) string {
	return fmt.Sprintf("[%s] %s (confidence: %s)",
		at.UTC().Format("2006-01-02 15:04:05 UTC"),
		cmd.Text,
		strconv.FormatFloat(float64(cmd.Confidence), 'f', -1, 32),
	)
}

// OnClose добавляет функцию, вызываемую в конце Close
func (s *VoiceService) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, fn)
}

// Close останавливает прослушивание и освобождает модель и устройство
func (s *VoiceService) Close() {
	s.mu.Lock()
	h, tr := s.handler, s.transcriber
	s.handler, s.transcriber = nil, nil
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	if h != nil {
		h.Close(2 * time.Second)
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to release model")
		}
	}
	s.Recorder.Close()
	for _, fn := range closers {
		fn()
	}
}

func (s *VoiceService) recordCommand(ctx context.Context, h *session.Handler, cmd session.VoiceCommand, source string) {
	intent, _ := h.ProcessCommand(cmd)
	s.Metrics.RecordCommand(ctx, source, string(intent))
}

func (s *VoiceService) handleEvent(ev session.ListeningEvent) {
	switch ev.EventType {
	case session.EventWakeWord:
		s.Metrics.RecordWakeWord(context.Background(), ev.Message)
	case session.EventError:
		s.Metrics.RecordError(context.Background(), "background_listening", "listener")
	}
	if s.OnEvent != nil {
		s.OnEvent(ev)
	}
}

func (s *VoiceService) handleBackgroundCommand(h *session.Handler, cmd session.VoiceCommand) {
	s.recordCommand(context.Background(), h, cmd, SourceBackground)
	if s.OnCommand != nil {
		s.OnCommand(cmd)
	}
}

// errorKind короткая метка ошибки для метрик
func errorKind(err error) string {
	switch {
	case errors.Is(err, session.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, session.ErrModelLoad):
		return "model_load"
	case errors.Is(err, session.ErrEmptyRecording):
		return "empty_recording"
	case errors.Is(err, session.ErrTranscribe):
		return "transcribe"
	case errors.Is(err, session.ErrAlreadyListening):
		return "already_listening"
	case errors.Is(err, session.ErrRecordingCancelled):
		return "cancelled"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "other"
	}
}
