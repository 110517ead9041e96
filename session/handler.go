// Package session управляет жизненным циклом голосовой команды:
// запись, автоостановка по тишине, распознавание и интерпретация.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kiku/ai"
	"kiku/audio"
)

// Recorder источник сэмплов. Реализуется audio.Recorder.
type Recorder interface {
	Start() error
	Stop() []float32
	Tail(n int) []float32
	SampleRate() int
	SetDevice(name string)
	ListDevices() ([]audio.DeviceInfo, error)
}

// Handler обработчик голосовых команд.
// Безопасен для вызова из любых горутин.
type Handler struct {
	recorder    Recorder
	transcriber ai.Transcriber
	interpreter *Interpreter
	wake        *WakeWordDetector
	cfg         Config

	state *state

	// recMu связывает переход состояния с запуском/остановкой записи,
	// чтобы владелец записи и поток захвата не разошлись
	recMu sync.Mutex

	listenMu     sync.Mutex
	listenCancel context.CancelFunc
	listenDone   chan struct{}

	cbMu      sync.RWMutex
	onEvent   func(ListeningEvent)
	onCommand func(VoiceCommand)
}

// NewHandler создаёт обработчик. Нулевые поля cfg заменяются значениями по умолчанию.
func NewHandler(recorder Recorder, transcriber ai.Transcriber, cfg Config) *Handler {
	cfg = cfg.withDefaults()
	return &Handler{
		recorder:    recorder,
		transcriber: transcriber,
		interpreter: NewInterpreter(),
		wake:        NewWakeWordDetector(cfg.WakeWords, cfg.WakeThreshold),
		cfg:         cfg,
		state:       newState(),
	}
}

// Config действующие параметры
func (h *Handler) Config() Config {
	return h.cfg
}

// OnEvent задаёт получателя событий фонового прослушивания
func (h *Handler) OnEvent(fn func(ListeningEvent)) {
	h.cbMu.Lock()
	h.onEvent = fn
	h.cbMu.Unlock()
}

// OnCommand задаёт получателя команд, распознанных в фоне
func (h *Handler) OnCommand(fn func(VoiceCommand)) {
	h.cbMu.Lock()
	h.onCommand = fn
	h.cbMu.Unlock()
}

// Initialize загружает модель. Повторный вызов безопасен.
func (h *Handler) Initialize(ctx context.Context) error {
	if err := h.transcriber.Load(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	h.state.markInitialized()
	return nil
}

// IsInitialized true после успешной загрузки модели
func (h *Handler) IsInitialized() bool {
	return h.state.isInitialized()
}

// StartRecording начинает ручную запись. Идущая запись перезапускается.
func (h *Handler) StartRecording() error {
	if !h.state.isInitialized() {
		return ErrNotInitialized
	}
	if _, err := h.beginRecording(ModeManual); err != nil {
		return err
	}
	log.Info().Msg("manual recording started")
	return nil
}

// StopRecordingAndTranscribe останавливает ручную или VAD запись и распознаёт её.
// Запись, которую уже перехватили, вернёт ErrRecordingCancelled своему владельцу.
// Без идущей записи, в том числе во время окна слова активации, возвращает ErrEmptyRecording.
func (h *Handler) StopRecordingAndTranscribe(ctx context.Context) (VoiceCommand, error) {
	if !h.state.isInitialized() {
		return VoiceCommand{}, ErrNotInitialized
	}
	samples, rate := h.stopUser()
	return h.transcribe(ctx, samples, rate)
}

// RecordCommandWithVAD записывает команду до паузы в речи или до MaxDuration
func (h *Handler) RecordCommandWithVAD(ctx context.Context) (VoiceCommand, error) {
	if !h.state.isInitialized() {
		return VoiceCommand{}, ErrNotInitialized
	}
	token, err := h.beginRecording(ModeVAD)
	if err != nil {
		return VoiceCommand{}, err
	}
	log.Info().Msg("vad recording started")

	samples, rate, err := h.awaitSilence(ctx, token)
	if err != nil {
		return VoiceCommand{}, err
	}
	return h.transcribe(ctx, samples, rate)
}

// awaitSilence опрашивает хвост буфера до тишины, таймаута или перехвата записи
func (h *Handler) awaitSilence(ctx context.Context, token uint64) ([]float32, int, error) {
	detector := NewDetector(h.cfg.EnergyThreshold, int(h.cfg.SilenceDuration/time.Millisecond), h.cfg.VADSampleRate)

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(h.cfg.MaxDuration)
	defer deadline.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			h.finishRecording(token)
			return nil, 0, ctx.Err()
		case <-deadline.C:
			log.Info().Dur("max", h.cfg.MaxDuration).Msg("vad recording reached max duration")
			break loop
		case <-ticker.C:
			if !h.state.active(token) {
				return nil, 0, ErrRecordingCancelled
			}
			frame := h.recorder.Tail(FrameSize)
			if len(frame) < FrameSize {
				continue
			}
			if detector.ProcessFrame(frame) == SilenceDetected {
				log.Info().Int("silentFrames", detector.SilentFrames()).Msg("silence detected")
				break loop
			}
		}
	}

	samples, rate, ok := h.finishRecording(token)
	if !ok {
		return nil, 0, ErrRecordingCancelled
	}
	return samples, rate, nil
}

// transcribe ресемплирует и распознаёт вне всех блокировок состояния.
// Инференс идёт в своей горутине: вызывающий может уйти по ctx,
// но начатый инференс не прерывается.
func (h *Handler) transcribe(ctx context.Context, samples []float32, rate int) (VoiceCommand, error) {
	if len(samples) == 0 {
		return VoiceCommand{}, ErrEmptyRecording
	}

	pcm := audio.ToWhisper(samples, rate)

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := h.transcriber.Transcribe(ctx, pcm)
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return VoiceCommand{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return VoiceCommand{}, fmt.Errorf("%w: %w", ErrTranscribe, r.err)
		}
		cmd := NewVoiceCommand(r.text)
		log.Info().
			Str("id", cmd.ID).
			Str("text", cmd.Text).
			Int("samples", len(samples)).
			Int("sampleRate", rate).
			Msg("command transcribed")
		return cmd, nil
	}
}

// GetRecordingStatus согласованный снимок флагов
func (h *Handler) GetRecordingStatus() RecordingStatus {
	snap := h.state.snapshot()
	status := RecordingStatus{
		IsRecording: snap.Mode.Recording(),
		IsListening: snap.Listening,
	}
	if status.IsRecording {
		status.DurationMs = uint64(snap.Elapsed.Milliseconds())
	}
	return status
}

// ProcessCommand сопоставляет команду с намерением
func (h *Handler) ProcessCommand(cmd VoiceCommand) (Intent, bool) {
	return h.interpreter.Interpret(cmd.Text)
}

// SetAudioDevice устройство для следующих записей, пустое имя - по умолчанию
func (h *Handler) SetAudioDevice(name string) {
	h.recorder.SetDevice(name)
}

// ListAudioDevices устройства ввода рекордера
func (h *Handler) ListAudioDevices() ([]audio.DeviceInfo, error) {
	return h.recorder.ListDevices()
}

// beginRecording запускает запись в режиме mode
func (h *Handler) beginRecording(mode Mode) (uint64, error) {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	return h.beginLocked(mode)
}

// beginIfIdle запускает запись только если никакая другая не идёт
// и ctx ещё жив
func (h *Handler) beginIfIdle(ctx context.Context, mode Mode) (uint64, bool, error) {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	if ctx.Err() != nil || h.state.current() != ModeIdle {
		return 0, false, nil
	}
	token, err := h.beginLocked(mode)
	if err != nil {
		return 0, false, err
	}
	return token, true, nil
}

func (h *Handler) beginLocked(mode Mode) (uint64, error) {
	if err := h.recorder.Start(); err != nil {
		// Рекордер после неудачного старта остановлен
		h.state.finishAny()
		return 0, fmt.Errorf("failed to start recording: %w", err)
	}
	return h.state.begin(mode), nil
}

// finishRecording останавливает запись, если она всё ещё принадлежит token
func (h *Handler) finishRecording(token uint64) ([]float32, int, bool) {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	if !h.state.finish(token) {
		return nil, 0, false
	}
	return h.recorder.Stop(), h.recorder.SampleRate(), true
}

// stopUser останавливает пользовательскую запись независимо от владельца.
// Снимок отдаётся только тому, кто завершил запись: без идущей записи
// сэмплов нет, прежний буфер уже распознан или выброшен.
func (h *Handler) stopUser() ([]float32, int) {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	prev, ok := h.state.stopUser()
	if !ok {
		log.Debug().Stringer("mode", prev).Msg("stop requested without user recording")
		return nil, 0
	}
	log.Debug().Stringer("mode", prev).Msg("recording stopped by request")
	return h.recorder.Stop(), h.recorder.SampleRate()
}

// abortRecording останавливает запись и выбрасывает сэмплы
func (h *Handler) abortRecording() {
	h.recMu.Lock()
	defer h.recMu.Unlock()
	if prev := h.state.finishAny(); prev != ModeIdle {
		h.recorder.Stop()
		log.Info().Stringer("mode", prev).Msg("recording aborted")
	}
}

func (h *Handler) emit(ev ListeningEvent) {
	h.cbMu.RLock()
	fn := h.onEvent
	h.cbMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *Handler) deliver(cmd VoiceCommand) {
	h.cbMu.RLock()
	fn := h.onCommand
	h.cbMu.RUnlock()
	if fn != nil {
		fn(cmd)
	}
}
