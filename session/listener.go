package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"kiku/audio"
)

// StartBackgroundListening запускает цикл ожидания слова активации
func (h *Handler) StartBackgroundListening() error {
	if !h.state.isInitialized() {
		return ErrNotInitialized
	}

	h.listenMu.Lock()
	defer h.listenMu.Unlock()

	if h.state.setListening(true) {
		return ErrAlreadyListening
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.listenCancel = cancel
	h.listenDone = done

	go func() {
		defer close(done)
		h.listen(ctx)
	}()

	log.Info().Strs("wakeWords", h.wake.Words()).Msg("background listening started")
	h.emit(ListeningEvent{EventType: EventListeningStarted, Message: "Background listening started"})
	return nil
}

// StopBackgroundListening останавливает цикл и любую идущую запись.
// Начатый инференс дорабатывает, но его результат отбрасывается.
func (h *Handler) StopBackgroundListening() error {
	h.listenMu.Lock()
	cancel := h.listenCancel
	h.listenCancel = nil
	h.listenDone = nil
	h.listenMu.Unlock()

	wasListening := h.state.setListening(false)
	if cancel != nil {
		cancel()
	}
	h.abortRecording()

	if wasListening {
		log.Info().Msg("background listening stopped")
		h.emit(ListeningEvent{EventType: EventListeningStopped, Message: "Background listening stopped"})
	}
	return nil
}

func (h *Handler) IsBackgroundListening() bool {
	return h.state.snapshot().Listening
}

// Close останавливает прослушивание и ждёт выхода цикла не дольше timeout
func (h *Handler) Close(timeout time.Duration) {
	h.listenMu.Lock()
	done := h.listenDone
	h.listenMu.Unlock()

	_ = h.StopBackgroundListening()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("background listener did not exit in time")
	}
}

func (h *Handler) listen(ctx context.Context) {
	for ctx.Err() == nil {
		token, started, err := h.beginIfIdle(ctx, ModeWakeCapture)
		if err != nil {
			h.emit(ListeningEvent{EventType: EventError, Message: err.Error()})
			if !sleepCtx(ctx, h.cfg.WakeWindow) {
				return
			}
			continue
		}
		if !started {
			// Пользователь записывает сам, ждём
			if !sleepCtx(ctx, h.cfg.PollInterval) {
				return
			}
			continue
		}

		if !sleepCtx(ctx, h.cfg.WakeWindow) {
			h.finishRecording(token)
			return
		}
		samples, rate, ok := h.finishRecording(token)
		if !ok {
			continue
		}

		word, found, err := h.detectWakeWord(ctx, samples, rate)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.emit(ListeningEvent{EventType: EventError, Message: err.Error()})
			continue
		}
		if !found {
			continue
		}

		log.Info().Str("word", word).Msg("wake word detected")
		h.emit(ListeningEvent{EventType: EventWakeWord, Message: word})

		cmd, err := h.RecordCommandWithVAD(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrRecordingCancelled) {
				h.emit(ListeningEvent{EventType: EventError, Message: err.Error()})
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}

		h.deliver(cmd)
		h.emit(ListeningEvent{EventType: EventCommand, Message: cmd.Text})
	}
}

// detectWakeWord распознаёт окно и ищет слово активации.
// Слишком короткие окна не распознаются.
func (h *Handler) detectWakeWord(ctx context.Context, samples []float32, rate int) (string, bool, error) {
	pcm := audio.ToWhisper(samples, rate)
	if len(pcm) < MinWakeSamples {
		return "", false, nil
	}
	text, err := h.transcriber.Transcribe(ctx, pcm)
	if err != nil {
		return "", false, err
	}
	word, ok := h.wake.Detect(text)
	return word, ok, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
