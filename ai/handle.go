package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Handle владеет не более чем одной загруженной моделью.
// Загрузка одноразовая, инференс - строго по одному вызову за раз.
type Handle struct {
	path   string
	loader Loader
	opts   Options

	loadMu sync.Mutex // сериализует Load/Close
	mu     sync.Mutex // защищает model
	model  Model

	inferMu sync.Mutex // один инференс на контекст модели
}

// HandleOption настройка Handle
type HandleOption func(*Handle)

// WithLanguage задаёт язык распознавания
func WithLanguage(lang string) HandleOption {
	return func(h *Handle) {
		if lang = strings.TrimSpace(lang); lang != "" {
			h.opts.Language = lang
		}
	}
}

// WithThreads задаёт число потоков инференса
func WithThreads(n int) HandleOption {
	return func(h *Handle) {
		if n > 0 {
			h.opts.Threads = n
		}
	}
}

// NewHandle создаёт незагруженный Handle для модели по пути path
func NewHandle(path string, loader Loader, opts ...HandleOption) *Handle {
	h := &Handle{
		path:   path,
		loader: loader,
		opts: Options{
			Language: DefaultLanguage,
			Threads:  DefaultThreads,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Path путь к файлу модели
func (h *Handle) Path() string {
	return h.path
}

// Load загружает модель. Повторный вызов после успеха ничего не делает.
func (h *Handle) Load(ctx context.Context) error {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	if h.IsLoaded() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	model, err := h.loader(h.path)
	if err != nil {
		return fmt.Errorf("failed to load model %s: %w", h.path, err)
	}

	h.mu.Lock()
	h.model = model
	h.mu.Unlock()

	log.Info().
		Str("model", h.path).
		Str("language", h.opts.Language).
		Dur("took", time.Since(start)).
		Msg("transcription model loaded")
	return nil
}

// IsLoaded возвращает true если модель загружена
func (h *Handle) IsLoaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.model != nil
}

// Transcribe распознаёт сэмплы. Конкурентные вызовы ждут своей очереди.
func (h *Handle) Transcribe(ctx context.Context, samples []float32) (string, error) {
	h.inferMu.Lock()
	defer h.inferMu.Unlock()

	h.mu.Lock()
	model := h.model
	h.mu.Unlock()
	if model == nil {
		return "", ErrNotLoaded
	}

	// Пока ждали очередь, вызывающий мог уже уйти
	if err := ctx.Err(); err != nil {
		return "", err
	}

	start := time.Now()
	text, err := model.Transcribe(samples, h.opts)
	if err != nil {
		return "", err
	}

	log.Debug().
		Int("samples", len(samples)).
		Float64("audioSec", float64(len(samples))/16000).
		Dur("took", time.Since(start)).
		Msg("transcription finished")
	return strings.TrimSpace(text), nil
}

// Close выгружает модель. После Close можно снова вызвать Load.
func (h *Handle) Close() error {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	// Дожидаемся текущего инференса
	h.inferMu.Lock()
	defer h.inferMu.Unlock()

	h.mu.Lock()
	model := h.model
	h.model = nil
	h.mu.Unlock()

	if model == nil {
		return nil
	}
	return model.Close()
}
