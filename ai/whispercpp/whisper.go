//go:build cgo

// Package whispercpp реализует ai.Model поверх whisper.cpp.
// Библиотека libwhisper и заголовки должны быть доступны при сборке
// через LIBRARY_PATH и C_INCLUDE_PATH.
package whispercpp

import (
	"errors"
	"fmt"
	"io"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"kiku/ai"
)

// Model модель whisper.cpp. Контекст создаётся на каждый вызов,
// сама модель разделяется между ними.
type Model struct {
	model whisper.Model
}

// Load загружает ggml модель с диска. Подходит как ai.Loader.
func Load(path string) (ai.Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("whisper model path is required")
	}
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &Model{model: model}, nil
}

// Transcribe жадное декодирование без перевода, сегменты склеиваются
func (m *Model) Transcribe(samples []float32, opts ai.Options) (string, error) {
	if m.model == nil {
		return "", ai.ErrNotLoaded
	}

	wctx, err := m.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create whisper context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = ai.DefaultLanguage
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("set language %q: %w", lang, err)
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = ai.DefaultThreads
	}
	wctx.SetThreads(uint(threads))
	wctx.SetTranslate(false)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper process: %w", err)
	}

	var sb strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		sb.WriteString(seg.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Close освобождает модель
func (m *Model) Close() error {
	if m.model == nil {
		return nil
	}
	err := m.model.Close()
	m.model = nil
	return err
}
