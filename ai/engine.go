// Package ai предоставляет интерфейс движка распознавания речи и обёртку,
// которая загружает модель один раз и сериализует вызовы инференса.
package ai

import (
	"context"
	"errors"
)

// ErrNotLoaded возвращается при попытке распознавания до загрузки модели
var ErrNotLoaded = errors.New("transcription model not loaded")

// DefaultLanguage язык распознавания по умолчанию
const DefaultLanguage = "en"

// DefaultThreads число потоков инференса по умолчанию
const DefaultThreads = 4

// Transcriber распознаёт моно 16kHz float сэмплы в текст.
// Реализации должны быть безопасны для конкурентного использования:
// параллельные вызовы Transcribe выстраиваются в очередь.
type Transcriber interface {
	// Load загружает модель. Повторный вызов после успешной загрузки - no-op.
	Load(ctx context.Context) error

	// Transcribe распознаёт сэмплы (16kHz, mono). Может работать секундами.
	Transcribe(ctx context.Context, samples []float32) (string, error)

	// IsLoaded возвращает true после успешного Load
	IsLoaded() bool

	// Close освобождает модель
	Close() error
}

// Options параметры распознавания
type Options struct {
	Language string // тег языка, "auto" - автоопределение
	Threads  int    // потоки инференса
}

// Model загруженная модель. Вызовы Transcribe не реентерабельны:
// вызывающий обязан сериализовать их сам.
type Model interface {
	Transcribe(samples []float32, opts Options) (string, error)
	Close() error
}

// Loader загружает модель по пути к файлу
type Loader func(path string) (Model, error)
