package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "kiku"

// Metrics инструменты OpenTelemetry. Безопасны для конкурентного использования.
type Metrics struct {
	// TranscriptionDuration время от остановки записи до готовой команды, секунды
	TranscriptionDuration metric.Float64Histogram

	// UtteranceDuration длина записанного аудио, секунды
	UtteranceDuration metric.Float64Histogram

	// Commands распознанные команды. Атрибуты: source, intent
	Commands metric.Int64Counter

	// Errors ошибки операций. Атрибуты: op, kind
	Errors metric.Int64Counter

	// WakeWords срабатывания слова активации. Атрибут: word
	WakeWords metric.Int64Counter

	// Requests входящие сообщения управления. Атрибуты: transport, type
	Requests metric.Int64Counter

	// ActiveClients подключённые клиенты. Атрибут: transport
	ActiveClients metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

var utteranceBuckets = []float64{
	0.25, 0.5, 1, 2, 3, 5, 8, 10, 15,
}

// NewMetrics создаёт инструменты на данном MeterProvider
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("kiku.transcription.duration",
		metric.WithDescription("Latency from end of recording to transcribed command."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("kiku.utterance.duration",
		metric.WithDescription("Length of recorded utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("kiku.commands",
		metric.WithDescription("Transcribed voice commands by source and intent."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("kiku.errors",
		metric.WithDescription("Failed operations by operation and error kind."),
	); err != nil {
		return nil, err
	}
	if met.WakeWords, err = m.Int64Counter("kiku.wake_words",
		metric.WithDescription("Wake word detections."),
	); err != nil {
		return nil, err
	}
	if met.Requests, err = m.Int64Counter("kiku.api.requests",
		metric.WithDescription("Control messages by transport and type."),
	); err != nil {
		return nil, err
	}
	if met.ActiveClients, err = m.Int64UpDownCounter("kiku.api.clients",
		metric.WithDescription("Connected control clients."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics метрики на глобальном провайдере. Без InitProvider это no-op.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordTranscription(ctx context.Context, took time.Duration) {
	m.TranscriptionDuration.Record(ctx, took.Seconds())
}

func (m *Metrics) RecordUtterance(ctx context.Context, length time.Duration) {
	m.UtteranceDuration.Record(ctx, length.Seconds())
}

func (m *Metrics) RecordCommand(ctx context.Context, source, intent string) {
	if intent == "" {
		intent = "none"
	}
	m.Commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("intent", intent),
	))
}

func (m *Metrics) RecordError(ctx context.Context, op, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) RecordWakeWord(ctx context.Context, word string) {
	m.WakeWords.Add(ctx, 1, metric.WithAttributes(attribute.String("word", word)))
}

func (m *Metrics) RecordRequest(ctx context.Context, transport, msgType string) {
	m.Requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.String("type", msgType),
	))
}

// ClientConnected возвращает функцию для отключения клиента
func (m *Metrics) ClientConnected(ctx context.Context, transport string) func() {
	attrs := metric.WithAttributes(attribute.String("transport", transport))
	m.ActiveClients.Add(ctx, 1, attrs)
	return func() { m.ActiveClients.Add(context.Background(), -1, attrs) }
}
