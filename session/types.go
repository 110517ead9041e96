package session

import (
	"time"

	"github.com/google/uuid"
)

// VoiceCommand распознанная команда. Неизменяема после создания.
type VoiceCommand struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"` // движок не отдаёт уверенность, всегда 1.0
	Timestamp  int64   `json:"timestamp"`  // unix секунды на момент завершения
}

// NewVoiceCommand создаёт команду с текущим временем
func NewVoiceCommand(text string) VoiceCommand {
	return VoiceCommand{
		ID:         uuid.New().String(),
		Text:       text,
		Confidence: 1.0,
		Timestamp:  time.Now().Unix(),
	}
}

// RecordingStatus снимок состояния записи
type RecordingStatus struct {
	IsRecording bool   `json:"is_recording"`
	IsListening bool   `json:"is_listening"`
	DurationMs  uint64 `json:"duration_ms"`
}

// ListeningEvent событие фонового прослушивания
type ListeningEvent struct {
	EventType string `json:"event_type"`
	Message   string `json:"message"`
}

// Типы событий фонового прослушивания
const (
	EventListeningStarted = "listening_started"
	EventListeningStopped = "listening_stopped"
	EventWakeWord         = "wake_word"
	EventCommand          = "command"
	EventError            = "error"
)

// Intent метка намерения команды
type Intent string

const (
	IntentGreeting      Intent = "greeting"
	IntentStartWorkflow Intent = "start_workflow"
	IntentStopWorkflow  Intent = "stop_workflow"
	IntentStatusCheck   Intent = "status_check"
	IntentShowHelp      Intent = "show_help"
)

// Config параметры обработчика команд
type Config struct {
	// VAD
	EnergyThreshold float64
	SilenceDuration time.Duration
	VADSampleRate   int
	PollInterval    time.Duration
	MaxDuration     time.Duration

	// Wake word
	WakeWords     []string
	WakeWindow    time.Duration
	WakeThreshold float64
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		EnergyThreshold: 0.02,
		SilenceDuration: 1500 * time.Millisecond,
		VADSampleRate:   16000,
		PollInterval:    100 * time.Millisecond,
		MaxDuration:     10 * time.Second,
		WakeWords:       []string{"kiku", "computer"},
		WakeWindow:      2 * time.Second,
		WakeThreshold:   0.85,
	}
}

// withDefaults заполняет нулевые поля значениями по умолчанию
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = d.EnergyThreshold
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = d.SilenceDuration
	}
	if c.VADSampleRate <= 0 {
		c.VADSampleRate = d.VADSampleRate
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if len(c.WakeWords) == 0 {
		c.WakeWords = d.WakeWords
	}
	if c.WakeWindow <= 0 {
		c.WakeWindow = d.WakeWindow
	}
	if c.WakeThreshold <= 0 {
		c.WakeThreshold = d.WakeThreshold
	}
	return c
}
