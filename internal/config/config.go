package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"kiku/session"
)

// EnvPrefix префикс переменных окружения: KIKU_PORT, KIKU_VAD_MAX_DURATION
const EnvPrefix = "KIKU"

type VADConfig struct {
	EnergyThreshold float64       `mapstructure:"energy_threshold"`
	SilenceDuration time.Duration `mapstructure:"silence_duration"`
	SampleRate      int           `mapstructure:"sample_rate"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
}

type WakeConfig struct {
	Words     []string      `mapstructure:"words"`
	Window    time.Duration `mapstructure:"window"`
	Threshold float64       `mapstructure:"threshold"`
}

type Config struct {
	ModelPath         string        `mapstructure:"model"`
	Language          string        `mapstructure:"language"`
	Threads           int           `mapstructure:"threads"`
	Device            string        `mapstructure:"device"`
	SampleFormat      string        `mapstructure:"sample_format"`
	CaptureSampleRate uint32        `mapstructure:"capture_sample_rate"`
	StopGrace         time.Duration `mapstructure:"stop_grace"`

	Port        string `mapstructure:"port"`
	GRPCAddr    string `mapstructure:"grpc_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	VAD  VADConfig  `mapstructure:"vad"`
	Wake WakeConfig `mapstructure:"wake"`
}

// DefaultGRPCAddr адрес управляющего gRPC канала для текущей ОС
func DefaultGRPCAddr() string {
	if runtime.GOOS == "windows" {
		return `npipe:\\.\pipe\kiku-grpc`
	}
	return "unix:///tmp/kiku-grpc.sock"
}

// SetDefaults регистрирует значения по умолчанию. Без них viper
// не увидит ключи из окружения при Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := session.DefaultConfig()

	v.SetDefault("model", "")
	v.SetDefault("language", "en")
	v.SetDefault("threads", 4)
	v.SetDefault("device", "")
	v.SetDefault("sample_format", "f32")
	v.SetDefault("capture_sample_rate", 48000)
	v.SetDefault("stop_grace", 100*time.Millisecond)

	v.SetDefault("port", "8080")
	v.SetDefault("grpc_addr", DefaultGRPCAddr())
	v.SetDefault("metrics_addr", ":9464")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)

	v.SetDefault("vad.energy_threshold", d.EnergyThreshold)
	v.SetDefault("vad.silence_duration", d.SilenceDuration)
	v.SetDefault("vad.sample_rate", d.VADSampleRate)
	v.SetDefault("vad.poll_interval", d.PollInterval)
	v.SetDefault("vad.max_duration", d.MaxDuration)

	v.SetDefault("wake.words", d.WakeWords)
	v.SetDefault("wake.window", d.WakeWindow)
	v.SetDefault("wake.threshold", d.WakeThreshold)
}

// RegisterFlags добавляет флаги, которые перекрывают файл и окружение
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (yaml)")
	fs.String("model", "", "Path to Whisper model")
	fs.String("language", "en", "Transcription language")
	fs.String("device", "", "Input device name (substring match)")
	fs.String("port", "8080", "WebSocket server port")
	fs.String("grpc-addr", "", "gRPC control address (unix:, npipe: or host:port)")
	fs.String("metrics-addr", ":9464", "Prometheus metrics address, empty to disable")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.Bool("log-pretty", false, "Human readable console logs")
}

var flagKeys = map[string]string{
	"model":        "model",
	"language":     "language",
	"device":       "device",
	"port":         "port",
	"grpc-addr":    "grpc_addr",
	"metrics-addr": "metrics_addr",
	"log-level":    "log_level",
	"log-pretty":   "log_pretty",
}

// Load собирает конфиг. Приоритет: флаги > окружение > файл > умолчания.
// fs может быть nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := ""
	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет все поля и возвращает объединённую ошибку
func (c *Config) Validate() error {
	var errs []error
	if c.Threads <= 0 {
		errs = append(errs, fmt.Errorf("threads must be positive, got %d", c.Threads))
	}
	if c.CaptureSampleRate == 0 {
		errs = append(errs, errors.New("capture_sample_rate must be positive"))
	}
	if c.StopGrace < 0 {
		errs = append(errs, fmt.Errorf("stop_grace must not be negative, got %s", c.StopGrace))
	}
	switch strings.ToLower(c.SampleFormat) {
	case "f32", "s16", "s32":
	default:
		errs = append(errs, fmt.Errorf("sample_format must be f32, s16 or s32, got %q", c.SampleFormat))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.VAD.EnergyThreshold <= 0 || c.VAD.EnergyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.energy_threshold must be in (0, 1), got %v", c.VAD.EnergyThreshold))
	}
	if c.VAD.SilenceDuration <= 0 {
		errs = append(errs, errors.New("vad.silence_duration must be positive"))
	}
	if c.VAD.SampleRate <= 0 {
		errs = append(errs, errors.New("vad.sample_rate must be positive"))
	}
	if c.VAD.PollInterval <= 0 {
		errs = append(errs, errors.New("vad.poll_interval must be positive"))
	}
	if c.VAD.MaxDuration < c.VAD.PollInterval {
		errs = append(errs, fmt.Errorf("vad.max_duration (%s) must be at least vad.poll_interval (%s)", c.VAD.MaxDuration, c.VAD.PollInterval))
	}
	if len(c.Wake.Words) == 0 {
		errs = append(errs, errors.New("wake.words must not be empty"))
	}
	if c.Wake.Window <= 0 {
		errs = append(errs, errors.New("wake.window must be positive"))
	}
	if c.Wake.Threshold <= 0 || c.Wake.Threshold > 1 {
		errs = append(errs, fmt.Errorf("wake.threshold must be in (0, 1], got %v", c.Wake.Threshold))
	}
	return errors.Join(errs...)
}

// Session параметры для session.Handler
func (c *Config) Session() session.Config {
	return session.Config{
		EnergyThreshold: c.VAD.EnergyThreshold,
		SilenceDuration: c.VAD.SilenceDuration,
		VADSampleRate:   c.VAD.SampleRate,
		PollInterval:    c.VAD.PollInterval,
		MaxDuration:     c.VAD.MaxDuration,
		WakeWords:       c.Wake.Words,
		WakeWindow:      c.Wake.Window,
		WakeThreshold:   c.Wake.Threshold,
	}
}
