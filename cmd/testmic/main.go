// Проверка микрофона и детектора тишины
// Запуск: go run ./cmd/testmic [-device name] [-threshold 0.02] [-out test_mic.wav]
// Остановка: Ctrl+C

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kiku/audio"
	"kiku/session"
)

func main() {
	device := flag.String("device", "", "Input device name (substring match)")
	threshold := flag.Float64("threshold", 0.02, "Energy threshold")
	silenceMs := flag.Int("silence", 1500, "Silence duration, ms")
	out := flag.String("out", "test_mic.wav", "Save recording to WAV, empty to skip")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})

	provider, err := audio.NewMalgoProvider()
	if err != nil {
		log.Fatal().Err(err).Msg("audio init failed")
	}
	defer provider.Close()

	devices, err := provider.ListInputDevices()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list devices")
	}
	for _, d := range devices {
		log.Info().Str("name", d.Name).Bool("default", d.IsDefault).Msg("input device")
	}

	recorder := audio.NewRecorder(provider, audio.WithDevice(*device))
	if err := recorder.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start recording")
	}

	cfg := session.DefaultConfig()
	detector := session.NewDetector(*threshold, *silenceMs, cfg.VADSampleRate)
	log.Info().
		Int("sampleRate", recorder.SampleRate()).
		Int("silenceFrames", detector.SilenceFrameTarget()).
		Msg("recording, press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	start := time.Now()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			frame := recorder.Tail(session.FrameSize)
			if len(frame) < session.FrameSize {
				continue
			}
			state := detector.ProcessFrame(frame)
			log.Info().
				Float64("rms", detector.Energy(frame)).
				Stringer("state", state).
				Int("silent", detector.SilentFrames()).
				Msg("frame")
			if state == session.SilenceDetected {
				detector.Reset()
			}
		}
	}

	samples := recorder.Stop()
	seconds := float64(len(samples)) / float64(recorder.SampleRate())
	log.Info().
		Float64("seconds", seconds).
		Float64("wallSeconds", time.Since(start).Seconds()).
		Int("samples", len(samples)).
		Float64("rms", audio.RMS(samples)).
		Msg("done")

	if *out != "" {
		if err := audio.WriteWAV(*out, samples, recorder.SampleRate()); err != nil {
			log.Fatal().Err(err).Msg("failed to save recording")
		}
		log.Info().Str("file", *out).Msg("recording saved")
	}
}
