package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kiku/ai"
	"kiku/ai/whispercpp"
	"kiku/audio"
	"kiku/internal/api"
	"kiku/internal/config"
	"kiku/internal/observe"
	"kiku/internal/service"
	"kiku/session"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kiku",
		Short:         "Local voice command assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run WebSocket, gRPC and metrics servers",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "devices",
			Short: "List audio input devices",
			RunE:  runDevices,
		},
		&cobra.Command{
			Use:   "transcribe <file.wav>",
			Short: "Transcribe a WAV file and print the intent",
			Args:  cobra.ExactArgs(1),
			RunE:  runTranscribe,
		},
		&cobra.Command{
			Use:   "record",
			Short: "Record one command until silence and print it",
			RunE:  runRecord,
		},
	)
	return root
}

// setup общая часть команд: конфиг, логи, рекордер и сервис
func setup(cmd *cobra.Command, metrics *observe.Metrics) (*config.Config, *service.VoiceService, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	observe.SetupLogging(cfg.LogLevel, cfg.LogPretty)

	provider, err := audio.NewMalgoProvider()
	if err != nil {
		return nil, nil, err
	}
	provider.SetFormat(audio.ParseSampleFormat(cfg.SampleFormat))

	recorder := audio.NewRecorder(provider,
		audio.WithSampleRate(cfg.CaptureSampleRate),
		audio.WithGraceDelay(cfg.StopGrace),
		audio.WithDevice(cfg.Device),
	)

	factory := func(path string) ai.Transcriber {
		return ai.NewHandle(path, whispercpp.Load,
			ai.WithLanguage(cfg.Language),
			ai.WithThreads(cfg.Threads),
		)
	}
	svc := service.NewVoiceService(recorder, factory, cfg.Session(), metrics)
	svc.OnClose(provider.Close)
	return cfg, svc, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     registry,
	})
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("metrics shutdown")
		}
	}()
	metrics := observe.DefaultMetrics()

	cfg, svc, err := setup(cmd, metrics)
	if err != nil {
		return err
	}
	defer svc.Close()

	log.Info().Str("version", version).Str("model", cfg.ModelPath).Msg("kiku starting")

	if cfg.ModelPath != "" {
		if _, err := svc.Initialize(ctx, cfg.ModelPath); err != nil {
			// Клиент может инициализировать позже с другим путём
			log.Error().Err(err).Msg("initial model load failed")
		}
	}

	server := api.NewServer(svc, metrics, cfg.ModelPath)
	grpcAddr := cfg.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = config.DefaultGRPCAddr()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(gctx, ":"+cfg.Port) })
	g.Go(func() error { return server.ServeGRPC(gctx, grpcAddr) })
	g.Go(func() error { return observe.MetricsServer(gctx, cfg.MetricsAddr, registry) })

	err = g.Wait()
	log.Info().Msg("kiku stopped")
	return err
}

func runDevices(cmd *cobra.Command, _ []string) error {
	_, svc, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	devices, err := svc.ListAudioDevices()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEFAULT\tNAME\tID")
	for _, d := range devices {
		mark := ""
		if d.IsDefault {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", mark, d.Name, d.ID)
	}
	return w.Flush()
}

func runRecord(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cfg, svc, err := setup(cmd, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cfg.ModelPath == "" {
		return errors.New("--model is required")
	}
	if _, err := svc.Initialize(ctx, cfg.ModelPath); err != nil {
		return err
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Listening... speak a command")
	voiceCmd, err := svc.RecordCommandWithVAD(ctx)
	if err != nil {
		return err
	}
	intent, ok, err := svc.ProcessCommand(voiceCmd)
	if err != nil {
		return err
	}
	if !ok {
		intent = "none"
	}

	fmt.Fprintln(cmd.OutOrStdout(), svc.LogCommand(voiceCmd))
	fmt.Fprintf(cmd.OutOrStdout(), "intent: %s\n", intent)
	return nil
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	observe.SetupLogging(cfg.LogLevel, cfg.LogPretty)
	if cfg.ModelPath == "" {
		return errors.New("--model is required")
	}

	samples, rate, err := audio.ReadWAV(args[0])
	if err != nil {
		return err
	}

	handle := ai.NewHandle(cfg.ModelPath, whispercpp.Load,
		ai.WithLanguage(cfg.Language),
		ai.WithThreads(cfg.Threads),
	)
	defer handle.Close()
	if err := handle.Load(ctx); err != nil {
		return err
	}

	start := time.Now()
	text, err := handle.Transcribe(ctx, audio.ToWhisper(samples, rate))
	if err != nil {
		return err
	}
	log.Debug().
		Str("file", args[0]).
		Int("sampleRate", rate).
		Dur("took", time.Since(start)).
		Msg("file transcribed")

	intent, ok := session.NewInterpreter().Interpret(text)
	if !ok {
		intent = "none"
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	fmt.Fprintf(cmd.OutOrStdout(), "intent: %s\n", intent)
	return nil
}
