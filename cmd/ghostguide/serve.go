package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/coach"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/config"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/gdrive"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/llm"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/observe"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/pipeline"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/process"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/server"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/session"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/storage"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recording pipeline and control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, d.cfg, d.warnings)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, warnings []string) error {
	for _, w := range warnings {
		slog.Warn(w)
	}

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()
	metrics := observe.DefaultMetrics()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer func() { _ = store.Close() }()
	journal := storage.NewJournal(cfg.JournalDir)

	launcher := process.NewLauncher(process.WithStartupGrace(cfg.ParsedStartupGrace()))
	transcriber, err := newTranscriber(cfg, launcher)
	if err != nil {
		return err
	}

	registry := session.NewRegistry(session.Deps{
		Launcher:    launcher,
		Extractor:   newExtractor(cfg, launcher),
		Transcriber: pipeline.InstrumentTranscriber(transcriber, transcriber.Backend(), metrics),
		Capture:     captureConfig(cfg),
		CaptureDir:  cfg.CaptureDir,
		StopGrace:   cfg.ParsedStopGrace(),
	})

	var submit pipeline.Submitter
	if c, err := newCoach(cfg); err != nil {
		slog.Warn("coaching disabled", "err", err)
	} else {
		submit = c
	}

	hub := server.NewHub()
	orch := pipeline.New(pipeline.Config{
		SegmentWindow:         cfg.ParsedSegmentWindow(),
		SegmentInterval:       cfg.ParsedSegmentInterval(),
		DispatchInterval:      cfg.ParsedDispatchInterval(),
		FailureThreshold:      cfg.FailureThreshold,
		ProbeFailureThreshold: cfg.ProbeFailureThreshold,
	}, registry, submit,
		pipeline.WithStore(store),
		pipeline.WithJournal(journal),
		pipeline.WithEvents(hub),
		pipeline.WithMetrics(metrics),
	)

	defaultSource, err := audio.ParseSource(cfg.AutoRecorderSource)
	if err != nil {
		defaultSource = audio.Both
	}
	handler, err := server.Handler(hub, store, orch, server.Options{
		DefaultSource: defaultSource,
		Metrics:       promhttp.Handler(),
		Warnings:      func() []string { return warnings },
	})
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}

	go func() {
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("dispatch loop", "err", err)
		}
	}()

	if cfg.GDriveFolderID != "" {
		syncer, err := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			slog.Warn("drive sync disabled", "err", err)
		} else {
			go syncer.Run(ctx, cfg.ParsedGDriveSyncInterval(), journal.CurrentPath)
		}
	}

	slog.Info("ghostguide starting", "version", version, "addr", cfg.ListenAddr, "backend", transcriber.Backend())
	serveErr := server.Serve(ctx, cfg.ListenAddr, handler)

	slog.Info("ghostguide shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Warn("pipeline shutdown", "err", err)
	}

	return serveErr
}

func newTranscriber(cfg config.Config, launcher *process.Launcher) (*transcribe.Adapter, error) {
	backend, err := transcribe.NewBackend(transcribe.BackendConfig{
		Kind:           cfg.TranscriptionBackend,
		Language:       cfg.WhisperLanguage,
		WhisperPath:    cfg.WhisperPath,
		WhisperModel:   cfg.WhisperModel,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		OpenAIModel:    cfg.OpenAITranscribeModel,
		DeepgramAPIKey: cfg.DeepgramAPIKey,
		DeepgramModel:  cfg.DeepgramModel,
	}, launcher)
	if err != nil {
		return nil, fmt.Errorf("transcription backend: %w", err)
	}
	return transcribe.NewAdapter(backend, cfg.ParsedTranscribeTimeout()), nil
}

func newExtractor(cfg config.Config, launcher *process.Launcher) *audio.Extractor {
	return audio.NewExtractor(launcher, audio.ExtractorConfig{
		FFmpegPath:     cfg.FFmpegPath,
		FFprobePath:    cfg.FFprobePath,
		TempDir:        cfg.TempDir,
		ProbeTimeout:   cfg.ParsedProbeTimeout(),
		ExtractTimeout: cfg.ParsedExtractTimeout(),
	})
}

func captureConfig(cfg config.Config) audio.CaptureConfig {
	return audio.CaptureConfig{
		FFmpegPath:        cfg.FFmpegPath,
		Format:            cfg.CaptureFormat,
		InterviewerDevice: cfg.InterviewerDevice,
		IntervieweeDevice: cfg.IntervieweeDevice,
		SampleRate:        cfg.SampleRate,
	}
}

func newCoach(cfg config.Config) (*coach.Coach, error) {
	return coach.New(coach.Config{
		Model:   cfg.CoachModel,
		Prompt:  cfg.CoachPrompt,
		History: cfg.CoachHistory,
	}, func(provider, model string) (llm.Client, error) {
		return llm.NewClient(provider, cfg.APIKeyFor(provider), model)
	})
}
