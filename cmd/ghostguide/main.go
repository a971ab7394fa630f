package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type deps struct {
	configPath string
	logLevel   string

	cfg      config.Config
	warnings []string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	d := &deps{}

	rootCmd := &cobra.Command{
		Use:           "ghostguide",
		Short:         "Live interview transcription and coaching",
		Long:          "ghostguide records the interviewer and interviewee audio, transcribes it in short windows and forwards the transcript to a chat model for coaching hints.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(newLogger(d.logLevel))

			cfg, warnings, err := config.Load(d.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			d.cfg = cfg
			d.warnings = warnings
			return nil
		},
	}

	defaultConfig := os.Getenv(config.EnvPrefix + "CONFIG")
	if defaultConfig == "" {
		defaultConfig = "ghostguide.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&d.configPath, "config", defaultConfig, "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&d.logLevel, "log-level", "info", "debug, info, warn or error")

	serveCmd := newServeCmd(d)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newDoctorCmd(d))
	rootCmd.AddCommand(newTranscribeCmd(d))

	// serve is the default command
	rootCmd.RunE = serveCmd.RunE

	return rootCmd
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
