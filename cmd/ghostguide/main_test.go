package main

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/config"
)

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"serve", "doctor", "transcribe"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
	if root.RunE == nil {
		t.Fatal("root command should default to serve")
	}
	if f := root.PersistentFlags().Lookup("config"); f == nil {
		t.Fatal("missing --config flag")
	}
}

func TestDoctorReportsMissingPrerequisites(t *testing.T) {
	cfg := config.Config{
		FFmpegPath:           "ghostguide-no-such-ffmpeg",
		FFprobePath:          "ghostguide-no-such-ffprobe",
		CaptureFormat:        "pulse",
		TranscriptionBackend: "deepgram",
		CoachModel:           "anthropic/claude-sonnet-4-5",
		AnthropicAPIKey:      "sk-ant",
	}

	var out bytes.Buffer
	if doctor(&out, cfg) {
		t.Fatalf("doctor should fail, output:\n%s", out.String())
	}

	text := out.String()
	for _, want := range []string{
		`"ghostguide-no-such-ffmpeg" not found`,
		config.EnvPrefix + "DEEPGRAM_API_KEY",
		"[ok] coach API key",
		"Some prerequisites are missing.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		l := newLogger(tt.level)
		if !l.Enabled(ctx, tt.want) {
			t.Errorf("%s: level %v should be enabled", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && l.Enabled(ctx, tt.want-1) {
			t.Errorf("%s: level below %v should be disabled", tt.level, tt.want)
		}
	}
}

func TestProbeSampleReadsTestClip(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	d, err := probeSample(config.Config{FFprobePath: "ffprobe", SampleRate: 16000})
	if err != nil {
		t.Fatalf("probeSample: %v", err)
	}
	if d < 900*time.Millisecond || d > 1100*time.Millisecond {
		t.Fatalf("probed %s, want about 1s", d)
	}
}
