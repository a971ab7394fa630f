package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/config"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/process"
)

func newDoctorCmd(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !doctor(cmd.OutOrStdout(), d.cfg) {
				return fmt.Errorf("some prerequisites are missing")
			}
			return nil
		},
	}
}

func doctor(w io.Writer, cfg config.Config) bool {
	ok := true
	check := func(name string, passed bool, detail string) {
		mark := "ok"
		if !passed {
			mark = "!!"
			ok = false
		}
		fmt.Fprintf(w, "[%s] %-22s %s\n", mark, name, detail)
	}
	binary := func(name, path, hint string) {
		if resolved, err := exec.LookPath(path); err != nil {
			check(name, false, fmt.Sprintf("%q not found. %s", path, hint))
		} else {
			check(name, true, resolved)
		}
	}

	binary("ffmpeg", cfg.FFmpegPath, "Install ffmpeg or set ffmpeg_path.")
	binary("ffprobe", cfg.FFprobePath, "ffprobe ships with ffmpeg; or set ffprobe_path.")
	if _, err := exec.LookPath(cfg.FFprobePath); err == nil {
		if d, err := probeSample(cfg); err != nil {
			check("ffprobe test clip", false, err.Error())
		} else {
			check("ffprobe test clip", true, "read "+d.String()+" of audio")
		}
	}

	capture := captureConfig(cfg)
	format := cfg.CaptureFormat
	if format == "" {
		format = "auto (" + audio.DefaultFormat(runtime.GOOS) + ")"
	}
	check("capture format", true, format)
	for _, src := range []audio.Source{audio.Interviewer, audio.Interviewee} {
		device, err := capture.Device(src)
		check(src.Label()+" device", err == nil && device != "", device)
	}

	switch strings.ToLower(cfg.TranscriptionBackend) {
	case "openai":
		check("OpenAI API key", cfg.OpenAIAPIKey != "", keyDetail(cfg.OpenAIAPIKey, "OPENAI_API_KEY"))
	case "deepgram":
		check("Deepgram API key", cfg.DeepgramAPIKey != "", keyDetail(cfg.DeepgramAPIKey, "DEEPGRAM_API_KEY"))
	default:
		binary("whisper", cfg.WhisperPath, "Build whisper.cpp or set whisper_path.")
		_, err := os.Stat(cfg.WhisperModel)
		check("whisper model", err == nil, cfg.WhisperModel)
	}

	provider, _, _ := strings.Cut(cfg.CoachModel, "/")
	check("coach API key", cfg.APIKeyFor(provider) != "", fmt.Sprintf("%s: %s", cfg.CoachModel, keyDetail(cfg.APIKeyFor(provider), strings.ToUpper(provider)+"_API_KEY")))

	check("database", true, cfg.DBPath)
	check("journal", true, cfg.JournalDir)

	if ok {
		fmt.Fprintln(w, "\nAll prerequisites met.")
	} else {
		fmt.Fprintln(w, "\nSome prerequisites are missing.")
	}
	return ok
}

func keyDetail(key, env string) string {
	if key != "" {
		return "configured"
	}
	return "not set. Set " + config.EnvPrefix + env
}

// probeSample writes one second of silence and probes it the way live
// cycles do.
func probeSample(cfg config.Config) (time.Duration, error) {
	dir, err := os.MkdirTemp("", "ghostguide-doctor-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(dir)

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	path := filepath.Join(dir, "sample.wav")
	if err := audio.WriteWAV(path, make([]byte, rate*2), rate); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return newExtractor(cfg, process.NewLauncher()).Probe(ctx, "doctor", path)
}
