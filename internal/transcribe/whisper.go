package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/process"
)

// WhisperCLI runs a local whisper.cpp binary per segment.
type WhisperCLI struct {
	runner   audio.Runner
	binary   string
	model    string
	language string
}

func NewWhisperCLI(runner audio.Runner, binary, model, language string) *WhisperCLI {
	if binary == "" {
		binary = "whisper-cli"
	}
	return &WhisperCLI{runner: runner, binary: binary, model: model, language: language}
}

func (w *WhisperCLI) Name() string { return "whisper" }

func (w *WhisperCLI) Transcribe(ctx context.Context, req Request) (string, error) {
	if w.model == "" {
		return "", fmt.Errorf("%w: whisper model not configured", ErrBackendUnavailable)
	}
	if _, err := os.Stat(w.model); err != nil {
		return "", fmt.Errorf("%w: whisper model: %w", ErrBackendUnavailable, err)
	}

	args := []string{"-m", w.model, "-f", req.Path, "-np"}
	if w.language != "" {
		args = append(args, "-l", w.language)
	}

	key := process.Key{SessionID: req.SessionID, Purpose: "transcribe-" + string(req.Source)}
	res, err := w.runner.Run(ctx, key, w.binary, args...)
	if err != nil {
		if errors.Is(err, process.ErrExecutableNotFound) {
			return "", fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		if stderr := strings.TrimSpace(string(res.Stderr)); stderr != "" {
			return "", fmt.Errorf("whisper: %w: %s", err, lastLine(stderr))
		}
		return "", fmt.Errorf("whisper: %w", err)
	}

	return string(res.Stdout), nil
}

func lastLine(s string) string {
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
