package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/process"
)

// ErrProbeFailed means the capture file's duration could not be determined.
var ErrProbeFailed = errors.New("probe failed")

const (
	defaultProbeTimeout   = 2 * time.Second
	defaultExtractTimeout = 2 * time.Second

	// MinTail is the shortest final-pass segment worth transcribing.
	MinTail = 500 * time.Millisecond
)

// Runner runs a bounded external command. *process.Launcher implements it.
type Runner interface {
	Run(ctx context.Context, key process.Key, name string, args ...string) (process.Result, error)
}

// Segment is a slice of a capture file copied into its own temp file.
type Segment struct {
	Source     Source
	SourcePath string
	Path       string
	Start      time.Duration
	Duration   time.Duration
	CapturedAt time.Time
}

// End is the offset in the capture file where the segment stops.
func (s *Segment) End() time.Duration {
	return s.Start + s.Duration
}

type ExtractorConfig struct {
	FFmpegPath     string
	FFprobePath    string
	TempDir        string
	ProbeTimeout   time.Duration
	ExtractTimeout time.Duration
}

// Extractor probes growing capture files and copies windows of them out for
// transcription. It only ever reads the capture file.
type Extractor struct {
	runner Runner
	cfg    ExtractorConfig

	now   func() time.Time
	newID func() string
}

func NewExtractor(runner Runner, cfg ExtractorConfig) *Extractor {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = defaultExtractTimeout
	}

	return &Extractor{
		runner: runner,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WindowStart returns where a window of the given length ending at total begins.
func WindowStart(total, window time.Duration) time.Duration {
	if start := total - window; start > 0 {
		return start
	}
	return 0
}

// Probe returns the current duration of the file at path.
func (e *Extractor) Probe(ctx context.Context, sessionID, path string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()

	cmd := ProbeCommand(e.cfg.FFprobePath, path)
	res, err := e.runner.Run(ctx, process.Key{SessionID: sessionID, Purpose: "probe"}, cmd.Name, cmd.Args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrProbeFailed, filepath.Base(path), err)
	}

	total, err := parseProbeOutput(res.Stdout)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrProbeFailed, filepath.Base(path), err)
	}
	return total, nil
}

// Trailing extracts the last window of the capture file.
func (e *Extractor) Trailing(ctx context.Context, sessionID string, source Source, path string, window time.Duration) (*Segment, error) {
	total, err := e.Probe(ctx, sessionID, path)
	if err != nil {
		return nil, err
	}

	start := WindowStart(total, window)
	return e.extract(ctx, sessionID, source, path, start, total-start)
}

// Tail extracts everything from offset from to the current end of the file.
// It returns nil when less than MinTail remains.
func (e *Extractor) Tail(ctx context.Context, sessionID string, source Source, path string, from time.Duration) (*Segment, error) {
	total, err := e.Probe(ctx, sessionID, path)
	if err != nil {
		return nil, err
	}

	if from < 0 {
		from = 0
	}
	if total-from < MinTail {
		return nil, nil
	}
	return e.extract(ctx, sessionID, source, path, from, total-from)
}

func (e *Extractor) extract(ctx context.Context, sessionID string, source Source, src string, start, duration time.Duration) (*Segment, error) {
	if err := os.MkdirAll(e.cfg.TempDir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	out := filepath.Join(e.cfg.TempDir, fmt.Sprintf("%s-%s-%s.wav", SafeName(sessionID), source, e.newID()))

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ExtractTimeout)
	defer cancel()

	cmd := ExtractCommand(e.cfg.FFmpegPath, src, start, duration, out)
	if _, err := e.runner.Run(ctx, process.Key{SessionID: sessionID, Purpose: "extract-" + string(source)}, cmd.Name, cmd.Args...); err != nil {
		if rmErr := os.Remove(out); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("remove partial segment", "path", out, "err", rmErr)
		}
		return nil, fmt.Errorf("extract segment from %s: %w", filepath.Base(src), err)
	}

	return &Segment{
		Source:     source,
		SourcePath: src,
		Path:       out,
		Start:      start,
		Duration:   duration,
		CapturedAt: e.now(),
	}, nil
}

func parseProbeOutput(out []byte) (time.Duration, error) {
	raw := strings.TrimSpace(string(out))
	if raw == "" || raw == "N/A" {
		return 0, fmt.Errorf("no duration in probe output %q", raw)
	}

	// ffprobe prints one value per stream on some containers.
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = strings.TrimSpace(raw[:idx])
	}

	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("non-positive duration %q", raw)
	}
	return time.Duration(seconds * float64(time.Second)).Round(time.Millisecond), nil
}

// SafeName maps s onto characters that are safe in a file name.
func SafeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
