package audio

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestCaptureCommandPerFormat(t *testing.T) {
	cases := []struct {
		name   string
		format string
		source Source
		input  string
	}{
		{name: "pulse loopback", format: "pulse", source: Interviewer, input: "@DEFAULT_MONITOR@"},
		{name: "pulse mic", format: "pulse", source: Interviewee, input: "default"},
		{name: "avfoundation mic", format: "avfoundation", source: Interviewee, input: ":default"},
		{name: "dshow loopback", format: "dshow", source: System, input: "audio=Stereo Mix"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := CaptureConfig{Format: tc.format}
			cmd, err := cfg.Command(tc.source, "/tmp/out.wav")
			if err != nil {
				t.Fatalf("Command returned error: %v", err)
			}
			if cmd.Name != "ffmpeg" {
				t.Fatalf("expected ffmpeg, got %q", cmd.Name)
			}

			idx := slices.Index(cmd.Args, "-i")
			if idx < 0 || cmd.Args[idx+1] != tc.input {
				t.Fatalf("expected input %q, got args %v", tc.input, cmd.Args)
			}
			if f := slices.Index(cmd.Args, "-f"); f < 0 || cmd.Args[f+1] != tc.format {
				t.Fatalf("expected format %q, got args %v", tc.format, cmd.Args)
			}
			if cmd.Args[len(cmd.Args)-1] != "/tmp/out.wav" {
				t.Fatalf("expected output path last, got %v", cmd.Args)
			}
			if ar := slices.Index(cmd.Args, "-ar"); ar < 0 || cmd.Args[ar+1] != "16000" {
				t.Fatalf("expected 16 kHz output, got %v", cmd.Args)
			}
		})
	}
}

func TestCaptureCommandUsesConfiguredDevice(t *testing.T) {
	cfg := CaptureConfig{FFmpegPath: "/opt/ffmpeg", Format: "pulse", IntervieweeDevice: "alsa_input.usb", SampleRate: 48000}

	cmd, err := cfg.Command(Interviewee, "out.wav")
	if err != nil {
		t.Fatalf("Command returned error: %v", err)
	}
	if cmd.Name != "/opt/ffmpeg" {
		t.Fatalf("expected configured binary, got %q", cmd.Name)
	}
	if !slices.Contains(cmd.Args, "alsa_input.usb") || !slices.Contains(cmd.Args, "48000") {
		t.Fatalf("expected configured device and rate, got %v", cmd.Args)
	}
}

func TestCaptureCommandRejectsBoth(t *testing.T) {
	_, err := CaptureConfig{}.Command(Both, "out.wav")
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestExtractCommandFormatsOffsets(t *testing.T) {
	cmd := ExtractCommand("", "capture.wav", 7250*time.Millisecond, 5*time.Second, "seg.wav")

	want := []string{"-ss", "7.250", "-i", "capture.wav", "-t", "5.000", "-c", "copy", "seg.wav"}
	got := cmd.Args[len(cmd.Args)-len(want):]
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected extract args %v", cmd.Args)
	}
}

func TestProbeCommand(t *testing.T) {
	cmd := ProbeCommand("", "capture.wav")
	if cmd.Name != "ffprobe" {
		t.Fatalf("expected ffprobe, got %q", cmd.Name)
	}
	if got := cmd.String(); got != "ffprobe -v error -show_entries format=duration -of default=noprint_wrappers=1:nokey=1 capture.wav" {
		t.Fatalf("unexpected probe command %q", got)
	}
}

func TestFormatSecondsClampsNegative(t *testing.T) {
	if got := FormatSeconds(-time.Second); got != "0.000" {
		t.Fatalf("expected 0.000, got %q", got)
	}
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource(" Interviewer ")
	if err != nil || s != Interviewer {
		t.Fatalf("expected interviewer, got %q, %v", s, err)
	}
	if _, err := ParseSource("speaker"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if got := Both.Captures(); !slices.Equal(got, []Source{Interviewer, Interviewee}) {
		t.Fatalf("unexpected captures for both: %v", got)
	}
	if got := System.Captures(); !slices.Equal(got, []Source{System}) {
		t.Fatalf("unexpected captures for system: %v", got)
	}
}
