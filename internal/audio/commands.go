package audio

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const DefaultSampleRate = 16000

// Command is an executable name plus its arguments.
type Command struct {
	Name string
	Args []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// CaptureConfig describes how capture processes are launched on this machine.
type CaptureConfig struct {
	FFmpegPath        string
	Format            string
	InterviewerDevice string
	IntervieweeDevice string
	SampleRate        int
}

// DefaultFormat returns the ffmpeg input format for an operating system.
func DefaultFormat(goos string) string {
	switch goos {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}

// DefaultDevices returns the loopback and microphone device names for an input format.
func DefaultDevices(format string) (interviewer, interviewee string) {
	switch format {
	case "avfoundation":
		return "BlackHole 2ch", "default"
	case "dshow":
		return "Stereo Mix", "Microphone"
	default:
		return "@DEFAULT_MONITOR@", "default"
	}
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.Format == "" {
		c.Format = DefaultFormat(runtime.GOOS)
	}
	interviewer, interviewee := DefaultDevices(c.Format)
	if c.InterviewerDevice == "" {
		c.InterviewerDevice = interviewer
	}
	if c.IntervieweeDevice == "" {
		c.IntervieweeDevice = interviewee
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	return c
}

// Device returns the configured device for a single capture source.
func (c CaptureConfig) Device(source Source) (string, error) {
	c = c.withDefaults()
	switch source {
	case Interviewer, System:
		return c.InterviewerDevice, nil
	case Interviewee:
		return c.IntervieweeDevice, nil
	default:
		return "", fmt.Errorf("%w: %q is not a single capture", ErrUnknownSource, source)
	}
}

// Command builds the ffmpeg invocation that records source as mono PCM WAV into out.
func (c CaptureConfig) Command(source Source, out string) (Command, error) {
	c = c.withDefaults()

	device, err := c.Device(source)
	if err != nil {
		return Command{}, err
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-f", c.Format,
		"-i", inputName(c.Format, device),
		"-ac", "1",
		"-ar", strconv.Itoa(c.SampleRate),
		"-c:a", "pcm_s16le",
		out,
	}
	return Command{Name: c.FFmpegPath, Args: args}, nil
}

func inputName(format, device string) string {
	switch format {
	case "avfoundation":
		if strings.HasPrefix(device, ":") {
			return device
		}
		return ":" + device
	case "dshow":
		if strings.HasPrefix(device, "audio=") {
			return device
		}
		return "audio=" + device
	default:
		return device
	}
}

// ProbeCommand builds the ffprobe invocation that prints the duration of path in seconds.
func ProbeCommand(ffprobe, path string) Command {
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return Command{
		Name: ffprobe,
		Args: []string{
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			path,
		},
	}
}

// ExtractCommand builds the ffmpeg invocation that stream-copies [start, start+duration) of src into out.
func ExtractCommand(ffmpeg, src string, start, duration time.Duration, out string) Command {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return Command{
		Name: ffmpeg,
		Args: []string{
			"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
			"-ss", FormatSeconds(start),
			"-i", src,
			"-t", FormatSeconds(duration),
			"-c", "copy",
			out,
		},
	}
}

// FormatSeconds renders d as seconds with millisecond precision, e.g. "7.250".
func FormatSeconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
