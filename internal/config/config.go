// Package config loads service settings: defaults, then an optional YAML
// file, then GHOSTGUIDE_ environment overrides. API keys come from the
// environment only.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
)

// EnvPrefix is the namespace prefix for all ghostguide environment variables.
const EnvPrefix = "GHOSTGUIDE_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	JournalDir string `yaml:"journal_dir"`
	CaptureDir string `yaml:"capture_dir"`
	TempDir    string `yaml:"temp_dir"`

	FFmpegPath        string `yaml:"ffmpeg_path"`
	FFprobePath       string `yaml:"ffprobe_path"`
	CaptureFormat     string `yaml:"capture_format"`
	InterviewerDevice string `yaml:"interviewer_device"`
	IntervieweeDevice string `yaml:"interviewee_device"`
	SampleRate        int    `yaml:"sample_rate"`

	SegmentWindow         string `yaml:"segment_window"`
	SegmentInterval       string `yaml:"segment_interval"`
	DispatchInterval      string `yaml:"dispatch_interval"`
	ProbeTimeout          string `yaml:"probe_timeout"`
	ExtractTimeout        string `yaml:"extract_timeout"`
	TranscribeTimeout     string `yaml:"transcribe_timeout"`
	StopGrace             string `yaml:"stop_grace"`
	StartupGrace          string `yaml:"startup_grace"`
	FailureThreshold      int    `yaml:"failure_threshold"`
	ProbeFailureThreshold int    `yaml:"probe_failure_threshold"`

	TranscriptionBackend  string `yaml:"transcription_backend"`
	WhisperPath           string `yaml:"whisper_path"`
	WhisperModel          string `yaml:"whisper_model"`
	WhisperLanguage       string `yaml:"whisper_language"`
	OpenAITranscribeModel string `yaml:"openai_transcribe_model"`
	DeepgramModel         string `yaml:"deepgram_model"`

	CoachModel         string `yaml:"coach_model"`
	CoachPrompt        string `yaml:"coach_prompt"`
	CoachHistory       int    `yaml:"coach_history"`
	AutoRecorderSource string `yaml:"auto_recorder_source"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	GDriveSyncInterval    string `yaml:"gdrive_sync_interval"`

	// Secrets, env vars only.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
}

const (
	defaultSegmentWindow      = 5 * time.Second
	defaultSegmentInterval    = 5 * time.Second
	defaultDispatchInterval   = 2 * time.Second
	defaultProbeTimeout       = 2 * time.Second
	defaultExtractTimeout     = 2 * time.Second
	defaultTranscribeTimeout  = 10 * time.Second
	defaultStopGrace          = 3 * time.Second
	defaultStartupGrace       = 300 * time.Millisecond
	defaultGDriveSyncInterval = 5 * time.Minute
)

func defaults() Config {
	return Config{
		ListenAddr:            "127.0.0.1:8787",
		DBPath:                "data/ghostguide.db",
		JournalDir:            "data/journal",
		CaptureDir:            "data/captures",
		FFmpegPath:            "ffmpeg",
		FFprobePath:           "ffprobe",
		SampleRate:            16000,
		SegmentWindow:         "5s",
		SegmentInterval:       "5s",
		DispatchInterval:      "2s",
		ProbeTimeout:          "2s",
		ExtractTimeout:        "2s",
		TranscribeTimeout:     "10s",
		StopGrace:             "3s",
		StartupGrace:          "300ms",
		FailureThreshold:      3,
		ProbeFailureThreshold: 6,
		TranscriptionBackend:  "whisper",
		WhisperPath:           "whisper-cli",
		WhisperModel:          "models/ggml-base.en.bin",
		WhisperLanguage:       "en",
		OpenAITranscribeModel: "whisper-1",
		DeepgramModel:         "nova-3",
		CoachModel:            "openai/gpt-4o-mini",
		CoachHistory:          6,
		AutoRecorderSource:    "both",
		GoogleCredentialsFile: "./service-account.json",
		GDriveSyncInterval:    "5m",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

func (c *Config) ParsedSegmentWindow() time.Duration {
	return parseDuration(c.SegmentWindow, defaultSegmentWindow)
}

func (c *Config) ParsedSegmentInterval() time.Duration {
	return parseDuration(c.SegmentInterval, defaultSegmentInterval)
}

func (c *Config) ParsedDispatchInterval() time.Duration {
	return parseDuration(c.DispatchInterval, defaultDispatchInterval)
}

func (c *Config) ParsedProbeTimeout() time.Duration {
	return parseDuration(c.ProbeTimeout, defaultProbeTimeout)
}

func (c *Config) ParsedExtractTimeout() time.Duration {
	return parseDuration(c.ExtractTimeout, defaultExtractTimeout)
}

func (c *Config) ParsedTranscribeTimeout() time.Duration {
	return parseDuration(c.TranscribeTimeout, defaultTranscribeTimeout)
}

func (c *Config) ParsedStopGrace() time.Duration {
	return parseDuration(c.StopGrace, defaultStopGrace)
}

func (c *Config) ParsedStartupGrace() time.Duration {
	return parseDuration(c.StartupGrace, defaultStartupGrace)
}

func (c *Config) ParsedGDriveSyncInterval() time.Duration {
	return parseDuration(c.GDriveSyncInterval, defaultGDriveSyncInterval)
}

// APIKeyFor returns the chat API key of an llm provider name.
func (c *Config) APIKeyFor(provider string) string {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini", "google":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

// parseDuration falls back to def for unparsable or non-positive values.
func parseDuration(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"LISTEN_ADDR":             &cfg.ListenAddr,
		"DB_PATH":                 &cfg.DBPath,
		"JOURNAL_DIR":             &cfg.JournalDir,
		"CAPTURE_DIR":             &cfg.CaptureDir,
		"TEMP_DIR":                &cfg.TempDir,
		"FFMPEG_PATH":             &cfg.FFmpegPath,
		"FFPROBE_PATH":            &cfg.FFprobePath,
		"CAPTURE_FORMAT":          &cfg.CaptureFormat,
		"INTERVIEWER_DEVICE":      &cfg.InterviewerDevice,
		"INTERVIEWEE_DEVICE":      &cfg.IntervieweeDevice,
		"SEGMENT_WINDOW":          &cfg.SegmentWindow,
		"SEGMENT_INTERVAL":        &cfg.SegmentInterval,
		"DISPATCH_INTERVAL":       &cfg.DispatchInterval,
		"PROBE_TIMEOUT":           &cfg.ProbeTimeout,
		"EXTRACT_TIMEOUT":         &cfg.ExtractTimeout,
		"TRANSCRIBE_TIMEOUT":      &cfg.TranscribeTimeout,
		"STOP_GRACE":              &cfg.StopGrace,
		"STARTUP_GRACE":           &cfg.StartupGrace,
		"TRANSCRIPTION_BACKEND":   &cfg.TranscriptionBackend,
		"WHISPER_PATH":            &cfg.WhisperPath,
		"WHISPER_MODEL":           &cfg.WhisperModel,
		"WHISPER_LANGUAGE":        &cfg.WhisperLanguage,
		"OPENAI_TRANSCRIBE_MODEL": &cfg.OpenAITranscribeModel,
		"DEEPGRAM_MODEL":          &cfg.DeepgramModel,
		"COACH_MODEL":             &cfg.CoachModel,
		"COACH_PROMPT":            &cfg.CoachPrompt,
		"AUTO_RECORDER_SOURCE":    &cfg.AutoRecorderSource,
		"GDRIVE_FOLDER_ID":        &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE": &cfg.GoogleCredentialsFile,
		"GDRIVE_SYNC_INTERVAL":    &cfg.GDriveSyncInterval,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SAMPLE_RATE":             &cfg.SampleRate,
		"FAILURE_THRESHOLD":       &cfg.FailureThreshold,
		"PROBE_FAILURE_THRESHOLD": &cfg.ProbeFailureThreshold,
		"COACH_HISTORY":           &cfg.CoachHistory,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	switch strings.ToLower(cfg.TranscriptionBackend) {
	case "whisper", "":
		if _, err := os.Stat(cfg.WhisperModel); err != nil {
			warnings = append(warnings, fmt.Sprintf("Whisper model %q not found; transcription will fail until it is installed.", cfg.WhisperModel))
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			warnings = append(warnings, "OpenAI API key not configured; transcription is disabled. Set "+EnvPrefix+"OPENAI_API_KEY.")
		}
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			warnings = append(warnings, "Deepgram API key not configured; transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown transcription_backend %q; supported backends are whisper, openai, deepgram.", cfg.TranscriptionBackend))
	}

	provider, _, ok := strings.Cut(cfg.CoachModel, "/")
	switch {
	case !ok:
		warnings = append(warnings, fmt.Sprintf("Invalid coach_model %q; expected provider/model. Coaching is disabled.", cfg.CoachModel))
	case cfg.APIKeyFor(provider) == "":
		warnings = append(warnings, fmt.Sprintf("No API key for coach provider %q; coaching is disabled.", provider))
	}

	durations := []struct {
		key, value string
		def        time.Duration
	}{
		{"segment_window", cfg.SegmentWindow, defaultSegmentWindow},
		{"segment_interval", cfg.SegmentInterval, defaultSegmentInterval},
		{"dispatch_interval", cfg.DispatchInterval, defaultDispatchInterval},
		{"probe_timeout", cfg.ProbeTimeout, defaultProbeTimeout},
		{"extract_timeout", cfg.ExtractTimeout, defaultExtractTimeout},
		{"transcribe_timeout", cfg.TranscribeTimeout, defaultTranscribeTimeout},
		{"stop_grace", cfg.StopGrace, defaultStopGrace},
		{"startup_grace", cfg.StartupGrace, defaultStartupGrace},
		{"gdrive_sync_interval", cfg.GDriveSyncInterval, defaultGDriveSyncInterval},
	}
	for _, d := range durations {
		if parsed, err := time.ParseDuration(strings.TrimSpace(d.value)); err != nil || parsed <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q; using default %s.", d.key, d.value, d.def))
		}
	}

	if _, err := audio.ParseSource(cfg.AutoRecorderSource); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid auto_recorder_source %q; using both.", cfg.AutoRecorderSource))
		cfg.AutoRecorderSource = "both"
	}

	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults().FailureThreshold
	}
	if cfg.ProbeFailureThreshold <= 0 {
		cfg.ProbeFailureThreshold = defaults().ProbeFailureThreshold
	}

	if cfg.GDriveFolderID != "" {
		if _, err := os.Stat(cfg.GoogleCredentialsFile); err != nil {
			warnings = append(warnings, fmt.Sprintf("Google credentials file %q not readable; Drive sync is disabled.", cfg.GoogleCredentialsFile))
		}
	}

	return warnings
}
