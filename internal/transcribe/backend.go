package transcribe

import (
	"fmt"
	"strings"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
)

// BackendConfig selects and configures a speech-to-text backend.
type BackendConfig struct {
	Kind     string
	Language string

	WhisperPath  string
	WhisperModel string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	DeepgramAPIKey string
	DeepgramModel  string
}

// NewBackend builds the configured backend. Whisper runs go through runner.
func NewBackend(cfg BackendConfig, runner audio.Runner) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "whisper":
		return NewWhisperCLI(runner, cfg.WhisperPath, cfg.WhisperModel, cfg.Language), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: openai API key not configured", ErrBackendUnavailable)
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.Language, cfg.OpenAIBaseURL), nil
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("%w: deepgram API key not configured", ErrBackendUnavailable)
		}
		return NewDeepgram(cfg.DeepgramAPIKey, cfg.DeepgramModel, cfg.Language), nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q: supported backends are whisper, openai, deepgram", cfg.Kind)
	}
}
