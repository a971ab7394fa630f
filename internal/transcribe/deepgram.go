package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	restapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

var deepgramInit sync.Once

type fileTranscriber interface {
	FromFile(ctx context.Context, file string, opts *interfaces.PreRecordedTranscriptionOptions) (*restapi.PreRecordedResponse, error)
}

// Deepgram transcribes segments with Deepgram's pre-recorded API.
type Deepgram struct {
	api     fileTranscriber
	options *interfaces.PreRecordedTranscriptionOptions
}

func NewDeepgram(apiKey, model, language string) *Deepgram {
	deepgramInit.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})

	if model == "" {
		model = "nova-3"
	}

	c := client.NewREST(apiKey, &interfaces.ClientOptions{})
	return &Deepgram{
		api: prerecorded.New(c),
		options: &interfaces.PreRecordedTranscriptionOptions{
			Model:       model,
			Language:    language,
			Punctuate:   true,
			SmartFormat: true,
		},
	}
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) Transcribe(ctx context.Context, req Request) (string, error) {
	res, err := d.api.FromFile(ctx, req.Path, d.options)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return "", fmt.Errorf("%w: deepgram: %w", ErrBackendUnavailable, err)
		}
		return "", fmt.Errorf("deepgram transcription: %w", err)
	}
	return deepgramTranscript(res), nil
}

func deepgramTranscript(res *restapi.PreRecordedResponse) string {
	if res == nil || res.Results == nil {
		return ""
	}

	var parts []string
	for _, channel := range res.Results.Channels {
		if len(channel.Alternatives) == 0 {
			continue
		}
		if text := strings.TrimSpace(channel.Alternatives[0].Transcript); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}
