// Package coach turns transcript text into coaching replies from a chat model,
// remembering the last few exchanges of each session.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/llm"
)

const (
	DefaultPrompt = "You are a discreet interview coach. You receive live transcript excerpts " +
		"from a job interview. Reply with short, concrete guidance the interviewee can use " +
		"right now: what the interviewer is asking for, and the key points of a strong answer. " +
		"Use at most five bullet points."

	defaultHistory = 6
)

var backoff = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

type ClientFactory func(provider, model string) (llm.Client, error)

type Config struct {
	// Model is "provider/model".
	Model  string
	Prompt string
	// History is how many past messages per session are sent with each
	// request.
	History int
}

type Coach struct {
	client  llm.Client
	prompt  string
	history int

	mu        sync.Mutex
	exchanges map[string][]llm.Message

	sleep func(context.Context, time.Duration) error
}

func New(cfg Config, factory ClientFactory) (*Coach, error) {
	provider, model, err := llm.ParseModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	client, err := factory(provider, model)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return newCoach(client, cfg), nil
}

func newCoach(client llm.Client, cfg Config) *Coach {
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	return &Coach{
		client:    client,
		prompt:    cfg.Prompt,
		history:   cfg.History,
		exchanges: make(map[string][]llm.Message),
		sleep:     sleepContext,
	}
}

// Submit asks for a coaching reply to text. hint names who was speaking; it
// is audio.Both when the text mixes speakers. Empty text gets no reply.
func (c *Coach) Submit(ctx context.Context, sessionID, text string, hint audio.Source) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	user := llm.Message{Role: llm.RoleUser, Content: userContent(text, hint)}

	c.mu.Lock()
	messages := make([]llm.Message, 0, len(c.exchanges[sessionID])+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: c.prompt})
	messages = append(messages, c.exchanges[sessionID]...)
	messages = append(messages, user)
	c.mu.Unlock()

	var lastErr error
	for attempt := range backoff {
		reply, err := c.client.Complete(ctx, messages)
		if err == nil {
			c.remember(sessionID, user, llm.Message{Role: llm.RoleAssistant, Content: reply})
			return reply, nil
		}

		lastErr = err
		if !retryable(ctx, err) || attempt == len(backoff)-1 {
			break
		}
		slog.Warn("coaching request failed, retrying", "session_id", sessionID, "attempt", attempt+1, "err", err)
		if err := c.sleep(ctx, backoff[attempt]); err != nil {
			lastErr = err
			break
		}
	}
	return "", fmt.Errorf("coaching reply for session %s: %w", sessionID, lastErr)
}

// Forget drops the session's exchange history.
func (c *Coach) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.exchanges, sessionID)
}

func (c *Coach) remember(sessionID string, msgs ...llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := append(c.exchanges[sessionID], msgs...)
	if over := len(h) - c.history; over > 0 {
		h = append([]llm.Message(nil), h[over:]...)
	}
	c.exchanges[sessionID] = h
}

func userContent(text string, hint audio.Source) string {
	switch hint {
	case audio.Interviewer, audio.System:
		return "The interviewer said:\n" + text
	case audio.Interviewee:
		return "The interviewee (the person you are coaching) said:\n" + text
	case audio.Both:
		return "Transcript excerpt, each line labelled with its speaker:\n" + text
	default:
		return text
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, llm.ErrNoUserMessage) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
