package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type openaiChatRequest struct {
	Model               string `json:"model"`
	MaxCompletionTokens int    `json:"max_completion_tokens"`
	Messages            []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// openaiServer answers chat completions with the given choice contents and
// hands each decoded request to inspect.
func openaiServer(t *testing.T, inspect func(*http.Request, openaiChatRequest), contents ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req openaiChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(r, req)
		}

		choices := make([]map[string]any, 0, len(contents))
		for i, c := range contents {
			choices = append(choices, map[string]any{
				"index":         i,
				"message":       map[string]any{"role": "assistant", "content": c},
				"finish_reason": "stop",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-coach",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": choices,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAICompleteSendsConversation(t *testing.T) {
	var got openaiChatRequest
	srv := openaiServer(t, func(_ *http.Request, req openaiChatRequest) { got = req }, "  Quantify the latency win.  ")

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: srv.URL + "/v1", maxTokens: 300})
	if err != nil {
		t.Fatalf("newOpenAIClient: %v", err)
	}

	reply, err := client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "You coach a candidate during a live interview."},
		{Role: RoleUser, Content: "Interviewer: how did you speed up the API?"},
		{Role: RoleAssistant, Content: "Mention caching."},
		{Role: RoleUser, Content: "Candidate: we added a read-through cache"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "Quantify the latency win." {
		t.Fatalf("reply = %q", reply)
	}

	if got.Model != "gpt-4o-mini" || got.MaxCompletionTokens != 300 {
		t.Fatalf("request model=%q max=%d", got.Model, got.MaxCompletionTokens)
	}
	roles := make([]string, len(got.Messages))
	for i, m := range got.Messages {
		roles[i] = m.Role
	}
	if strings.Join(roles, ",") != "system,user,assistant,user" {
		t.Fatalf("roles = %v", roles)
	}
}

func TestNewClientOpenAIUsesKeyAndBaseURL(t *testing.T) {
	srv := openaiServer(t, func(r *http.Request, _ openaiChatRequest) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
	}, "ok")

	client, err := NewClient("openai", "test-key", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if reply, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "ping"}}); err != nil || reply != "ok" {
		t.Fatalf("Complete = %q, %v", reply, err)
	}
}

func TestOpenAICompleteEmptyReplies(t *testing.T) {
	cases := map[string][]string{
		"no choices":  nil,
		"blank reply": {"   "},
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			srv := openaiServer(t, nil, contents...)
			client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: srv.URL + "/v1"})
			if err != nil {
				t.Fatalf("newOpenAIClient: %v", err)
			}
			if _, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hello"}}); !errors.Is(err, ErrEmptyResponse) {
				t.Fatalf("error = %v, want ErrEmptyResponse", err)
			}
		})
	}
}

func TestOpenAICompleteRequiresUserTurn(t *testing.T) {
	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: "http://127.0.0.1:1/v1"})
	if err != nil {
		t.Fatalf("newOpenAIClient: %v", err)
	}
	if _, err := client.Complete(context.Background(), []Message{{Role: RoleSystem, Content: "coach"}}); !errors.Is(err, ErrNoUserMessage) {
		t.Fatalf("error = %v, want ErrNoUserMessage", err)
	}
}
