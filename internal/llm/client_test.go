package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

const okMessage = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5-20250929",
  "content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "world"}],
  "stop_reason": "end_turn",
  "stop_sequence": null,
  "usage": {"input_tokens": 12, "output_tokens": 3}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), ClientConfig{
		APIKey:  "sk-ant-test-0123456789",
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestCompleteSendsPromptAndJoinsText(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, okMessage)
	})

	resp, err := c.Complete(context.Background(), Request{System: "be brief", Prompt: "say hi", MaxTokens: 64})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "hello world" {
		t.Errorf("text = %q, want %q", resp.Text, "hello world")
	}
	if resp.StopReason != "end_turn" || resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("unexpected response %+v", resp)
	}

	if got.Model != string(DefaultModel) {
		t.Errorf("model = %q, want %q", got.Model, DefaultModel)
	}
	if got.MaxTokens != 64 {
		t.Errorf("max_tokens = %d, want 64", got.MaxTokens)
	}
	if len(got.System) != 1 || got.System[0].Text != "be brief" {
		t.Errorf("unexpected system %+v", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content[0].Text != "say hi" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}

	if u := c.Usage(); u != (Usage{Calls: 1, InputTokens: 12, OutputTokens: 3}) {
		t.Errorf("usage = %+v", u)
	}
}

func TestCompleteStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusConflict, true},
		{http.StatusInternalServerError, true},
		{529, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"nope"}}`)
			})

			_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
			if err == nil {
				t.Fatal("expected error")
			}
			var apiErr *anthropic.Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *anthropic.Error, got %T", err)
			}
			if Retryable(err) != tt.retryable {
				t.Errorf("Retryable = %v, want %v", !tt.retryable, tt.retryable)
			}
			if calls.Load() != 1 {
				t.Errorf("expected exactly one request, got %d", calls.Load())
			}
		})
	}
}

func TestRetryableNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(context.Background(), ClientConfig{APIKey: "sk-ant-test-0123456789", BaseURL: url})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Complete(context.Background(), Request{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !Retryable(err) {
		t.Errorf("connection refused should be retryable: %v", err)
	}
	if Retryable(nil) || Retryable(errors.New("boom")) {
		t.Error("plain errors should not be retryable")
	}
}

func TestCompleteRejectsEmptyPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	if _, err := c.Complete(context.Background(), Request{Prompt: "  "}); err == nil {
		t.Error("expected error for empty prompt")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(context.Background(), ClientConfig{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(context.Background(), ClientConfig{APIKey: "sk-ant-test-0123456789", Model: "claude-haiku-4-5-20251001"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Model() != "claude-haiku-4-5-20251001" {
		t.Errorf("model = %q", c.Model())
	}
	if c.maxTokens != DefaultMaxTokens {
		t.Errorf("maxTokens = %d, want %d", c.maxTokens, DefaultMaxTokens)
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	tests := []struct {
		in   anthropic.Model
		want anthropic.Model
	}{
		{anthropic.ModelClaudeSonnet4_5_20250929, "us.anthropic.claude-sonnet-4-5-20250929-v1:0"},
		{anthropic.ModelClaudeHaiku4_5_20251001, "us.anthropic.claude-haiku-4-5-20251001-v1:0"},
		{"us.anthropic.custom-v1:0", "us.anthropic.custom-v1:0"},
	}
	for _, tt := range tests {
		if got := translateModelForBedrock(tt.in); got != tt.want {
			t.Errorf("translateModelForBedrock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUsageCost(t *testing.T) {
	var m usageMeter
	m.add(1_000_000, 0)
	m.add(0, 1_000_000)
	u := m.snapshot()
	if got := u.Cost(); got != 18.0 {
		t.Errorf("Cost() = %v, want 18", got)
	}
	if u.Calls != 2 {
		t.Errorf("Calls = %d, want 2", u.Calls)
	}
	if got, want := u.String(), "2 calls, 1000000 in / 1000000 out tokens (~$18.0000)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
