package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/web-vision-agent/internal/config"
)

func transcript() []Message {
	return []Message{
		{Role: RoleSystem, Content: "You are a website crawler."},
		{Role: RoleUser, Content: "find the refund policy"},
		{Role: RoleAssistant, Content: `{"url": "https://example.com"}`},
		{Role: RoleUser, Content: "Here's the screenshot", Image: &Image{MIMEType: "image/jpeg", Base64: "QUJD"}},
		{Role: RoleAssistant, Content: `{"click": "refunds"}`},
		{Role: RoleSystem, Content: `Link with text "refunds" not found.`},
	}
}

func TestNewClientProviders(t *testing.T) {
	c, err := NewClient(config.LLMConfig{Provider: "openai", APIKey: "k"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, defaultOpenAIModel, c.Name())

	c, err = NewClient(config.LLMConfig{Provider: "Anthropic", APIKey: "k", Model: "claude-x"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "claude-x", c.Name())

	_, err = NewClient(config.LLMConfig{Provider: "gemini"}, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown LLM provider")

	_, err = NewClient(config.LLMConfig{Provider: "anthropic"}, zerolog.Nop())
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
}

func TestImageDataURI(t *testing.T) {
	img := Image{MIMEType: "image/png", Base64: "AAAA"}
	assert.Equal(t, "data:image/png;base64,AAAA", img.DataURI())
}

func TestToOpenAIMessages(t *testing.T) {
	out := toOpenAIMessages(transcript())
	require.Len(t, out, 6)

	assert.Equal(t, openai.ChatMessageRoleSystem, out[0].Role)
	assert.Equal(t, "find the refund policy", out[1].Content)
	assert.Equal(t, openai.ChatMessageRoleSystem, out[5].Role)

	img := out[3]
	assert.Empty(t, img.Content)
	require.Len(t, img.MultiContent, 2)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, img.MultiContent[0].Type)
	assert.Equal(t, "data:image/jpeg;base64,QUJD", img.MultiContent[0].ImageURL.URL)
	assert.Equal(t, openai.ChatMessagePartTypeText, img.MultiContent[1].Type)
}

func TestToAnthropicMessages(t *testing.T) {
	system, msgs := toAnthropicMessages(transcript())

	require.Len(t, system, 1)
	assert.Equal(t, "You are a website crawler.", system[0].Text)
	require.Len(t, msgs, 5)

	raw, err := json.Marshal(msgs)
	require.NoError(t, err)
	var decoded []struct {
		Role    string           `json:"role"`
		Content []map[string]any `json:"content"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	roles := make([]string, len(decoded))
	for i, m := range decoded {
		roles[i] = m.Role
	}
	assert.Equal(t, []string{"user", "assistant", "user", "assistant", "user"}, roles)

	shot := decoded[2].Content
	require.Len(t, shot, 2)
	assert.Equal(t, "image", shot[0]["type"])
	source := shot[0]["source"].(map[string]any)
	assert.Equal(t, "base64", source["type"])
	assert.Equal(t, "image/jpeg", source["media_type"])
	assert.Equal(t, "QUJD", source["data"])

	assert.Equal(t, `Link with text "refunds" not found.`, decoded[4].Content[0]["text"])
}

func chatCompletion(text string) string {
	raw, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": text},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(raw)
}

func TestOpenAIGenerate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"image_url"`)
		assert.Contains(t, string(body), "data:image/jpeg;base64,QUJD")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatCompletion(`{"click": "refund policy"}`))
	}))
	defer srv.Close()

	c, err := NewOpenAI(config.LLMConfig{APIKey: "test", BaseURL: srv.URL + "/v1", MaxTokens: 256}, zerolog.Nop())
	require.NoError(t, err)
	c.(*openAIClient).baseDelay = time.Millisecond

	resp, err := c.Generate(context.Background(), Request{Messages: transcript()})
	require.NoError(t, err)
	assert.Equal(t, `{"click": "refund policy"}`, resp.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad image","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI(config.LLMConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{Messages: transcript()})
	assert.ErrorContains(t, err, "bad image")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])
		assert.NotEmpty(t, body["system"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "The refund window is 30 days."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 8}
		}`)
	}))
	defer srv.Close()

	c, err := NewAnthropic(config.LLMConfig{APIKey: "test", Model: "claude-test", BaseURL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), Request{Messages: transcript()})
	require.NoError(t, err)
	assert.Equal(t, "The refund window is 30 days.", resp.Text)
}

func TestGenerateRejectsEmptyRequest(t *testing.T) {
	o, err := NewOpenAI(config.LLMConfig{APIKey: "k"}, zerolog.Nop())
	require.NoError(t, err)
	_, err = o.Generate(context.Background(), Request{})
	assert.Error(t, err)

	a, err := NewAnthropic(config.LLMConfig{APIKey: "k"}, zerolog.Nop())
	require.NoError(t, err)
	_, err = a.Generate(context.Background(), Request{Messages: []Message{{Role: RoleSystem, Content: "only system"}}})
	assert.Error(t, err)
}

func TestTruncateStringKeepsRunes(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	got := truncateString("привет мир", 4)
	assert.Equal(t, "прив...", got)
	assert.True(t, utf8.ValidString(got))
}
