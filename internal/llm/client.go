// Package llm talks to vision-capable chat models.
package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/polzovatel/web-vision-agent/internal/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Message is one transcript entry. Image is only set on screenshot turns.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Image   *Image `json:"image,omitempty"`
}

// Image holds base64 data, captured when the message was created.
type Image struct {
	MIMEType string `json:"mime_type"`
	Base64   string `json:"-"`
}

func (i Image) DataURI() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64
}

type Response struct {
	Text string
}

// NewClient builds the provider named in cfg.
func NewClient(cfg config.LLMConfig, logger zerolog.Logger) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAI(cfg, logger)
	case "anthropic":
		return NewAnthropic(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'anthropic' or 'openai')", cfg.Provider)
	}
}

// truncateString keeps at most maxLen runes.
func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
