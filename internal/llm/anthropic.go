package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/polzovatel/web-vision-agent/internal/config"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	anthropicMaxTokens    = 1024
	anthropicMaxRetries   = 3
)

type anthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	logger    zerolog.Logger
}

func NewAnthropic(cfg config.LLMConfig, logger zerolog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing ANTHROPIC_API_KEY")
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(anthropicMaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}
	return &anthropicClient{client: &client, model: model, maxTokens: maxTokens, logger: logger}, nil
}

func (c *anthropicClient) Name() string {
	return c.model
}

func (c *anthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}
	system, msgs := toAnthropicMessages(req.Messages)
	if len(msgs) == 0 {
		return Response{}, errors.New("no user or assistant messages")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("messages", len(msgs)).
		Int("max_tokens", maxTokens).
		Msg("Anthropic API request")

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			c.logger.Error().Int("status", apiErr.StatusCode).Msg("Anthropic API error")
		}
		return Response{}, fmt.Errorf("anthropic: %w", err)
	}

	var b strings.Builder
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	text := b.String()
	if text == "" {
		return Response{}, errors.New("empty response content")
	}
	c.logger.Debug().
		Str("stop_reason", string(message.StopReason)).
		Int64("input_tokens", message.Usage.InputTokens).
		Int64("output_tokens", message.Usage.OutputTokens).
		Str("response_preview", truncateString(text, 200)).
		Msg("Anthropic API success")
	return Response{Text: text}, nil
}

// toAnthropicMessages lifts the leading system messages into the system
// prompt. Later system messages, such as corrections, are sent as user text
// because the API has no mid-conversation system role.
func toAnthropicMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	i := 0
	for ; i < len(msgs) && msgs[i].Role == RoleSystem; i++ {
		system = append(system, anthropic.TextBlockParam{Text: msgs[i].Content})
	}
	out := make([]anthropic.MessageParam, 0, len(msgs)-i)
	for _, m := range msgs[i:] {
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		var blocks []anthropic.ContentBlockParamUnion
		if m.Image != nil {
			blocks = append(blocks, anthropic.NewImageBlockBase64(m.Image.MIMEType, m.Image.Base64))
		}
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		if len(blocks) == 0 {
			continue
		}
		out = append(out, anthropic.NewUserMessage(blocks...))
	}
	return system, out
}
