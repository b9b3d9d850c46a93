package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/polzovatel/web-vision-agent/internal/config"
)

const (
	defaultOpenAIModel = "gpt-4o"
	openAITimeout      = 120 * time.Second

	openAIMaxRetries     = 3
	openAIRetryBaseDelay = 500 * time.Millisecond
)

type openAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    zerolog.Logger
	baseDelay time.Duration
}

func NewOpenAI(cfg config.LLMConfig, logger zerolog.Logger) (Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("missing OPENAI_API_KEY")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	conf.HTTPClient = &http.Client{Timeout: openAITimeout}
	return &openAIClient{
		client:    openai.NewClientWithConfig(conf),
		model:     model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
		baseDelay: openAIRetryBaseDelay,
	}, nil
}

func (c *openAIClient) Name() string {
	return c.model
}

func (c *openAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}

	var lastErr error
	for attempt := 0; attempt <= openAIMaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("retrying OpenAI API call")
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		c.logger.Debug().
			Str("model", c.model).
			Int("messages", len(chatReq.Messages)).
			Int("max_tokens", maxTokens).
			Msg("OpenAI API request")

		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			lastErr = fmt.Errorf("openai: %w", err)
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) {
				c.logger.Error().
					Int("status", apiErr.HTTPStatusCode).
					Str("error_msg", apiErr.Message).
					Int("attempt", attempt).
					Msg("OpenAI API error")
				if apiErr.HTTPStatusCode != http.StatusTooManyRequests && apiErr.HTTPStatusCode < 500 {
					return Response{}, lastErr
				}
			}
			if ctx.Err() != nil {
				return Response{}, lastErr
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return Response{}, errors.New("no choices in response")
		}
		choice := resp.Choices[0]
		if choice.Message.Content == "" {
			return Response{}, errors.New("empty response content")
		}
		c.logger.Debug().
			Str("finish_reason", string(choice.FinishReason)).
			Int("prompt_tokens", resp.Usage.PromptTokens).
			Int("completion_tokens", resp.Usage.CompletionTokens).
			Str("response_preview", truncateString(choice.Message.Content, 200)).
			Msg("OpenAI API success")
		return Response{Text: choice.Message.Content}, nil
	}
	return Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// toOpenAIMessages keeps roles as they are; image turns become an image_url
// part carrying a data URI followed by the text.
func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Image == nil {
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    m.Image.DataURI(),
				Detail: openai.ImageURLDetailAuto,
			},
		}}
		if m.Content != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: m.Content,
			})
		}
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts})
	}
	return out
}
