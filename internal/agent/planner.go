package agent

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/polzovatel/web-vision-agent/internal/action"
	"github.com/polzovatel/web-vision-agent/internal/llm"
)

// Transcript is the append-only conversation of one session.
type Transcript struct {
	msgs []llm.Message
}

func (t *Transcript) Append(m llm.Message) {
	t.msgs = append(t.msgs, m)
}

// Messages returns a copy safe to hand to a model client.
func (t *Transcript) Messages() []llm.Message {
	return append([]llm.Message(nil), t.msgs...)
}

func (t *Transcript) Len() int { return len(t.msgs) }

// Planner asks the model for its next move.
type Planner interface {
	Next(ctx context.Context, t *Transcript) (action.Action, error)
}

type modelPlanner struct {
	llm         llm.Client
	temperature float32
	maxTokens   int
	logger      zerolog.Logger
}

func NewPlanner(client llm.Client, temperature float32, maxTokens int, logger zerolog.Logger) Planner {
	return &modelPlanner{llm: client, temperature: temperature, maxTokens: maxTokens, logger: logger}
}

// Next submits the whole transcript, records the reply as an assistant turn
// and decodes it.
func (p *modelPlanner) Next(ctx context.Context, t *Transcript) (action.Action, error) {
	resp, err := p.llm.Generate(ctx, llm.Request{
		Messages:    t.Messages(),
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.llm.Name(), err)
	}
	t.Append(llm.Message{Role: llm.RoleAssistant, Content: resp.Text})
	act := action.Decode(resp.Text)
	p.logger.Debug().Str("reply", truncateText(resp.Text, 200)).Stringer("action", act).Msg("model reply")
	return act, nil
}

func truncateText(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
