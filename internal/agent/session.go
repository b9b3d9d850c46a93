// Package agent runs the conversation between the user, the model and the
// browser: the model looks at screenshots and answers with url or click
// directives until it can reply in plain text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/web-vision-agent/internal/action"
	"github.com/polzovatel/web-vision-agent/internal/browser"
	"github.com/polzovatel/web-vision-agent/internal/llm"
	"github.com/polzovatel/web-vision-agent/internal/media"
	"github.com/polzovatel/web-vision-agent/internal/navigator"
	"github.com/polzovatel/web-vision-agent/internal/snapshot"
)

// ErrStepLimit is returned when a task uses up its model turns.
var ErrStepLimit = errors.New("step limit reached")

// Navigator is what the session needs from navigator.Controller.
type Navigator interface {
	GotoAndCapture(ctx context.Context, tab browser.Tab, url string) (string, error)
	ClickAndCapture(ctx context.Context, tab browser.Tab, id string) (navigator.Capture, error)
}

// UI is the user side of the conversation.
type UI interface {
	// Ask returns the next line the user typed.
	Ask(ctx context.Context) (string, error)
	Answer(text string)
}

type Config struct {
	// MaxSteps bounds model turns per task; 0 means unlimited.
	MaxSteps       int
	HintCandidates int
	ImageLimits    media.Limits
}

type Session struct {
	id         string
	cfg        Config
	planner    Planner
	nav        Navigator
	ui         UI
	tab        browser.Tab
	closer     io.Closer
	transcript Transcript
	logger     zerolog.Logger
	now        func() time.Time
}

// NewSession starts a session on tab. closer, if not nil, is closed when Run
// returns; it should release the browser.
func NewSession(cfg Config, planner Planner, nav Navigator, ui UI, tab browser.Tab, closer io.Closer, logger zerolog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		cfg:     cfg,
		planner: planner,
		nav:     nav,
		ui:      ui,
		tab:     tab,
		closer:  closer,
		logger:  logger.With().Str("sess", id).Logger(),
		now:     time.Now,
	}
}

func (s *Session) ID() string { return s.id }

// Tab is the tab the session currently works in.
func (s *Session) Tab() browser.Tab { return s.tab }

func (s *Session) Transcript() []llm.Message { return s.transcript.Messages() }

// IsExit reports whether a follow-up ends the session.
func IsExit(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "exit", "quit", "q":
		return true
	}
	return false
}

// Run works on task, then on every follow-up the user gives, until the user
// types an exit word. Transcript and tab carry over between follow-ups.
func (s *Session) Run(ctx context.Context, task string) error {
	if s.closer != nil {
		defer func() {
			if cerr := s.closer.Close(); cerr != nil {
				s.logger.Warn().Err(cerr).Msg("release browser")
			}
		}()
	}
	s.transcript.Append(llm.Message{Role: llm.RoleSystem, Content: systemPrompt(s.now())})
	s.transcript.Append(llm.Message{Role: llm.RoleUser, Content: task})
	s.logger.Info().Str("task", truncateText(task, 120)).Msg("session started")

	for {
		answer, err := s.solve(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("session aborted")
			return err
		}
		s.ui.Answer(answer)

		next, err := s.ui.Ask(ctx)
		if errors.Is(err, io.EOF) {
			next, err = "", nil
		}
		if err != nil {
			return fmt.Errorf("read follow-up: %w", err)
		}
		if IsExit(next) {
			s.logger.Info().Int("messages", s.transcript.Len()).Msg("session done")
			return nil
		}
		s.transcript.Append(llm.Message{Role: llm.RoleUser, Content: next})
	}
}

// solve is the inner loop: ask, decode, act, until the model answers.
func (s *Session) solve(ctx context.Context) (string, error) {
	var act action.Action = action.Initial{}
	for step := 1; action.Continues(act); step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if s.cfg.MaxSteps > 0 && step > s.cfg.MaxSteps {
			return "", fmt.Errorf("%w (%d)", ErrStepLimit, s.cfg.MaxSteps)
		}
		var err error
		act, err = s.planner.Next(ctx, &s.transcript)
		if err != nil {
			return "", fmt.Errorf("planner: %w", err)
		}
		log := s.logger.With().Int("step", step).Logger()

		switch a := act.(type) {
		case action.NavigateTo:
			log.Info().Str("url", a.URL).Msg("navigate")
			path, err := s.nav.GotoAndCapture(ctx, s.tab, a.URL)
			if err != nil {
				return "", fmt.Errorf("navigate to %s: %w", a.URL, err)
			}
			if err := s.appendScreenshot(path); err != nil {
				return "", err
			}

		case action.ClickElement:
			log.Info().Str("identifier", a.Identifier).Msg("click")
			capture, err := s.nav.ClickAndCapture(ctx, s.tab, a.Identifier)
			if navigator.Recoverable(err) {
				log.Warn().Err(err).Msg("click target not found, asking model for another")
				s.transcript.Append(llm.Message{
					Role:    llm.RoleSystem,
					Content: linkNotFoundPrompt(a.Identifier, s.hints(ctx)),
				})
				continue
			}
			if err != nil {
				return "", fmt.Errorf("click %q: %w", a.Identifier, err)
			}
			if capture.Tab != nil && capture.Tab.ID() != s.tab.ID() {
				log.Info().Str("from", s.tab.ID()).Str("to", capture.Tab.ID()).Msg("following new tab")
				s.tab = capture.Tab
			}
			if err := s.appendScreenshot(capture.Path); err != nil {
				return "", err
			}

		case action.Initial:
			log.Warn().Msg("model replied with the initial sentinel")
			s.transcript.Append(llm.Message{Role: llm.RoleSystem, Content: sentinelPrompt})
		}
	}
	return act.(action.Answer).Text, nil
}

// appendScreenshot reads the capture now; the file is overwritten by the
// next one.
func (s *Session) appendScreenshot(path string) error {
	img, err := media.Load(path, s.cfg.ImageLimits)
	if err != nil {
		return fmt.Errorf("load screenshot: %w", err)
	}
	s.logger.Debug().
		Str("mime", img.MIMEType).
		Int("width", img.Width).
		Int("height", img.Height).
		Int("bytes", len(img.Data)).
		Msg("screenshot attached")
	s.transcript.Append(llm.Message{
		Role:    llm.RoleUser,
		Content: instructionPrompt,
		Image:   &llm.Image{MIMEType: img.MIMEType, Base64: img.Base64()},
	})
	return nil
}

func (s *Session) hints(ctx context.Context) []string {
	if s.cfg.HintCandidates <= 0 {
		return nil
	}
	sum, err := snapshot.Collect(ctx, s.tab)
	if err != nil {
		s.logger.Debug().Err(err).Msg("collect hints")
		return nil
	}
	s.logger.Debug().Stringer("page", sum).Msg("annotated elements after miss")
	return sum.Identifiers(s.cfg.HintCandidates)
}
