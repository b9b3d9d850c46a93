// Package navigator moves a tab to a new document and captures it: navigate
// or click, wait for rendering, annotate, and take a full-page screenshot.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/web-vision-agent/internal/annotate"
	"github.com/polzovatel/web-vision-agent/internal/browser"
	"github.com/polzovatel/web-vision-agent/internal/render"
)

var (
	// ErrLinkNotFound means no annotated element contains the identifier.
	ErrLinkNotFound = errors.New("link not found")
	// ErrElementNotFound means the matched element vanished before it could
	// be clicked.
	ErrElementNotFound = errors.New("element not found")
	ErrNewTabNotFound  = errors.New("new page is null")
	ErrNavigation      = errors.New("navigation failed")
)

// Recoverable reports whether err means the model picked a bad target and
// may try another one.
func Recoverable(err error) bool {
	return errors.Is(err, ErrLinkNotFound) || errors.Is(err, ErrElementNotFound)
}

const defaultPollInterval = 100 * time.Millisecond

type Options struct {
	ScreenshotPath string
	PageTimeout    time.Duration
	StableTimeout  time.Duration
	BodyOnly       bool
	NewTabTimeout  time.Duration
	PollInterval   time.Duration
}

type Controller struct {
	opts      Options
	annotator *annotate.Annotator
	waiter    *render.Waiter
	logger    zerolog.Logger
}

func New(opts Options, annotator *annotate.Annotator, waiter *render.Waiter, logger zerolog.Logger) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.NewTabTimeout <= 0 {
		opts.NewTabTimeout = opts.PageTimeout
	}
	return &Controller{opts: opts, annotator: annotator, waiter: waiter, logger: logger}
}

// Capture is the outcome of a click: the screenshot and the tab it shows,
// which differs from the clicked tab when the link opened a new one.
type Capture struct {
	Path string
	Tab  browser.Tab
}

// GotoAndCapture navigates tab to url and returns the screenshot path.
func (c *Controller) GotoAndCapture(ctx context.Context, tab browser.Tab, url string) (string, error) {
	if err := browser.ValidateURL(url); err != nil {
		return "", err
	}
	c.logger.Info().Str("url", url).Str("tab", tab.ID()).Msg("navigating")
	if err := tab.Navigate(ctx, url, c.opts.PageTimeout); err != nil {
		c.logger.Error().Err(err).Str("url", url).Msg("navigation failed")
		return "", fmt.Errorf("%w: %s: %w", ErrNavigation, url, err)
	}
	return c.capture(ctx, tab)
}

// ClickAndCapture clicks the first annotated element whose identifier
// contains id. A same-tab navigation is awaited; a target=_blank link is
// clicked with real input and followed into the tab it opens.
func (c *Controller) ClickAndCapture(ctx context.Context, tab browser.Tab, id string) (Capture, error) {
	if id == "" {
		return Capture{}, fmt.Errorf("%w: empty identifier", ErrLinkNotFound)
	}
	nav, err := tab.ExpectNavigation(ctx, c.opts.PageTimeout)
	if err != nil {
		return Capture{}, fmt.Errorf("%w: %w", ErrNavigation, err)
	}
	before, err := tab.OpenedTabs(ctx)
	if err != nil {
		return Capture{}, fmt.Errorf("list tabs: %w", err)
	}

	res, err := annotate.Click(ctx, tab, id)
	if err != nil {
		return Capture{}, err
	}
	log := c.logger.With().Str("want", id).Str("matched", res.Identifier).Logger()

	active := tab
	switch res.Status {
	case annotate.Missing:
		log.Warn().Msg("no element matches")
		return Capture{}, fmt.Errorf("%w: %q", ErrLinkNotFound, id)

	case annotate.Clicked:
		log.Info().Msg("clicked, waiting for navigation")
		select {
		case err := <-nav:
			if err != nil {
				log.Error().Err(err).Msg("navigation after click failed")
				return Capture{}, fmt.Errorf("%w: %w", ErrNavigation, err)
			}
		case <-ctx.Done():
			return Capture{}, ctx.Err()
		}

	case annotate.NewTab:
		// nav is dropped unread; its buffer lets the waiter exit on timeout
		log.Info().Msg("link opens a new tab")
		if err := tab.Click(ctx, annotate.Selector(res.Identifier), c.opts.PageTimeout); err != nil {
			return Capture{}, fmt.Errorf("%w: %s: %w", ErrElementNotFound, res.Identifier, err)
		}
		opened, err := c.waitNewTab(ctx, tab, before)
		if err != nil {
			return Capture{}, err
		}
		if err := opened.WaitForSelector(ctx, "body", c.opts.PageTimeout); err != nil {
			return Capture{}, fmt.Errorf("%w: new tab body: %w", ErrNavigation, err)
		}
		log.Info().Str("tab", opened.ID()).Str("url", opened.URL()).Msg("switched to new tab")
		active = opened
	}

	path, err := c.capture(ctx, active)
	if err != nil {
		return Capture{}, err
	}
	return Capture{Path: path, Tab: active}, nil
}

// waitNewTab polls for a tab opened by tab that was not open before.
func (c *Controller) waitNewTab(ctx context.Context, tab browser.Tab, before []browser.Tab) (browser.Tab, error) {
	seen := make(map[string]bool, len(before))
	for _, t := range before {
		seen[t.ID()] = true
	}
	deadline := time.NewTimer(c.opts.NewTabTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		tabs, err := tab.OpenedTabs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tabs: %w", err)
		}
		for _, t := range tabs {
			if !seen[t.ID()] {
				return t, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: opener %s", ErrNewTabNotFound, tab.ID())
		case <-ticker.C:
		}
	}
}

// capture is the common tail of both navigation paths.
func (c *Controller) capture(ctx context.Context, tab browser.Tab) (string, error) {
	if res, waited := c.waiter.Settle(ctx, tab, c.opts.StableTimeout, c.opts.BodyOnly); waited {
		c.logger.Debug().Bool("stable", res.Stable).Int("samples", res.Samples).Msg("waited for render")
	}
	if _, err := c.annotator.Annotate(ctx, tab); err != nil {
		if !errors.Is(err, annotate.ErrNoInteractiveElements) {
			return "", err
		}
		c.logger.Warn().Str("url", tab.URL()).Msg("page has no interactive elements")
	}
	if err := tab.Screenshot(ctx, c.opts.ScreenshotPath, true); err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	c.logger.Info().Str("path", c.opts.ScreenshotPath).Str("url", tab.URL()).Msg("captured")
	return c.opts.ScreenshotPath, nil
}
