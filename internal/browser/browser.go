package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/stealth"
	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/polzovatel/web-vision-agent/internal/config"
)

const defaultActionTime = 10 * time.Second

// Launcher owns the playwright driver and the single browser context the
// session works in.
type Launcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	logger  zerolog.Logger

	mu   sync.Mutex
	tabs map[playwright.Page]*tab
	seq  int
}

// NewLauncher starts Chrome for the configured channel. With a user data
// directory the profile is reused through a persistent context.
func NewLauncher(ctx context.Context, cfg config.BrowserConfig, logger zerolog.Logger) (*Launcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.SkipInstallCheck {
		if err := ensureDeps(); err != nil {
			return nil, err
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	l := &Launcher{pw: pw, logger: logger, tabs: make(map[playwright.Page]*tab)}

	args := []string{
		"--disable-setuid-sandbox",
		"--no-sandbox",
		"--no-zygote",
	}
	if cfg.Profile != "" {
		args = append(args, "--profile-directory="+cfg.Profile)
	}
	var exe *string
	if p := cfg.ExecutablePath(); p != "" {
		exe = playwright.String(p)
	}
	viewport := &playwright.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight}

	if dir := cfg.UserDataPath(); dir != "" {
		l.context, err = pw.Chromium.LaunchPersistentContext(dir, playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless:       playwright.Bool(cfg.Headless),
			Args:           args,
			ExecutablePath: exe,
			Viewport:       viewport,
		})
		if err != nil {
			_ = pw.Stop()
			return nil, fmt.Errorf("launch chrome with profile: %w", err)
		}
	} else {
		l.browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless:       playwright.Bool(cfg.Headless),
			Args:           args,
			ExecutablePath: exe,
		})
		if err != nil {
			_ = pw.Stop()
			return nil, fmt.Errorf("launch chromium: %w", err)
		}
		l.context, err = l.browser.NewContext(playwright.BrowserNewContextOptions{Viewport: viewport})
		if err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("new context: %w", err)
		}
	}

	if cfg.Stealth {
		if err := l.context.AddInitScript(playwright.Script{Content: playwright.String(stealth.JS)}); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("stealth script: %w", wrap(err))
		}
	}
	logger.Info().
		Str("channel", cfg.Channel).
		Bool("headless", cfg.Headless).
		Bool("persistent", l.browser == nil).
		Msg("browser launched")
	return l, nil
}

// Tab returns the first open tab, opening one if the context has none.
func (l *Launcher) Tab(ctx context.Context) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pages := l.context.Pages(); len(pages) > 0 {
		return l.wrapPage(pages[0]), nil
	}
	page, err := l.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", wrap(err))
	}
	return l.wrapPage(page), nil
}

func (l *Launcher) Close() error {
	var errs []error
	if l.context != nil {
		errs = append(errs, wrap(l.context.Close()))
	}
	if l.browser != nil {
		errs = append(errs, wrap(l.browser.Close()))
	}
	if l.pw != nil {
		errs = append(errs, l.pw.Stop())
	}
	return errors.Join(errs...)
}

// wrapPage returns the same *tab for the same page every time, so tab IDs
// stay stable across OpenedTabs calls.
func (l *Launcher) wrapPage(page playwright.Page) *tab {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.tabs[page]; ok {
		return t
	}
	l.seq++
	t := &tab{id: "tab-" + strconv.Itoa(l.seq), page: page, owner: l}
	l.tabs[page] = t
	return t
}

type tab struct {
	id    string
	page  playwright.Page
	owner *Launcher
}

func (t *tab) ID() string  { return t.id }
func (t *tab) URL() string { return t.page.URL() }

func (t *tab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   millis(timeout),
	})
	return wrap(err)
}

func (t *tab) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		val any
		err error
	)
	if arg == nil {
		val, err = t.page.Evaluate(script)
	} else {
		val, err = t.page.Evaluate(script, arg)
	}
	return val, wrap(err)
}

func (t *tab) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := t.page.Content()
	return html, wrap(err)
}

func (t *tab) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// First() avoids strict mode violations when identifiers repeat.
	first := t.page.Locator(selector).First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: millis(timeout),
	}); err != nil {
		return wrap(err)
	}
	return wrap(first.Click(playwright.LocatorClickOptions{Timeout: millis(timeout)}))
}

func (t *tab) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: millis(timeout),
	})
	return wrap(err)
}

func (t *tab) Screenshot(ctx context.Context, path string, fullPage bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(fullPage),
	})
	return wrap(err)
}

func (t *tab) ExpectNavigation(ctx context.Context, timeout time.Duration) (<-chan error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	armed := make(chan struct{})
	go func() {
		_, err := t.page.ExpectNavigation(func() error {
			close(armed)
			return nil
		}, playwright.PageExpectNavigationOptions{Timeout: millis(timeout)})
		done <- wrap(err)
	}()
	select {
	case <-armed:
		return done, nil
	case err := <-done:
		select {
		case <-armed:
			// armed and already finished
			done <- err
			return done, nil
		default:
		}
		return nil, fmt.Errorf("arm navigation wait: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *tab) OpenedTabs(ctx context.Context) ([]Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Tab
	for _, page := range t.page.Context().Pages() {
		if page == t.page || page.IsClosed() {
			continue
		}
		opener, err := page.Opener()
		if err != nil {
			t.owner.logger.Debug().Err(err).Str("url", page.URL()).Msg("opener lookup failed")
			continue
		}
		if opener == t.page {
			out = append(out, t.owner.wrapPage(page))
		}
	}
	return out, nil
}

func millis(d time.Duration) *float64 {
	if d <= 0 {
		d = defaultActionTime
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("playwright: %w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("playwright: %w", err)
}

func ensureDeps() error {
	if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
		return fmt.Errorf("install playwright driver: %w", err)
	}
	return nil
}
