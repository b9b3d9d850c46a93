package navigator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/polzovatel/web-vision-agent/internal/annotate"
	"github.com/polzovatel/web-vision-agent/internal/browser"
	"github.com/polzovatel/web-vision-agent/internal/render"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTab recognizes the page scripts by what they do.
type fakeTab struct {
	id  string
	url string

	mu          sync.Mutex
	candidates  int
	clickResult map[string]any
	navErr      error
	gotoErr     error
	clickErr    error
	opensOnTap  *fakeTab
	opened      []browser.Tab
	navigated   []string
	clicked     []string
	waitedFor   []string
	shots       []string
	evaluations int
}

func newFakeTab(id string) *fakeTab {
	return &fakeTab{id: id, url: "https://example.com/", candidates: 3}
}

func (f *fakeTab) ID() string  { return f.id }
func (f *fakeTab) URL() string { return f.url }

func (f *fakeTab) Navigate(_ context.Context, url string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	if f.gotoErr != nil {
		return f.gotoErr
	}
	f.url = url
	return nil
}

func (f *fakeTab) Evaluate(_ context.Context, script string, _ any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluations++
	switch {
	case strings.Contains(script, "aria-busy"):
		return false, nil
	case strings.Contains(script, "removeAttribute"):
		return true, nil
	case strings.Contains(script, "stats.identified"):
		return map[string]any{"candidates": f.candidates, "outlined": f.candidates, "identified": f.candidates}, nil
	case strings.Contains(script, "opts.identifier"):
		if f.clickResult == nil {
			return map[string]any{"status": "missing", "identifier": ""}, nil
		}
		return f.clickResult, nil
	}
	return nil, fmt.Errorf("unexpected script")
}

func (f *fakeTab) Content(context.Context) (string, error) { return "<html></html>", nil }

func (f *fakeTab) Click(_ context.Context, selector string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicked = append(f.clicked, selector)
	if f.clickErr != nil {
		return f.clickErr
	}
	if f.opensOnTap != nil {
		f.opened = append(f.opened, f.opensOnTap)
	}
	return nil
}

func (f *fakeTab) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitedFor = append(f.waitedFor, selector)
	return nil
}

func (f *fakeTab) Screenshot(_ context.Context, path string, fullPage bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !fullPage {
		return errors.New("expected a full-page screenshot")
	}
	f.shots = append(f.shots, path)
	return nil
}

func (f *fakeTab) ExpectNavigation(context.Context, time.Duration) (<-chan error, error) {
	ch := make(chan error, 1)
	ch <- f.navErr
	return ch, nil
}

func (f *fakeTab) OpenedTabs(context.Context) ([]browser.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]browser.Tab(nil), f.opened...), nil
}

func newController(t *testing.T) *Controller {
	t.Helper()
	return New(Options{
		ScreenshotPath: "shot.jpg",
		PageTimeout:    time.Second,
		StableTimeout:  time.Second,
		NewTabTimeout:  50 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}, annotate.New(annotate.Options{}, zerolog.Nop()), render.NewWaiter(time.Millisecond, 3, zerolog.Nop()), zerolog.Nop())
}

func TestGotoAndCapture(t *testing.T) {
	tab := newFakeTab("tab-1")
	path, err := newController(t).GotoAndCapture(context.Background(), tab, "https://example.com/refunds")

	require.NoError(t, err)
	assert.Equal(t, "shot.jpg", path)
	assert.Equal(t, []string{"https://example.com/refunds"}, tab.navigated)
	assert.Equal(t, []string{"shot.jpg"}, tab.shots)
}

func TestGotoInvalidURLHasNoSideEffect(t *testing.T) {
	tab := newFakeTab("tab-1")
	_, err := newController(t).GotoAndCapture(context.Background(), tab, "not a url")

	assert.ErrorIs(t, err, browser.ErrInvalidURL)
	assert.Empty(t, tab.navigated)
	assert.Zero(t, tab.evaluations)
}

func TestGotoNavigationFailure(t *testing.T) {
	tab := newFakeTab("tab-1")
	tab.gotoErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	_, err := newController(t).GotoAndCapture(context.Background(), tab, "https://nowhere.example")

	assert.ErrorIs(t, err, ErrNavigation)
	assert.False(t, Recoverable(err))
	assert.Empty(t, tab.shots)
}

func TestGotoWithoutInteractiveElementsStillCaptures(t *testing.T) {
	tab := newFakeTab("tab-1")
	tab.candidates = 0
	path, err := newController(t).GotoAndCapture(context.Background(), tab, "https://example.com")

	require.NoError(t, err)
	assert.Equal(t, "shot.jpg", path)
}

func TestClickEmptyIdentifier(t *testing.T) {
	tab := newFakeTab("tab-1")
	_, err := newController(t).ClickAndCapture(context.Background(), tab, "")

	assert.ErrorIs(t, err, ErrLinkNotFound)
	assert.Zero(t, tab.evaluations)
}

func TestClickMissingIsRecoverable(t *testing.T) {
	tab := newFakeTab("tab-1")
	_, err := newController(t).ClickAndCapture(context.Background(), tab, "refund policy")

	require.ErrorIs(t, err, ErrLinkNotFound)
	assert.True(t, Recoverable(err))
	assert.Empty(t, tab.shots)
}

func TestClickSameTab(t *testing.T) {
	tab := newFakeTab("tab-1")
	tab.clickResult = map[string]any{"status": "clicked", "identifier": "refund policy"}

	got, err := newController(t).ClickAndCapture(context.Background(), tab, "refund")
	require.NoError(t, err)
	assert.Equal(t, "shot.jpg", got.Path)
	assert.Same(t, tab, got.Tab)
	assert.Empty(t, tab.clicked, "same-tab clicks happen inside the page")
}

func TestClickSameTabNavigationError(t *testing.T) {
	tab := newFakeTab("tab-1")
	tab.clickResult = map[string]any{"status": "clicked", "identifier": "pay"}
	tab.navErr = errors.New("net::ERR_ABORTED")

	_, err := newController(t).ClickAndCapture(context.Background(), tab, "pay")
	assert.ErrorIs(t, err, ErrNavigation)
	assert.False(t, Recoverable(err))
}

func TestClickNavigationTimeoutAborts(t *testing.T) {
	tab := newFakeTab("tab-1")
	tab.clickResult = map[string]any{"status": "clicked", "identifier": "show more"}
	tab.navErr = fmt.Errorf("playwright: %w: waiting for navigation", browser.ErrTimeout)

	got, err := newController(t).ClickAndCapture(context.Background(), tab, "show more")
	assert.ErrorIs(t, err, ErrNavigation)
	assert.ErrorIs(t, err, browser.ErrTimeout)
	assert.False(t, Recoverable(err))
	assert.Nil(t, got.Tab)
	assert.Empty(t, tab.shots, "nothing is captured after a failed navigation")
}

func TestClickNewTab(t *testing.T) {
	tab := newFakeTab("tab-1")
	stale := newFakeTab("tab-2")
	child := newFakeTab("tab-3")
	tab.opened = []browser.Tab{stale}
	tab.opensOnTap = child
	tab.clickResult = map[string]any{"status": "new_tab", "identifier": "docs"}

	got, err := newController(t).ClickAndCapture(context.Background(), tab, "docs")
	require.NoError(t, err)
	assert.Same(t, child, got.Tab)
	assert.Equal(t, []string{`[gpt-link-text="docs"]`}, tab.clicked)
	assert.Equal(t, []string{"body"}, child.waitedFor)
	assert.Equal(t, []string{"shot.jpg"}, child.shots)
	assert.Empty(t, tab.shots)
	assert.Empty(t, stale.shots)
}

func TestClickNewTabNeverOpens(t *testing.T) {
	tab := newFakeTab("tab-1")
	tab.clickResult = map[string]any{"status": "new_tab", "identifier": "docs"}

	_, err := newController(t).ClickAndCapture(context.Background(), tab, "docs")
	assert.ErrorIs(t, err, ErrNewTabNotFound)
	assert.False(t, Recoverable(err))
}

func TestClickNewTabElementGone(t *testing.T) {
	tab := newFakeTab("tab-1")
	tab.clickResult = map[string]any{"status": "new_tab", "identifier": "docs"}
	tab.clickErr = errors.New("locator resolved to 0 elements")

	_, err := newController(t).ClickAndCapture(context.Background(), tab, "docs")
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.True(t, Recoverable(err))
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(fmt.Errorf("wrapped: %w", ErrLinkNotFound)))
	assert.True(t, Recoverable(ErrElementNotFound))
	assert.False(t, Recoverable(ErrNavigation))
	assert.False(t, Recoverable(ErrNewTabNotFound))
	assert.False(t, Recoverable(browser.ErrInvalidURL))
	assert.False(t, Recoverable(nil))
}
