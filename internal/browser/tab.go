package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidURL is returned for URLs outside the accepted grammar. No
// navigation is attempted for them.
var ErrInvalidURL = errors.New("invalid URL")

// ErrTimeout marks browser operations that ran out of time.
var ErrTimeout = errors.New("timeout")

// Tab is the slice of a browser page the agent core needs. Evaluate runs a
// function expression in the page and returns its JSON-compatible result.
type Tab interface {
	ID() string
	URL() string
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Evaluate(ctx context.Context, script string, arg any) (any, error)
	Content(ctx context.Context) (string, error)
	// Click dispatches real input on the first element matching selector.
	Click(ctx context.Context, selector string, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Screenshot(ctx context.Context, path string, fullPage bool) error
	// ExpectNavigation starts waiting for the next main-frame navigation and
	// returns once the wait is armed. The channel is buffered and receives
	// exactly one value, so callers may drop it unread.
	ExpectNavigation(ctx context.Context, timeout time.Duration) (<-chan error, error)
	// OpenedTabs lists the open tabs whose opener is this tab.
	OpenedTabs(ctx context.Context) ([]Tab, error)
}

var urlPattern = regexp.MustCompile(`(?i)^(https?://)((([a-z\d]([a-z\d-]*[a-z\d])*)\.)+[a-z]{2,}|((\d{1,3}\.){3}\d{1,3}))(:\d+)?(/[-a-z\d%_.~+]*)*(\?[;&a-z\d%_.~+=-]*)?(#[-a-z\d_]*)?$`)

// ValidateURL accepts absolute http(s) URLs with a dotted host name or an
// IPv4 address, optional port, path, query and fragment.
func ValidateURL(raw string) error {
	if !urlPattern.MatchString(raw) {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}
