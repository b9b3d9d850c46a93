// Package annotate tags the interactive elements of a page so the model can
// address them by text, and outlines them so they are visible in screenshots.
//
// All DOM work runs inside the page through Evaluator; nothing here touches
// the DOM directly.
package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrNoInteractiveElements is returned when the page has no candidate
// element at all. Callers usually log it and keep going.
var ErrNoInteractiveElements = errors.New("no interactive elements")

// Evaluator runs a function expression inside the page and returns its
// JSON-compatible result.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, arg any) (any, error)
}

// Stats summarizes one annotation pass.
type Stats struct {
	Candidates int `json:"candidates"`
	Outlined   int `json:"outlined"`
	Identified int `json:"identified"`
}

type Options struct {
	// ViewportOnly additionally requires the element itself to intersect
	// the viewport before it receives an identifier.
	ViewportOnly bool
}

type Annotator struct {
	opts   Options
	logger zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) *Annotator {
	return &Annotator{opts: opts, logger: logger}
}

// Reset removes identifiers left over from a previous capture.
func (a *Annotator) Reset(ctx context.Context, ev Evaluator) error {
	if _, err := ev.Evaluate(ctx, resetScript, nil); err != nil {
		return fmt.Errorf("reset identifiers: %w", err)
	}
	return nil
}

// Annotate resets the page and annotates every interactive element. It must
// run again after each navigation, identifiers live only as long as the
// document does.
func (a *Annotator) Annotate(ctx context.Context, ev Evaluator) (Stats, error) {
	if err := a.Reset(ctx, ev); err != nil {
		return Stats{}, err
	}
	val, err := ev.Evaluate(ctx, annotateScript, map[string]any{
		"selectors":    Interactive,
		"viewportOnly": a.opts.ViewportOnly,
	})
	if err != nil {
		return Stats{}, fmt.Errorf("annotate: %w", err)
	}
	var st Stats
	if err := decode(val, &st); err != nil {
		return Stats{}, fmt.Errorf("annotate result: %w", err)
	}
	a.logger.Debug().
		Int("candidates", st.Candidates).
		Int("outlined", st.Outlined).
		Int("identified", st.Identified).
		Msg("annotated page")
	if st.Candidates == 0 {
		return st, ErrNoInteractiveElements
	}
	return st, nil
}

// IsVisible evaluates the visibility predicate for the first element matching
// selector. A selector that matches nothing is an error, not false.
func (a *Annotator) IsVisible(ctx context.Context, ev Evaluator, selector string) (bool, error) {
	val, err := ev.Evaluate(ctx, visibleScript, map[string]any{
		"selector":     selector,
		"viewportOnly": a.opts.ViewportOnly,
	})
	if err != nil {
		return false, fmt.Errorf("visibility of %s: %w", selector, err)
	}
	visible, ok := val.(bool)
	if !ok {
		return false, fmt.Errorf("visibility of %s: unexpected result %T", selector, val)
	}
	return visible, nil
}

// ClickStatus is what the in-page click handler reports.
type ClickStatus string

const (
	Clicked ClickStatus = "clicked"
	// NewTab means the match opens in a new tab; the handler did not click.
	NewTab  ClickStatus = "new_tab"
	Missing ClickStatus = "missing"
)

type ClickResult struct {
	Status     ClickStatus `json:"status"`
	Identifier string      `json:"identifier"`
}

// Click runs the in-page click handler: the first annotated element in
// document order whose identifier contains want is clicked, unless its
// target is _blank, in which case the handler only reports it.
func Click(ctx context.Context, ev Evaluator, want string) (ClickResult, error) {
	val, err := ev.Evaluate(ctx, clickScript, map[string]any{"identifier": want})
	if err != nil {
		return ClickResult{}, fmt.Errorf("click handler: %w", err)
	}
	var res ClickResult
	if err := decode(val, &res); err != nil {
		return ClickResult{}, fmt.Errorf("click result: %w", err)
	}
	switch res.Status {
	case Clicked, NewTab, Missing:
		return res, nil
	default:
		return ClickResult{}, fmt.Errorf("click result: unknown status %q", res.Status)
	}
}

// decode converts an evaluate result into out via JSON, the same way the
// page serialized it.
func decode(val any, out any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
