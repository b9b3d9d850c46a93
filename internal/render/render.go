// Package render decides when a page has finished drawing itself.
package render

import (
	"context"
	_ "embed"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/web-vision-agent/internal/annotate"
)

const (
	DefaultInterval  = time.Second
	DefaultThreshold = 3
)

var (
	//go:embed js/loading.js
	loadingJS string
	//go:embed js/size.js
	sizeJS string

	loadingScript = "(opts) => {\n" + annotate.AnalyzerPrelude() + "\n" + loadingJS + "\n}"
	sizeScript    = "(opts) => {\n" + sizeJS + "\n}"
)

// Result describes how a wait ended. It is informational only.
type Result struct {
	Stable   bool
	Samples  int
	LastSize int
}

// Waiter polls the serialized document size until it stops changing.
type Waiter struct {
	Interval  time.Duration
	Threshold int
	logger    zerolog.Logger
}

// NewWaiter falls back to the defaults for non-positive values.
func NewWaiter(interval time.Duration, threshold int, logger zerolog.Logger) *Waiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Waiter{Interval: interval, Threshold: threshold, logger: logger}
}

// IsExplicitlyLoading is the cheap pre-check: the document is still parsing,
// or a loading indicator is visibly on screen. Evaluation errors read as
// not loading.
func (w *Waiter) IsExplicitlyLoading(ctx context.Context, ev annotate.Evaluator) bool {
	val, err := ev.Evaluate(ctx, loadingScript, map[string]any{})
	if err != nil {
		w.logger.Debug().Err(err).Msg("loading check failed")
		return false
	}
	loading, _ := val.(bool)
	return loading
}

// WaitStable samples the document size every Interval until Threshold
// consecutive samples are unchanged and non-zero, timeout passes, or ctx
// ends. A failed sample counts as size 0.
func (w *Waiter) WaitStable(ctx context.Context, ev annotate.Evaluator, timeout time.Duration, bodyOnly bool) Result {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	var res Result
	last, streak := 0, 0
	for {
		select {
		case <-ctx.Done():
			return res
		case <-deadline.C:
			w.logger.Debug().Int("samples", res.Samples).Int("size", res.LastSize).Msg("render wait timed out")
			return res
		case <-ticker.C:
		}
		size := w.sample(ctx, ev, bodyOnly)
		res.Samples++
		res.LastSize = size
		if size != 0 && size == last {
			streak++
		} else {
			streak = 0
		}
		last = size
		if streak >= w.Threshold {
			res.Stable = true
			w.logger.Debug().Int("samples", res.Samples).Int("size", size).Msg("render stable")
			return res
		}
	}
}

// Settle runs WaitStable only when IsExplicitlyLoading says so. The bool
// reports whether a wait happened.
func (w *Waiter) Settle(ctx context.Context, ev annotate.Evaluator, timeout time.Duration, bodyOnly bool) (Result, bool) {
	if !w.IsExplicitlyLoading(ctx, ev) {
		return Result{}, false
	}
	return w.WaitStable(ctx, ev, timeout, bodyOnly), true
}

func (w *Waiter) sample(ctx context.Context, ev annotate.Evaluator, bodyOnly bool) int {
	val, err := ev.Evaluate(ctx, sizeScript, map[string]any{"bodyOnly": bodyOnly})
	if err != nil {
		return 0
	}
	switch n := val.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
