package annotate

import (
	_ "embed"
	"strings"
)

var (
	//go:embed js/analyzer.js
	analyzerJS string
	//go:embed js/reset.js
	resetJS string
	//go:embed js/annotate.js
	annotateJS string
	//go:embed js/visible.js
	visibleJS string
	//go:embed js/click.js
	clickJS string
)

// Interactive is the candidate selector list. Inputs and textareas are left
// out so the model does not try to click search boxes.
var Interactive = []string{
	"a",
	"button",
	"[role=button]",
	"[role=treeitem]",
	`[onclick]:not([onclick=""])`,
}

// pageFunction wraps body into a function expression that runs in the page
// with the analyzer helpers in scope. The single argument is named opts.
func pageFunction(body string) string {
	var b strings.Builder
	b.WriteString("(opts) => {\n")
	b.WriteString(analyzerJS)
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n}")
	return b.String()
}

// AnalyzerPrelude exposes the in-page helpers (isStyleVisible, isVisible,
// computeIdentifier, ATTR) so other page scripts can reuse them.
func AnalyzerPrelude() string {
	return analyzerJS
}

var (
	resetScript    = pageFunction(resetJS)
	annotateScript = pageFunction(annotateJS)
	visibleScript  = pageFunction(visibleJS)
	clickScript    = pageFunction(clickJS)
)
