// Package action turns a model reply into the next thing the agent does.
package action

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/polzovatel/web-vision-agent/internal/annotate"
)

// InitialSentinel is the text that decodes to Initial.
const InitialSentinel = "initial message"

// Action is one of Initial, NavigateTo, ClickElement or Answer.
type Action interface {
	fmt.Stringer
	isAction()
}

// Initial stands for "nothing decoded yet".
type Initial struct{}

type NavigateTo struct {
	URL string
}

// ClickElement carries an identifier already normalized with
// annotate.Identifier.
type ClickElement struct {
	Identifier string
}

// Answer is a reply with no directive in it.
type Answer struct {
	Text string
}

func (Initial) isAction()      {}
func (NavigateTo) isAction()   {}
func (ClickElement) isAction() {}
func (Answer) isAction()       {}

func (Initial) String() string        { return "initial" }
func (a NavigateTo) String() string   { return "navigate " + a.URL }
func (a ClickElement) String() string { return "click " + a.Identifier }
func (a Answer) String() string       { return "answer" }

var (
	urlMarker   = regexp.MustCompile(`\{\s*"url"\s*:\s*"(.*?)"\s*\}`)
	clickMarker = regexp.MustCompile(`\{\s*"click"\s*:\s*"(.*?)"\s*\}`)
)

// Decode never fails. A strict JSON object wins; otherwise the directive is
// searched for inside surrounding prose. The url directive is checked
// before click in both passes.
func Decode(text string) Action {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		if u, ok := obj["url"].(string); ok {
			return NavigateTo{URL: u}
		}
		if c, ok := obj["click"].(string); ok {
			return ClickElement{Identifier: annotate.Identifier(c)}
		}
	}
	if m := urlMarker.FindStringSubmatch(text); m != nil {
		return NavigateTo{URL: m[1]}
	}
	if m := clickMarker.FindStringSubmatch(text); m != nil {
		return ClickElement{Identifier: annotate.Identifier(m[1])}
	}
	if text == InitialSentinel {
		return Initial{}
	}
	return Answer{Text: text}
}

// Continues reports whether the inner loop keeps going after a.
func Continues(a Action) bool {
	_, done := a.(Answer)
	return !done
}
