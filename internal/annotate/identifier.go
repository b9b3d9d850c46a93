package annotate

import "strings"

// Attribute carries the identifier on annotated elements.
const Attribute = "gpt-link-text"

// Identifier normalizes element text into the form stored in Attribute:
// only ASCII letters, digits and spaces survive, then the result is trimmed
// and lower-cased. Model-typed identifiers go through the same function, so
// matching ignores case and punctuation.
func Identifier(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == ' ':
			b.WriteByte(c)
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + ('a' - 'A'))
		}
	}
	return strings.Trim(b.String(), " ")
}

// Selector is the CSS selector for the element annotated with exactly id.
// Identifiers contain no quotes, so no escaping is needed.
func Selector(id string) string {
	return "[" + Attribute + "=\"" + id + "\"]"
}
