// Package snapshot reads back what the annotator left in the page.
package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/polzovatel/web-vision-agent/internal/annotate"
)

// Element is one annotated node as serialized by the page.
type Element struct {
	Identifier string `json:"identifier"`
	Tag        string `json:"tag"`
	Target     string `json:"target,omitempty"`
	Href       string `json:"href,omitempty"`
}

// Summary is the annotated view of one document.
type Summary struct {
	URL      string
	Elements []Element
}

// ContentSource is anything that can serialize its live DOM.
type ContentSource interface {
	URL() string
	Content(ctx context.Context) (string, error)
}

func Collect(ctx context.Context, src ContentSource) (Summary, error) {
	html, err := src.Content(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("page content: %w", err)
	}
	elems, err := Inventory(html)
	if err != nil {
		return Summary{}, err
	}
	return Summary{URL: src.URL(), Elements: elems}, nil
}

// Inventory lists annotated elements in document order.
func Inventory(html string) ([]Element, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	var out []Element
	doc.Find("[" + annotate.Attribute + "]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr(annotate.Attribute)
		target, _ := s.Attr("target")
		href, _ := s.Attr("href")
		out = append(out, Element{
			Identifier: id,
			Tag:        goquery.NodeName(s),
			Target:     target,
			Href:       href,
		})
	})
	return out, nil
}

// Identifiers returns up to limit distinct non-empty identifiers in document
// order. A non-positive limit means no limit.
func (s Summary) Identifiers(limit int) []string {
	seen := make(map[string]bool, len(s.Elements))
	var out []string
	for _, el := range s.Elements {
		if el.Identifier == "" || seen[el.Identifier] {
			continue
		}
		seen[el.Identifier] = true
		out = append(out, el.Identifier)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nELEMENTS:\n", s.URL)
	for i, el := range s.Elements {
		fmt.Fprintf(&b, "%d) %s %q", i+1, el.Tag, el.Identifier)
		if el.Target != "" {
			fmt.Fprintf(&b, " target=%s", el.Target)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
