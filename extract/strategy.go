// Package extract pulls article fields out of parsed HTML. Each field is
// resolved by an ordered chain of strategies; the first strategy that
// reports success provides the value.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy attempts to extract one value from a document. The boolean
// reports whether the attempt succeeded; a failed attempt lets the next
// strategy in the chain run.
type Strategy[T any] interface {
	Attempt(doc *goquery.Document) (T, bool)
}

// StrategyFunc adapts a plain function to a Strategy.
type StrategyFunc[T any] func(doc *goquery.Document) (T, bool)

func (f StrategyFunc[T]) Attempt(doc *goquery.Document) (T, bool) {
	return f(doc)
}

// Chain is an ordered list of strategies for one field.
type Chain[T any] []Strategy[T]

// Run tries each strategy in order and returns the first success. The zero
// value and false come back when every strategy fails.
func (c Chain[T]) Run(doc *goquery.Document) (T, bool) {
	for _, s := range c {
		if v, ok := s.Attempt(doc); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// isMeta reports whether the selection's first node is a <meta> element.
func isMeta(s *goquery.Selection) bool {
	return goquery.NodeName(s) == "meta"
}

// textValue returns the content attribute for meta elements and the trimmed
// text for everything else.
func textValue(s *goquery.Selection) string {
	if isMeta(s) {
		return strings.TrimSpace(s.AttrOr("content", ""))
	}
	return strings.TrimSpace(s.Text())
}

// dateValue is like textValue but prefers a datetime attribute on non-meta
// elements.
func dateValue(s *goquery.Selection) string {
	if isMeta(s) {
		return strings.TrimSpace(s.AttrOr("content", ""))
	}
	if dt, ok := s.Attr("datetime"); ok {
		return strings.TrimSpace(dt)
	}
	return strings.TrimSpace(s.Text())
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
