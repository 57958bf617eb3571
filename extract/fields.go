package extract

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/pevans/newscrawl/dates"
	"github.com/pevans/newscrawl/scraper"
)

const (
	defaultTitleSelector   = "h1"
	defaultContentSelector = "article"

	// fallbackContentSelector is used when the content selector matches
	// nothing at all
	fallbackContentSelector = "article p, .article-body p, .story-content p, .article-content p"

	// paragraphs at or under this many characters are dropped
	minParagraphChars = 20

	// generic author candidates this long or longer are almost never names
	maxAuthorChars = 100

	paragraphSeparator = "\n\n"
)

var (
	// skipParents are containers whose direct children are never body text
	skipParents = map[string]bool{"nav": true, "header": true, "footer": true, "aside": true}

	// skipClassTerms mark paragraphs that belong to page furniture
	skipClassTerms = []string{"caption", "sidebar", "related", "footer", "comment"}

	dateProbeSelectors = []string{
		"time",
		".date",
		".published",
		`meta[property="article:published_time"]`,
		`meta[name="date"]`,
	}

	authorProbeSelectors = []string{
		".author",
		".byline",
		`meta[name="author"]`,
		`a[rel="author"]`,
	}

	authorPrefix = regexp.MustCompile(`(?i)^(by|author)[\s:]+`)
)

// Extractor extracts the four article fields using a source's configured
// selectors, falling back to generic heuristics where none are configured.
type Extractor struct {
	selectors   scraper.FieldSelectors
	readability bool

	title   Chain[string]
	content Chain[string]
	date    Chain[time.Time]
	authors Chain[[]string]
}

// New builds an Extractor for one source.
func New(src scraper.SourceConfig) *Extractor {
	sel := src.FieldSelectors
	e := &Extractor{selectors: sel, readability: src.ReadabilityFallback}

	titleSel := sel.Title
	if titleSel == "" {
		titleSel = defaultTitleSelector
	}
	e.title = Chain[string]{firstText(titleSel)}

	contentSel := sel.Content
	if contentSel == "" {
		contentSel = defaultContentSelector
	}
	e.content = Chain[string]{paragraphs(contentSel), paragraphs(fallbackContentSelector)}

	if sel.Date != "" {
		e.date = Chain[time.Time]{dateAt(sel.Date)}
	} else {
		for _, probe := range dateProbeSelectors {
			e.date = append(e.date, dateAt(probe))
		}
	}

	if sel.Authors != "" {
		e.authors = Chain[[]string]{authorsAt([]string{sel.Authors}, 0)}
	} else {
		e.authors = Chain[[]string]{authorsAt(authorProbeSelectors, maxAuthorChars)}
	}

	return e
}

// Title returns the trimmed text of the first title match, or "".
func (e *Extractor) Title(doc *goquery.Document) string {
	title, _ := e.title.Run(doc)
	return title
}

// Content returns the article body: surviving paragraphs joined by a blank
// line, in document order. When readability is enabled for the source and
// nothing survives, the readability text of the whole page is used.
func (e *Extractor) Content(doc *goquery.Document) string {
	body, _ := e.content.Run(doc)
	if body == "" && e.readability {
		body, _ = readabilityText(doc)
	}
	return body
}

// PublishedAt returns the publication time, or nil when no probe yields a
// parseable date. It never fails.
func (e *Extractor) PublishedAt(doc *goquery.Document) *time.Time {
	t, ok := e.date.Run(doc)
	if !ok {
		return nil
	}
	return &t
}

// Authors returns cleaned, deduplicated author names in first-seen order.
// The result is never nil.
func (e *Extractor) Authors(doc *goquery.Document) []string {
	raw, _ := e.authors.Run(doc)

	cleaned := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, candidate := range raw {
		name := CleanAuthor(candidate)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		cleaned = append(cleaned, name)
	}
	return cleaned
}

// CleanAuthor strips any leading "By" or "Author" label (followed by
// whitespace or a colon) and surrounding whitespace. Labels are stripped
// repeatedly, so CleanAuthor(CleanAuthor(s)) == CleanAuthor(s).
func CleanAuthor(s string) string {
	s = strings.TrimSpace(s)
	for {
		stripped := authorPrefix.ReplaceAllString(s, "")
		stripped = strings.TrimSpace(stripped)
		if stripped == s {
			return s
		}
		s = stripped
	}
}

func firstText(selector string) Strategy[string] {
	return StrategyFunc[string](func(doc *goquery.Document) (string, bool) {
		match := doc.Find(selector).First()
		if match.Length() == 0 {
			return "", false
		}
		return strings.TrimSpace(match.Text()), true
	})
}

// paragraphs succeeds whenever the selector matches at least one element,
// even if every match is then filtered out; the fallback selector only runs
// when nothing matched.
func paragraphs(selector string) Strategy[string] {
	return StrategyFunc[string](func(doc *goquery.Document) (string, bool) {
		matches := doc.Find(selector)
		if matches.Length() == 0 {
			return "", false
		}

		var parts []string
		matches.Each(func(_ int, s *goquery.Selection) {
			if skipParents[goquery.NodeName(s.Parent())] {
				return
			}

			class := strings.ToLower(s.AttrOr("class", ""))
			for _, term := range skipClassTerms {
				if strings.Contains(class, term) {
					return
				}
			}

			text := strings.TrimSpace(s.Text())
			if utf8.RuneCountInString(text) <= minParagraphChars {
				return
			}
			parts = append(parts, text)
		})

		return strings.Join(parts, paragraphSeparator), true
	})
}

// dateAt succeeds only when the first match carries a value that the date
// normalizer accepts.
func dateAt(selector string) Strategy[time.Time] {
	return StrategyFunc[time.Time](func(doc *goquery.Document) (time.Time, bool) {
		match := doc.Find(selector).First()
		if match.Length() == 0 {
			return time.Time{}, false
		}

		t, err := dates.Normalize(dateValue(match))
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	})
}

// authorsAt accumulates candidates across every selector. A maxChars of zero
// disables the length filter.
func authorsAt(selectors []string, maxChars int) Strategy[[]string] {
	return StrategyFunc[[]string](func(doc *goquery.Document) ([]string, bool) {
		var found []string
		seen := make(map[string]bool)

		for _, selector := range selectors {
			doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
				candidate := textValue(s)
				if candidate == "" || seen[candidate] {
					return
				}
				if maxChars > 0 && utf8.RuneCountInString(candidate) >= maxChars {
					return
				}
				seen[candidate] = true
				found = append(found, candidate)
			})
		}

		return found, len(found) > 0
	})
}

func readabilityText(doc *goquery.Document) (string, bool) {
	page, err := goquery.OuterHtml(doc.Selection)
	if err != nil {
		return "", false
	}

	pageURL := doc.Url
	if pageURL == nil {
		pageURL = &url.URL{}
	}

	article, err := readability.FromReader(strings.NewReader(page), pageURL)
	if err != nil {
		return "", false
	}

	content, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return "", false
	}

	text := strings.Join(strings.Fields(content.Text()), " ")
	return text, text != ""
}
