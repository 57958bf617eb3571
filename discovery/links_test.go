package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/newscrawl/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeLink verifies each normalization rule
func TestNormalizeLink(t *testing.T) {
	const listing = "https://finance.example.com/quote/AAPL/news?p=AAPL"

	tests := []struct {
		name string
		href string
		want string
		ok   bool
	}{
		{"protocol relative", "//cdn.example.com/a", "https://cdn.example.com/a", true},
		{"root relative", "/news/story-1.html", "https://finance.example.com/news/story-1.html", true},
		{"path relative", "news/story-2.html", "https://finance.example.com/news/story-2.html", true},
		{"absolute https", "https://other.example.com/x", "https://other.example.com/x", true},
		{"absolute http", "http://other.example.com/x", "http://other.example.com/x", true},
		{"surrounding space", "  /news/a  ", "https://finance.example.com/news/a", true},
		{"empty", "", "", false},
		{"fragment", "#comments", "", false},
		{"mailto", "mailto:desk@example.com", "", false},
		{"javascript", "javascript:void(0)", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeLink(listing, tt.href)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestNormalizeLink_SingleSlash verifies root-relative links never produce
// a double slash after the host
func TestNormalizeLink_SingleSlash(t *testing.T) {
	got, ok := NormalizeLink("https://example.com/", "/a")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a", got)

	got, ok = NormalizeLink("http://example.com:8080/listing/", "b/c")
	require.True(t, ok)
	assert.Equal(t, "http://example.com:8080/b/c", got)
}

// TestIsExcluded verifies exclude patterns and structural markers
func TestIsExcluded(t *testing.T) {
	exclude := []string{"/video", "/promo/"}

	assert.True(t, IsExcluded("https://e.com/video/clip", exclude))
	assert.True(t, IsExcluded("https://e.com/promo/deal", exclude))
	assert.True(t, IsExcluded("https://e.com/tag/markets", nil))
	assert.True(t, IsExcluded("https://e.com/category/tech", nil))
	assert.True(t, IsExcluded("https://e.com/author/jane", nil))
	assert.True(t, IsExcluded("https://e.com/about/", nil))
	assert.True(t, IsExcluded("https://e.com/contact/", nil))
	assert.False(t, IsExcluded("https://e.com/news/rates-rise", exclude))
	assert.False(t, IsExcluded("https://e.com/news/a", []string{""}))
}

// TestExtractLinks_SelectorOrder verifies selector-then-document order
func TestExtractLinks_SelectorOrder(t *testing.T) {
	html := `
	<a class="b" href="/b1">B1</a>
	<a class="a" href="/a1">A1</a>
	<a class="b" href="/b2">B2</a>
	<a class="a">no href</a>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	assert.Equal(t, []string{"/a1", "/b1", "/b2"}, ExtractLinks(doc, []string{"a.a", "a.b"}))
}

// TestFilterLinks_Dedupe verifies first-seen order and duplicate removal
// after normalization
func TestFilterLinks_Dedupe(t *testing.T) {
	raw := []string{
		"/news/one",
		"https://example.com/news/one",
		"news/two",
		"/tag/rates",
		"/news/two",
		"#top",
		"/news/three",
	}

	got := FilterLinks("https://example.com/listing", raw, nil)
	assert.Equal(t, []string{
		"https://example.com/news/one",
		"https://example.com/news/two",
		"https://example.com/news/three",
	}, got)

	seen := map[string]bool{}
	for _, link := range got {
		assert.False(t, seen[link], "duplicate %s", link)
		seen[link] = true
	}
}

// TestDiscoverLinks_HTML verifies discovery on a listing with one excluded
// anchor
func TestDiscoverLinks_HTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a class="subtle-link" href="/news/a.html">A</a>
			<a class="subtle-link" href="/video/b.html">B</a>
			<a class="subtle-link" href="/news/c.html">C</a>
		</body></html>`)
	}))
	defer server.Close()

	src := scraper.SourceConfig{
		ID:              "test",
		ListingURL:      server.URL + "/quote/AAPL/news",
		LinkSelectors:   []string{"a.subtle-link"},
		ExcludePatterns: []string{"/video"},
	}

	links, err := NewLinkDiscoverer(newTestFetcher(t, false), nil).DiscoverLinks(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{server.URL + "/news/a.html", server.URL + "/news/c.html"}, links)
}

// TestDiscoverLinks_Feed verifies feed listings use item links
func TestDiscoverLinks_Feed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Wire</title>
  <entry><title>One</title><link href="https://example.com/news/one"/><id>1</id></entry>
  <entry><title>Promo</title><link href="https://example.com/promo/deal"/><id>2</id></entry>
  <entry><title>Two</title><link href="https://example.com/news/two"/><id>3</id></entry>
</feed>`)
	}))
	defer server.Close()

	src := scraper.SourceConfig{
		ID:              "wire",
		ListingURL:      server.URL + "/atom.xml",
		ListingType:     scraper.ListingFeed,
		ExcludePatterns: []string{"/promo/"},
	}

	links, err := NewLinkDiscoverer(newTestFetcher(t, false), nil).DiscoverLinks(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/news/one", "https://example.com/news/two"}, links)
}

// TestDiscoverLinks_ListingFailure verifies a FetchError is returned
func TestDiscoverLinks_ListingFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	src := scraper.SourceConfig{ID: "test", ListingURL: server.URL, LinkSelectors: []string{"a"}}
	_, err := NewLinkDiscoverer(newTestFetcher(t, false), nil).DiscoverLinks(context.Background(), src)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
}
