package discovery

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/newscrawl/logger"
	"github.com/pevans/newscrawl/scraper"
)

// structuralMarkers are path fragments of index pages, never articles.
var structuralMarkers = []string{"/tag/", "/category/", "/author/", "/about/", "/contact/"}

// LinkDiscoverer finds candidate article URLs on a source's listing page.
type LinkDiscoverer struct {
	fetcher *Fetcher
	log     logger.Logger
}

// NewLinkDiscoverer creates a discoverer that fetches through f.
func NewLinkDiscoverer(f *Fetcher, log logger.Logger) *LinkDiscoverer {
	if log == nil {
		log = logger.NewNop()
	}
	return &LinkDiscoverer{fetcher: f, log: log}
}

// DiscoverLinks fetches the listing and returns absolute candidate URLs,
// deduplicated in first-seen order with excluded and structural URLs
// removed. Fetch failures come back as *FetchError.
func (d *LinkDiscoverer) DiscoverLinks(ctx context.Context, src scraper.SourceConfig) ([]string, error) {
	var raw []string

	if src.IsFeed() {
		feed, err := d.fetcher.FetchFeed(ctx, src.ListingURL)
		if err != nil {
			return nil, err
		}
		for _, item := range feed.Items {
			if item.Link != "" {
				raw = append(raw, item.Link)
			}
		}
	} else {
		doc, err := d.fetcher.FetchHTML(ctx, src.ListingURL)
		if err != nil {
			return nil, err
		}
		raw = ExtractLinks(doc, src.LinkSelectors)
	}

	links := FilterLinks(src.ListingURL, raw, src.ExcludePatterns)

	d.log.Debug("Discovered links",
		logger.String("source", src.ID),
		logger.Int("found", len(raw)),
		logger.Int("kept", len(links)),
	)

	return links, nil
}

// ExtractLinks returns the href of every element matched by each selector,
// selector by selector, in document order.
func ExtractLinks(doc *goquery.Document, selectors []string) []string {
	var hrefs []string
	for _, selector := range selectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok {
				hrefs = append(hrefs, href)
			}
		})
	}
	return hrefs
}

// FilterLinks normalizes raw hrefs against the listing URL, then drops
// unusable, duplicate and excluded ones. Order is preserved.
func FilterLinks(listingURL string, raw []string, exclude []string) []string {
	seen := make(map[string]bool, len(raw))
	links := make([]string, 0, len(raw))

	for _, href := range raw {
		link, ok := NormalizeLink(listingURL, href)
		if !ok || seen[link] {
			continue
		}
		seen[link] = true

		if IsExcluded(link, exclude) {
			continue
		}
		links = append(links, link)
	}

	return links
}

// NormalizeLink makes href absolute relative to the listing URL:
//
//	//host/path   -> https://host/path
//	/path         -> scheme://host/path
//	path          -> scheme://host/path
//	http(s)://... -> unchanged
//
// Empty hrefs, bare fragments and other schemes (mailto:, javascript:)
// are rejected.
func NormalizeLink(listingURL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return href, true
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href, true
	}

	if u, err := url.Parse(href); err == nil && u.Scheme != "" {
		return "", false
	}

	base := siteRoot(listingURL)
	if strings.HasPrefix(href, "/") {
		return base + href, true
	}
	return base + "/" + href, true
}

// IsExcluded reports whether link contains a configured exclude pattern or a
// structural marker.
func IsExcluded(link string, exclude []string) bool {
	for _, pattern := range exclude {
		if pattern != "" && strings.Contains(link, pattern) {
			return true
		}
	}
	for _, marker := range structuralMarkers {
		if strings.Contains(link, marker) {
			return true
		}
	}
	return false
}

// siteRoot returns scheme://host for the listing URL, or the listing URL
// without a trailing slash when it can't be parsed.
func siteRoot(listingURL string) string {
	u, err := url.Parse(listingURL)
	if err != nil || u.Host == "" {
		return strings.TrimRight(listingURL, "/")
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}
