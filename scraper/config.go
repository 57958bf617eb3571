package scraper

import (
	"errors"
	"fmt"
)

// Listing types supported by link discovery.
const (
	ListingHTML = "html"
	ListingFeed = "feed"
)

var (
	ErrMissingID         = errors.New("source id is required")
	ErrMissingListingURL = errors.New("source listing_url is required")
	ErrDuplicateID       = errors.New("duplicate source id")
	ErrInvalidListing    = errors.New("listing_type must be html or feed")
)

// SourceConfig describes how to crawl one content source: where its listing
// page lives, how to find article links on it and how to pull fields out of
// each article page.
type SourceConfig struct {
	ID                  string         `yaml:"id" json:"id"`
	Name                string         `yaml:"name,omitempty" json:"name,omitempty"`
	Ticker              string         `yaml:"ticker,omitempty" json:"ticker,omitempty"`
	ListingURL          string         `yaml:"listing_url" json:"listing_url"`
	ListingType         string         `yaml:"listing_type,omitempty" json:"listing_type,omitempty"` // "html" or "feed"
	LinkSelectors       []string       `yaml:"link_selectors" json:"link_selectors"`
	FieldSelectors      FieldSelectors `yaml:"field_selectors" json:"field_selectors"`
	ExcludePatterns     []string       `yaml:"exclude_patterns,omitempty" json:"exclude_patterns,omitempty"`
	ReadabilityFallback bool           `yaml:"readability_fallback,omitempty" json:"readability_fallback,omitempty"`
}

// FieldSelectors holds the optional per-field CSS selectors. An empty
// selector means the generic fallback heuristics are used for that field.
type FieldSelectors struct {
	Title   string `yaml:"title,omitempty" json:"title,omitempty"`
	Content string `yaml:"content,omitempty" json:"content,omitempty"`
	Date    string `yaml:"date,omitempty" json:"date,omitempty"`
	Authors string `yaml:"authors,omitempty" json:"authors,omitempty"`
}

// DisplayName returns the configured name, or the ID when no name is set.
func (s SourceConfig) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// TickerOrID returns the configured ticker, or the ID when none is set.
func (s SourceConfig) TickerOrID() string {
	if s.Ticker != "" {
		return s.Ticker
	}
	return s.ID
}

// IsFeed reports whether the listing URL points at an RSS/Atom feed.
func (s SourceConfig) IsFeed() bool {
	return s.ListingType == ListingFeed
}

// Validate performs presence checks only. Missing selectors are not errors;
// they fall back to generic heuristics at extraction time.
func (s SourceConfig) Validate() error {
	if s.ID == "" {
		return ErrMissingID
	}
	if s.ListingURL == "" {
		return fmt.Errorf("%s: %w", s.ID, ErrMissingListingURL)
	}
	if s.ListingType != "" && s.ListingType != ListingHTML && s.ListingType != ListingFeed {
		return fmt.Errorf("%s: %w", s.ID, ErrInvalidListing)
	}
	return nil
}

// Registry is an ordered, immutable set of sources. Iteration order is the
// order sources were configured in.
type Registry struct {
	sources []SourceConfig
	index   map[string]int
}

// NewRegistry validates the given sources and builds a registry from them.
func NewRegistry(sources []SourceConfig) (*Registry, error) {
	r := &Registry{
		sources: make([]SourceConfig, 0, len(sources)),
		index:   make(map[string]int, len(sources)),
	}

	for _, src := range sources {
		if err := src.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.index[src.ID]; ok {
			return nil, fmt.Errorf("%s: %w", src.ID, ErrDuplicateID)
		}

		// Copy slices so later mutation of the input can't leak in
		src.LinkSelectors = append([]string(nil), src.LinkSelectors...)
		src.ExcludePatterns = append([]string(nil), src.ExcludePatterns...)

		r.index[src.ID] = len(r.sources)
		r.sources = append(r.sources, src)
	}

	return r, nil
}

// Sources returns the sources in configuration order. The returned slice is a
// copy.
func (r *Registry) Sources() []SourceConfig {
	out := make([]SourceConfig, len(r.sources))
	copy(out, r.sources)
	return out
}

// Get looks up a source by ID.
func (r *Registry) Get(id string) (SourceConfig, bool) {
	i, ok := r.index[id]
	if !ok {
		return SourceConfig{}, false
	}
	return r.sources[i], true
}

// Len returns the number of configured sources.
func (r *Registry) Len() int {
	return len(r.sources)
}

// Subset returns a registry restricted to the given IDs, keeping
// configuration order. Unknown IDs are reported as an error.
func (r *Registry) Subset(ids []string) (*Registry, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.index[id]; !ok {
			return nil, fmt.Errorf("unknown source: %s", id)
		}
		want[id] = true
	}

	var picked []SourceConfig
	for _, src := range r.sources {
		if want[src.ID] {
			picked = append(picked, src)
		}
	}

	return NewRegistry(picked)
}
