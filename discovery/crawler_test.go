package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pevans/newscrawl/newsfeed"
	"github.com/pevans/newscrawl/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRecorder struct {
	summaries []*RunSummary
}

func (r *recordingRecorder) RecordRun(_ context.Context, summary *RunSummary) error {
	r.summaries = append(r.summaries, summary)
	return nil
}

// Test helper: a crawler with zero pacing that records every pause
func newTestCrawler(t *testing.T, sources []scraper.SourceConfig, cfg CrawlConfig) (*Crawler, *newsfeed.Store, *recordingRecorder, *[]time.Duration) {
	t.Helper()

	registry, err := scraper.NewRegistry(sources)
	require.NoError(t, err)

	store, err := newsfeed.NewStore(t.TempDir())
	require.NoError(t, err)

	recorder := &recordingRecorder{}
	c := NewCrawler(registry, newTestFetcher(t, false), store, recorder, cfg, nil)
	c.now = func() time.Time { return fixedNow }
	c.assembler.now = c.now

	var pauses []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return ctx.Err()
	}

	return c, store, recorder, &pauses
}

func listingPage(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, href := range hrefs {
		fmt.Fprintf(&b, `<a class="story" href="%s">link</a>`, href)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// TestRun_NoSources verifies an empty registry is fatal
func TestRun_NoSources(t *testing.T) {
	registry, err := scraper.NewRegistry(nil)
	require.NoError(t, err)

	c := NewCrawler(registry, newTestFetcher(t, false), nil, nil, CrawlConfig{}, nil)
	summary, err := c.Run(context.Background())

	assert.ErrorIs(t, err, ErrNoSources)
	assert.Nil(t, summary)
}

// TestRun_SourceFailureDoesNotAbort verifies a failing listing is recorded
// and the next source is still crawled and saved
func TestRun_SourceFailureDoesNotAbort(t *testing.T) {
	server := servePages(t, map[string]string{
		"/b":   listingPage("/b/1", "/b/2", "/b/3"),
		"/b/1": articlePage("Full story", 200),
		"/b/2": articlePage("Brief", 30),
	})

	sources := []scraper.SourceConfig{
		{ID: "a", ListingURL: server.URL + "/a", LinkSelectors: []string{"a.story"}},
		{ID: "b", ListingURL: server.URL + "/b", LinkSelectors: []string{"a.story"}},
	}
	c, store, recorder, _ := newTestCrawler(t, sources, CrawlConfig{})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)

	require.Len(t, summary.Sources, 2)
	a, b := summary.Sources[0], summary.Sources[1]

	assert.Equal(t, "a", a.SourceID)
	assert.Equal(t, StatusFailed, a.Status)
	assert.Contains(t, a.Error, "404")
	assert.Empty(t, a.BatchPath)

	assert.Equal(t, "b", b.SourceID)
	assert.Equal(t, StatusOK, b.Status)
	assert.Equal(t, 3, b.Candidates)
	assert.Equal(t, 1, b.Articles)
	assert.Equal(t, 1, b.Skipped)
	assert.Equal(t, 1, b.Failed)
	assert.Equal(t, filepath.Join(store.Dir(), "b_20240306_123045.json"), b.BatchPath)

	assert.Equal(t, 1, summary.TotalArticles)
	assert.Equal(t, 1, summary.FailedSources())
	assert.False(t, summary.Interrupted)
	assert.NotEmpty(t, summary.ID)

	articles, err := store.ReadBatch(filepath.Base(b.BatchPath))
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Full story", articles[0].Title)
	assert.Equal(t, "b", articles[0].SourceID)

	require.Len(t, recorder.summaries, 1)
	assert.Same(t, summary, recorder.summaries[0])
}

// TestRun_LimitPerSource verifies only the first N links are assembled
func TestRun_LimitPerSource(t *testing.T) {
	pages := map[string]string{"/list": listingPage("/s/1", "/s/2", "/s/3", "/s/4")}
	for i := 1; i <= 4; i++ {
		pages[fmt.Sprintf("/s/%d", i)] = articlePage(fmt.Sprintf("Story %d", i), 120)
	}
	server := servePages(t, pages)

	sources := []scraper.SourceConfig{{ID: "s", ListingURL: server.URL + "/list", LinkSelectors: []string{"a.story"}}}
	c, store, _, _ := newTestCrawler(t, sources, CrawlConfig{LimitPerSource: 2})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sources[0].Candidates)
	assert.Equal(t, 2, summary.TotalArticles)

	articles, err := store.ReadBatch(filepath.Base(summary.Sources[0].BatchPath))
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "Story 1", articles[0].Title)
	assert.Equal(t, "Story 2", articles[1].Title)
}

// TestRun_NoValidArticlesWritesNothing verifies empty batches are not saved
func TestRun_NoValidArticlesWritesNothing(t *testing.T) {
	server := servePages(t, map[string]string{
		"/list": listingPage("/s/1"),
		"/s/1":  articlePage("Short", 10),
	})

	sources := []scraper.SourceConfig{{ID: "s", ListingURL: server.URL + "/list", LinkSelectors: []string{"a.story"}}}
	c, store, _, _ := newTestCrawler(t, sources, CrawlConfig{})

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, summary.Sources[0].Status)
	assert.Empty(t, summary.Sources[0].BatchPath)

	listing, err := store.ListBatches()
	require.NoError(t, err)
	assert.Empty(t, listing.Batches)
}

// TestRun_Pacing verifies a pause between links and between sources, never
// after the last one, drawn from the configured ranges
func TestRun_Pacing(t *testing.T) {
	server := servePages(t, map[string]string{
		"/one":   listingPage("/one/1", "/one/2"),
		"/two":   listingPage("/two/1", "/two/2"),
		"/one/1": articlePage("One 1", 60),
		"/one/2": articlePage("One 2", 60),
		"/two/1": articlePage("Two 1", 60),
		"/two/2": articlePage("Two 2", 60),
	})

	sources := []scraper.SourceConfig{
		{ID: "one", ListingURL: server.URL + "/one", LinkSelectors: []string{"a.story"}},
		{ID: "two", ListingURL: server.URL + "/two", LinkSelectors: []string{"a.story"}},
	}
	cfg := CrawlConfig{
		LinkDelayMin:   1 * time.Second,
		LinkDelayMax:   3 * time.Second,
		SourceDelayMin: 2 * time.Second,
		SourceDelayMax: 5 * time.Second,
	}
	c, _, _, pauses := newTestCrawler(t, sources, cfg)

	// Always draw the top of the range
	c.jitter = func(n int64) int64 { return n - 1 }

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{3 * time.Second, 5 * time.Second, 3 * time.Second}, *pauses)
}

// TestRun_Cancelled verifies cancellation stops the run, keeps what was
// collected and still records the partial run
func TestRun_Cancelled(t *testing.T) {
	server := servePages(t, map[string]string{
		"/one":   listingPage("/one/1", "/one/2"),
		"/one/1": articlePage("One 1", 60),
		"/one/2": articlePage("One 2", 60),
	})

	sources := []scraper.SourceConfig{
		{ID: "one", ListingURL: server.URL + "/one", LinkSelectors: []string{"a.story"}},
		{ID: "two", ListingURL: server.URL + "/two", LinkSelectors: []string{"a.story"}},
	}
	c, store, recorder, _ := newTestCrawler(t, sources, CrawlConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	summary, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.True(t, summary.Interrupted)

	require.Len(t, summary.Sources, 1)
	assert.Equal(t, 1, summary.Sources[0].Articles)

	articles, err := store.ReadBatch(filepath.Base(summary.Sources[0].BatchPath))
	require.NoError(t, err)
	assert.Len(t, articles, 1)

	require.Len(t, recorder.summaries, 1)
	assert.True(t, recorder.summaries[0].Interrupted)
}
