package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pevans/newscrawl/logger"
	"github.com/pevans/newscrawl/newsfeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: a small news site with one listing and two articles
func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	body := strings.Repeat("Shares moved higher after the earnings call. ", 12)

	mux := http.NewServeMux()
	mux.HandleFunc("/news", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a class="story" href="/news/one">One</a>
			<a class="story" href="/news/two">Two</a>
			<a class="story" href="/video/clip">Clip</a>
		</body></html>`)
	})
	for _, slug := range []string{"one", "two"} {
		title := "Story " + slug
		mux.HandleFunc("/news/"+slug, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `<html><body><h1>%s</h1><article><p>%s</p></article></body></html>`, title, body)
		})
	}

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// Test helper: write a config pointing at siteURL with storage in a temp dir
func writeTestConfig(t *testing.T, siteURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")

	content := fmt.Sprintf(`
sources:
  - id: site
    name: Example Site
    ticker: EXMPL
    listing_url: %s/news
    link_selectors: [a.story]
    exclude_patterns: [/video]
crawl:
  link_delay: {min: 0s, max: 0s}
  source_delay: {min: 0s, max: 0s}
  max_attempts: 1
  respect_robots: false
storage:
  output_dir: %q
  ledger_dsn: %q
logging:
  level: error
`, siteURL, outDir, filepath.Join(dir, "ledger.db"))

	path := filepath.Join(dir, "newscrawl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, outDir
}

// Test helper: run the CLI with args and return stdout
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// TestSourcesCommand verifies configured sources are listed
func TestSourcesCommand(t *testing.T) {
	configPath, _ := writeTestConfig(t, "http://example.com")

	out, err := runCLI(t, "--config", configPath, "sources")
	require.NoError(t, err)
	assert.Contains(t, out, "site")
	assert.Contains(t, out, "EXMPL")
	assert.Contains(t, out, "http://example.com/news")
}

// TestMissingConfig verifies a missing config file is an error
func TestMissingConfig(t *testing.T) {
	_, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "sources")
	assert.Error(t, err)
}

// TestCrawlThenInspect verifies a crawl writes a batch, records a run and
// that batches, runs and export read them back
func TestCrawlThenInspect(t *testing.T) {
	site := newTestSite(t)
	configPath, outDir := writeTestConfig(t, site.URL)

	out, err := runCLI(t, "--config", configPath, "crawl")
	require.NoError(t, err)
	assert.Contains(t, out, "2 articles from 1 sources (0 failed)")

	files, err := filepath.Glob(filepath.Join(outDir, "site_*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	out, err = runCLI(t, "--config", configPath, "batches")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Base(files[0]))

	out, err = runCLI(t, "--config", configPath, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "INTERRUPTED")
	assert.NotContains(t, out, "No runs recorded.")

	exportPath := filepath.Join(t.TempDir(), "corpus.json")
	_, err = runCLI(t, "--config", configPath, "export", "-o", exportPath)
	require.NoError(t, err)

	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)

	var corpus []newsfeed.CorpusEntry
	require.NoError(t, json.Unmarshal(data, &corpus))
	require.Len(t, corpus, 1)
	assert.Equal(t, "Example Site", corpus[0].Name)
	assert.Equal(t, "EXMPL", corpus[0].Ticker)
	assert.Len(t, corpus[0].CleanData, 2)
}

// TestCrawlCommand_Flags verifies --limit and --source validation
func TestCrawlCommand_Flags(t *testing.T) {
	site := newTestSite(t)
	configPath, _ := writeTestConfig(t, site.URL)

	out, err := runCLI(t, "--config", configPath, "crawl", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 articles from 1 sources")

	_, err = runCLI(t, "--config", configPath, "crawl", "--source", "unknown")
	assert.Error(t, err)

	_, err = runCLI(t, "--config", configPath, "crawl", "--limit", "0")
	assert.Error(t, err)
}

// TestRunsCommand_Empty verifies the empty ledger message
func TestRunsCommand_Empty(t *testing.T) {
	configPath, _ := writeTestConfig(t, "http://example.com")

	out, err := runCLI(t, "--config", configPath, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")

	_, err = runCLI(t, "--config", configPath, "runs", "00000000-0000-0000-0000-000000000000")
	assert.Error(t, err)
}

// TestServe_Shutdown verifies the server stops when the context ends
func TestServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- serve(ctx, server, logger.NewNop()) }()

	cancel()
	assert.NoError(t, <-done)
}
