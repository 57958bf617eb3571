package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"
	"github.com/pevans/newscrawl/logger"
	"golang.org/x/net/html/charset"
)

const (
	DefaultUserAgent   = "newscrawl/1.0 (+news extraction)"
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryWait   = 500 * time.Millisecond

	// maxBodyBytes caps how much of a single response is read
	maxBodyBytes = 10 << 20
)

var (
	ErrHTTPStatus  = errors.New("unexpected HTTP status")
	ErrDisallowed  = errors.New("disallowed by robots.txt")
	ErrInvalidURL  = errors.New("invalid URL")
	ErrNotFeedable = errors.New("listing is not a valid RSS/Atom feed")
)

// FetchError describes a failed page or listing fetch. StatusCode is zero
// when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the request could succeed: timeouts,
// connection failures, 429 and 5xx responses.
func (e *FetchError) Transient() bool {
	switch {
	case errors.Is(e.Err, ErrDisallowed), errors.Is(e.Err, ErrInvalidURL):
		return false
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	case e.StatusCode != 0:
		return false
	}

	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(e.Err, &opErr)
}

// FetcherConfig controls outgoing requests.
type FetcherConfig struct {
	UserAgent string
	// Timeout bounds each individual request
	Timeout time.Duration
	// MaxAttempts is the total number of tries for a transient failure; 1
	// disables retries
	MaxAttempts int
	// RetryWait is the first backoff interval; later ones grow exponentially
	RetryWait     time.Duration
	RespectRobots bool
}

// SetDefaults fills zero fields with defaults.
func (c *FetcherConfig) SetDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryWait <= 0 {
		c.RetryWait = DefaultRetryWait
	}
}

// Fetcher performs GET requests with a fixed identifying User-Agent, an
// explicit timeout, bounded retries and optional robots.txt checks.
type Fetcher struct {
	client *http.Client
	cfg    FetcherConfig
	robots *RobotsChecker
	log    logger.Logger
}

// NewFetcher creates a Fetcher. A nil client gets one with cfg.Timeout.
func NewFetcher(cfg FetcherConfig, client *http.Client, log logger.Logger) *Fetcher {
	cfg.SetDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.NewNop()
	}

	f := &Fetcher{client: client, cfg: cfg, log: log}
	if cfg.RespectRobots {
		f.robots = NewRobotsChecker(client, cfg.UserAgent, 0)
	}
	return f
}

// UserAgent returns the User-Agent sent with every request.
func (f *Fetcher) UserAgent() string {
	return f.cfg.UserAgent
}

// CrawlDelay returns the Crawl-delay robots.txt asks for on rawURL's host.
// It is zero when robots.txt is not consulted or sets none.
func (f *Fetcher) CrawlDelay(rawURL string) time.Duration {
	if f.robots == nil {
		return 0
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	return f.robots.CrawlDelay(u.Host)
}

// FetchHTML fetches rawURL and parses it as HTML. The body is decoded to
// UTF-8 according to the response's declared charset. The returned
// document's Url is set to the final request URL.
func (f *Fetcher) FetchHTML(ctx context.Context, rawURL string) (*goquery.Document, error) {
	body, err := f.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	reader, err := charset.NewReader(bytes.NewReader(body.data), body.contentType)
	if err != nil {
		reader = bytes.NewReader(body.data)
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("failed to parse HTML: %w", err)}
	}
	doc.Url = body.finalURL

	return doc, nil
}

// FetchFeed fetches rawURL and parses it as an RSS or Atom feed.
func (f *Fetcher) FetchFeed(ctx context.Context, rawURL string) (*gofeed.Feed, error) {
	body, err := f.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body.data))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("%w: %v", ErrNotFeedable, err)}
	}

	return feed, nil
}

type response struct {
	data        []byte
	contentType string
	finalURL    *url.URL
}

// fetch runs one logical request, retrying transient failures with
// exponential backoff. Permanent failures return after the first attempt.
func (f *Fetcher) fetch(ctx context.Context, rawURL string) (*response, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, &FetchError{URL: rawURL, Err: ErrInvalidURL}
	}

	if f.robots != nil {
		allowed, err := f.robots.IsAllowed(ctx, rawURL)
		if err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		if !allowed {
			return nil, &FetchError{URL: rawURL, Err: ErrDisallowed}
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.cfg.RetryWait
	policy.MaxElapsedTime = 0
	retries := backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(f.cfg.MaxAttempts-1)),
		ctx,
	)

	attempt := 0
	var resp *response
	operation := func() error {
		attempt++
		r, err := f.do(ctx, rawURL)
		if err == nil {
			resp = r
			return nil
		}

		var fetchErr *FetchError
		if errors.As(err, &fetchErr) && fetchErr.Transient() {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		f.log.Warn("Retrying fetch",
			logger.String("url", rawURL),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, retries, notify); err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return nil, fetchErr
		}
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	return resp, nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: ErrHTTPStatus}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	return &response{
		data:        data,
		contentType: resp.Header.Get("Content-Type"),
		finalURL:    resp.Request.URL,
	}, nil
}
