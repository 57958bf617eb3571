package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	defaultRobotsTTL   = 24 * time.Hour
	maxRobotsBodyBytes = 512 * 1024
)

// RobotsChecker answers whether a URL may be fetched, caching each host's
// robots.txt. A missing, unreachable or unparseable robots.txt allows
// everything.
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration

	mu    sync.Mutex
	hosts map[string]robotsEntry
}

type robotsEntry struct {
	group     *robotstxt.Group // nil means allow all
	fetchedAt time.Time
}

// NewRobotsChecker creates a checker. A zero ttl uses 24 hours.
func NewRobotsChecker(client *http.Client, userAgent string, ttl time.Duration) *RobotsChecker {
	if ttl <= 0 {
		ttl = defaultRobotsTTL
	}
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		ttl:       ttl,
		hosts:     make(map[string]robotsEntry),
	}
}

// IsAllowed reports whether the configured user agent may fetch rawURL.
func (r *RobotsChecker) IsAllowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("failed to parse URL for robots check: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	if host == "" {
		return false, fmt.Errorf("%w: no host in %q", ErrInvalidURL, rawURL)
	}

	entry := r.entry(ctx, parsed.Scheme, host)
	if entry.group == nil {
		return true, nil
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	if parsed.RawQuery != "" {
		path += "?" + parsed.RawQuery
	}
	return entry.group.Test(path), nil
}

// CrawlDelay returns the Crawl-delay the host asks for, or zero when unknown.
func (r *RobotsChecker) CrawlDelay(host string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.hosts[strings.ToLower(host)]
	if !ok || entry.group == nil {
		return 0
	}
	return entry.group.CrawlDelay
}

func (r *RobotsChecker) entry(ctx context.Context, scheme, host string) robotsEntry {
	r.mu.Lock()
	entry, ok := r.hosts[host]
	r.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) <= r.ttl {
		return entry
	}

	entry = robotsEntry{group: r.load(ctx, scheme, host), fetchedAt: time.Now()}

	r.mu.Lock()
	r.hosts[host] = entry
	r.mu.Unlock()

	return entry
}

// load fetches and parses robots.txt, returning nil (allow all) on any
// failure or non-2xx response.
func (r *RobotsChecker) load(ctx context.Context, scheme, host string) *robotstxt.Group {
	if scheme == "" {
		scheme = "https"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+host+"/robots.txt", http.NoBody)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	return data.FindGroup(r.userAgent)
}
