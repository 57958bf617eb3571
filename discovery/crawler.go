package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/newscrawl/logger"
	"github.com/pevans/newscrawl/newsfeed"
	"github.com/pevans/newscrawl/scraper"
)

// ErrNoSources is returned by Run when the registry is empty.
var ErrNoSources = errors.New("no sources configured")

const DefaultLimitPerSource = 10

// BatchWriter persists the articles collected from one source.
type BatchWriter interface {
	SaveBatch(sourceID string, crawledAt time.Time, articles []newsfeed.Article) (string, error)
}

// RunRecorder persists a finished run summary.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary *RunSummary) error
}

// CrawlConfig controls pacing and volume.
type CrawlConfig struct {
	// LimitPerSource caps how many discovered links are assembled per source
	LimitPerSource int
	LinkDelayMin   time.Duration
	LinkDelayMax   time.Duration
	SourceDelayMin time.Duration
	SourceDelayMax time.Duration
}

// DefaultCrawlConfig returns the default pacing: 1-3s between links and
// 2-5s between sources.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		LimitPerSource: DefaultLimitPerSource,
		LinkDelayMin:   1 * time.Second,
		LinkDelayMax:   3 * time.Second,
		SourceDelayMin: 2 * time.Second,
		SourceDelayMax: 5 * time.Second,
	}
}

// SourceResult records what happened to one source during a run.
type SourceResult struct {
	SourceID   string    `json:"source_id"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Candidates int       `json:"candidates"`
	Articles   int       `json:"articles"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	BatchPath  string    `json:"batch_path,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunSummary aggregates a whole crawl.
type RunSummary struct {
	ID            string         `json:"id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Interrupted   bool           `json:"interrupted"`
	TotalArticles int            `json:"total_articles"`
	Sources       []SourceResult `json:"sources"`
}

// FailedSources counts sources that did not complete.
func (s *RunSummary) FailedSources() int {
	n := 0
	for _, src := range s.Sources {
		if src.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Crawler walks every source in a registry, one at a time: discover links,
// assemble each link in turn, save the batch, pause, move on. A failing
// source never stops the run.
type Crawler struct {
	registry   *scraper.Registry
	discoverer *LinkDiscoverer
	assembler  *Assembler
	fetcher    *Fetcher
	store      BatchWriter
	recorder   RunRecorder
	cfg        CrawlConfig
	log        logger.Logger

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int64) int64
}

// NewCrawler wires a crawler. The recorder may be nil.
func NewCrawler(
	registry *scraper.Registry,
	fetcher *Fetcher,
	store BatchWriter,
	recorder RunRecorder,
	cfg CrawlConfig,
	log logger.Logger,
) *Crawler {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.LimitPerSource <= 0 {
		cfg.LimitPerSource = DefaultLimitPerSource
	}

	return &Crawler{
		registry:   registry,
		discoverer: NewLinkDiscoverer(fetcher, log),
		assembler:  NewAssembler(fetcher, log),
		fetcher:    fetcher,
		store:      store,
		recorder:   recorder,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
		sleep:      sleepContext,
		jitter:     rand.Int64N,
	}
}

// Run crawls every source in registry order and returns the summary. The
// only error before work starts is ErrNoSources. If ctx is cancelled the
// articles already collected for the current source are still saved, the
// partial summary is recorded and returned along with ctx.Err().
func (c *Crawler) Run(ctx context.Context) (*RunSummary, error) {
	if c.registry == nil || c.registry.Len() == 0 {
		return nil, ErrNoSources
	}

	summary := &RunSummary{ID: uuid.NewString(), StartedAt: c.now()}
	c.log.Info("Starting crawl",
		logger.String("run_id", summary.ID),
		logger.Int("sources", c.registry.Len()),
	)

	var runErr error
	for i, src := range c.registry.Sources() {
		if i > 0 {
			if err := c.pause(ctx, c.cfg.SourceDelayMin, c.cfg.SourceDelayMax, ""); err != nil {
				runErr = err
				break
			}
		}

		result, err := c.crawlSource(ctx, src)
		summary.Sources = append(summary.Sources, result)
		summary.TotalArticles += result.Articles
		if err != nil {
			runErr = err
			break
		}
	}

	summary.FinishedAt = c.now()
	summary.Interrupted = runErr != nil

	if c.recorder != nil {
		if err := c.recorder.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
			c.log.Error("Failed to record run", logger.String("run_id", summary.ID), logger.Error(err))
		}
	}

	c.log.Info("Crawl finished",
		logger.String("run_id", summary.ID),
		logger.Int("articles", summary.TotalArticles),
		logger.Int("failed_sources", summary.FailedSources()),
		logger.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)

	return summary, runErr
}

// crawlSource processes one source. The returned error is non-nil only when
// ctx was cancelled; source-level failures live in the result.
func (c *Crawler) crawlSource(ctx context.Context, src scraper.SourceConfig) (SourceResult, error) {
	result := SourceResult{SourceID: src.ID, Status: StatusOK, StartedAt: c.now()}
	log := c.log.With(logger.String("source", src.ID))
	log.Info("Crawling source", logger.String("listing_url", src.ListingURL))

	links, err := c.discoverer.DiscoverLinks(ctx, src)
	if err != nil {
		log.Error("Failed to discover links", logger.Error(err))
		result.Status = StatusFailed
		result.Error = err.Error()
		result.FinishedAt = c.now()
		return result, ctx.Err()
	}

	if len(links) > c.cfg.LimitPerSource {
		links = links[:c.cfg.LimitPerSource]
	}
	result.Candidates = len(links)

	var articles []newsfeed.Article
	var ctxErr error
	for i, link := range links {
		if i > 0 {
			if err := c.pause(ctx, c.cfg.LinkDelayMin, c.cfg.LinkDelayMax, link); err != nil {
				ctxErr = err
				break
			}
		}

		article, outcome := c.assembler.Assemble(ctx, link, src)
		switch outcome.Status {
		case StatusOK:
			articles = append(articles, *article)
		case StatusSkipped:
			result.Skipped++
		case StatusFailed:
			result.Failed++
		}

		if ctx.Err() != nil {
			ctxErr = ctx.Err()
			break
		}
	}

	if len(articles) > 0 {
		path, err := c.store.SaveBatch(src.ID, c.now(), articles)
		if err != nil {
			log.Error("Failed to save batch", logger.Error(err))
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("failed to save batch: %v", err)
		} else {
			result.BatchPath = path
			result.Articles = len(articles)
			log.Info("Saved batch", logger.String("path", path), logger.Int("articles", len(articles)))
		}
	} else {
		log.Warn("No articles collected",
			logger.Int("candidates", result.Candidates),
			logger.Int("skipped", result.Skipped),
			logger.Int("failed", result.Failed),
		)
	}

	result.FinishedAt = c.now()
	return result, ctxErr
}

// pause sleeps for a uniform random duration in [lo, hi]. When robots.txt
// asks for a longer Crawl-delay on nextURL's host, that wins.
func (c *Crawler) pause(ctx context.Context, lo, hi time.Duration, nextURL string) error {
	d := lo
	if hi > lo {
		d += time.Duration(c.jitter(int64(hi-lo) + 1))
	}
	if nextURL != "" && c.fetcher != nil {
		if delay := c.fetcher.CrawlDelay(nextURL); delay > d {
			d = delay
		}
	}
	return c.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
