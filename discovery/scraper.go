package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pevans/newscrawl/extract"
	"github.com/pevans/newscrawl/logger"
	"github.com/pevans/newscrawl/newsfeed"
	"github.com/pevans/newscrawl/scraper"
)

// ErrValidation marks a page that was fetched but did not look like an
// article.
var ErrValidation = errors.New("article failed quality gate")

// Status is the result of one unit of crawl work.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is what happened to one link or one source.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

func okOutcome() Outcome {
	return Outcome{Status: StatusOK}
}

func skipped(reason string, err error) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason, Err: err}
}

func failed(reason string, err error) Outcome {
	return Outcome{Status: StatusFailed, Reason: reason, Err: err}
}

// Assembler turns one article URL into a validated Article.
type Assembler struct {
	fetcher *Fetcher
	log     logger.Logger
	now     func() time.Time
}

// NewAssembler creates an assembler that fetches through f.
func NewAssembler(f *Fetcher, log logger.Logger) *Assembler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Assembler{fetcher: f, log: log, now: time.Now}
}

// Assemble fetches articleURL and extracts its fields using src's
// selectors. A nil article comes back with a failed outcome when the page
// could not be fetched, and with a skipped outcome wrapping ErrValidation
// when it has no title, no body or fewer than newsfeed.MinWords words.
func (a *Assembler) Assemble(ctx context.Context, articleURL string, src scraper.SourceConfig) (*newsfeed.Article, Outcome) {
	doc, err := a.fetcher.FetchHTML(ctx, articleURL)
	if err != nil {
		a.log.Error("Failed to fetch article",
			logger.String("source", src.ID),
			logger.String("url", articleURL),
			logger.Error(err),
		)
		return nil, failed("fetch", err)
	}

	ex := extract.New(src)
	article := newsfeed.Article{
		Title:    ex.Title(doc),
		Body:     ex.Content(doc),
		URL:      articleURL,
		SourceID: src.ID,
	}

	if !article.Valid() {
		reason := qualityReason(article)
		a.log.Debug("Skipping page",
			logger.String("source", src.ID),
			logger.String("url", articleURL),
			logger.String("reason", reason),
		)
		return nil, skipped(reason, fmt.Errorf("%w: %s", ErrValidation, reason))
	}

	article.PublishedAt = ex.PublishedAt(doc)
	article.Authors = ex.Authors(doc)
	article.ScrapedAt = a.now()

	return &article, okOutcome()
}

func qualityReason(a newsfeed.Article) string {
	switch {
	case a.Title == "":
		return "no title"
	case a.Body == "":
		return "no content"
	default:
		return fmt.Sprintf("content too short (%d words)", extract.WordCount(a.Body))
	}
}
