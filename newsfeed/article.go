package newsfeed

import (
	"time"

	"github.com/pevans/newscrawl/extract"
)

// MinWords is the minimum body length, in whitespace-separated words, for an
// article to be kept.
const MinWords = 50

// Article is one extracted news article. Articles are write-once: they are
// created by the assembler and only ever appended to batches.
type Article struct {
	Title       string     `json:"title"`
	Body        string     `json:"text"`
	URL         string     `json:"url"`
	SourceID    string     `json:"source"`
	Authors     []string   `json:"authors"`
	PublishedAt *time.Time `json:"publish_date"` // null when unknown
	ScrapedAt   time.Time  `json:"scraped_date"`
}

// Valid reports whether the article passes the quality gate: a non-empty
// title and a body of at least MinWords words.
func (a Article) Valid() bool {
	return a.Title != "" && a.Body != "" && extract.WordCount(a.Body) >= MinWords
}

// Batch is the set of articles collected from one source in one crawl.
type Batch struct {
	SourceID  string
	CrawledAt time.Time
	Articles  []Article
}
