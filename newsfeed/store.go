package newsfeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pevans/newscrawl/scraper"
)

// batchTimeLayout is the crawl-time suffix of batch file names.
const batchTimeLayout = "20060102_150405"

var (
	ErrBatchExists      = errors.New("batch file already exists")
	ErrBatchNotFound    = errors.New("batch not found")
	ErrInvalidBatchName = errors.New("invalid batch name")
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store writes and reads batch files in a single directory. Each batch is
// a JSON array of articles named <source>_<YYYYMMDD_HHMMSS>.json.
type Store struct {
	dir string
}

// ReadError describes a failure to read a single batch file.
type ReadError struct {
	Filename string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

// BatchInfo describes one stored batch file.
type BatchInfo struct {
	Name      string    `json:"name"`
	SourceID  string    `json:"source"`
	CrawledAt time.Time `json:"crawled_at"`
	Articles  int       `json:"articles"`
	Size      int64     `json:"size"`
}

// ListResult contains the listed batches plus any per-file errors.
type ListResult struct {
	Batches []BatchInfo `json:"batches"`
	Errors  []ReadError `json:"-"`
}

// NewStore creates a store, creating dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// BatchName returns the file name a batch for sourceID crawled at
// crawledAt is stored under.
func BatchName(sourceID string, crawledAt time.Time) string {
	return sanitizeID(sourceID) + "_" + crawledAt.Format(batchTimeLayout) + ".json"
}

// SaveBatch writes articles as a new batch file and returns its path.
// Non-ASCII text and HTML-significant characters are written verbatim. An
// existing file is never overwritten.
func (s *Store) SaveBatch(sourceID string, crawledAt time.Time, articles []Article) (string, error) {
	path := filepath.Join(s.dir, BatchName(sourceID, crawledAt))

	out := make([]Article, len(articles))
	for i, a := range articles {
		if a.Authors == nil {
			a.Authors = []string{}
		}
		out[i] = a
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return "", fmt.Errorf("failed to marshal batch: %w", err)
	}

	// 0600: owner-only read/write
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrBatchExists, path)
		}
		return "", fmt.Errorf("failed to create batch file: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write batch: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write batch: %w", err)
	}

	return path, nil
}

// ListBatches returns every batch in the store sorted by name. Unreadable
// or corrupt files are reported in the result's Errors rather than failing
// the whole listing.
func (s *Store) ListBatches() (*ListResult, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	result := &ListResult{Batches: []BatchInfo{}}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		info, err := s.describe(entry)
		if err != nil {
			result.Errors = append(result.Errors, ReadError{Filename: entry.Name(), Err: err})
			continue
		}
		result.Batches = append(result.Batches, info)
	}

	sort.Slice(result.Batches, func(i, j int) bool {
		return result.Batches[i].Name < result.Batches[j].Name
	})

	return result, nil
}

// ReadBatch decodes the named batch file.
func (s *Store) ReadBatch(name string) ([]Article, error) {
	if name == "" || filepath.Base(name) != name || filepath.Ext(name) != ".json" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBatchName, name)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, name)
		}
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}

	var articles []Article
	if err := json.Unmarshal(data, &articles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}

	return articles, nil
}

// CorpusEntry is one source's record in the corpus export consumed by the
// question-answering service.
type CorpusEntry struct {
	Name      string   `json:"name"`
	Ticker    string   `json:"ticker"`
	CleanData []string `json:"clean_data"`
}

// ExportCorpus writes every stored article body, grouped by source, as a
// JSON array of CorpusEntry. Registry sources come first in configuration
// order; sources found only in stored batches follow, sorted by ID. Corrupt
// batch files are skipped and reported in the returned slice.
func (s *Store) ExportCorpus(w io.Writer, registry *scraper.Registry) ([]ReadError, error) {
	listing, err := s.ListBatches()
	if err != nil {
		return nil, err
	}
	readErrs := listing.Errors

	texts := make(map[string][]string)
	for _, b := range listing.Batches {
		articles, err := s.ReadBatch(b.Name)
		if err != nil {
			readErrs = append(readErrs, ReadError{Filename: b.Name, Err: err})
			continue
		}
		for _, a := range articles {
			if a.Body != "" {
				texts[a.SourceID] = append(texts[a.SourceID], a.Body)
			}
		}
	}

	var entries []CorpusEntry
	known := make(map[string]bool)
	if registry != nil {
		for _, src := range registry.Sources() {
			known[src.ID] = true
			entries = append(entries, corpusEntry(src.DisplayName(), src.TickerOrID(), texts[src.ID]))
		}
	}

	var orphans []string
	for id := range texts {
		if !known[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		entries = append(entries, corpusEntry(id, id, texts[id]))
	}

	if entries == nil {
		entries = []CorpusEntry{}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return readErrs, fmt.Errorf("failed to write corpus: %w", err)
	}

	return readErrs, nil
}

func corpusEntry(name, ticker string, texts []string) CorpusEntry {
	if texts == nil {
		texts = []string{}
	}
	return CorpusEntry{Name: name, Ticker: ticker, CleanData: texts}
}

func (s *Store) describe(entry fs.DirEntry) (BatchInfo, error) {
	stat, err := entry.Info()
	if err != nil {
		return BatchInfo{}, err
	}

	articles, err := s.ReadBatch(entry.Name())
	if err != nil {
		return BatchInfo{}, err
	}

	info := BatchInfo{Name: entry.Name(), Articles: len(articles), Size: stat.Size()}
	info.SourceID, info.CrawledAt = parseBatchName(entry.Name())
	if len(articles) > 0 && articles[0].SourceID != "" {
		info.SourceID = articles[0].SourceID
	}

	return info, nil
}

// parseBatchName splits <source>_<YYYYMMDD_HHMMSS>.json. Names that don't
// follow the pattern yield the bare stem and a zero time.
func parseBatchName(name string) (string, time.Time) {
	stem := strings.TrimSuffix(name, ".json")
	if len(stem) <= len(batchTimeLayout)+1 {
		return stem, time.Time{}
	}

	split := len(stem) - len(batchTimeLayout)
	if stem[split-1] != '_' {
		return stem, time.Time{}
	}

	crawledAt, err := time.Parse(batchTimeLayout, stem[split:])
	if err != nil {
		return stem, time.Time{}
	}
	return stem[:split-1], crawledAt
}

func sanitizeID(id string) string {
	clean := strings.Trim(unsafeFileChars.ReplaceAllString(id, "-"), "-.")
	if clean == "" {
		return "source"
	}
	return clean
}
