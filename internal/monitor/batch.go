package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/scraper"
	"github.com/lixiansky/Colorful-State/internal/storage"
)

// DefaultURLFile is the batch file read at the start of every cycle.
const DefaultURLFile = "tweets.txt"

// Entry is one post URL from the batch file.
type Entry struct {
	URL    string
	Target scraper.Target
}

// Stored pairs an entry with what the store already holds for it.
type Stored struct {
	Entry
	Status storage.Status
}

// Lookuper reports stored status by tweet id.
type Lookuper interface {
	Lookup(ctx context.Context, tweetIDs []string) (map[string]storage.Status, error)
}

// ReadURLFile reads post URLs from path. Blank lines and lines starting with
// '#' are skipped; lines that are not post URLs are returned as invalid. A
// missing file yields no entries and no error.
func ReadURLFile(path string) ([]Entry, []string, error) {
	if path == "" {
		return nil, nil, nil
	}
	f, err := os.Open(path) // #nosec G304 -- operator-supplied batch file.
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only
	return ParseURLs(f)
}

// ParseURLs parses batch file content.
func ParseURLs(r io.Reader) ([]Entry, []string, error) {
	var (
		entries []Entry
		invalid []string
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		target, ok := scraper.ParsePostURL(line)
		if !ok {
			invalid = append(invalid, line)
			continue
		}
		entries = append(entries, Entry{URL: line, Target: target})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read url file: %w", err)
	}
	return entries, invalid, nil
}

// ParseEntries parses URLs given on the command line.
func ParseEntries(urls []string) ([]Entry, []string) {
	entries, invalid, _ := ParseURLs(strings.NewReader(strings.Join(urls, "\n")))
	return entries, invalid
}

// CheckStatus splits entries into those already stored and those pending. When
// the lookup fails every entry is treated as pending.
func CheckStatus(ctx context.Context, store Lookuper, entries []Entry, logger *zap.Logger) ([]Stored, []Entry) {
	if len(entries) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Target.PostID())
	}
	known, err := store.Lookup(ctx, ids)
	if err != nil {
		logger.Warn("status lookup failed, treating every url as pending", zap.Error(err))
		return nil, append([]Entry(nil), entries...)
	}

	var (
		stored  []Stored
		pending []Entry
	)
	for _, e := range entries {
		if st, ok := known[e.Target.PostID()]; ok {
			stored = append(stored, Stored{Entry: e, Status: st})
			continue
		}
		pending = append(pending, e)
	}
	return stored, pending
}

// ScrapedAtLayout formats stored timestamps in reports.
const ScrapedAtLayout = "2006-01-02 15:04"

func formatScrapedAt(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(ScrapedAtLayout)
}
