package monitor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/media"
	"github.com/lixiansky/Colorful-State/internal/scraper"
	"github.com/lixiansky/Colorful-State/internal/storage"
)

var statusPath = regexp.MustCompile(`/([^/?#]+)/status/(\d+)`)

// RepairLowRes re-fetches every stored post holding an image with a low-res
// marker.
func (m *Monitor) RepairLowRes(ctx context.Context) (Summary, error) {
	posts, err := m.store.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list posts: %w", err)
	}
	var targets []scraper.Target
	for _, p := range posts {
		if !hasLowRes(p.Images) {
			continue
		}
		if target, ok := TargetForPost(p); ok {
			targets = append(targets, target)
		}
	}
	m.logger.Info("repairing low-res posts", zap.Int("posts", len(posts)), zap.Int("targets", len(targets)))
	return m.runTargets(ctx, targets)
}

// Rescrape re-fetches the given post URLs regardless of stored status, or
// every stored post when urls is empty.
func (m *Monitor) Rescrape(ctx context.Context, urls []string) (Summary, error) {
	var targets []scraper.Target
	if len(urls) > 0 {
		entries, invalid := ParseEntries(urls)
		for _, line := range invalid {
			m.logger.Warn("invalid post url", zap.String("line", line))
		}
		for _, e := range entries {
			targets = append(targets, e.Target)
		}
		sum, err := m.runTargets(ctx, targets)
		sum.Invalid = len(invalid)
		return sum, err
	}

	posts, err := m.store.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list posts: %w", err)
	}
	for _, p := range posts {
		if target, ok := TargetForPost(p); ok {
			targets = append(targets, target)
		}
	}
	return m.runTargets(ctx, targets)
}

func (m *Monitor) runTargets(ctx context.Context, targets []scraper.Target) (Summary, error) {
	sum := Summary{StartedAt: m.clock.Now()}
	err := m.fetchAll(ctx, targets, &sum)
	sum.FinishedAt = m.clock.Now()
	return sum, err
}

// TargetForPost rebuilds the single-post target of a stored post from its
// source URL, falling back to the stored author.
func TargetForPost(p storage.Post) (scraper.Target, bool) {
	if p.TweetID == "" {
		return scraper.Target{}, false
	}
	if m := statusPath.FindStringSubmatch(p.SourceURL); m != nil && m[2] == p.TweetID {
		return scraper.Post(m[1], m[2]), true
	}
	handle := strings.TrimPrefix(strings.TrimSpace(p.Author), "@")
	if handle == "" || strings.ContainsAny(handle, "/?# ") {
		return scraper.Target{}, false
	}
	return scraper.Post(handle, p.TweetID), true
}

func hasLowRes(images []string) bool {
	for _, img := range images {
		if media.HasLowResMarker(img) {
			return true
		}
	}
	return false
}
