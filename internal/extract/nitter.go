// Package extract parses rendered mirror pages into post records.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lixiansky/Colorful-State/internal/media"
	"github.com/lixiansky/Colorful-State/internal/scraper"
)

const (
	// MaxTimelineItems bounds how many timeline entries are inspected.
	MaxTimelineItems = 8
	// UnknownTime is stored when an item has no date title.
	UnknownTime = "Unknown Time"

	imageSelector     = ".attachment.image img, .tweet-image img, .still-image img, .attachments img"
	videoLinkSelector = `a[href*=".mp4"], a[href*=".m3u8"]`
)

var (
	errNoItems    = errors.New("no timeline items")
	errNoMainPost = errors.New("main post not found")
)

// Nitter extracts posts from Nitter-compatible markup.
type Nitter struct{}

// New returns a Nitter extractor.
func New() *Nitter { return &Nitter{} }

// Extract implements scraper.Extractor.
func (Nitter) Extract(page scraper.RenderedPage, target scraper.Target) (scraper.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return scraper.Extraction{}, scraper.Fail(scraper.NoContentFound, page.Instance, fmt.Errorf("parse html: %w", err))
	}
	if target.Kind() == scraper.TargetPost {
		return extractMain(doc, page, target)
	}
	return extractTimeline(doc, page, target)
}

func extractTimeline(doc *goquery.Document, page scraper.RenderedPage, target scraper.Target) (scraper.Extraction, error) {
	items := doc.Find(".timeline-item")
	if items.Length() == 0 {
		return scraper.Extraction{}, scraper.Fail(scraper.NoContentFound, page.Instance, errNoItems)
	}

	var (
		result scraper.Extraction
		found  bool
	)
	items.Slice(0, min(items.Length(), MaxTimelineItems)).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if item.Find(".pinned").Length() > 0 {
			return true
		}
		text := strings.TrimSpace(item.Find(".tweet-content").First().Text())
		href, ok := item.Find(".tweet-link").First().Attr("href")
		if text == "" || !ok || strings.TrimSpace(href) == "" {
			return true
		}

		record := scraper.PostRecord{
			ExternalID:  externalID(href),
			Author:      author(item, target),
			Text:        text,
			Permalink:   media.ResolveURL(page.Instance, href),
			PublishedAt: published(item),
			IsRepost:    item.Find(".retweet-header").Length() > 0,
			Images:      images(item, page.Instance),
		}
		videoURL, poster := findVideo(item, page.Instance)
		record.VideoURL = videoURL
		result = scraper.Extraction{Record: record, Poster: poster}
		found = true
		return false
	})

	if !found {
		return scraper.Extraction{}, scraper.Fail(scraper.NoContentFound, page.Instance,
			fmt.Errorf("no qualifying item among first %d", MaxTimelineItems))
	}
	return result, nil
}

func extractMain(doc *goquery.Document, page scraper.RenderedPage, target scraper.Target) (scraper.Extraction, error) {
	post := doc.Find(".main-tweet").First()
	if post.Length() == 0 {
		return scraper.Extraction{}, scraper.Fail(scraper.NoContentFound, page.Instance, errNoMainPost)
	}
	text := strings.TrimSpace(post.Find(".tweet-content").First().Text())
	if text == "" {
		return scraper.Extraction{}, scraper.Fail(scraper.NoContentFound, page.Instance, errors.New("main post has no text"))
	}

	permalink := ""
	for _, sel := range []string{".tweet-link", ".tweet-date a"} {
		if href, ok := post.Find(sel).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
			permalink = media.ResolveURL(page.Instance, href)
			break
		}
	}
	if permalink == "" {
		permalink = page.URL
	}
	if permalink == "" {
		permalink = target.URL(page.Instance)
	}
	record := scraper.PostRecord{
		ExternalID:  target.PostID(),
		Author:      author(post, target),
		Text:        text,
		Permalink:   permalink,
		PublishedAt: published(post),
		Images:      images(post, page.Instance),
	}
	videoURL, poster := findVideo(post, page.Instance)
	record.VideoURL = videoURL
	return scraper.Extraction{Record: record, Poster: poster}, nil
}

// externalID returns the numeric id after /status/, or href itself.
func externalID(href string) string {
	idx := strings.LastIndex(href, "/status/")
	if idx < 0 {
		return href
	}
	id := href[idx+len("/status/"):]
	id, _, _ = strings.Cut(id, "#")
	id, _, _ = strings.Cut(id, "?")
	return id
}

func author(sel *goquery.Selection, target scraper.Target) string {
	if name := strings.TrimSpace(sel.Find(".username").First().Text()); name != "" {
		return name
	}
	return target.FallbackAuthor()
}

func published(sel *goquery.Selection) string {
	title, ok := sel.Find(".tweet-date a").First().Attr("title")
	if !ok || strings.TrimSpace(title) == "" {
		return UnknownTime
	}
	return strings.TrimSpace(title)
}

// images returns canonical image URLs in document order without repeats.
func images(sel *goquery.Selection, instance string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	sel.Find(imageSelector).Each(func(_ int, img *goquery.Selection) {
		if class, _ := img.Parent().Attr("class"); strings.Contains(class, "avatar") || strings.Contains(class, "profile") {
			return
		}
		src, _ := img.Attr("src")
		if src == "" || strings.Contains(strings.ToLower(src), "emoji") || strings.Contains(src, "hashtag_click") {
			return
		}
		canonical := media.Canonicalize(media.ResolveURL(instance, src))
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	})
	return out
}

// findVideo returns the first video source in priority order and the
// canonicalized poster of the video element.
func findVideo(sel *goquery.Selection, instance string) (string, string) {
	var videoURL, poster string

	tag := sel.Find("video").First()
	if tag.Length() > 0 {
		if dataURL, _ := tag.Attr("data-url"); dataURL != "" {
			videoURL = decodeDataURL(dataURL, instance)
		}
		if videoURL == "" {
			if src, _ := tag.Attr("src"); src != "" {
				videoURL = media.ResolveURL(instance, src)
			}
		}
		if p, _ := tag.Attr("poster"); p != "" {
			poster = media.Canonicalize(media.ResolveURL(instance, p))
		}
	}

	if videoURL == "" {
		if src, _ := sel.Find("video source").First().Attr("src"); src != "" {
			videoURL = media.ResolveURL(instance, src)
		}
	}

	if videoURL == "" {
		sel.Find(videoLinkSelector).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			if href == "" {
				return true
			}
			videoURL = media.ResolveURL(instance, href)
			return false
		})
	}
	return videoURL, poster
}

// decodeDataURL unwraps "/video/<id>/<escaped url>" references.
func decodeDataURL(dataURL, instance string) string {
	if strings.HasPrefix(dataURL, "/video/") {
		parts := strings.SplitN(dataURL, "/", 4)
		if len(parts) < 4 {
			return ""
		}
		decoded, err := url.PathUnescape(parts[3])
		if err != nil {
			return parts[3]
		}
		return decoded
	}
	return media.ResolveURL(instance, dataURL)
}
