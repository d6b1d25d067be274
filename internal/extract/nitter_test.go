package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lixiansky/Colorful-State/internal/scraper"
)

const instance = "https://nitter.example.org/"

func page(body string) scraper.RenderedPage {
	return scraper.RenderedPage{
		Instance:   instance,
		URL:        instance + "elonmusk",
		StatusCode: 200,
		HTML:       "<html><body>" + body + "</body></html>",
	}
}

func item(inner string) string {
	return `<div class="timeline-item">` + inner + `</div>`
}

const basicItem = `
<a class="tweet-link" href="/elonmusk/status/1780000000000000001#m"></a>
<a class="username" href="/elonmusk">@elonmusk</a>
<span class="tweet-date"><a href="/elonmusk/status/1780000000000000001#m" title="Apr 15, 2024 · 6:30 PM UTC">2h</a></span>
<div class="tweet-content media-body">  Launch window opens tomorrow  </div>`

func TestExtractTimelineFirstQualifyingItem(t *testing.T) {
	t.Parallel()

	html := item(`<div class="pinned">Pinned Tweet</div>`+basicItem) +
		item(`<div class="tweet-content"></div><a class="tweet-link" href="/x/status/2"></a>`) +
		item(`<div class="tweet-content">no link here</div>`) +
		item(basicItem)

	got, err := New().Extract(page(html), scraper.Account("elonmusk"))
	require.NoError(t, err)

	rec := got.Record
	assert.Equal(t, "1780000000000000001", rec.ExternalID)
	assert.Equal(t, "@elonmusk", rec.Author)
	assert.Equal(t, "Launch window opens tomorrow", rec.Text)
	assert.Equal(t, "https://nitter.example.org/elonmusk/status/1780000000000000001#m", rec.Permalink)
	assert.Equal(t, "Apr 15, 2024 · 6:30 PM UTC", rec.PublishedAt)
	assert.False(t, rec.IsRepost)
	assert.NotNil(t, rec.Images)
	assert.Empty(t, rec.Images)
	assert.Empty(t, rec.VideoURL)
	assert.Empty(t, got.Poster)
}

func TestExtractTimelineOnlyPinned(t *testing.T) {
	t.Parallel()

	html := item(`<div class="pinned"></div>` + basicItem)
	_, err := New().Extract(page(html), scraper.Account("elonmusk"))
	require.Error(t, err)
	require.Equal(t, scraper.NoContentFound, scraper.KindOf(err))
}

func TestExtractTimelineNoItems(t *testing.T) {
	t.Parallel()

	_, err := New().Extract(page(`<div class="timeline-none">No items found</div>`), scraper.Search("spacex"))
	require.Equal(t, scraper.NoContentFound, scraper.KindOf(err))
}

func TestExtractTimelineScansOnlyFirstEight(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < MaxTimelineItems; i++ {
		b.WriteString(item(`<div class="pinned"></div>` + basicItem))
	}
	b.WriteString(item(basicItem))

	_, err := New().Extract(page(b.String()), scraper.Account("elonmusk"))
	require.Equal(t, scraper.NoContentFound, scraper.KindOf(err))
}

func TestExtractTimelineFallbacks(t *testing.T) {
	t.Parallel()

	html := item(`
<div class="retweet-header">retweeted</div>
<a class="tweet-link" href="/someone/status/99"></a>
<span class="tweet-date"><a href="/someone/status/99">1h</a></span>
<div class="tweet-content">hello</div>`)

	got, err := New().Extract(page(html), scraper.Search("rocket launch"))
	require.NoError(t, err)
	assert.Equal(t, "rocket launch", got.Record.Author)
	assert.Equal(t, UnknownTime, got.Record.PublishedAt)
	assert.True(t, got.Record.IsRepost)
	assert.Equal(t, "99", got.Record.ExternalID)
}

func TestExtractImagesFiltersAndCanonicalizes(t *testing.T) {
	t.Parallel()

	html := item(basicItem + `
<div class="attachments">
  <div class="attachment image"><a class="still-image" href="/pic/orig/media%2FGabc.jpg"><img src="/pic/media%2FGabc.jpg%3Fname%3Dsmall"></a></div>
  <div class="avatar"><img src="/pic/profile_images%2F1%2Fme.jpg"></div>
  <span class="profile-card"><img src="/pic/other.jpg"></span>
  <img src="//abs.twimg.com/emoji/v2/72x72/1f680.png">
  <img src="/hashtag_click/x.png">
  <img src="https://pbs.twimg.com/media/Zed?format=png&name=large">
</div>`)

	got, err := New().Extract(page(html), scraper.Account("elonmusk"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://pbs.twimg.com/media/Gabc?format=jpg&name=large",
		"https://pbs.twimg.com/media/Zed?format=png&name=large",
	}, got.Record.Images)
}

func TestExtractImagesDropsRepeats(t *testing.T) {
	t.Parallel()

	html := item(basicItem + `
<div class="attachments">
  <img src="/pic/media%2FGabc.jpg%3Fname%3Dsmall">
  <img src="https://pbs.twimg.com/media/Zed?format=png&name=large">
  <img src="/pic/media%2FGabc.jpg%3Fname%3Dsmall">
  <img src="https://pbs.twimg.com/media/Zed?format=png&name=large">
</div>`)

	got, err := New().Extract(page(html), scraper.Account("elonmusk"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://pbs.twimg.com/media/Gabc?format=jpg&name=large",
		"https://pbs.twimg.com/media/Zed?format=png&name=large",
	}, got.Record.Images)
}

func TestExtractVideoPriority(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		markup string
		want   string
	}{
		{
			"data-url beats mp4 link",
			`<video data-url="/video/ABC/https%3A%2F%2Fvideo.twimg.com%2Fext_tw_video%2F1%2Fpu%2Fpl%2Fmaster.m3u8"></video>
			 <a href="https://video.twimg.com/x.mp4">download</a>`,
			"https://video.twimg.com/ext_tw_video/1/pu/pl/master.m3u8",
		},
		{
			"protocol-relative data-url",
			`<video data-url="//video.twimg.com/a.mp4"></video>`,
			"https://video.twimg.com/a.mp4",
		},
		{
			"src attribute",
			`<video src="/vid/a.mp4"><source src="/vid/b.mp4"></video>`,
			"https://nitter.example.org/vid/a.mp4",
		},
		{
			"nested source",
			`<video><source src="https://video.twimg.com/b.mp4" type="video/mp4"></video>`,
			"https://video.twimg.com/b.mp4",
		},
		{
			"link fallback",
			`<a href="/other">x</a><a href="//video.twimg.com/c.m3u8?tag=1">stream</a>`,
			"https://video.twimg.com/c.m3u8?tag=1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := New().Extract(page(item(basicItem+tc.markup)), scraper.Account("elonmusk"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Record.VideoURL)
		})
	}
}

func TestExtractPosterIsCanonicalized(t *testing.T) {
	t.Parallel()

	html := item(basicItem + `<video poster="/pic/media%2FThumb.jpg%3Fname%3Dsmall" data-url="//video.twimg.com/a.mp4"></video>`)
	got, err := New().Extract(page(html), scraper.Account("elonmusk"))
	require.NoError(t, err)
	assert.Equal(t, "https://pbs.twimg.com/media/Thumb?format=jpg&name=large", got.Poster)
	assert.Empty(t, got.Record.Images)
}

func TestExtractMainPost(t *testing.T) {
	t.Parallel()

	target := scraper.Post("nasa", "1790000000000000000")
	p := page(`
<div class="main-tweet">
  <div class="retweet-header">ignored</div>
  <a class="username">@NASA</a>
  <span class="tweet-date"><a title="May 1, 2024 · 1:00 PM UTC">May 1</a></span>
  <div class="tweet-content">Artemis update</div>
  <div class="attachments"><div class="still-image"><img src="/pic/media%2FMoon.png"></div></div>
</div>`)
	p.URL = target.URL(instance)

	got, err := New().Extract(p, target)
	require.NoError(t, err)
	assert.Equal(t, "1790000000000000000", got.Record.ExternalID)
	assert.Equal(t, "@NASA", got.Record.Author)
	assert.Equal(t, "https://nitter.example.org/nasa/status/1790000000000000000", got.Record.Permalink)
	assert.False(t, got.Record.IsRepost)
	assert.Equal(t, []string{"https://pbs.twimg.com/media/Moon?format=png&name=large"}, got.Record.Images)
}

func TestExtractMainPostPermalinkFallbacks(t *testing.T) {
	t.Parallel()

	target := scraper.Post("nasa", "7")
	cases := []struct {
		name   string
		markup string
		url    string
		want   string
	}{
		{
			name:   "tweet link",
			markup: `<a class="tweet-link" href="/nasa/status/7#m"></a><span class="tweet-date"><a href="/other"></a></span>`,
			want:   "https://nitter.example.org/nasa/status/7#m",
		},
		{
			name:   "date link",
			markup: `<span class="tweet-date"><a href="/nasa/status/7#d">d</a></span>`,
			want:   "https://nitter.example.org/nasa/status/7#d",
		},
		{name: "page url", url: "https://nitter.example.org/nasa/status/7?s=1", want: "https://nitter.example.org/nasa/status/7?s=1"},
		{name: "target url", want: "https://nitter.example.org/nasa/status/7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := page(`<div class="main-tweet">` + tc.markup + `<div class="tweet-content">x</div></div>`)
			p.URL = tc.url
			got, err := New().Extract(p, target)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Record.Permalink)
			assert.Equal(t, "7", got.Record.ExternalID)
		})
	}
}

func TestExtractMainPostMissing(t *testing.T) {
	t.Parallel()

	target := scraper.Post("nasa", "1")
	_, err := New().Extract(page(item(basicItem)), target)
	require.Equal(t, scraper.NoContentFound, scraper.KindOf(err))

	_, err = New().Extract(page(`<div class="main-tweet"><div class="tweet-content">  </div></div>`), target)
	require.Equal(t, scraper.NoContentFound, scraper.KindOf(err))
}

func TestExternalID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "123", externalID("/a/status/123#m"))
	assert.Equal(t, "456", externalID("https://nitter.net/b/status/456?s=20"))
	assert.Equal(t, "/a/with_replies", externalID("/a/with_replies"))
}
