package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lixiansky/Colorful-State/internal/scraper"
)

type fakeValidator struct {
	accept map[string]bool
	calls  []string
}

func (f *fakeValidator) Validate(_ context.Context, rawURL string) bool {
	f.calls = append(f.calls, rawURL)
	return f.accept[rawURL]
}

type fakePosters struct {
	url   string
	err   error
	calls []string
}

func (f *fakePosters) Synthesize(_ context.Context, videoURL string) (string, error) {
	f.calls = append(f.calls, videoURL)
	return f.url, f.err
}

const (
	imgA   = "https://pbs.twimg.com/media/A?format=jpg&name=large"
	imgB   = "https://pbs.twimg.com/media/B?format=jpg&name=large"
	poster = "https://pbs.twimg.com/ext_tw_video_thumb/1/pu/img/P.jpg"
	video  = "https://video.twimg.com/ext_tw_video/1/pu/vid/a.mp4"
	hosted = "https://storage.example/posters/abc.jpg"
)

func TestResolverFiltersAndDedupes(t *testing.T) {
	t.Parallel()

	validator := &fakeValidator{accept: map[string]bool{imgA: true}}
	r := NewResolver(validator, nil, nil)

	out := r.Resolve(context.Background(), scraper.Extraction{
		Record: scraper.PostRecord{ExternalID: "1", Images: []string{imgA, imgB, imgA, ""}},
	})

	require.Equal(t, []string{imgA}, out.Images)
	require.Equal(t, []string{imgA, imgB}, validator.calls)
}

func TestResolverKeepsValidPoster(t *testing.T) {
	t.Parallel()

	validator := &fakeValidator{accept: map[string]bool{imgA: true, poster: true}}
	posters := &fakePosters{url: hosted}
	r := NewResolver(validator, posters, nil)

	out := r.Resolve(context.Background(), scraper.Extraction{
		Record: scraper.PostRecord{Images: []string{imgA}, VideoURL: video},
		Poster: poster,
	})

	require.Equal(t, []string{imgA, poster}, out.Images)
	require.Empty(t, posters.calls)
}

func TestResolverSynthesizesMissingPoster(t *testing.T) {
	t.Parallel()

	lowRes := "https://pbs.twimg.com/media/P?format=jpg&name=small"
	validator := &fakeValidator{accept: map[string]bool{}}
	posters := &fakePosters{url: hosted}
	r := NewResolver(validator, posters, nil)

	out := r.Resolve(context.Background(), scraper.Extraction{
		Record: scraper.PostRecord{VideoURL: video},
		Poster: lowRes,
	})

	require.Equal(t, []string{hosted}, out.Images)
	require.Equal(t, []string{video}, posters.calls)
	require.Equal(t, video, out.VideoURL)
}

func TestResolverSynthesisFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	validator := &fakeValidator{accept: map[string]bool{imgA: true}}
	posters := &fakePosters{err: errors.New("ffmpeg exited 1")}
	r := NewResolver(validator, posters, nil)

	out := r.Resolve(context.Background(), scraper.Extraction{
		Record: scraper.PostRecord{ExternalID: "9", Text: "hi", Images: []string{imgA}, VideoURL: video},
	})

	require.Equal(t, "9", out.ExternalID)
	require.Equal(t, []string{imgA}, out.Images)
	require.Equal(t, video, out.VideoURL)
}

func TestResolverNoVideoNoSynthesis(t *testing.T) {
	t.Parallel()

	posters := &fakePosters{url: hosted}
	r := NewResolver(nil, posters, nil)

	out := r.Resolve(context.Background(), scraper.Extraction{
		Record: scraper.PostRecord{Images: []string{imgB}},
	})

	require.Equal(t, []string{imgB}, out.Images)
	require.Empty(t, posters.calls)
}

func TestResolverEmptyImagesIsNonNil(t *testing.T) {
	t.Parallel()

	out := NewResolver(nil, nil, nil).Resolve(context.Background(), scraper.Extraction{})
	require.NotNil(t, out.Images)
	require.Empty(t, out.Images)
}
