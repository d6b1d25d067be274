package media

import (
	"context"

	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/scraper"
)

// ImageValidator decides whether an image URL is kept.
type ImageValidator interface {
	Validate(ctx context.Context, rawURL string) bool
}

// PosterMaker derives a hosted still image from a video.
type PosterMaker interface {
	Synthesize(ctx context.Context, videoURL string) (string, error)
}

// Resolver implements scraper.MediaResolver.
type Resolver struct {
	validator ImageValidator
	posters   PosterMaker
	logger    *zap.Logger
}

// NewResolver builds a Resolver. A nil validator accepts every image and a
// nil posters disables synthesis.
func NewResolver(validator ImageValidator, posters PosterMaker, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{validator: validator, posters: posters, logger: logger}
}

// Resolve validates the extracted images and poster, and synthesizes a poster
// when the record has a video but no usable thumbnail. Media problems only
// shrink the image list; they never invalidate the record.
func (r *Resolver) Resolve(ctx context.Context, extraction scraper.Extraction) scraper.PostRecord {
	record := extraction.Record
	accepted := make([]string, 0, len(record.Images)+1)
	verdicts := make(map[string]bool, len(record.Images)+1)

	check := func(candidate string) bool {
		if ok, seen := verdicts[candidate]; seen {
			return ok
		}
		if !isCanonical(candidate) {
			r.logger.Debug("media left on mirror host",
				zap.String("kind", scraper.MediaUnresolvable.String()),
				zap.String("url", candidate),
			)
		}
		ok := r.validate(ctx, candidate)
		verdicts[candidate] = ok
		if ok {
			accepted = append(accepted, candidate)
		} else {
			r.logger.Info("image dropped",
				zap.String("kind", scraper.MediaInaccessible.String()),
				zap.String("tweet_id", record.ExternalID),
				zap.String("url", candidate),
			)
		}
		return ok
	}

	for _, img := range record.Images {
		if img == "" {
			continue
		}
		check(img)
	}

	posterUsable := false
	if extraction.Poster != "" {
		posterUsable = check(extraction.Poster)
	}

	if record.VideoURL != "" && !posterUsable && r.posters != nil {
		hosted, err := r.posters.Synthesize(ctx, record.VideoURL)
		observePoster(err)
		switch {
		case err != nil:
			r.logger.Warn("poster synthesis failed",
				zap.String("kind", scraper.PosterSynthesisFailed.String()),
				zap.String("tweet_id", record.ExternalID),
				zap.String("video_url", record.VideoURL),
				zap.Error(err),
			)
		case hosted != "":
			if _, dup := verdicts[hosted]; !dup {
				verdicts[hosted] = true
				accepted = append(accepted, hosted)
			}
		}
	}

	record.Images = accepted
	return record
}

func (r *Resolver) validate(ctx context.Context, candidate string) bool {
	if r.validator == nil {
		return true
	}
	return r.validator.Validate(ctx, candidate)
}
