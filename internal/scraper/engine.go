package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/metrics"
)

// Engine drives the instance pool, browser, extractor and media resolver for
// one target at a time. An Engine holds no per-run state and may be shared by
// goroutines fetching independent targets; each call launches its own browser.
type Engine struct {
	launcher  BrowserLauncher
	extractor Extractor
	resolver  MediaResolver
	ids       IDGenerator
	logger    *zap.Logger
	shuffle   Shuffler
}

// Option customizes an Engine.
type Option func(*Engine)

// WithShuffler overrides the randomization used to order candidates.
func WithShuffler(s Shuffler) Option {
	return func(e *Engine) { e.shuffle = s }
}

// WithIDGenerator sets the generator used for run correlation IDs.
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) { e.ids = ids }
}

// NewEngine wires the pipeline. resolver may be nil, in which case extracted
// media is returned without validation.
func NewEngine(
	launcher BrowserLauncher,
	extractor Extractor,
	resolver MediaResolver,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		launcher:  launcher,
		extractor: extractor,
		resolver:  resolver,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FetchLatest tries the shuffled instances in order and returns the first valid
// record. ErrNotFound signals exhaustion; any other error is fatal (the browser
// could not start or ctx ended between attempts).
func (e *Engine) FetchLatest(ctx context.Context, target Target, instances []string) (PostRecord, error) {
	logger := e.logger.With(zap.String("run_id", e.runID()), zap.String("target", target.String()))
	candidates := ShuffleForAttempt(instances, e.shuffle)
	if len(candidates) == 0 {
		metrics.ObserveFetch(target.Kind().String(), "not_found")
		return PostRecord{}, ErrNotFound
	}

	browser, err := e.launcher.Launch(ctx)
	if err != nil {
		return PostRecord{}, fmt.Errorf("launch browser: %w", err)
	}
	defer browser.Close()

	start := time.Now()
	for i, instance := range candidates {
		if err := ctx.Err(); err != nil {
			return PostRecord{}, fmt.Errorf("fetch %s: %w", target, err)
		}
		record, err := e.tryInstance(ctx, browser, instance, target)
		if err != nil {
			kind := KindOf(err)
			metrics.ObserveAttempt(instance, kind.String())
			logger.Warn("instance attempt failed",
				zap.String("instance", instance),
				zap.Int("attempt", i+1),
				zap.Int("candidates", len(candidates)),
				zap.String("kind", kind.String()),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveAttempt(instance, "found")
		metrics.ObserveFetch(target.Kind().String(), "found")
		logger.Info("post found",
			zap.String("instance", instance),
			zap.String("tweet_id", record.ExternalID),
			zap.Int("images", len(record.Images)),
			zap.Bool("video", record.HasVideo()),
			zap.Duration("elapsed", time.Since(start)),
		)
		return record, nil
	}

	metrics.ObserveFetch(target.Kind().String(), "not_found")
	logger.Warn("all instances exhausted", zap.Int("candidates", len(candidates)))
	return PostRecord{}, ErrNotFound
}

func (e *Engine) tryInstance(
	ctx context.Context,
	browser Browser,
	instance string,
	target Target,
) (record PostRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Failure{Instance: instance, Err: fmt.Errorf("panic during attempt: %v", r)}
		}
	}()

	page, err := browser.Open(ctx, instance, target)
	if err != nil {
		return PostRecord{}, asFailure(err, InstanceUnreachable, instance)
	}
	extraction, err := e.extractor.Extract(page, target)
	if err != nil {
		return PostRecord{}, asFailure(err, NoContentFound, instance)
	}
	if !extraction.Record.Valid() {
		return PostRecord{}, Fail(NoContentFound, instance, errors.New("record missing text or permalink"))
	}
	if e.resolver == nil {
		record = extraction.Record
	} else {
		record = e.resolver.Resolve(ctx, extraction)
	}
	if record.Images == nil {
		record.Images = []string{}
	}
	return record, nil
}

func (e *Engine) runID() string {
	if e.ids == nil {
		return ""
	}
	id, err := e.ids.NewID()
	if err != nil {
		e.logger.Debug("run id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func asFailure(err error, fallback FailureKind, instance string) error {
	var f *Failure
	if errors.As(err, &f) {
		if f.Instance == "" {
			f.Instance = instance
		}
		return f
	}
	return Fail(fallback, instance, err)
}
