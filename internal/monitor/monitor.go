// Package monitor runs fetch cycles: the batch file of specific posts first,
// then the watched accounts and searches. Each found post is translated,
// stored and announced.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lixiansky/Colorful-State/internal/metrics"
	"github.com/lixiansky/Colorful-State/internal/scraper"
	"github.com/lixiansky/Colorful-State/internal/storage"
	"github.com/lixiansky/Colorful-State/internal/translate"
)

// MinInterval is the shortest loop interval accepted.
const MinInterval = 10 * time.Second

// Fetcher retrieves the latest post for a target.
type Fetcher interface {
	FetchLatest(ctx context.Context, target scraper.Target, instances []string) (scraper.PostRecord, error)
}

// Translator renders post text in Simplified Chinese.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Notifier announces stored posts.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Config controls what a cycle fetches and how.
type Config struct {
	// URLFile lists specific posts to fetch once. Missing is fine.
	URLFile string
	// Targets are fetched every cycle.
	Targets []scraper.Target
	// Concurrency bounds how many targets are fetched at once.
	Concurrency int
	// Interval is the loop period.
	Interval time.Duration
	// NotifyTopic receives an announcement per stored post.
	NotifyTopic string
}

// Summary describes one cycle or repair run.
type Summary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Configured int       `json:"configured"`
	Known      int       `json:"already_stored"`
	Pending    int       `json:"pending"`
	Invalid    int       `json:"invalid"`
	Targets    int       `json:"targets"`
	Found      int       `json:"found"`
	NotFound   int       `json:"not_found"`
	Failed     int       `json:"failed"`
	Stored     int       `json:"stored"`
}

// Elapsed is the run duration.
func (s Summary) Elapsed() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// Announcement is the payload published for each stored post.
type Announcement struct {
	ID int64 `json:"id"`
	scraper.PostRecord
	ContentZH *string `json:"content_zh"`
}

// Monitor owns the collaborators around the fetch engine.
type Monitor struct {
	cfg        Config
	fetcher    Fetcher
	store      storage.PostStore
	instances  []string
	translator Translator
	notifier   Notifier
	clock      Clock
	report     io.Writer
	logger     *zap.Logger

	last atomic.Pointer[Summary]
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithTranslator enables translation before storing.
func WithTranslator(t Translator) Option { return func(m *Monitor) { m.translator = t } }

// WithNotifier enables announcements after storing.
func WithNotifier(n Notifier) Option { return func(m *Monitor) { m.notifier = n } }

// WithClock overrides the clock.
func WithClock(c Clock) Option { return func(m *Monitor) { m.clock = c } }

// WithReport prints the batch status table to w every cycle.
func WithReport(w io.Writer) Option { return func(m *Monitor) { m.report = w } }

// New validates dependencies and fills defaults. instances is the mirror pool
// loaded once for the process lifetime.
func New(cfg Config, fetcher Fetcher, store storage.PostStore, instances []string, logger *zap.Logger, opts ...Option) (*Monitor, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("post store is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Interval < MinInterval {
		cfg.Interval = MinInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		cfg:       cfg,
		fetcher:   fetcher,
		store:     store,
		instances: append([]string(nil), instances...),
		clock:     realClock{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LastCycle returns the summary of the most recent finished cycle.
func (m *Monitor) LastCycle() (Summary, bool) {
	s := m.last.Load()
	if s == nil {
		return Summary{}, false
	}
	return *s, true
}

// Cycle runs the batch file then the watched targets once.
func (m *Monitor) Cycle(ctx context.Context) (Summary, error) {
	sum := Summary{StartedAt: m.clock.Now()}

	entries, invalid, err := ReadURLFile(m.cfg.URLFile)
	if err != nil {
		m.logger.Warn("url file unreadable", zap.String("path", m.cfg.URLFile), zap.Error(err))
	}
	for _, line := range invalid {
		m.logger.Warn("invalid post url", zap.String("line", line))
	}
	sum.Invalid = len(invalid)

	var targets []scraper.Target
	if len(entries) > 0 {
		stored, pending := CheckStatus(ctx, m.store, entries, m.logger)
		sum.Configured = len(entries)
		sum.Known = len(stored)
		sum.Pending = len(pending)
		if m.report != nil {
			RenderStatus(m.report, stored, pending)
		}
		for _, p := range pending {
			targets = append(targets, p.Target)
		}
	}
	targets = append(targets, m.cfg.Targets...)

	err = m.fetchAll(ctx, targets, &sum)
	sum.FinishedAt = m.clock.Now()
	metrics.ObserveCycle(sum.Elapsed())
	m.last.Store(&sum)
	return sum, err
}

// Run executes a cycle immediately and then every Interval until ctx ends.
// A cycle still running when the next one is due causes that tick to be
// skipped.
func (m *Monitor) Run(ctx context.Context) error {
	cl := cronLogger{log: m.logger.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	id, err := c.AddFunc("@every "+m.cfg.Interval.String(), func() { m.runCycle(ctx) })
	if err != nil {
		return fmt.Errorf("schedule cycle: %w", err)
	}
	c.Start()
	m.logger.Info("monitor loop started", zap.Duration("interval", m.cfg.Interval))
	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		c.Entry(id).WrappedJob.Run()
	}()

	<-ctx.Done()
	<-c.Stop().Done()
	first.Wait()
	m.logger.Info("monitor loop stopped")
	return nil
}

func (m *Monitor) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sum, err := m.Cycle(ctx)
	fields := []zap.Field{
		zap.Int("targets", sum.Targets),
		zap.Int("found", sum.Found),
		zap.Int("not_found", sum.NotFound),
		zap.Int("failed", sum.Failed),
		zap.Int("stored", sum.Stored),
		zap.Duration("elapsed", sum.Elapsed()),
	}
	if err != nil {
		m.logger.Warn("cycle interrupted", append(fields, zap.Error(err))...)
		return
	}
	m.logger.Info("cycle finished", fields...)
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeNotFound
	outcomeFound
	outcomeStored
)

type tally struct {
	mu  sync.Mutex
	sum *Summary
}

func (t *tally) add(o outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o {
	case outcomeStored:
		t.sum.Stored++
		t.sum.Found++
	case outcomeFound:
		t.sum.Found++
	case outcomeNotFound:
		t.sum.NotFound++
	default:
		t.sum.Failed++
	}
}

func (m *Monitor) fetchAll(ctx context.Context, targets []scraper.Target, sum *Summary) error {
	sum.Targets += len(targets)
	t := &tally{sum: sum}
	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			t.add(m.process(ctx, target))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cycle: %w", err)
	}
	return nil
}

func (m *Monitor) process(ctx context.Context, target scraper.Target) outcome {
	logger := m.logger.With(zap.String("target", target.String()))
	record, err := m.fetcher.FetchLatest(ctx, target, m.instances)
	switch {
	case errors.Is(err, scraper.ErrNotFound):
		logger.Warn("no post found")
		return outcomeNotFound
	case err != nil:
		logger.Error("fetch failed", zap.Error(err))
		return outcomeFailed
	}
	if _, err := m.Store(ctx, record); err != nil {
		logger.Error("store failed", zap.String("tweet_id", record.ExternalID), zap.Error(err))
		return outcomeFound
	}
	return outcomeStored
}

// Store translates, upserts and announces one record.
func (m *Monitor) Store(ctx context.Context, record scraper.PostRecord) (int64, error) {
	translation := m.translate(ctx, record)
	id, err := m.store.Upsert(ctx, storage.FromRecord(record, translation))
	if err != nil {
		metrics.ObserveStored("error")
		return 0, fmt.Errorf("store post %s: %w", record.ExternalID, err)
	}
	metrics.ObserveStored("ok")
	m.logger.Info("post stored",
		zap.Int64("id", id),
		zap.String("tweet_id", record.ExternalID),
		zap.Bool("translated", translation != nil),
	)
	m.announce(ctx, id, record, translation)
	return id, nil
}

func (m *Monitor) translate(ctx context.Context, record scraper.PostRecord) *string {
	if m.translator == nil {
		return nil
	}
	text, err := m.translator.Translate(ctx, record.Text)
	switch {
	case errors.Is(err, translate.ErrUnavailable):
		return nil
	case err != nil:
		m.logger.Warn("translation failed", zap.String("tweet_id", record.ExternalID), zap.Error(err))
		return nil
	case text == "":
		return nil
	}
	return &text
}

func (m *Monitor) announce(ctx context.Context, id int64, record scraper.PostRecord, translation *string) {
	if m.notifier == nil || m.cfg.NotifyTopic == "" {
		return
	}
	msgID, err := m.notifier.Publish(ctx, m.cfg.NotifyTopic, Announcement{ID: id, PostRecord: record, ContentZH: translation})
	if err != nil {
		m.logger.Warn("announce failed", zap.String("tweet_id", record.ExternalID), zap.Error(err))
		return
	}
	m.logger.Debug("post announced", zap.String("tweet_id", record.ExternalID), zap.String("message_id", msgID))
}

type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
