// Package app builds and holds the long-lived services behind the CLI
// commands. Services are created on first use so a command only opens what it
// needs: "instances refresh" never touches the database, "status" never
// launches a browser.
package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/clock/system"
	"github.com/lixiansky/Colorful-State/internal/config"
	"github.com/lixiansky/Colorful-State/internal/export"
	"github.com/lixiansky/Colorful-State/internal/extract"
	collyfetcher "github.com/lixiansky/Colorful-State/internal/fetcher/colly"
	"github.com/lixiansky/Colorful-State/internal/fetcher/headless"
	"github.com/lixiansky/Colorful-State/internal/ffmpeg"
	"github.com/lixiansky/Colorful-State/internal/hash/sha256"
	"github.com/lixiansky/Colorful-State/internal/headless/detector"
	"github.com/lixiansky/Colorful-State/internal/id/uuid"
	"github.com/lixiansky/Colorful-State/internal/media"
	"github.com/lixiansky/Colorful-State/internal/metrics"
	"github.com/lixiansky/Colorful-State/internal/monitor"
	"github.com/lixiansky/Colorful-State/internal/policy/ratelimit"
	pubsubpub "github.com/lixiansky/Colorful-State/internal/publisher/pubsub"
	"github.com/lixiansky/Colorful-State/internal/scraper"
	"github.com/lixiansky/Colorful-State/internal/storage"
	"github.com/lixiansky/Colorful-State/internal/storage/gcs"
	"github.com/lixiansky/Colorful-State/internal/storage/local"
	"github.com/lixiansky/Colorful-State/internal/storage/memory"
	"github.com/lixiansky/Colorful-State/internal/storage/postgres"
	"github.com/lixiansky/Colorful-State/internal/storage/sqlite"
	"github.com/lixiansky/Colorful-State/internal/translate"
)

// posterNameLength is the number of digest characters in poster object names.
const posterNameLength = 32

// App holds the shared services for one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	detector  *detector.Challenge
	instances []string

	mu      sync.Mutex
	engine  *scraper.Engine
	store   storage.PostStore
	monitor *monitor.Monitor
	closers []func()
}

// New prepares an App. Nothing is dialed or launched yet.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &App{
		cfg:      cfg,
		logger:   logger,
		clock:    system.New(),
		detector: detector.NewChallenge(cfg.Browser.ChallengePhrases),
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Instances loads the mirror pool once per process.
func (a *App) Instances() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.instances == nil {
		a.instances = scraper.LoadInstances(a.cfg.Instances.Path, a.logger)
	}
	return append([]string(nil), a.instances...)
}

// Engine builds the fetch orchestrator.
func (a *App) Engine(ctx context.Context) (*scraper.Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine != nil {
		return a.engine, nil
	}

	b := a.cfg.Browser
	launcher, err := headless.NewLauncher(headless.Config{
		NavigationTimeout: b.NavigationTimeout,
		ChallengeWait:     b.ChallengeWait,
		ChallengeAttempts: b.ChallengeAttempts,
		ViewportWidth:     b.ViewportWidth,
		ViewportHeight:    b.ViewportHeight,
		UserAgents:        b.UserAgents,
		ExecPath:          b.ExecPath,
		NoSandbox:         b.NoSandbox,
	}, a.detector, a.logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("build browser launcher: %w", err)
	}

	m := a.cfg.Media
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: m.HostRPS, DefaultBurst: m.HostBurst})
	validator := media.NewValidator(media.ValidatorConfig{
		Timeout:   m.ProbeTimeout,
		UserAgent: m.UserAgent,
	}, limiter, a.logger.Named("media"))

	var posters media.PosterMaker
	if m.SynthesizePosters {
		synth, err := a.posterSynthesizer(ctx)
		if err != nil {
			a.logger.Warn("poster synthesis disabled", zap.Error(err))
		} else if synth != nil {
			posters = synth
		}
	}

	a.engine = scraper.NewEngine(
		launcher,
		extract.New(),
		media.NewResolver(validator, posters, a.logger.Named("media")),
		a.logger.Named("engine"),
		scraper.WithIDGenerator(uuid.New("fetch")),
	)
	return a.engine, nil
}

// posterSynthesizer returns nil without error when the image host is disabled.
func (a *App) posterSynthesizer(ctx context.Context) (*media.PosterSynthesizer, error) {
	host, err := a.blobStore(ctx, a.cfg.ImageHost)
	if err != nil {
		return nil, fmt.Errorf("open image host: %w", err)
	}
	if host == nil {
		return nil, nil
	}
	grabber, err := ffmpeg.New()
	if err != nil {
		return nil, err
	}
	m := a.cfg.Media
	synth, err := media.NewPosterSynthesizer(media.PosterConfig{
		TempDir:      m.PosterTempDir,
		Prefix:       m.PosterPrefix,
		ChunkTimeout: m.ChunkTimeout,
		UserAgent:    m.UserAgent,
	}, grabber, host, sha256.NewTruncated(posterNameLength), a.logger.Named("poster"))
	if err != nil {
		return nil, fmt.Errorf("build poster synthesizer: %w", err)
	}
	return synth, nil
}

// blobStore opens the store selected by bc. Kind "none" yields nil.
func (a *App) blobStore(ctx context.Context, bc config.BlobConfig) (storage.BlobStore, error) {
	switch bc.Kind {
	case config.BlobLocal:
		store, err := local.New(local.Config{BaseDir: bc.Dir, PublicBaseURL: bc.PublicBaseURL})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BlobGCS:
		store, err := gcs.Open(ctx, bc.GCS)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, nil
	case config.BlobMemory:
		return memory.NewBlobStore(), nil
	case config.BlobNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported blob store kind %q", bc.Kind)
	}
}

// Store opens the configured post store. Without a database a NoOpStore is
// returned, so fetched posts are logged but not persisted.
func (a *App) Store(ctx context.Context) (storage.PostStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.storeLocked(ctx)
}

func (a *App) storeLocked(ctx context.Context) (storage.PostStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	var (
		store storage.PostStore
		err   error
	)
	switch driver := a.cfg.StoreDriver(); driver {
	case config.DriverPostgres:
		store, err = postgres.New(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		})
	case config.DriverSQLite:
		store, err = sqlite.Open(a.cfg.DB.Path, a.clock)
	case config.DriverNone:
		a.logger.Warn("no database configured; posts will not be stored")
		store = storage.NoOpStore{}
	default:
		err = fmt.Errorf("unsupported db driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open post store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// Monitor wires the cycle runner. report receives the batch status table
// each cycle; it may be nil.
func (a *App) Monitor(ctx context.Context, report io.Writer) (*monitor.Monitor, error) {
	engine, err := a.Engine(ctx)
	if err != nil {
		return nil, err
	}
	instances := a.Instances()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.monitor != nil {
		return a.monitor, nil
	}
	store, err := a.storeLocked(ctx)
	if err != nil {
		return nil, err
	}
	targets, err := a.cfg.Targets()
	if err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}

	opts := []monitor.Option{monitor.WithClock(a.clock)}
	if report != nil {
		opts = append(opts, monitor.WithReport(report))
	}
	if tr := a.translator(); tr.Enabled() {
		opts = append(opts, monitor.WithTranslator(tr))
	} else {
		a.logger.Info("translation disabled; set DEEPSEEK_API_KEY to enable")
	}
	if a.cfg.PubSub.Topic != "" {
		pub, err := pubsubpub.Open(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("open pubsub: %w", err)
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		opts = append(opts, monitor.WithNotifier(pub))
	}

	m, err := monitor.New(monitor.Config{
		URLFile:     a.cfg.Monitor.URLFile,
		Targets:     targets,
		Concurrency: a.cfg.Monitor.Concurrency,
		Interval:    a.cfg.Interval(),
		NotifyTopic: a.cfg.PubSub.Topic,
	}, engine, store, instances, a.logger.Named("monitor"), opts...)
	if err != nil {
		return nil, fmt.Errorf("build monitor: %w", err)
	}
	a.monitor = m
	return m, nil
}

func (a *App) translator() *translate.DeepSeek {
	t := a.cfg.Translate
	return translate.New(translate.Config{
		APIKey:      t.APIKey,
		BaseURL:     t.BaseURL,
		Model:       t.Model,
		Temperature: t.Temperature,
		MaxTokens:   t.MaxTokens,
		Timeout:     t.Timeout,
	}, a.logger.Named("translate"))
}

// Exporter builds the site data exporter. dryRun swaps the configured target
// for an in-memory store, which is returned so callers can inspect it.
func (a *App) Exporter(ctx context.Context, dryRun bool) (*export.Exporter, *memory.BlobStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	store, err := a.storeLocked(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		target storage.BlobStore
		dry    *memory.BlobStore
	)
	if dryRun {
		dry = memory.NewBlobStore()
		target = dry
	} else {
		target, err = a.blobStore(ctx, a.cfg.Export)
		if err != nil {
			return nil, nil, fmt.Errorf("open export target: %w", err)
		}
		if target == nil {
			return nil, nil, fmt.Errorf("export.kind is none")
		}
	}
	exp, err := export.New(store, target, a.clock, a.logger.Named("export"))
	if err != nil {
		return nil, nil, fmt.Errorf("build exporter: %w", err)
	}
	return exp, dry, nil
}

// Prober builds the instance health prober.
func (a *App) Prober() (*collyfetcher.Prober, error) {
	ic := a.cfg.Instances
	ua := a.cfg.Media.UserAgent
	if ua == "" && len(a.cfg.Browser.UserAgents) > 0 {
		ua = a.cfg.Browser.UserAgents[0]
	}
	if ua == "" {
		ua = headless.DefaultUserAgents[0]
	}
	p, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:   ua,
		Timeout:     ic.ProbeTimeout,
		Parallelism: ic.ProbeParallelism,
		ProbePath:   ic.ProbePath,
	}, a.detector, a.logger.Named("prober"))
	if err != nil {
		return nil, fmt.Errorf("build prober: %w", err)
	}
	return p, nil
}

// RefreshInstances probes candidates (the configured list, else the current
// pool plus the built-in list) and saves the healthy ones as the snapshot.
func (a *App) RefreshInstances(ctx context.Context) ([]string, []collyfetcher.Result, error) {
	prober, err := a.Prober()
	if err != nil {
		return nil, nil, err
	}
	candidates := scraper.NormalizeInstances(a.cfg.Instances.Candidates)
	if len(candidates) == 0 {
		candidates = scraper.NormalizeInstances(append(a.Instances(), scraper.FallbackInstances...))
	}
	healthy, results := prober.Healthy(ctx, candidates)
	if len(healthy) == 0 {
		return nil, results, fmt.Errorf("no healthy instance among %d candidates", len(candidates))
	}
	if err := scraper.SaveInstances(a.cfg.Instances.Path, healthy); err != nil {
		return nil, results, fmt.Errorf("save instances: %w", err)
	}
	a.mu.Lock()
	a.instances = append([]string(nil), healthy...)
	a.mu.Unlock()
	return healthy, results, nil
}

// Close releases every opened service in reverse order.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	_ = a.logger.Sync()
}
