// Package headless renders mirror pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/metrics"
	"github.com/lixiansky/Colorful-State/internal/scraper"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultChallengeWait     = 5 * time.Second
	defaultChallengeAttempts = 5
	defaultViewportWidth     = 1280
	defaultViewportHeight    = 720
)

// Config controls the browser session driver.
type Config struct {
	NavigationTimeout time.Duration
	ChallengeWait     time.Duration
	ChallengeAttempts int
	ViewportWidth     int
	ViewportHeight    int
	UserAgents        []string
	ExecPath          string
	NoSandbox         bool
}

// ChallengeDetector recognizes anti-bot interstitials.
type ChallengeDetector interface {
	Detect(html string) bool
	// Phrase returns the matched phrase, or "".
	Phrase(html string) string
}

// Launcher implements scraper.BrowserLauncher with a chromedp exec allocator.
type Launcher struct {
	cfg      Config
	detector ChallengeDetector
	logger   *zap.Logger
}

// NewLauncher validates cfg and fills defaults.
func NewLauncher(cfg Config, detector ChallengeDetector, logger *zap.Logger) (*Launcher, error) {
	if detector == nil {
		return nil, fmt.Errorf("challenge detector is required")
	}
	if cfg.ChallengeAttempts < 0 {
		return nil, fmt.Errorf("challenge attempts must be >= 0")
	}
	if cfg.ViewportWidth < 0 || cfg.ViewportHeight < 0 {
		return nil, fmt.Errorf("viewport dimensions must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ChallengeWait <= 0 {
		cfg.ChallengeWait = defaultChallengeWait
	}
	if cfg.ChallengeAttempts == 0 {
		cfg.ChallengeAttempts = defaultChallengeAttempts
	}
	if cfg.ViewportWidth == 0 {
		cfg.ViewportWidth = defaultViewportWidth
	}
	if cfg.ViewportHeight == 0 {
		cfg.ViewportHeight = defaultViewportHeight
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg, detector: detector, logger: logger}, nil
}

// Launch starts one headless Chrome process. The returned session must be
// closed by the caller.
func (l *Launcher) Launch(ctx context.Context) (scraper.Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	l.logger.Debug("browser started")
	return &Session{
		cfg:           l.cfg,
		detector:      l.detector,
		logger:        l.logger,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(l.cfg.ViewportWidth, l.cfg.ViewportHeight),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	if l.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// Session is one running browser process. Open is not safe for concurrent
// use; each attempt runs in its own isolated browser context.
type Session struct {
	cfg           Config
	detector      ChallengeDetector
	logger        *zap.Logger
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
}

// Close terminates the browser process.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.browserCancel()
		s.allocCancel()
	})
}

// Open renders target on instance in a fresh incognito context that is
// disposed before returning.
func (s *Session) Open(ctx context.Context, instance string, target scraper.Target) (scraper.RenderedPage, error) {
	pageURL := target.URL(instance)

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx, chromedp.WithNewBrowserContext())
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()
	backstop := time.AfterFunc(s.cfg.attemptBudget(), tabCancel)
	defer backstop.Stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	userAgent := pickUserAgent(s.cfg.UserAgents)
	s.logger.Debug("navigating",
		zap.String("instance", instance),
		zap.String("url", pageURL),
		zap.String("user_agent", userAgent),
	)

	// The first Run on a context creates the tab and binds its event loop to
	// that context, so it must be the long-lived tab context.
	if err := chromedp.Run(tabCtx, s.prepareAction(userAgent, meta)); err != nil {
		return scraper.RenderedPage{}, scraper.Fail(scraper.InstanceUnreachable, instance, fmt.Errorf("open tab: %w", err))
	}

	navCtx, navCancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	err := chromedp.Run(navCtx, chromedp.Navigate(pageURL), meta.waitNetworkIdle())
	navCancel()
	if err != nil {
		return scraper.RenderedPage{}, scraper.Fail(scraper.InstanceUnreachable, instance, fmt.Errorf("navigate %s: %w", pageURL, err))
	}

	status, finalURL := meta.snapshot(pageURL)
	if kind, err := classifyStatus(status); err != nil {
		return scraper.RenderedPage{}, scraper.Fail(kind, instance, err)
	}

	html, waits, err := s.settle(tabCtx, instance, func(ctx context.Context) (string, error) {
		var html string
		if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			return "", fmt.Errorf("read document: %w", err)
		}
		return html, nil
	})
	if err != nil {
		return scraper.RenderedPage{}, scraper.Fail(scraper.InstanceUnreachable, instance, err)
	}

	return scraper.RenderedPage{
		Instance:       instance,
		URL:            finalURL,
		StatusCode:     status,
		HTML:           html,
		ChallengeWaits: waits,
	}, nil
}

// settle waits out a challenge page within the challenge budget, reading the
// document with snapshot.
func (s *Session) settle(tabCtx context.Context, instance string, snapshot func(context.Context) (string, error)) (string, int, error) {
	ctx, cancel := context.WithTimeout(tabCtx, s.cfg.challengeBudget())
	defer cancel()
	return waitOutChallenge(ctx, challengeLoop{
		detector: s.detector,
		attempts: s.cfg.ChallengeAttempts,
		wait:     s.cfg.ChallengeWait,
		snapshot: snapshot,
		onWait: func(iteration int, html string) {
			metrics.ObserveChallengeWait(instance)
			s.logger.Info("challenge page detected, waiting",
				zap.String("instance", instance),
				zap.String("phrase", s.detector.Phrase(html)),
				zap.Int("iteration", iteration),
				zap.Int("max", s.cfg.ChallengeAttempts),
			)
		},
	})
}

// challengeBudget bounds the whole challenge loop: every wait plus one more
// wait for the document reads.
func (c Config) challengeBudget() time.Duration {
	return time.Duration(c.ChallengeAttempts+2) * c.ChallengeWait
}

// attemptBudget bounds one Open call end to end, tab setup included.
func (c Config) attemptBudget() time.Duration {
	return c.NavigationTimeout + c.challengeBudget() + c.NavigationTimeout/2
}

func (s *Session) prepareAction(userAgent string, meta *responseMeta) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("read frame tree: %w", err)
		}
		meta.setMainFrame(tree.Frame.ID)
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		if err := emulation.SetUserAgentOverride(userAgent).
			WithAcceptLanguage("en-US,en;q=0.9").
			Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(
			int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight), 1, false,
		).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

var errForbidden = errors.New("document status 403")

// classifyStatus maps the document status to a failure kind and cause. A nil
// error means the status is acceptable.
func classifyStatus(status int) (scraper.FailureKind, error) {
	if status == http.StatusForbidden {
		return scraper.InstanceForbidden, errForbidden
	}
	return 0, nil
}

type challengeLoop struct {
	detector ChallengeDetector
	attempts int
	wait     time.Duration
	snapshot func(ctx context.Context) (string, error)
	onWait   func(iteration int, html string)
	sleep    func(ctx context.Context, d time.Duration) error
}

// waitOutChallenge polls the document while it shows a challenge phrase,
// sleeping between polls, and returns the last markup read. A challenge that
// never clears is not an error; extraction decides.
func waitOutChallenge(ctx context.Context, loop challengeLoop) (string, int, error) {
	sleep := loop.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	waits := 0
	for i := 0; i < loop.attempts; i++ {
		html, err := loop.snapshot(ctx)
		if err != nil {
			return "", waits, err
		}
		if !loop.detector.Detect(html) {
			return html, waits, nil
		}
		if loop.onWait != nil {
			loop.onWait(i+1, html)
		}
		if err := sleep(ctx, loop.wait); err != nil {
			return "", waits, fmt.Errorf("challenge wait: %w", err)
		}
		waits++
	}
	html, err := loop.snapshot(ctx)
	if err != nil {
		return "", waits, err
	}
	return html, waits, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func pickUserAgent(pool []string) string {
	if len(pool) == 0 {
		return DefaultUserAgents[0]
	}
	return pool[rand.IntN(len(pool))]
}

// responseMeta tracks the main document response and network idleness of one tab.
type responseMeta struct {
	mu          sync.RWMutex
	mainFrame   cdp.FrameID
	status      int
	url         string
	sawDocument bool
	idle        chan struct{}
}

func newResponseMeta() *responseMeta {
	return &responseMeta{idle: make(chan struct{}, 1)}
}

func (m *responseMeta) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		m.capture(e)
	case *page.EventLifecycleEvent:
		m.lifecycle(e)
	}
}

func (m *responseMeta) setMainFrame(id cdp.FrameID) {
	m.mu.Lock()
	m.mainFrame = id
	m.mu.Unlock()
}

// isMainFrame reports whether id is the tab's top-level frame. Before the
// frame is known every frame counts.
func (m *responseMeta) isMainFrame(id cdp.FrameID) bool {
	return m.mainFrame == "" || id == m.mainFrame
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isMainFrame(event.FrameID) {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.sawDocument = true
}

func (m *responseMeta) lifecycle(event *page.EventLifecycleEvent) {
	if event.Name != "networkIdle" {
		return
	}
	m.mu.RLock()
	ready := m.sawDocument && m.isMainFrame(event.FrameID)
	m.mu.RUnlock()
	if !ready {
		return
	}
	select {
	case m.idle <- struct{}{}:
	default:
	}
}

func (m *responseMeta) waitNetworkIdle() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		select {
		case <-m.idle:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		}
	})
}

// snapshot returns the document status and URL, defaulting to 200 and the
// requested URL when no document response was observed.
func (m *responseMeta) snapshot(requestURL string) (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, url := m.status, m.url
	if status == 0 {
		status = http.StatusOK
	}
	if url == "" {
		url = requestURL
	}
	return status, url
}
