// Package collyfetcher probes mirror instances over plain HTTP with gocolly to
// refresh the instance snapshot.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultParallelism = 4
	defaultProbePath   = "/"
)

// Config controls probe behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	Parallelism int
	// ProbePath is requested on every instance, e.g. "/" or a known profile.
	ProbePath string
}

// ChallengeDetector recognizes anti-bot interstitials.
type ChallengeDetector interface {
	Detect(html string) bool
}

// Result is the verdict for one instance.
type Result struct {
	Instance   string
	StatusCode int
	Healthy    bool
	Reason     string
	Latency    time.Duration
}

// Prober checks instances with a Colly collector behind a Cloudflare-friendly
// transport.
type Prober struct {
	cfg           Config
	detector      ChallengeDetector
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Prober.
func New(cfg Config, detector ChallengeDetector, logger *zap.Logger) (*Prober, error) {
	if detector == nil {
		return nil, fmt.Errorf("challenge detector is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.ProbePath == "" {
		cfg.ProbePath = defaultProbePath
	}
	if !strings.HasPrefix(cfg.ProbePath, "/") {
		cfg.ProbePath = "/" + cfg.ProbePath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(cloudflarebp.AddCloudFlareByPass(newHTTPTransport()))
	// Clones share the base HTTP backend, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)

	return &Prober{cfg: cfg, detector: detector, baseCollector: c, logger: logger}, nil
}

// Healthy probes candidates concurrently and returns the healthy ones in their
// original order, plus every verdict.
func (p *Prober) Healthy(ctx context.Context, candidates []string) ([]string, []Result) {
	results := make([]Result, len(candidates))
	var g errgroup.Group
	g.SetLimit(p.cfg.Parallelism)
	for i, instance := range candidates {
		g.Go(func() error {
			results[i] = p.Probe(ctx, instance)
			return nil
		})
	}
	_ = g.Wait()

	var healthy []string
	for _, r := range results {
		if r.Healthy {
			healthy = append(healthy, r.Instance)
		}
	}
	return healthy, results
}

// Probe requests the probe path on instance. An instance is healthy when it
// answers 200 with a page that is not a challenge.
func (p *Prober) Probe(ctx context.Context, instance string) Result {
	instance = strings.TrimRight(strings.TrimSpace(instance), "/")
	res := Result{Instance: instance}
	var (
		body     []byte
		fetchErr error
		mu       sync.Mutex
	)
	start := time.Now()
	collector := p.buildCollector()
	p.configureCollectorHooks(collector, &mu, &res, &body, &fetchErr)

	err := p.runCollector(ctx, collector, instance+p.cfg.ProbePath)
	res.Latency = time.Since(start)

	mu.Lock()
	defer mu.Unlock()
	switch {
	case err != nil:
		res.Reason = err.Error()
	case fetchErr != nil:
		res.Reason = fetchErr.Error()
	case res.StatusCode != http.StatusOK:
		res.Reason = fmt.Sprintf("status %d", res.StatusCode)
	case p.detector.Detect(string(body)):
		res.Reason = "challenge page"
	default:
		res.Healthy = true
	}
	p.logger.Debug("instance probed",
		zap.String("instance", instance),
		zap.Int("status", res.StatusCode),
		zap.Bool("healthy", res.Healthy),
		zap.String("reason", res.Reason),
		zap.Duration("latency", res.Latency),
	)
	return res
}

func (p *Prober) buildCollector() *colly.Collector {
	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	return collector
}

func (p *Prober) configureCollectorHooks(
	hooks collectorHooks,
	mu *sync.Mutex,
	result *Result,
	body *[]byte,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		mu.Lock()
		defer mu.Unlock()
		result.StatusCode = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if r != nil && r.StatusCode != 0 {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (p *Prober) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("probe visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
