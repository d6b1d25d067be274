package headless

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/headless/detector"
	"github.com/lixiansky/Colorful-State/internal/scraper"
)

func TestNewLauncherDefaults(t *testing.T) {
	t.Parallel()

	l, err := NewLauncher(Config{}, detector.NewChallenge(nil), nil)
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, l.cfg.NavigationTimeout)
	require.Equal(t, 5*time.Second, l.cfg.ChallengeWait)
	require.Equal(t, 5, l.cfg.ChallengeAttempts)
	require.Equal(t, 1280, l.cfg.ViewportWidth)
	require.Equal(t, 720, l.cfg.ViewportHeight)
	require.Equal(t, DefaultUserAgents, l.cfg.UserAgents)
}

func TestNewLauncherValidation(t *testing.T) {
	t.Parallel()

	_, err := NewLauncher(Config{}, nil, nil)
	require.Error(t, err)
	_, err = NewLauncher(Config{ChallengeAttempts: -1}, detector.NewChallenge(nil), nil)
	require.Error(t, err)
	_, err = NewLauncher(Config{ViewportWidth: -1}, detector.NewChallenge(nil), nil)
	require.Error(t, err)
}

func TestAllocatorOptionsIncludeOverrides(t *testing.T) {
	t.Parallel()

	base, err := NewLauncher(Config{}, detector.NewChallenge(nil), nil)
	require.NoError(t, err)
	custom, err := NewLauncher(Config{ExecPath: "/usr/bin/chromium", NoSandbox: true}, detector.NewChallenge(nil), nil)
	require.NoError(t, err)
	require.Len(t, custom.allocatorOptions(), len(base.allocatorOptions())+2)
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusOK, http.StatusNotFound} {
		_, err := classifyStatus(status)
		require.NoError(t, err)
	}
	kind, err := classifyStatus(http.StatusForbidden)
	require.Equal(t, scraper.InstanceForbidden, kind)
	require.ErrorIs(t, err, errForbidden)

	wrapped := scraper.Fail(kind, "https://nitter.net", err)
	require.Equal(t, "forbidden on https://nitter.net: document status 403", wrapped.Error())
}

func TestPickUserAgentFromPool(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		require.Contains(t, DefaultUserAgents, pickUserAgent(DefaultUserAgents))
	}
	require.Equal(t, DefaultUserAgents[0], pickUserAgent(nil))
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://nitter.net/pic/x.jpg"},
	})
	status, url := meta.snapshot("https://nitter.net/user")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://nitter.net/user", url)

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 403, URL: "https://nitter.net/user"},
	})
	status, url = meta.snapshot("https://req")
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "https://nitter.net/user", url)
}

func TestResponseMetaIgnoresSubframes(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.setMainFrame("main")
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "main",
		Response: &network.Response{Status: 200, URL: "https://nitter.net/user"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "ad-frame",
		Response: &network.Response{Status: 403, URL: "https://ads.example.com/frame"},
	})
	status, url := meta.snapshot("https://req")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://nitter.net/user", url)

	meta.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle", FrameID: "ad-frame"})
	require.Empty(t, meta.idle)
	meta.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle", FrameID: "main"})
	require.Len(t, meta.idle, 1)

	blocked := newResponseMeta()
	blocked.setMainFrame("main")
	blocked.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "main",
		Response: &network.Response{Status: 403, URL: "https://nitter.net/user"},
	})
	blocked.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		FrameID:  "embed",
		Response: &network.Response{Status: 200, URL: "https://embed.example.com"},
	})
	status, _ = blocked.snapshot("https://req")
	require.Equal(t, http.StatusForbidden, status)
}

func TestResponseMetaIdleRequiresDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})
	require.Empty(t, meta.idle)

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://nitter.net/user"},
	})
	meta.captureEvent(&page.EventLifecycleEvent{Name: "load"})
	require.Empty(t, meta.idle)
	meta.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})
	meta.captureEvent(&page.EventLifecycleEvent{Name: "networkIdle"})
	require.Len(t, meta.idle, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, meta.waitNetworkIdle().Do(ctx))
}

func TestWaitNetworkIdleHonorsDeadline(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := meta.waitNetworkIdle().Do(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type pageSequence struct {
	pages []string
	calls int
}

func (p *pageSequence) snapshot(context.Context) (string, error) {
	idx := p.calls
	if idx >= len(p.pages) {
		idx = len(p.pages) - 1
	}
	p.calls++
	return p.pages[idx], nil
}

func noSleep(slept *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
}

func TestWaitOutChallengeClearsAfterWaits(t *testing.T) {
	t.Parallel()

	seq := &pageSequence{pages: []string{
		"<title>Just a moment...</title>",
		"<title>Just a moment...</title>",
		`<div class="timeline-item">ok</div>`,
	}}
	var slept []time.Duration
	var notified []int
	html, waits, err := waitOutChallenge(context.Background(), challengeLoop{
		detector: detector.NewChallenge(nil),
		attempts: 5,
		wait:     5 * time.Second,
		snapshot: seq.snapshot,
		onWait: func(i int, html string) {
			notified = append(notified, i)
			require.Equal(t, "<title>Just a moment...</title>", html)
		},
		sleep:    noSleep(&slept),
	})
	require.NoError(t, err)
	require.Equal(t, `<div class="timeline-item">ok</div>`, html)
	require.Equal(t, 2, waits)
	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, slept)
	require.Equal(t, []int{1, 2}, notified)
}

func TestWaitOutChallengeProceedsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	seq := &pageSequence{pages: []string{"Checking your browser"}}
	var slept []time.Duration
	html, waits, err := waitOutChallenge(context.Background(), challengeLoop{
		detector: detector.NewChallenge(nil),
		attempts: 5,
		wait:     5 * time.Second,
		snapshot: seq.snapshot,
		sleep:    noSleep(&slept),
	})
	require.NoError(t, err)
	require.Equal(t, "Checking your browser", html)
	require.Equal(t, 5, waits)
	require.Len(t, slept, 5)
	require.Equal(t, 6, seq.calls)
}

func TestWaitOutChallengeSnapshotError(t *testing.T) {
	t.Parallel()

	boom := errors.New("target closed")
	_, _, err := waitOutChallenge(context.Background(), challengeLoop{
		detector: detector.NewChallenge(nil),
		attempts: 5,
		snapshot: func(context.Context) (string, error) { return "", boom },
	})
	require.ErrorIs(t, err, boom)
}

func TestSleepCtxCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}

func TestBudgets(t *testing.T) {
	t.Parallel()

	cfg := Config{NavigationTimeout: 45 * time.Second, ChallengeWait: 5 * time.Second, ChallengeAttempts: 5}
	require.Equal(t, 35*time.Second, cfg.challengeBudget())
	require.Greater(t, cfg.challengeBudget(), time.Duration(cfg.ChallengeAttempts)*cfg.ChallengeWait)
	require.Greater(t, cfg.attemptBudget(), cfg.NavigationTimeout+cfg.challengeBudget())
}

func TestSettleReturnsAfterNavigationDeadline(t *testing.T) {
	t.Parallel()

	s := &Session{
		cfg:      Config{NavigationTimeout: 10 * time.Millisecond, ChallengeWait: 20 * time.Millisecond, ChallengeAttempts: 2},
		detector: detector.NewChallenge(nil),
		logger:   zap.NewNop(),
	}
	tabCtx, cancelTab := context.WithCancel(context.Background())
	defer cancelTab()

	navCtx, navCancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer navCancel()
	<-navCtx.Done()

	// The first read shows a challenge; later reads never answer, as a tab
	// whose event loop has stopped would behave.
	calls := 0
	stalled := func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "<title>Just a moment...</title>", nil
		}
		<-ctx.Done()
		return "", ctx.Err()
	}

	type outcome struct {
		waits int
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		_, waits, err := s.settle(tabCtx, "https://nitter.net", stalled)
		done <- outcome{waits: waits, err: err}
	}()

	select {
	case got := <-done:
		require.ErrorIs(t, got.err, context.DeadlineExceeded)
		require.Equal(t, 1, got.waits)
		require.NoError(t, tabCtx.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("challenge loop did not honor its budget")
	}
}
