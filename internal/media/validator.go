package media

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/metrics"
)

const defaultProbeTimeout = 10 * time.Second

// Waiter paces outbound requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// ValidatorConfig controls image probes.
type ValidatorConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// Validator checks that an image URL is live, full-resolution and serves an
// image content type.
type Validator struct {
	client  *resty.Client
	limiter Waiter
	logger  *zap.Logger
}

// NewValidator builds a Validator. limiter may be nil.
func NewValidator(cfg ValidatorConfig, limiter Waiter, logger *zap.Logger) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Validator{client: client, limiter: limiter, logger: logger}
}

// Validate reports whether rawURL is usable as a display image. URLs carrying
// a thumbnail marker are rejected without any request. Otherwise the response
// headers of a streamed GET decide; the body is never read.
func (v *Validator) Validate(ctx context.Context, rawURL string) bool {
	if HasLowResMarker(rawURL) {
		v.reject(rawURL, "low_res", zap.String("reason", "thumbnail marker"))
		return false
	}
	if v.limiter != nil {
		if err := v.limiter.Wait(ctx, rawURL); err != nil {
			v.reject(rawURL, "rate_limited", zap.Error(err))
			return false
		}
	}

	resp, err := v.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		v.reject(rawURL, "network", zap.Error(err))
		return false
	}
	if body := resp.RawBody(); body != nil {
		defer body.Close() //nolint:errcheck // body is never read
	}

	if resp.StatusCode() != http.StatusOK {
		v.reject(rawURL, "status", zap.Int("status", resp.StatusCode()))
		return false
	}
	contentType := strings.ToLower(strings.TrimSpace(resp.Header().Get("Content-Type")))
	if !strings.HasPrefix(contentType, "image/") {
		v.reject(rawURL, "content_type", zap.String("content_type", contentType))
		return false
	}
	metrics.ObserveMediaValidation("accepted")
	return true
}

func (v *Validator) reject(rawURL, reason string, fields ...zap.Field) {
	metrics.ObserveMediaValidation("rejected_" + reason)
	v.logger.Info("image rejected", append([]zap.Field{zap.String("url", rawURL)}, fields...)...)
}
