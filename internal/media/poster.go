package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/metrics"
)

const defaultChunkTimeout = 30 * time.Second

// FrameGrabber decodes one representative frame of src into a JPEG file.
// src is either a local file or a stream manifest URL.
type FrameGrabber interface {
	GrabFrame(ctx context.Context, src, out string) error
}

// ImageHost publishes an image and returns its public URL.
type ImageHost interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Hasher derives stable object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// PosterConfig controls poster synthesis.
type PosterConfig struct {
	// TempDir is the parent of per-call scratch directories; empty uses os.TempDir.
	TempDir string
	// Prefix is the object path prefix on the image host.
	Prefix string
	// ChunkTimeout bounds connection setup and waiting for response headers.
	// The body download itself is not bounded.
	ChunkTimeout time.Duration
	UserAgent    string
}

// PosterSynthesizer extracts a frame from a video and re-hosts it as a poster.
type PosterSynthesizer struct {
	cfg     PosterConfig
	grabber FrameGrabber
	host    ImageHost
	hasher  Hasher
	client  *resty.Client
	logger  *zap.Logger
}

// NewPosterSynthesizer wires the synthesizer.
func NewPosterSynthesizer(
	cfg PosterConfig,
	grabber FrameGrabber,
	host ImageHost,
	hasher Hasher,
	logger *zap.Logger,
) (*PosterSynthesizer, error) {
	if grabber == nil {
		return nil, errors.New("frame grabber is required")
	}
	if host == nil {
		return nil, errors.New("image host is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "posters"
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = defaultChunkTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().SetTransport(streamTransport(cfg.ChunkTimeout))
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &PosterSynthesizer{
		cfg:     cfg,
		grabber: grabber,
		host:    host,
		hasher:  hasher,
		client:  client,
		logger:  logger,
	}, nil
}

// Synthesize produces a hosted poster image for videoURL. Scratch files are
// removed before it returns, whatever the outcome.
func (p *PosterSynthesizer) Synthesize(ctx context.Context, videoURL string) (string, error) {
	dir, err := os.MkdirTemp(p.cfg.TempDir, "poster-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			p.logger.Warn("poster scratch cleanup failed", zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	src := videoURL
	if !IsManifest(videoURL) {
		src = filepath.Join(dir, "video"+videoExt(videoURL))
		if err := p.download(ctx, videoURL, src); err != nil {
			return "", err
		}
	}

	framePath := filepath.Join(dir, "frame.jpg")
	if err := p.grabber.GrabFrame(ctx, src, framePath); err != nil {
		return "", fmt.Errorf("grab frame: %w", err)
	}
	info, err := os.Stat(framePath)
	if err != nil || info.Size() == 0 {
		return "", errors.New("grab frame: no frame decoded")
	}

	frame, err := os.Open(framePath) // #nosec G304 -- path built inside our scratch dir.
	if err != nil {
		return "", fmt.Errorf("open frame: %w", err)
	}
	defer frame.Close() //nolint:errcheck // read-only

	name, err := p.objectName(videoURL)
	if err != nil {
		return "", err
	}
	hosted, err := p.host.PutObject(ctx, name, "image/jpeg", frame)
	if err != nil {
		return "", fmt.Errorf("publish poster: %w", err)
	}
	return hosted, nil
}

func (p *PosterSynthesizer) download(ctx context.Context, videoURL, dest string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(videoURL)
	if err != nil {
		return fmt.Errorf("download video: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("download video: status %d", resp.StatusCode())
	}
	return nil
}

func (p *PosterSynthesizer) objectName(videoURL string) (string, error) {
	sum, err := p.hasher.Hash([]byte(videoURL))
	if err != nil {
		return "", fmt.Errorf("hash video url: %w", err)
	}
	if len(sum) > 32 {
		sum = sum[:32]
	}
	return path.Join(p.cfg.Prefix, sum+".jpg"), nil
}

func videoExt(videoURL string) string {
	clean := cutAny(videoURL, "?#")
	ext := strings.ToLower(path.Ext(clean))
	if ext == "" || len(ext) > 5 {
		return ".mp4"
	}
	return ext
}

func streamTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// observePoster records the synthesis verdict.
func observePoster(err error) {
	if err != nil {
		metrics.ObservePosterSynthesis("failed")
		return
	}
	metrics.ObservePosterSynthesis("hosted")
}
