// Package translate turns post text into Simplified Chinese through the
// DeepSeek chat completions API.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when no API key is configured.
var ErrUnavailable = errors.New("translation is not configured")

const (
	// DefaultBaseURL is the public DeepSeek endpoint.
	DefaultBaseURL = "https://api.deepseek.com"
	// DefaultModel is the chat model used for translation.
	DefaultModel = "deepseek-chat"

	defaultTimeout     = 60 * time.Second
	defaultTemperature = 1.3
	defaultMaxTokens   = 2000

	systemPrompt = "你是一个专业的翻译助手，请将用户提供的文本翻译成简体中文。只返回翻译结果，不要添加任何解释或额外内容。"
	userPrompt   = "请将以下文本翻译成简体中文：\n\n"
)

// Config controls the DeepSeek client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// DeepSeek translates text with one chat completion per call.
type DeepSeek struct {
	cfg    Config
	client *resty.Client
	logger *zap.Logger
}

// New fills defaults. A missing API key is not an error here; Translate
// reports ErrUnavailable instead so callers can store posts untranslated.
func New(cfg Config, logger *zap.Logger) *DeepSeek {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &DeepSeek{cfg: cfg, client: client, logger: logger}
}

// Enabled reports whether an API key is configured.
func (d *DeepSeek) Enabled() bool {
	return d != nil && d.cfg.APIKey != ""
}

// Translate returns the Simplified Chinese rendering of text. Empty text
// yields "" without a request.
func (d *DeepSeek) Translate(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if !d.Enabled() {
		return "", ErrUnavailable
	}

	var (
		out    completionResponse
		apiErr apiError
	)
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(completionRequest{
			Model: d.cfg.Model,
			Messages: []message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt + text},
			},
			Temperature: d.cfg.Temperature,
			MaxTokens:   d.cfg.MaxTokens,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("call deepseek: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error.Message != "" {
			return "", fmt.Errorf("deepseek status %d: %s", resp.StatusCode(), apiErr.Error.Message)
		}
		return "", fmt.Errorf("deepseek status %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("deepseek returned no choices")
	}
	translated := strings.TrimSpace(out.Choices[0].Message.Content)
	d.logger.Debug("translated post", zap.Int("source_len", len(text)), zap.Int("translated_len", len(translated)))
	return translated, nil
}
