package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"
)

// ErrDisabled is returned by New when no API key is configured.
var ErrDisabled = errors.New("refine: generative client disabled (no API key)")

type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// Client talks to the Gemini generateContent endpoint. It implements both
// taper.Refiner and interaction.Synthesizer; callers bound each call and own
// the fallback.
type Client struct {
	http   *resty.Client
	model  string
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("x-goog-api-key", cfg.APIKey)

	return &Client{http: rc, model: cfg.Model, logger: logger}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// generate sends one prompt and returns the concatenated text of the first
// candidate.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	body := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: 0.2, ResponseMimeType: "application/json"},
	}

	var out generateResponse
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		SetPathParam("model", c.model).
		Post("/v1beta/models/{model}:generateContent")
	if err != nil {
		return "", fmt.Errorf("generateContent: %w", err)
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("status", resp.StatusCode()).
		Dur("latency", time.Since(start)).
		Msg("generateContent")

	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("generateContent: status %d: %s", resp.StatusCode(), msg)
	}
	if len(out.Candidates) == 0 {
		return "", errors.New("generateContent: no candidates")
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("generateContent: empty candidate (finish reason %q)", out.Candidates[0].FinishReason)
	}
	return sb.String(), nil
}
