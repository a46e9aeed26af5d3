// Package inference calls a hosted text-to-image model (Hugging Face
// Inference by default) and returns raw image bytes.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"trendtide/internal/domain"
	"trendtide/internal/infra"
)

const (
	defaultBaseURL   = "https://router.huggingface.co/hf-inference/models"
	defaultModel     = "black-forest-labs/FLUX.1-schnell"
	defaultTimeout   = 120 * time.Second
	maxImageBytes    = 20 << 20
	DefaultWidth     = 1280
	DefaultHeight    = 720
	defaultPerMinute = 20
)

// ErrMissingAPIKey indicates the client was configured without credentials.
var ErrMissingAPIKey = fmt.Errorf("%w: inference api key is not configured", domain.ErrProviderFailure)

type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	PerMinute  int
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is safe for concurrent use. Calls are throttled to PerMinute so a
// content run fanning out four images does not trip the provider quota.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *infra.Logger
}

type Request struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
}

type Image struct {
	Data []byte
	MIME string
}

type generationRequest struct {
	Inputs     string           `json:"inputs"`
	Parameters generationParams `json:"parameters"`
}

type generationParams struct {
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	if model == "" {
		model = defaultModel
	}
	perMinute := opts.PerMinute
	if perMinute <= 0 {
		perMinute = defaultPerMinute
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		model:   model,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:  opts.Logger,
	}
}

func (c *Client) Model() string { return c.model }

// Generate renders req.Prompt. Every failure wraps domain.ErrProviderFailure.
func (c *Client) Generate(ctx context.Context, req Request) (*Image, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrProviderFailure)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", domain.ErrProviderFailure, err)
	}

	width, height := req.Width, req.Height
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	body, err := json.Marshal(generationRequest{
		Inputs: prompt,
		Parameters: generationParams{
			Width:          width,
			Height:         height,
			NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", domain.ErrProviderFailure, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrProviderFailure, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/png")

	started := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: inference request: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: inference status %d: %s", domain.ErrProviderFailure, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", domain.ErrProviderFailure, err)
	}
	if len(data) == 0 || len(data) > maxImageBytes {
		return nil, fmt.Errorf("%w: unexpected image size %d", domain.ErrProviderFailure, len(data))
	}
	mime := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: response is %s, not an image", domain.ErrProviderFailure, mime)
	}
	if c.logger != nil {
		c.logger.Debug().Str("model", c.model).Int("bytes", len(data)).Dur("took", time.Since(started)).Msg("inference: image generated")
	}
	return &Image{Data: data, MIME: mime}, nil
}
