// Package llm talks to an OpenAI compatible chat completions endpoint
// (OpenRouter by default) with optional image inputs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"trendtide/internal/domain"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "google/gemini-2.5-flash"
	defaultTimeout = 60 * time.Second
)

// ErrMissingAPIKey is returned by Complete when no key was configured.
var ErrMissingAPIKey = fmt.Errorf("%w: llm api key is not configured", domain.ErrProviderFailure)

var modelAliases = map[string]string{
	"gemini-2.5-flash":       "google/gemini-2.5-flash",
	"gemini-2.0-flash":       "google/gemini-2.0-flash-001",
	"gemini-flash":           "google/gemini-2.5-flash",
	"gpt-4o-mini":            "openai/gpt-4o-mini",
	"gpt4o-mini":             "openai/gpt-4o-mini",
	"claude-3.5-sonnet":      "anthropic/claude-3.5-sonnet",
	"llama-3.1-70b-instruct": "meta-llama/llama-3.1-70b-instruct",
}

type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Referer    string
	Title      string
	HTTPClient *http.Client
	OnFailure  func(reason string, err error)
	OnWarning  func(reason, detail string)
}

type Client struct {
	apiKey    string
	baseURL   string
	model     string
	referer   string
	title     string
	client    *http.Client
	onFailure func(reason string, err error)
}

// Message is one chat turn. ImageURLs turn the message into a multimodal
// content array.
type Message struct {
	Role      string
	Text      string
	ImageURLs []string
}

type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	JSON        bool
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	requested := strings.TrimSpace(opts.Model)
	model, reason := normalizeModel(requested)
	if reason != "" && opts.OnWarning != nil {
		opts.OnWarning("model_"+reason, fmt.Sprintf("requested=%s resolved=%s", requested, model))
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		apiKey:    strings.TrimSpace(opts.APIKey),
		baseURL:   baseURL,
		model:     model,
		referer:   strings.TrimSpace(opts.Referer),
		title:     strings.TrimSpace(opts.Title),
		client:    client,
		onFailure: opts.OnFailure,
	}
}

func (c *Client) Model() string { return c.model }

// Complete returns the trimmed text of the first choice. Every failure wraps
// domain.ErrProviderFailure.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", c.fail("missing_api_key", ErrMissingAPIKey)
	}
	payload := chatRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		payload.ResponseFormat = &chatFormat{Type: "json_object"}
	}
	if system := strings.TrimSpace(req.System); system != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: system})
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, encodeMessage(m))
	}
	if len(payload.Messages) == 0 {
		return "", c.fail("empty_request", fmt.Errorf("%w: no messages", domain.ErrProviderFailure))
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", c.fail("encode_request", fmt.Errorf("%w: encode request: %v", domain.ErrProviderFailure, err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", c.fail("build_request", fmt.Errorf("%w: build request: %v", domain.ErrProviderFailure, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", c.fail("http_request", fmt.Errorf("%w: llm request: %v", domain.ErrProviderFailure, err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", c.fail(fmt.Sprintf("http_%d", resp.StatusCode),
			fmt.Errorf("%w: llm status %d: %s", domain.ErrProviderFailure, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", c.fail("decode_response", fmt.Errorf("%w: decode response: %v", domain.ErrProviderFailure, err))
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", c.fail("api_error", fmt.Errorf("%w: llm error: %s", domain.ErrProviderFailure, out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", c.fail("empty_choices", fmt.Errorf("%w: no choices", domain.ErrProviderFailure))
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", c.fail("empty_response", fmt.Errorf("%w: empty response", domain.ErrProviderFailure))
	}
	return text, nil
}

func (c *Client) fail(reason string, err error) error {
	if c.onFailure != nil {
		c.onFailure(reason, err)
	}
	return err
}

func encodeMessage(m Message) chatMessage {
	role := m.Role
	if role == "" {
		role = "user"
	}
	if len(m.ImageURLs) == 0 {
		return chatMessage{Role: role, Content: m.Text}
	}
	parts := make([]contentPart, 0, len(m.ImageURLs)+1)
	if strings.TrimSpace(m.Text) != "" {
		parts = append(parts, contentPart{Type: "text", Text: m.Text})
	}
	for _, u := range m.ImageURLs {
		if strings.TrimSpace(u) == "" {
			continue
		}
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageRef{URL: u}})
	}
	return chatMessage{Role: role, Content: parts}
}

func normalizeModel(name string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultModel, ""
	}
	if strings.Contains(trimmed, "/") {
		return trimmed, ""
	}
	key := strings.ToLower(strings.ReplaceAll(trimmed, " ", "-"))
	if alias, ok := modelAliases[key]; ok {
		return alias, "alias"
	}
	return defaultModel, "defaulted"
}

// IsMissingKey reports whether err came from an unconfigured client.
func IsMissingKey(err error) bool {
	return errors.Is(err, ErrMissingAPIKey)
}
