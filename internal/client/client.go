// Package client talks to the TrendTide HTTP API. It is what cmd/jobctl uses
// to submit jobs, read run status and list history.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"trendtide/internal/domain"
)

const defaultBaseURL = "http://localhost:8080"

type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// APIError is a non-2xx answer. It unwraps to the matching domain sentinel so
// callers can use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
	Field   string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Field != "" {
		return fmt.Sprintf("api %d %s: %s: %s", e.Status, e.Code, e.Field, msg)
	}
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, msg)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return domain.ErrValidation
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrConflict
	case http.StatusBadGateway:
		return domain.ErrProviderFailure
	default:
		return nil
	}
}

// File is an attachment read from disk or memory.
type File struct {
	Name string
	MIME string
	Data []byte
}

// ThumbnailJob is the multipart submission for a thumbnail run.
type ThumbnailJob struct {
	Content        string
	ReferenceImage *File
	FaceImage      *File
}

// ContentItem is one entry of the content history.
type ContentItem struct {
	ID          int64                    `json:"id"`
	UserInput   string                   `json:"userInput"`
	Titles      []domain.TitleSuggestion `json:"titles"`
	Description string                   `json:"description"`
	Tags        []string                 `json:"tags"`
	Thumbnails  []domain.ThumbnailEntry  `json:"thumbnails"`
	UserEmail   string                   `json:"userEmail"`
	CreatedAt   int64                    `json:"createdAt"`
	UpdatedAt   int64                    `json:"updatedAt"`
}

func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: base, token: strings.TrimSpace(opts.Token), http: hc}
}

// SubmitThumbnail posts a multipart thumbnail job and returns the run handle.
func (c *Client) SubmitThumbnail(ctx context.Context, job ThumbnailJob) (domain.RunHandle, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := mw.WriteField("content", job.Content); err != nil {
		return domain.RunHandle{}, err
	}
	for field, f := range map[string]*File{"referenceImage": job.ReferenceImage, "faceImage": job.FaceImage} {
		if f == nil {
			continue
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Name))
		if f.MIME != "" {
			h.Set("Content-Type", f.MIME)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			return domain.RunHandle{}, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return domain.RunHandle{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return domain.RunHandle{}, err
	}
	var handle domain.RunHandle
	err := c.do(ctx, http.MethodPost, "/v1/jobs/thumbnail", mw.FormDataContentType(), body, &handle)
	return handle, err
}

// SubmitContent posts a content generation job.
func (c *Client) SubmitContent(ctx context.Context, title string) (domain.RunHandle, error) {
	raw, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return domain.RunHandle{}, err
	}
	var handle domain.RunHandle
	err = c.do(ctx, http.MethodPost, "/v1/jobs/content", "application/json", bytes.NewReader(raw), &handle)
	return handle, err
}

// RunStatus satisfies poller.StatusSource.
func (c *Client) RunStatus(ctx context.Context, runID string) (*domain.JobRun, error) {
	var run domain.JobRun
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), "", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) Cancel(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/cancel", "", nil, nil)
}

func (c *Client) ListThumbnails(ctx context.Context) ([]domain.ThumbnailRecord, error) {
	var items []domain.ThumbnailRecord
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/thumbnail", "", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) ListContents(ctx context.Context) ([]ContentItem, error) {
	var items []ContentItem
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/content", "", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Download fetches an artifact URL. The bearer token is only sent to the API
// host itself.
func (c *Client) Download(ctx context.Context, rawURL string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" && strings.HasPrefix(rawURL, c.baseURL+"/") {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	u, _ := url.Parse(rawURL)
	name := "download"
	if u != nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return &File{Name: name, MIME: mime, Data: data}, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Field   string `json:"field"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.Field = body.Error.Field
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
