package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"trendtide/internal/domain"
)

const defaultImageKitUploadURL = "https://upload.imagekit.io/api/v1/files/upload"

type ImageKitOptions struct {
	PrivateKey string
	UploadURL  string
	Folder     string
	HTTPClient *http.Client
}

// ImageKit uploads through the ImageKit server-side upload API.
type ImageKit struct {
	privateKey string
	uploadURL  string
	folder     string
	client     *http.Client
}

type imageKitResponse struct {
	FileID  string `json:"fileId"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

func NewImageKit(opts ImageKitOptions) (*ImageKit, error) {
	key := strings.TrimSpace(opts.PrivateKey)
	if key == "" {
		return nil, fmt.Errorf("storage: imagekit private key is required")
	}
	uploadURL := strings.TrimSpace(opts.UploadURL)
	if uploadURL == "" {
		uploadURL = defaultImageKitUploadURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ImageKit{privateKey: key, uploadURL: uploadURL, folder: opts.Folder, client: client}, nil
}

// Upload sends obj as multipart form data. Failures wrap domain.ErrProviderFailure.
func (k *ImageKit) Upload(ctx context.Context, obj Object) (*Uploaded, error) {
	if err := obj.validate(); err != nil {
		return nil, err
	}
	folder := obj.Folder
	if folder == "" {
		folder = k.folder
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, obj.Name))
	if obj.MIME != "" {
		header.Set("Content-Type", obj.MIME)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("%w: build upload: %v", domain.ErrProviderFailure, err)
	}
	if _, err := part.Write(obj.Data); err != nil {
		return nil, fmt.Errorf("%w: build upload: %v", domain.ErrProviderFailure, err)
	}
	fields := map[string]string{
		"fileName":          obj.Name,
		"useUniqueFileName": "false",
	}
	if folder != "" {
		fields["folder"] = folder
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("%w: build upload: %v", domain.ErrProviderFailure, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%w: build upload: %v", domain.ErrProviderFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.uploadURL, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrProviderFailure, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.SetBasicAuth(k.privateKey, "")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: imagekit request: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read imagekit response: %v", domain.ErrProviderFailure, err)
	}
	var out imageKitResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("%w: imagekit status %d: %s", domain.ErrProviderFailure, resp.StatusCode, msg)
	}
	if out.URL == "" {
		return nil, fmt.Errorf("%w: imagekit response missing url", domain.ErrProviderFailure)
	}
	return &Uploaded{URL: out.URL, FileID: out.FileID}, nil
}

var _ Uploader = (*ImageKit)(nil)
