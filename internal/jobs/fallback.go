package jobs

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"trendtide/internal/providers/inference"
	"trendtide/internal/storage"
)

// DefaultFallbackBaseURL is a public text-to-image redirect service.
const DefaultFallbackBaseURL = "https://image.pollinations.ai/prompt"

const fallbackPrompt = "eye catching youtube thumbnail"

// ImageResult is either a generated image stored by us (Model "primary", with
// a FileID) or a degraded redirect URL (Fallback true). Callers display URL
// in both cases.
type ImageResult struct {
	URL      string `json:"url"`
	FileID   string `json:"fileId,omitempty"`
	Model    string `json:"model,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Degraded reports whether the result came from the fallback redirect.
func (r ImageResult) Degraded() bool { return r.Fallback }

// FallbackURL builds the redirect URL for prompt. The result is deterministic
// and always parses as an absolute URL.
func FallbackURL(baseURL, prompt string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		base = DefaultFallbackBaseURL
	}
	prompt = strings.ToValidUTF8(strings.TrimSpace(prompt), "")
	if prompt == "" {
		prompt = fallbackPrompt
	}
	q := url.Values{}
	q.Set("width", strconv.Itoa(inference.DefaultWidth))
	q.Set("height", strconv.Itoa(inference.DefaultHeight))
	q.Set("nologo", "true")
	return base + "/" + url.PathEscape(prompt) + "?" + q.Encode()
}

// renderImage generates and stores an image for prompt. Provider and upload
// errors degrade to FallbackURL. A cancelled ctx is returned as an error so
// the step is retried instead of memoizing a fallback.
func (d *Deps) renderImage(ctx context.Context, prompt, namePrefix string) (ImageResult, error) {
	degrade := func(reason string, err error) (ImageResult, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ImageResult{}, ctxErr
		}
		ev := d.Logger.Warn().Str("reason", reason)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("jobs: image generation degraded to fallback")
		return ImageResult{URL: FallbackURL(d.FallbackBaseURL, prompt), Fallback: true}, nil
	}
	if d.Images == nil {
		return degrade("no_image_provider", nil)
	}
	img, err := d.Images.Generate(ctx, inference.Request{
		Prompt: prompt,
		Width:  inference.DefaultWidth,
		Height: inference.DefaultHeight,
	})
	if err != nil {
		return degrade("inference_failed", err)
	}
	up, err := d.Storage.Upload(ctx, storage.Object{
		Name:   storage.ObjectName(namePrefix, img.MIME),
		Folder: d.Folder,
		MIME:   img.MIME,
		Data:   img.Data,
	})
	if err != nil {
		return degrade("upload_failed", err)
	}
	return ImageResult{URL: up.URL, FileID: up.FileID, Model: "primary"}, nil
}
