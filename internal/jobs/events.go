package jobs

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"trendtide/internal/domain"
	"trendtide/internal/workflow"
)

// Request limits enforced before anything is dispatched.
const (
	MaxAttachmentBytes = 5 << 20
	MinContentLength   = 5
	MaxContentLength   = 500
	MinTitleLength     = 3
	MaxTitleLength     = 200
)

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// EncodedFile carries an attachment inside an event payload.
type EncodedFile struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int    `json:"size"`
	Buffer string `json:"buffer"`
}

// ThumbnailEvent is the payload of ai/generate-thumbnail.
type ThumbnailEvent struct {
	Content        string       `json:"content"`
	ReferenceImage *EncodedFile `json:"referenceImage,omitempty"`
	FaceImage      *EncodedFile `json:"faceImage,omitempty"`
	UserEmail      string       `json:"userEmail"`
	Locale         string       `json:"locale,omitempty"`
}

// ContentEvent is the payload of ai/generate-content.
type ContentEvent struct {
	Title     string `json:"title"`
	UserEmail string `json:"userEmail"`
	Locale    string `json:"locale,omitempty"`
}

// ValidateRequest checks a JobRequest without side effects. A missing
// identity wraps domain.ErrUnauthorized; everything else is a
// *domain.ValidationError. Attachment MIME types are normalized in place.
func ValidateRequest(req *domain.JobRequest) error {
	if strings.TrimSpace(req.RequesterIdentity) == "" {
		return fmt.Errorf("%w: requester identity is required", domain.ErrUnauthorized)
	}
	content := strings.TrimSpace(req.Content)
	switch req.Kind {
	case domain.JobKindThumbnail:
		if err := checkLength("content", content, MinContentLength, MaxContentLength); err != nil {
			return err
		}
		if err := checkAttachment("referenceImage", req.ReferenceImage); err != nil {
			return err
		}
		if err := checkAttachment("faceImage", req.FaceImage); err != nil {
			return err
		}
	case domain.JobKindContent:
		if err := checkLength("title", content, MinTitleLength, MaxTitleLength); err != nil {
			return err
		}
		if req.ReferenceImage != nil || req.FaceImage != nil {
			return domain.NewValidationError("attachments", "content generation does not accept attachments")
		}
	default:
		return domain.NewValidationError("kind", "unknown job kind")
	}
	req.Content = content
	return nil
}

// NewEvent validates req and builds the engine event for its kind.
func NewEvent(req domain.JobRequest) (workflow.Event, error) {
	if err := ValidateRequest(&req); err != nil {
		return workflow.Event{}, err
	}
	switch req.Kind {
	case domain.JobKindThumbnail:
		return workflow.NewEvent(req.Kind.EventName(), ThumbnailEvent{
			Content:        req.Content,
			ReferenceImage: encodeFile(req.ReferenceImage),
			FaceImage:      encodeFile(req.FaceImage),
			UserEmail:      req.RequesterIdentity,
			Locale:         req.Locale,
		})
	default:
		return workflow.NewEvent(req.Kind.EventName(), ContentEvent{
			Title:     req.Content,
			UserEmail: req.RequesterIdentity,
			Locale:    req.Locale,
		})
	}
}

func checkLength(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if n == 0 {
		return domain.NewValidationError(field, "is required")
	}
	if n < min || n > max {
		return domain.NewValidationError(field, fmt.Sprintf("must be between %d and %d characters", min, max))
	}
	return nil
}

func checkAttachment(field string, a *domain.Attachment) error {
	if a == nil {
		return nil
	}
	if len(a.Data) == 0 {
		return domain.NewValidationError(field, "file is empty")
	}
	if len(a.Data) > MaxAttachmentBytes {
		return domain.NewValidationError(field, fmt.Sprintf("file exceeds %d bytes", MaxAttachmentBytes))
	}
	mime := strings.ToLower(strings.TrimSpace(strings.Split(a.MIME, ";")[0]))
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(a.Data)
	}
	if mime == "image/jpg" {
		mime = "image/jpeg"
	}
	if !allowedImageTypes[mime] {
		return domain.NewValidationError(field, "unsupported image type "+mime)
	}
	a.MIME = mime
	return nil
}

func encodeFile(a *domain.Attachment) *EncodedFile {
	if a == nil {
		return nil
	}
	return &EncodedFile{
		Name:   a.Filename,
		Type:   a.MIME,
		Size:   len(a.Data),
		Buffer: base64.StdEncoding.EncodeToString(a.Data),
	}
}

func (f *EncodedFile) decode() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(f.Buffer)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Name, err)
	}
	return data, nil
}
