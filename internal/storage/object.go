// Package storage uploads binary objects (reference images, generated
// thumbnails) and returns stable public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Object is one file to upload.
type Object struct {
	Name   string
	Folder string
	MIME   string
	Data   []byte
}

// Uploaded identifies a stored object.
type Uploaded struct {
	URL    string `json:"url"`
	FileID string `json:"fileId"`
}

type Uploader interface {
	Upload(ctx context.Context, obj Object) (*Uploaded, error)
}

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// ObjectName returns prefix-<uuid>.<ext> so uploads never collide.
func ObjectName(prefix, mime string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "-/")
	if prefix == "" {
		prefix = "object"
	}
	ext, ok := extensions[strings.ToLower(strings.TrimSpace(mime))]
	if !ok {
		ext = "bin"
	}
	return fmt.Sprintf("%s-%s.%s", prefix, uuid.NewString(), ext)
}

func (o Object) validate() error {
	if strings.TrimSpace(o.Name) == "" {
		return errors.New("storage: object name is required")
	}
	if len(o.Data) == 0 {
		return errors.New("storage: object data is empty")
	}
	return nil
}
