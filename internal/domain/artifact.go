package domain

import (
	"encoding/json"
	"fmt"
)

// ThumbnailRecord is the persisted result of a thumbnail generation run.
type ThumbnailRecord struct {
	ID                int64   `json:"id"`
	UserInput         string  `json:"userInput"`
	ReferenceImageURL *string `json:"referenceImageUrl"`
	FaceImageURL      *string `json:"faceImageUrl"`
	ThumbnailURL      string  `json:"thumbnailUrl"`
	UserEmail         string  `json:"userEmail"`
	CreatedAt         int64   `json:"createdAt"`
	UpdatedAt         int64   `json:"updatedAt"`
}

// ContentRecord is the persisted content package. List-valued fields are
// stored as JSON text.
type ContentRecord struct {
	ID          int64  `json:"id"`
	UserInput   string `json:"userInput"`
	Titles      string `json:"title"`
	Description string `json:"description"`
	Tags        string `json:"tags"`
	Thumbnails  string `json:"thumbnails"`
	UserEmail   string `json:"userEmail"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// TitleSuggestion is one generated title with its SEO score (1-100).
type TitleSuggestion struct {
	Title    string `json:"title"`
	SEOScore int    `json:"seo_score"`
}

// ThumbnailEntry is one generated image of a content package. Fallback is set
// when the image came from the redirect URL instead of the inference provider.
type ThumbnailEntry struct {
	Heading  string `json:"heading"`
	URL      string `json:"url"`
	FileID   string `json:"fileId,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// ContentPackage is the final output of a content generation run.
type ContentPackage struct {
	Titles      []TitleSuggestion `json:"titles"`
	Description string            `json:"description"`
	Tags        []string          `json:"tags"`
	Thumbnails  []ThumbnailEntry  `json:"thumbnails"`
}

// NewContentRecord serializes a package into its storage shape.
func NewContentRecord(userInput, email string, pkg ContentPackage, now int64) (*ContentRecord, error) {
	titles, err := json.Marshal(pkg.Titles)
	if err != nil {
		return nil, fmt.Errorf("encode titles: %w", err)
	}
	tags, err := json.Marshal(pkg.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	thumbs, err := json.Marshal(pkg.Thumbnails)
	if err != nil {
		return nil, fmt.Errorf("encode thumbnails: %w", err)
	}
	return &ContentRecord{
		UserInput:   userInput,
		Titles:      string(titles),
		Description: pkg.Description,
		Tags:        string(tags),
		Thumbnails:  string(thumbs),
		UserEmail:   email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Package decodes the JSON text columns back into a ContentPackage.
func (r ContentRecord) Package() (ContentPackage, error) {
	pkg := ContentPackage{Description: r.Description}
	if err := json.Unmarshal([]byte(r.Titles), &pkg.Titles); err != nil {
		return ContentPackage{}, fmt.Errorf("decode titles: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Tags), &pkg.Tags); err != nil {
		return ContentPackage{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Thumbnails), &pkg.Thumbnails); err != nil {
		return ContentPackage{}, fmt.Errorf("decode thumbnails: %w", err)
	}
	return pkg, nil
}
