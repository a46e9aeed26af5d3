package domain

import "context"

// ThumbnailRepository persists thumbnail records.
type ThumbnailRepository interface {
	Insert(ctx context.Context, rec *ThumbnailRecord) error
	ListByOwner(ctx context.Context, email string) ([]ThumbnailRecord, error)
}

// ContentRepository persists content package records.
type ContentRepository interface {
	Insert(ctx context.Context, rec *ContentRecord) error
	ListByOwner(ctx context.Context, email string) ([]ContentRecord, error)
}
