package repo

import (
	"context"
	"fmt"
	"strings"

	"trendtide/internal/domain"
	"trendtide/internal/infra"
	"trendtide/internal/sqlinline"
)

// ThumbnailRepositoryPG implements domain.ThumbnailRepository on PostgreSQL.
type ThumbnailRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewThumbnailRepository creates a thumbnail repository backed by PostgreSQL.
func NewThumbnailRepository(sql infra.SQLExecutor) *ThumbnailRepositoryPG {
	return &ThumbnailRepositoryPG{sql: sql}
}

// Insert stores rec and sets its ID.
func (r *ThumbnailRepositoryPG) Insert(ctx context.Context, rec *domain.ThumbnailRecord) error {
	row := r.sql.QueryRow(ctx, sqlinline.QInsertThumbnail,
		rec.UserInput,
		rec.ReferenceImageURL,
		rec.FaceImageURL,
		rec.ThumbnailURL,
		rec.UserEmail,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err := row.Scan(&rec.ID); err != nil {
		return fmt.Errorf("insert thumbnail: %w", err)
	}
	return nil
}

// ListByOwner returns the owner's thumbnails, newest first.
func (r *ThumbnailRepositoryPG) ListByOwner(ctx context.Context, email string) ([]domain.ThumbnailRecord, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListThumbnailsByOwner, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("list thumbnails: %w", err)
	}
	defer rows.Close()

	out := []domain.ThumbnailRecord{}
	for rows.Next() {
		var rec domain.ThumbnailRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.UserInput,
			&rec.ReferenceImageURL,
			&rec.FaceImageURL,
			&rec.ThumbnailURL,
			&rec.UserEmail,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan thumbnail: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
