package repo

import (
	"context"
	"fmt"
	"strings"

	"trendtide/internal/domain"
	"trendtide/internal/infra"
	"trendtide/internal/sqlinline"
)

// ContentRepositoryPG implements domain.ContentRepository on PostgreSQL.
type ContentRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewContentRepository creates a content package repository backed by PostgreSQL.
func NewContentRepository(sql infra.SQLExecutor) *ContentRepositoryPG {
	return &ContentRepositoryPG{sql: sql}
}

// Insert stores rec and sets its ID. Titles and Tags must hold JSON arrays.
func (r *ContentRepositoryPG) Insert(ctx context.Context, rec *domain.ContentRecord) error {
	row := r.sql.QueryRow(ctx, sqlinline.QInsertContentPackage,
		rec.UserInput,
		rec.Titles,
		rec.Description,
		rec.Tags,
		rec.Thumbnails,
		rec.UserEmail,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err := row.Scan(&rec.ID); err != nil {
		return fmt.Errorf("insert content package: %w", err)
	}
	return nil
}

// ListByOwner returns the owner's content packages, newest first.
func (r *ContentRepositoryPG) ListByOwner(ctx context.Context, email string) ([]domain.ContentRecord, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListContentPackagesByOwner, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("list content packages: %w", err)
	}
	defer rows.Close()

	out := []domain.ContentRecord{}
	for rows.Next() {
		var rec domain.ContentRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.UserInput,
			&rec.Titles,
			&rec.Description,
			&rec.Tags,
			&rec.Thumbnails,
			&rec.UserEmail,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan content package: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
