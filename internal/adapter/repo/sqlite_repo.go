package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"trendtide/internal/domain"
)

const sqliteArtifactSchema = `
create table if not exists thumbnails (
    id                  integer primary key autoincrement,
    user_input          text not null,
    reference_image_url text,
    face_image_url      text,
    thumbnail_url       text not null,
    user_email          text not null,
    created_at          integer not null,
    updated_at          integer not null
);
create index if not exists thumbnails_owner_idx on thumbnails (user_email, created_at);
create table if not exists content_packages (
    id          integer primary key autoincrement,
    user_input  text not null,
    title       text not null,
    description text not null,
    tags        text not null,
    thumbnails  text not null,
    user_email  text not null,
    created_at  integer not null,
    updated_at  integer not null
);
create index if not exists content_packages_owner_idx on content_packages (user_email, created_at);
`

// SQLiteArtifacts stores both artifact kinds in the single-node database.
type SQLiteArtifacts struct {
	db *sql.DB
}

// NewSQLiteArtifacts creates the artifact tables if needed.
func NewSQLiteArtifacts(ctx context.Context, db *sql.DB) (*SQLiteArtifacts, error) {
	if _, err := db.ExecContext(ctx, sqliteArtifactSchema); err != nil {
		return nil, fmt.Errorf("migrate sqlite artifact schema: %w", err)
	}
	return &SQLiteArtifacts{db: db}, nil
}

// Thumbnails returns the thumbnail view of the store.
func (s *SQLiteArtifacts) Thumbnails() domain.ThumbnailRepository { return sqliteThumbnails{s.db} }

// Contents returns the content package view of the store.
func (s *SQLiteArtifacts) Contents() domain.ContentRepository { return sqliteContents{s.db} }

type sqliteThumbnails struct{ db *sql.DB }

func (r sqliteThumbnails) Insert(ctx context.Context, rec *domain.ThumbnailRecord) error {
	res, err := r.db.ExecContext(ctx, `insert into thumbnails
		(user_input, reference_image_url, face_image_url, thumbnail_url, user_email, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?)`,
		rec.UserInput, nullString(rec.ReferenceImageURL), nullString(rec.FaceImageURL),
		rec.ThumbnailURL, rec.UserEmail, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert thumbnail: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (r sqliteThumbnails) ListByOwner(ctx context.Context, email string) ([]domain.ThumbnailRecord, error) {
	rows, err := r.db.QueryContext(ctx, `select id, user_input, reference_image_url, face_image_url, thumbnail_url, user_email, created_at, updated_at
		from thumbnails where user_email = ? order by created_at desc, id desc`, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("list thumbnails: %w", err)
	}
	defer rows.Close()

	out := []domain.ThumbnailRecord{}
	for rows.Next() {
		var rec domain.ThumbnailRecord
		var ref, face sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserInput, &ref, &face, &rec.ThumbnailURL, &rec.UserEmail, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thumbnail: %w", err)
		}
		rec.ReferenceImageURL = stringPtr(ref)
		rec.FaceImageURL = stringPtr(face)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type sqliteContents struct{ db *sql.DB }

func (r sqliteContents) Insert(ctx context.Context, rec *domain.ContentRecord) error {
	res, err := r.db.ExecContext(ctx, `insert into content_packages
		(user_input, title, description, tags, thumbnails, user_email, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserInput, rec.Titles, rec.Description, rec.Tags, rec.Thumbnails, rec.UserEmail, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert content package: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (r sqliteContents) ListByOwner(ctx context.Context, email string) ([]domain.ContentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `select id, user_input, title, description, tags, thumbnails, user_email, created_at, updated_at
		from content_packages where user_email = ? order by created_at desc, id desc`, strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("list content packages: %w", err)
	}
	defer rows.Close()

	out := []domain.ContentRecord{}
	for rows.Next() {
		var rec domain.ContentRecord
		if err := rows.Scan(&rec.ID, &rec.UserInput, &rec.Titles, &rec.Description, &rec.Tags, &rec.Thumbnails, &rec.UserEmail, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan content package: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
