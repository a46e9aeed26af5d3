package repo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"trendtide/internal/domain"
)

// MemoryArtifacts keeps artifacts in process memory. Used with the memory
// workflow store for local runs and tests.
type MemoryArtifacts struct {
	mu       sync.RWMutex
	thumbs   []domain.ThumbnailRecord
	contents []domain.ContentRecord
}

func NewMemoryArtifacts() *MemoryArtifacts {
	return &MemoryArtifacts{}
}

func (m *MemoryArtifacts) Thumbnails() domain.ThumbnailRepository { return memoryThumbnails{m} }

func (m *MemoryArtifacts) Contents() domain.ContentRepository { return memoryContents{m} }

type memoryThumbnails struct{ m *MemoryArtifacts }

func (r memoryThumbnails) Insert(_ context.Context, rec *domain.ThumbnailRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rec.ID = int64(len(r.m.thumbs) + 1)
	r.m.thumbs = append(r.m.thumbs, *rec)
	return nil
}

func (r memoryThumbnails) ListByOwner(_ context.Context, email string) ([]domain.ThumbnailRecord, error) {
	email = strings.TrimSpace(email)
	r.m.mu.RLock()
	out := []domain.ThumbnailRecord{}
	for _, rec := range r.m.thumbs {
		if rec.UserEmail == email {
			out = append(out, rec)
		}
	}
	r.m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

type memoryContents struct{ m *MemoryArtifacts }

func (r memoryContents) Insert(_ context.Context, rec *domain.ContentRecord) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rec.ID = int64(len(r.m.contents) + 1)
	r.m.contents = append(r.m.contents, *rec)
	return nil
}

func (r memoryContents) ListByOwner(_ context.Context, email string) ([]domain.ContentRecord, error) {
	email = strings.TrimSpace(email)
	r.m.mu.RLock()
	out := []domain.ContentRecord{}
	for _, rec := range r.m.contents {
		if rec.UserEmail == email {
			out = append(out, rec)
		}
	}
	r.m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}
