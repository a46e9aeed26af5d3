// Package search serves thumbnail-similarity search and outlier detection on
// top of the video metadata provider.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trendtide/internal/domain"
	"trendtide/internal/providers/llm"
	"trendtide/internal/providers/youtube"
)

// Result sizes per query kind.
const (
	ThumbnailSearchLimit = 20
	OutlierSearchLimit   = 50
	KeywordCount         = 5
)

const keywordPrompt = "You are an expert YouTube thumbnail analyzer. Extract the search keywords that would find videos similar to the attached thumbnail. " +
	"Consider the main subject, the visual style, the content type and key visual elements such as text overlays or emotions. " +
	"Return exactly 5 comma-separated keywords commonly used in YouTube searches, nothing else. " +
	"Do not include generic words like video, YouTube or thumbnail. Example: cooking tutorial, kitchen setup, food preparation, recipe guide, chef cooking"

// Completer is the vision adapter used to read a thumbnail.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// VideoSearcher is the video metadata adapter.
type VideoSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]youtube.Video, error)
}

// Service answers the search endpoints.
type Service struct {
	llm    Completer
	videos VideoSearcher
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(llm Completer, videos VideoSearcher, logger zerolog.Logger) *Service {
	return &Service{llm: llm, videos: videos, logger: logger, now: time.Now}
}

// ThumbnailResult is the answer of a thumbnail search.
type ThumbnailResult struct {
	Query  string          `json:"query"`
	Videos []youtube.Video `json:"videos"`
}

// OutlierResult is the answer of an outlier search.
type OutlierResult struct {
	Query    string            `json:"query"`
	Outliers []youtube.Outlier `json:"outliers"`
}

// Thumbnails searches videos for query. When thumbnailURL is set, keywords read
// from the image replace the query; if that fails the query is kept.
func (s *Service) Thumbnails(ctx context.Context, query, thumbnailURL string) (ThumbnailResult, error) {
	query = strings.TrimSpace(query)
	if thumbnailURL = strings.TrimSpace(thumbnailURL); thumbnailURL != "" {
		if keywords, err := s.keywords(ctx, thumbnailURL); err != nil {
			s.logger.Warn().Err(err).Str("reason", "keyword_extraction_failed").Msg("search: keeping original query")
		} else {
			query = keywords
		}
	}
	if query == "" {
		return ThumbnailResult{}, domain.NewValidationError("query", "query or thumbnailUrl is required")
	}
	videos, err := s.videos.Search(ctx, query, ThumbnailSearchLimit)
	if err != nil {
		return ThumbnailResult{}, fmt.Errorf("thumbnail search: %w", err)
	}
	return ThumbnailResult{Query: query, Videos: videos}, nil
}

// Outliers searches OutlierSearchLimit videos for query and ranks the ones
// underperforming their channel.
func (s *Service) Outliers(ctx context.Context, query string) (OutlierResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return OutlierResult{}, domain.NewValidationError("query", "query is required")
	}
	videos, err := s.videos.Search(ctx, query, OutlierSearchLimit)
	if err != nil {
		return OutlierResult{}, fmt.Errorf("outlier search: %w", err)
	}
	return OutlierResult{Query: query, Outliers: youtube.FindOutliers(videos, s.now())}, nil
}

func (s *Service) keywords(ctx context.Context, thumbnailURL string) (string, error) {
	if s.llm == nil {
		return "", errors.New("no vision provider configured")
	}
	text, err := s.llm.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Text: keywordPrompt, ImageURLs: []string{thumbnailURL}}},
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", err
	}
	return normalizeKeywords(text)
}

// normalizeKeywords keeps the first KeywordCount non-empty, de-duplicated
// entries of a comma-separated answer.
func normalizeKeywords(text string) (string, error) {
	text = strings.Trim(llm.TrimCodeFence(text), "\"'. \n")
	seen := map[string]bool{}
	var out []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' }) {
		kw := strings.ToLower(strings.Trim(strings.TrimSpace(part), "\"'.-*"))
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
		if len(out) == KeywordCount {
			break
		}
	}
	if len(out) == 0 {
		return "", fmt.Errorf("%w: no keywords in vision answer", domain.ErrParse)
	}
	return strings.Join(out, ", "), nil
}
