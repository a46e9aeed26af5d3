package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trendtide/internal/domain"
	"trendtide/internal/providers/llm"
	"trendtide/internal/providers/youtube"
)

type stubLLM struct {
	answer string
	err    error
	last   llm.Request
}

func (s *stubLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	s.last = req
	return s.answer, s.err
}

type stubVideos struct {
	query  string
	limit  int
	videos []youtube.Video
}

func (s *stubVideos) Search(_ context.Context, query string, limit int) ([]youtube.Video, error) {
	s.query, s.limit = query, limit
	return s.videos, nil
}

func TestThumbnailsUsesVisionKeywords(t *testing.T) {
	vision := &stubLLM{answer: "Cooking Tutorial, kitchen setup,\n food prep , cooking tutorial, recipe guide, chef, extra"}
	videos := &stubVideos{videos: []youtube.Video{{ID: "v1"}}}
	svc := NewService(vision, videos, zerolog.Nop())

	res, err := svc.Thumbnails(context.Background(), "pasta", "https://i.ytimg.com/vi/x/hq.jpg")
	if err != nil {
		t.Fatalf("Thumbnails: %v", err)
	}
	want := "cooking tutorial, kitchen setup, food prep, recipe guide, chef"
	if res.Query != want || videos.query != want {
		t.Fatalf("query = %q, want %q", videos.query, want)
	}
	if videos.limit != ThumbnailSearchLimit || len(res.Videos) != 1 {
		t.Fatalf("unexpected search call limit=%d videos=%d", videos.limit, len(res.Videos))
	}
	if got := vision.last.Messages[0].ImageURLs; len(got) != 1 || got[0] != "https://i.ytimg.com/vi/x/hq.jpg" {
		t.Fatalf("thumbnail not attached: %v", got)
	}
}

func TestThumbnailsKeepsQueryWhenVisionFails(t *testing.T) {
	for name, vision := range map[string]*stubLLM{
		"error": {err: domain.ErrProviderFailure},
		"empty": {answer: " , ,"},
	} {
		t.Run(name, func(t *testing.T) {
			videos := &stubVideos{}
			res, err := NewService(vision, videos, zerolog.Nop()).Thumbnails(context.Background(), " pasta ", "https://img/x.jpg")
			if err != nil || res.Query != "pasta" || videos.query != "pasta" {
				t.Fatalf("expected original query, got %q (%v)", videos.query, err)
			}
		})
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	svc := NewService(nil, &stubVideos{}, zerolog.Nop())
	if _, err := svc.Thumbnails(context.Background(), "  ", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.Outliers(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.Thumbnails(context.Background(), "", "https://img/x.jpg"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("no provider and no query must be rejected, got %v", err)
	}
}

func TestOutliersRanksUnderperformers(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	published := now.AddDate(0, -6, 0).Format(time.RFC3339)
	videos := &stubVideos{videos: []youtube.Video{
		{ID: "hit", ChannelTitle: "c", ViewCount: 190000, PublishedAt: published, Duration: "PT10M"},
		{ID: "avg", ChannelTitle: "c", ViewCount: 75000, PublishedAt: published, Duration: "PT10M"},
		{ID: "flop", ChannelTitle: "c", ViewCount: 5000, PublishedAt: published, Duration: "PT10M"},
		{ID: "meh", ChannelTitle: "c", ViewCount: 30000, PublishedAt: published, Duration: "PT10M"},
	}}
	svc := NewService(nil, videos, zerolog.Nop())
	svc.now = func() time.Time { return now }

	res, err := svc.Outliers(context.Background(), "react")
	if err != nil {
		t.Fatalf("Outliers: %v", err)
	}
	if videos.limit != OutlierSearchLimit {
		t.Fatalf("expected limit %d, got %d", OutlierSearchLimit, videos.limit)
	}
	if len(res.Outliers) != 2 || res.Outliers[0].ID != "flop" || res.Outliers[1].ID != "meh" {
		t.Fatalf("unexpected outliers %+v", res.Outliers)
	}
}
