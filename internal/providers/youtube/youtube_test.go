package youtube

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"trendtide/internal/domain"
)

func TestSearchJoinsDetailsAndCaches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Query().Get("key") != "yt_key" {
			t.Errorf("missing api key")
		}
		switch r.URL.Path {
		case "/search":
			if r.URL.Query().Get("maxResults") != "20" || r.URL.Query().Get("q") != "react hooks" {
				t.Errorf("unexpected search query %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"items":[{"id":{"videoId":"a1"}},{"id":{"videoId":"b2"}}]}`))
		case "/videos":
			if r.URL.Query().Get("id") != "a1,b2" {
				t.Errorf("unexpected ids %s", r.URL.Query().Get("id"))
			}
			_, _ = w.Write([]byte(`{"items":[
				{"id":"a1","snippet":{"title":"Hooks","channelTitle":"Dev","publishedAt":"2024-01-01T00:00:00Z","thumbnails":{"high":{"url":"https://i.ytimg.com/a1.jpg"}}},"statistics":{"viewCount":"1200","likeCount":"50","commentCount":"7"},"contentDetails":{"duration":"PT10M"}},
				{"id":"b2","snippet":{"title":"State","channelTitle":"Dev","publishedAt":"2024-02-01T00:00:00Z","thumbnails":{"medium":{"url":"https://i.ytimg.com/b2.jpg"}}},"statistics":{"viewCount":"oops"}}
			]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(Options{APIKey: "yt_key", BaseURL: srv.URL})
	videos, err := client.Search(context.Background(), "react hooks", 20)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(videos))
	}
	if videos[0].ViewCount != 1200 || videos[0].Duration != "PT10M" || videos[0].ThumbnailURL != "https://i.ytimg.com/a1.jpg" {
		t.Fatalf("unexpected first video %+v", videos[0])
	}
	if videos[1].ViewCount != 0 || videos[1].Duration != "N/A" || videos[1].ThumbnailURL != "https://i.ytimg.com/b2.jpg" {
		t.Fatalf("unexpected second video %+v", videos[1])
	}

	if _, err := client.Search(context.Background(), "React Hooks", 20); err != nil {
		t.Fatalf("cached Search: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected cached second search, saw %d upstream calls", got)
	}
}

func TestSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusForbidden)
	}))
	defer srv.Close()
	_, err := NewClient(Options{APIKey: "k", BaseURL: srv.URL}).Search(context.Background(), "x", 5)
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("expected provider failure, got %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]int{
		"PT1H2M3S": 3723,
		"PT15M":    900,
		"PT45S":    45,
		"P1D":      0,
		"N/A":      0,
	}
	for in, want := range cases {
		if got := ParseDuration(in); got != want {
			t.Fatalf("ParseDuration(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestExpectedViewsAndScore(t *testing.T) {
	if got := ExpectedViews(10000, 3, 200); math.Abs(got-3600) > 1e-6 {
		t.Fatalf("fresh short video expected %v", got)
	}
	if got := ExpectedViews(10000, 45, 1500); math.Abs(got-6400) > 1e-6 {
		t.Fatalf("older long video expected %v", got)
	}
	if got := ExpectedViews(50, 400, 600); got != 100 {
		t.Fatalf("expected floor of 100, got %v", got)
	}
	cases := []struct {
		actual, expected float64
		score            int
	}{
		{100, 100, 0}, {60, 100, 25}, {30, 100, 50}, {10, 100, 75}, {9, 100, 100}, {5, 0, 0},
	}
	for _, tc := range cases {
		if got := Score(tc.actual, tc.expected); got != tc.score {
			t.Fatalf("Score(%v,%v) = %d, want %d", tc.actual, tc.expected, got, tc.score)
		}
	}
}

func TestFindOutliers(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	old := now.AddDate(-1, 0, 0).Format(time.RFC3339)
	videos := []Video{
		{ID: "hit", ChannelTitle: "A", PublishedAt: old, Duration: "PT10M", ViewCount: 190000},
		{ID: "flop", ChannelTitle: "A", PublishedAt: old, Duration: "PT10M", ViewCount: 5000},
		{ID: "meh", ChannelTitle: "A", PublishedAt: old, Duration: "PT10M", ViewCount: 30000},
		{ID: "solo", ChannelTitle: "B", PublishedAt: old, Duration: "PT10M", ViewCount: 800},
	}
	got := FindOutliers(videos, now)
	if len(got) != 2 {
		t.Fatalf("expected 2 outliers, got %d: %+v", len(got), got)
	}
	if got[0].ID != "flop" || got[0].OutlierScore != 100 {
		t.Fatalf("expected flop first with score 100, got %+v", got[0])
	}
	if got[1].ID != "meh" || got[1].OutlierScore != 50 || !got[1].IsOutlier {
		t.Fatalf("expected meh second with score 50, got %+v", got[1])
	}
}

func TestFindOutliersFallsBackToLowestRatios(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var videos []Video
	for i := 0; i < 25; i++ {
		videos = append(videos, Video{ID: string(rune('a' + i)), ChannelTitle: string(rune('a' + i)), PublishedAt: now.AddDate(0, -6, 0).Format(time.RFC3339), Duration: "PT10M", ViewCount: int64(1000 + i)})
	}
	got := FindOutliers(videos, now)
	if len(got) != 20 {
		t.Fatalf("expected 20 fallback results, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].UnderperformanceRatio > got[i].UnderperformanceRatio {
			t.Fatalf("fallback not sorted by ratio")
		}
	}
}
