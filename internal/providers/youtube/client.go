// Package youtube wraps the YouTube Data API v3 search and videos endpoints.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"trendtide/internal/domain"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// ErrMissingAPIKey indicates the client was configured without credentials.
var ErrMissingAPIKey = fmt.Errorf("%w: youtube api key is not configured", domain.ErrProviderFailure)

type Options struct {
	APIKey     string
	BaseURL    string
	CacheTTL   time.Duration
	HTTPClient *http.Client
}

// Client caches search results per (query, limit) for CacheTTL.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	cache   *cache.Cache
}

// Video is the flattened shape returned to API callers.
type Video struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnailUrl"`
	ChannelTitle string `json:"channelTitle"`
	PublishedAt  string `json:"publishedAt"`
	ViewCount    int64  `json:"viewCount"`
	LikeCount    int64  `json:"likeCount"`
	CommentCount int64  `json:"commentCount"`
	Duration     string `json:"duration"`
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type thumbnail struct {
	URL string `json:"url"`
}

type videosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			PublishedAt  string `json:"publishedAt"`
			Thumbnails   struct {
				Default thumbnail `json:"default"`
				Medium  thumbnail `json:"medium"`
				High    thumbnail `json:"high"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{
		apiKey:  strings.TrimSpace(opts.APIKey),
		baseURL: baseURL,
		client:  client,
		cache:   cache.New(ttl, 2*ttl),
	}
}

// Search returns up to limit videos with statistics and duration.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Video, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	query = strings.TrimSpace(query)
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	key := strconv.Itoa(limit) + "|" + strings.ToLower(query)
	if cached, ok := c.cache.Get(key); ok {
		return append([]Video(nil), cached.([]Video)...), nil
	}

	var search searchResponse
	err := c.get(ctx, "/search", url.Values{
		"part":       {"snippet"},
		"q":          {query},
		"type":       {"video"},
		"maxResults": {strconv.Itoa(limit)},
	}, &search)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(search.Items))
	for _, item := range search.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	if len(ids) == 0 {
		return []Video{}, nil
	}

	var details videosResponse
	err = c.get(ctx, "/videos", url.Values{
		"part": {"statistics,snippet,contentDetails"},
		"id":   {strings.Join(ids, ",")},
	}, &details)
	if err != nil {
		return nil, err
	}

	videos := make([]Video, 0, len(details.Items))
	for _, item := range details.Items {
		thumb := item.Snippet.Thumbnails.High.URL
		if thumb == "" {
			thumb = firstNonEmpty(item.Snippet.Thumbnails.Medium.URL, item.Snippet.Thumbnails.Default.URL)
		}
		duration := item.ContentDetails.Duration
		if duration == "" {
			duration = "N/A"
		}
		videos = append(videos, Video{
			ID:           item.ID,
			Title:        item.Snippet.Title,
			ThumbnailURL: thumb,
			ChannelTitle: item.Snippet.ChannelTitle,
			PublishedAt:  item.Snippet.PublishedAt,
			ViewCount:    parseCount(item.Statistics.ViewCount),
			LikeCount:    parseCount(item.Statistics.LikeCount),
			CommentCount: parseCount(item.Statistics.CommentCount),
			Duration:     duration,
		})
	}
	c.cache.SetDefault(key, videos)
	return append([]Video(nil), videos...), nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrProviderFailure, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: youtube request: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: youtube %s status %d: %s", domain.ErrProviderFailure, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode youtube %s: %v", domain.ErrProviderFailure, path, err)
	}
	return nil
}

func parseCount(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
