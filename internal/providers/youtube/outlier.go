package youtube

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// OutlierThreshold is the minimum score reported as an outlier.
const OutlierThreshold = 50

const maxFallbackResults = 20

// Outlier is a Video annotated with how far it fell short of expectations.
type Outlier struct {
	Video
	DaysSincePublished    int     `json:"daysSincePublished"`
	DurationInSeconds     int     `json:"durationInSeconds"`
	ExpectedViews         int64   `json:"expectedViews"`
	OutlierScore          int     `json:"outlierScore"`
	EngagementRate        float64 `json:"engagementRate"`
	UnderperformanceRatio float64 `json:"underperformanceRatio"`
	IsOutlier             bool    `json:"isOutlier"`
}

var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseDuration converts an ISO-8601 video duration such as PT1H2M3S into
// seconds. Unparseable input yields 0.
func ParseDuration(raw string) int {
	m := isoDuration.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	total := 0
	for i, mult := range []int{3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, _ := strconv.Atoi(m[i+1])
		total += n * mult
	}
	return total
}

// DaysSince returns whole days (rounded up) between publishedAt and now.
func DaysSince(publishedAt string, now time.Time) int {
	ts, err := time.Parse(time.RFC3339, publishedAt)
	if err != nil {
		return 0
	}
	diff := math.Abs(now.Sub(ts).Hours() / 24)
	return int(math.Ceil(diff))
}

// ExpectedViews scales the channel average by video age and length, with a
// floor of 100 views.
func ExpectedViews(channelAvg float64, days, durationSeconds int) float64 {
	expected := channelAvg
	switch {
	case days < 7:
		expected *= 0.3
	case days < 30:
		expected *= 0.6
	case days < 90:
		expected *= 0.8
	}
	switch {
	case durationSeconds < 300:
		expected *= 1.2
	case durationSeconds > 1200:
		expected *= 0.8
	}
	return math.Max(expected, 100)
}

// Score maps actual/expected views to 0, 25, 50, 75 or 100.
func Score(actual, expected float64) int {
	if expected == 0 {
		return 0
	}
	ratio := actual / expected
	switch {
	case ratio >= 1:
		return 0
	case ratio >= 0.5:
		return 25
	case ratio >= 0.3:
		return 50
	case ratio >= 0.1:
		return 75
	default:
		return 100
	}
}

// FindOutliers scores every video against its channel's average in the same
// result set. Outliers come back highest score first; when none qualify the
// twenty lowest performance ratios are returned instead.
func FindOutliers(videos []Video, now time.Time) []Outlier {
	totals := make(map[string]int64)
	counts := make(map[string]int64)
	for _, v := range videos {
		totals[v.ChannelTitle] += v.ViewCount
		counts[v.ChannelTitle]++
	}

	scored := make([]Outlier, 0, len(videos))
	for _, v := range videos {
		avg := float64(totals[v.ChannelTitle]) / float64(counts[v.ChannelTitle])
		days := DaysSince(v.PublishedAt, now)
		seconds := ParseDuration(v.Duration)
		expected := ExpectedViews(avg, days, seconds)
		score := Score(float64(v.ViewCount), expected)
		var engagement float64
		if v.ViewCount > 0 {
			engagement = round2(float64(v.LikeCount+v.CommentCount) / float64(v.ViewCount) * 100)
		}
		scored = append(scored, Outlier{
			Video:                 v,
			DaysSincePublished:    days,
			DurationInSeconds:     seconds,
			ExpectedViews:         int64(math.Round(expected)),
			OutlierScore:          score,
			EngagementRate:        engagement,
			UnderperformanceRatio: round2(float64(v.ViewCount) / expected),
			IsOutlier:             score >= OutlierThreshold,
		})
	}

	outliers := make([]Outlier, 0, len(scored))
	for _, o := range scored {
		if o.IsOutlier {
			outliers = append(outliers, o)
		}
	}
	if len(outliers) > 0 {
		sort.SliceStable(outliers, func(i, j int) bool { return outliers[i].OutlierScore > outliers[j].OutlierScore })
		return outliers
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].UnderperformanceRatio < scored[j].UnderperformanceRatio })
	if len(scored) > maxFallbackResults {
		scored = scored[:maxFallbackResults]
	}
	return scored
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
