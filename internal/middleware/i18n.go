package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// SupportedLocales are the languages generated content can be written in. The
// first entry is the fallback.
var SupportedLocales = []language.Tag{
	language.English,
	language.Indonesian,
	language.Spanish,
	language.Portuguese,
	language.French,
	language.German,
	language.Hindi,
	language.Japanese,
	language.Korean,
	language.Chinese,
}

var localeMatcher = language.NewMatcher(SupportedLocales)

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// I18N stores the negotiated locale and the resolved country on the request
// context. Precedence: token locale claim, X-Locale, Accept-Language, the
// country's most likely language, defaultLocale.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	fallback := matchLocale(defaultLocale)
	if fallback == "" {
		fallback = SupportedLocales[0].String()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := ResolveCountry(r, lookup)
			claim := ""
			if id, ok := IdentityFromContext(r.Context()); ok {
				claim = id.Locale
			}
			locale := detectLocale(r, claim, fallback, country)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, country)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, claim, fallback, country string) string {
	if v := matchLocale(claim); v != "" {
		return v
	}
	if v := matchLocale(r.Header.Get("X-Locale")); v != "" {
		return v
	}
	if tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language")); err == nil && len(tags) > 0 {
		if v := matchTags(tags...); v != "" {
			return v
		}
	}
	if v := countryLocale(country); v != "" {
		return v
	}
	if fallback != "" {
		return fallback
	}
	return SupportedLocales[0].String()
}

// matchLocale maps a BCP 47 string onto a supported locale, or "" when nothing
// is close enough.
func matchLocale(raw string) string {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, "_", "-"))
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	return matchTags(tag)
}

// matchTags walks tags in preference order. A match counts only when it is
// exact or keeps the requested base language; the matcher otherwise answers
// with its default locale at High confidence.
func matchTags(tags ...language.Tag) string {
	for _, tag := range tags {
		_, idx, conf := localeMatcher.Match(tag)
		if conf == language.No {
			continue
		}
		supported := SupportedLocales[idx]
		want, _ := tag.Base()
		got, _ := supported.Base()
		if conf == language.Exact || want == got {
			return supported.String()
		}
	}
	return ""
}

// countryLocale returns the most likely supported language spoken in country.
func countryLocale(country string) string {
	if len(country) != 2 {
		return ""
	}
	region, err := language.ParseRegion(country)
	if err != nil {
		return ""
	}
	tag, err := language.Compose(language.Und, region)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return matchLocale(base.String())
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LocaleFromContext returns the negotiated locale, English when none was set.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok && v != "" {
		return v
	}
	return SupportedLocales[0].String()
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}

// ResolveCountry resolves a best-effort ISO country code: CDN headers first,
// then a region subtag in X-Locale or Accept-Language, then the IP lookup.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	for _, key := range []string{"X-Country-Code", "CF-IPCountry", "X-Appengine-Country"} {
		if val := strings.TrimSpace(r.Header.Get(key)); len(val) == 2 && !strings.EqualFold(val, "XX") {
			return strings.ToUpper(val)
		}
	}
	for _, header := range []string{r.Header.Get("X-Locale"), r.Header.Get("Accept-Language")} {
		if region := localeRegion(header); region != "" {
			return region
		}
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

func localeRegion(header string) string {
	for _, part := range strings.Split(header, ",") {
		token, _, _ := strings.Cut(part, ";")
		tag, err := language.Parse(strings.TrimSpace(token))
		if err != nil {
			continue
		}
		if region, conf := tag.Region(); conf == language.Exact {
			return region.String()
		}
	}
	return ""
}
