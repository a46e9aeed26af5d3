package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"trendtide/internal/domain"
)

type assertError string

func (e assertError) Error() string { return string(e) }

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		claim    string
		fallback string
		country  string
		want     string
	}{
		{
			name:  "token claim wins",
			claim: "es",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "id")
			},
			want: "es",
		},
		{
			name: "x-locale overrides",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "ID")
			},
			country: "US",
			want:    "id",
		},
		{
			name: "x-locale with region",
			setup: func(r *http.Request) {
				r.Header.Set("X-Locale", "pt_BR")
			},
			want: "pt",
		},
		{
			name: "accept-language quality order",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "tlh;q=1, de-AT;q=0.9, en;q=0.5")
			},
			want: "de",
		},
		{
			name: "unsupported accept-language falls through to country",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "tlh")
			},
			country: "ID",
			want:    "id",
		},
		{
			name: "unsupported accept-language without country uses fallback",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "tlh, sw;q=0.8")
			},
			fallback: "es",
			want:     "es",
		},
		{
			name: "regional variant keeps its base language",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "sw, fr-CA;q=0.7")
			},
			country: "US",
			want:    "fr",
		},
		{
			name:    "country likely language",
			country: "BR",
			want:    "pt",
		},
		{
			name:     "configured fallback",
			fallback: "id",
			want:     "id",
		},
		{
			name: "default to en",
			want: "en",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.setup != nil {
				tc.setup(req)
			}
			got := detectLocale(req, tc.claim, tc.fallback, tc.country)
			if got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveCountry(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		resolver CountryLookup
		want     string
	}{
		{
			name: "header precedence",
			setup: func(r *http.Request) {
				r.Header.Set("X-Country-Code", "us")
				r.Header.Set("CF-IPCountry", "id")
			},
			want: "US",
		},
		{
			name: "unknown cdn country ignored",
			setup: func(r *http.Request) {
				r.Header.Set("CF-IPCountry", "XX")
				r.Header.Set("X-Locale", "en-AU")
			},
			want: "AU",
		},
		{
			name: "accept-language region",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "en-GB,en;q=0.9")
			},
			want: "GB",
		},
		{
			name: "bare language has no region",
			setup: func(r *http.Request) {
				r.Header.Set("Accept-Language", "id;q=0.8")
			},
			want: "",
		},
		{
			name: "resolver fallback",
			resolver: func(ip string) (string, error) {
				if ip != "203.0.113.4" {
					t.Fatalf("unexpected ip: %s", ip)
				}
				return "my", nil
			},
			want: "MY",
		},
		{
			name: "resolver error returns empty",
			resolver: func(ip string) (string, error) {
				return "", assertError("boom")
			},
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "203.0.113.4:80"
			if tc.setup != nil {
				tc.setup(req)
			}
			got := ResolveCountry(req, tc.resolver)
			if got != tc.want {
				t.Fatalf("ResolveCountry() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestI18NMiddlewareUsesIdentityAndLookup(t *testing.T) {
	var locale, country string
	h := I18N("en", func(string) (string, error) { return "id", nil })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = LocaleFromContext(r.Context())
		country = CountryFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if locale != "id" || country != "ID" {
		t.Fatalf("geoip country should pick the locale, got %q/%q", locale, country)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "tlh")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if locale != "id" {
		t.Fatalf("unsupported accept-language should fall through to the geoip country, got %q", locale)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ContextWithIdentity(req.Context(), domain.Identity{Email: "a@b.c", Locale: "ja"}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	if locale != "ja" {
		t.Fatalf("identity locale should win, got %q", locale)
	}
}

func TestLocaleFromContext(t *testing.T) {
	ctx := context.Background()
	if got := LocaleFromContext(ctx); got != "en" {
		t.Fatalf("LocaleFromContext() default = %q, want %q", got, "en")
	}
	ctx = context.WithValue(ctx, LocaleKey, "id")
	if got := LocaleFromContext(ctx); got != "id" {
		t.Fatalf("LocaleFromContext() with value = %q, want %q", got, "id")
	}
}
