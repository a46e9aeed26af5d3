package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"trendtide/internal/http/handlers"
	"trendtide/internal/middleware"
)

// Options carry the router settings that are not part of the handlers.
type Options struct {
	JWTSecret string
	// IDTokens verifies RS256 tokens from an external identity provider.
	IDTokens       middleware.TokenVerifier
	AllowedOrigins []string
	DefaultLocale  string
	RateLimit      int
	CountryLookup  middleware.CountryLookup
	// StaticDir is served under /static when the filesystem storage backend is used.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		middleware.RequestID(app.Logger),
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	if dir := strings.TrimSpace(opts.StaticDir); dir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
	}

	limit := middleware.RateLimit(opts.RateLimit)
	r.Group(func(r chi.Router) {
		r.Use(
			middleware.AuthJWT(opts.JWTSecret, opts.IDTokens),
			middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
		)

		r.Get("/v1/me", app.Me)

		r.Route("/v1/jobs", func(r chi.Router) {
			r.With(limit).Post("/thumbnail", app.SubmitThumbnail)
			r.With(limit).Post("/content", app.SubmitContent)
			r.Get("/thumbnail", app.ListThumbnails)
			r.Get("/content", app.ListContents)
		})

		r.Route("/v1/runs/{run_id}", func(r chi.Router) {
			r.Get("/", app.RunStatus)
			r.Post("/cancel", app.CancelRun)
		})

		r.Route("/v1/search", func(r chi.Router) {
			r.Use(limit)
			r.Get("/thumbnails", app.SearchThumbnails)
			r.Get("/outliers", app.SearchOutliers)
		})
	})

	return r
}
