// Package bootstrap assembles the store, providers and workflow engine shared
// by cmd/api and cmd/worker.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"trendtide/internal/adapter/repo"
	"trendtide/internal/domain"
	"trendtide/internal/http/handlers"
	"trendtide/internal/http/httpapi"
	"trendtide/internal/infra"
	"trendtide/internal/infra/credentials"
	"trendtide/internal/infra/geoip"
	"trendtide/internal/infra/google"
	"trendtide/internal/jobs"
	"trendtide/internal/providers/inference"
	"trendtide/internal/providers/llm"
	"trendtide/internal/providers/youtube"
	"trendtide/internal/search"
	"trendtide/internal/sqlinline"
	"trendtide/internal/storage"
	"trendtide/internal/workflow"
)

const retryBackoff = 2 * time.Second

// Runtime is everything a process needs once configuration is loaded.
type Runtime struct {
	Config     *infra.Config
	Logger     zerolog.Logger
	Engine     *workflow.Engine
	Thumbnails domain.ThumbnailRepository
	Contents   domain.ContentRepository
	Search     *search.Service
	GeoIP      *geoip.Resolver
	// StaticDir is set when generated images are written to the local filesystem.
	StaticDir string

	runner  *infra.SQLRunner
	store   workflow.Store
	closers []func()
}

// New connects the configured store and registers both job definitions.
func New(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	creds := credentials.NewStore(nil)
	if rt.runner != nil {
		creds = credentials.NewStore(rt.runner)
	}
	key := func(provider, configured string) string {
		v, err := creds.Resolve(ctx, provider, configured)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider).Msg("bootstrap: failed to load api key from store")
		}
		if v == "" {
			logger.Warn().Str("provider", provider).Msg("bootstrap: api key missing")
		}
		return v
	}

	uploader, err := rt.openStorage(key(credentials.ProviderImageKit, cfg.ImageKitPrivateKey))
	if err != nil {
		rt.Close()
		return nil, err
	}

	llmClient := llm.NewClient(llm.Options{
		APIKey:  key(credentials.ProviderLLM, cfg.LLMAPIKey),
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
		Title:   "TrendTide",
		OnFailure: func(reason string, err error) {
			logger.Warn().Err(err).Str("reason", reason).Msg("llm: request failed")
		},
		OnWarning: func(reason, detail string) {
			logger.Warn().Str("reason", reason).Str("detail", detail).Msg("llm: configuration warning")
		},
	})
	imageClient := inference.NewClient(inference.Options{
		APIKey:     key(credentials.ProviderInference, cfg.InferenceAPIKey),
		BaseURL:    cfg.InferenceBaseURL,
		Model:      cfg.InferenceModel,
		PerMinute:  cfg.InferencePerMin,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		Logger:     &rt.Logger,
	})
	videos := youtube.NewClient(youtube.Options{
		APIKey:   key(credentials.ProviderYouTube, cfg.YouTubeAPIKey),
		BaseURL:  cfg.YouTubeBaseURL,
		CacheTTL: cfg.SearchCacheTTL,
	})
	rt.Search = search.NewService(llmClient, videos, logger)

	if rt.GeoIP, err = geoip.NewResolver(cfg.GeoIPDBPath); err != nil {
		logger.Warn().Err(err).Str("path", cfg.GeoIPDBPath).Msg("bootstrap: geoip disabled")
		rt.GeoIP = nil
	} else if rt.GeoIP != nil {
		rt.closers = append(rt.closers, func() { _ = rt.GeoIP.Close() })
	}

	host, _ := os.Hostname()
	rt.Engine, err = workflow.New(workflow.Options{
		Store:        rt.store,
		Logger:       logger,
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		Lease:        cfg.RunLease,
		Retries:      cfg.RunMaxRetries,
		BaseBackoff:  retryBackoff,
		WorkerID:     fmt.Sprintf("%s-%d", host, os.Getpid()),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	deps := &jobs.Deps{
		LLM:             llmClient,
		Images:          imageClient,
		Storage:         uploader,
		Thumbnails:      rt.Thumbnails,
		Contents:        rt.Contents,
		Folder:          cfg.ImageKitFolder,
		FallbackBaseURL: cfg.FallbackImageBaseURL,
		Logger:          logger,
	}
	if err := rt.Engine.Register(jobs.Functions(deps)...); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) error {
	cfg := rt.Config
	switch cfg.StoreDriver {
	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.runner = infra.NewSQLRunner(pool, rt.Logger)
		rt.store = workflow.NewPGStore(rt.runner)
		rt.Thumbnails = repo.NewThumbnailRepository(rt.runner)
		rt.Contents = repo.NewContentRepository(rt.runner)
	case infra.StoreDriverSQLite:
		db, err := infra.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		if rt.store, err = workflow.NewSQLiteStore(ctx, db, time.Now); err != nil {
			return err
		}
		artifacts, err := repo.NewSQLiteArtifacts(ctx, db)
		if err != nil {
			return err
		}
		rt.Thumbnails = artifacts.Thumbnails()
		rt.Contents = artifacts.Contents()
	case infra.StoreDriverMemory:
		rt.Logger.Warn().Msg("bootstrap: memory store selected, runs and history are lost on exit")
		rt.store = workflow.NewMemoryStore(time.Now)
		artifacts := repo.NewMemoryArtifacts()
		rt.Thumbnails = artifacts.Thumbnails()
		rt.Contents = artifacts.Contents()
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	rt.Logger.Info().Str("driver", cfg.StoreDriver).Msg("bootstrap: store ready")
	return nil
}

// openStorage prefers ImageKit and falls back to the local filesystem.
func (rt *Runtime) openStorage(imageKitKey string) (storage.Uploader, error) {
	cfg := rt.Config
	if imageKitKey != "" {
		return storage.NewImageKit(storage.ImageKitOptions{
			PrivateKey: imageKitKey,
			UploadURL:  cfg.ImageKitUploadURL,
			Folder:     cfg.ImageKitFolder,
		})
	}
	files, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		return nil, err
	}
	rt.StaticDir = files.BasePath()
	return files, nil
}

// Migrate applies the Postgres schema. SQLite and memory stores create their
// tables on open.
func (rt *Runtime) Migrate(ctx context.Context) error {
	if rt.runner == nil {
		return nil
	}
	if _, err := rt.runner.Exec(ctx, sqlinline.QSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	rt.Logger.Info().Msg("bootstrap: schema applied")
	return nil
}

// Credentials returns the provider key store, or nil when the store is not
// Postgres.
func (rt *Runtime) Credentials() *credentials.Store {
	if rt.runner == nil {
		return nil
	}
	return credentials.NewStore(rt.runner)
}

// Handler builds the HTTP API on top of the runtime.
func (rt *Runtime) Handler() http.Handler {
	cfg := rt.Config
	app := &handlers.App{
		Config:     cfg,
		Logger:     rt.Logger,
		Engine:     rt.Engine,
		Thumbnails: rt.Thumbnails,
		Contents:   rt.Contents,
		Search:     rt.Search,
		Plans:      domain.NewPlanPolicy(cfg.GatedKinds, cfg.PaidPlans),
	}
	opts := httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		DefaultLocale:  cfg.DefaultLocale,
		RateLimit:      cfg.RateLimitPerMin,
		CountryLookup:  rt.GeoIP.Lookup(),
		StaticDir:      rt.StaticDir,
	}
	if cfg.GoogleClientID != "" {
		opts.IDTokens = google.NewVerifier(google.Options{Issuer: cfg.GoogleIssuer, ClientID: cfg.GoogleClientID})
	}
	return httpapi.NewRouter(app, opts)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
