package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"trendtide/internal/domain"
	"trendtide/internal/infra"
	"trendtide/internal/middleware"
	"trendtide/internal/search"
	"trendtide/internal/workflow"
)

// Dispatcher is the part of the workflow engine the API talks to.
type Dispatcher interface {
	Send(ctx context.Context, evt workflow.Event) ([]string, error)
	Status(ctx context.Context, runID string) (*domain.JobRun, error)
	Cancel(ctx context.Context, runID string) error
}

// Searcher answers the search endpoints.
type Searcher interface {
	Thumbnails(ctx context.Context, query, thumbnailURL string) (search.ThumbnailResult, error)
	Outliers(ctx context.Context, query string) (search.OutlierResult, error)
}

type App struct {
	Config     *infra.Config
	Logger     infra.Logger
	Engine     Dispatcher
	Thumbnails domain.ThumbnailRepository
	Contents   domain.ContentRepository
	Search     Searcher
	Plans      domain.PlanPolicy
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// fail maps domain errors onto HTTP statuses. Unexpected errors are logged and
// reported without detail.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		a.json(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "validation_failed", Message: vErr.Error(), Field: vErr.Field}})
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrProviderFailure):
		a.logger(r).Warn().Err(err).Msg("upstream provider failed")
		a.error(w, http.StatusBadGateway, "provider_failure", "upstream provider failed")
	default:
		a.logger(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// logger prefers the request-scoped logger that carries the request id.
func (a *App) logger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}

// requireIdentity writes 401 and returns false for anonymous requests.
func (a *App) requireIdentity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return domain.Identity{}, false
	}
	return id, true
}
