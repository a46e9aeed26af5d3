package handlers

import (
	"net/http"

	"trendtide/internal/domain"
	"trendtide/internal/middleware"
)

type meResponse struct {
	Email        string   `json:"email"`
	Plan         string   `json:"plan"`
	Locale       string   `json:"locale"`
	Country      string   `json:"country,omitempty"`
	AllowedKinds []string `json:"allowed_kinds"`
}

// Me echoes the caller's identity, negotiated locale and the job kinds their
// plan may submit.
func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return
	}
	resp := meResponse{
		Email:   id.Email,
		Plan:    id.Plan,
		Locale:  middleware.LocaleFromContext(r.Context()),
		Country: middleware.CountryFromContext(r.Context()),
	}
	for _, kind := range []domain.JobKind{domain.JobKindThumbnail, domain.JobKindContent} {
		if a.Plans.Allows(id.Plan, kind) {
			resp.AllowedKinds = append(resp.AllowedKinds, string(kind))
		}
	}
	if resp.AllowedKinds == nil {
		resp.AllowedKinds = []string{}
	}
	a.json(w, http.StatusOK, resp)
}
