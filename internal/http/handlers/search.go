package handlers

import (
	"net/http"
)

func (a *App) SearchThumbnails(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireIdentity(w, r); !ok {
		return
	}
	q := r.URL.Query()
	res, err := a.Search.Thumbnails(r.Context(), q.Get("query"), q.Get("thumbnailUrl"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) SearchOutliers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireIdentity(w, r); !ok {
		return
	}
	res, err := a.Search.Outliers(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}
