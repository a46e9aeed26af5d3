package handlers

import (
	"net/http"
)

type healthResponse struct {
	Status         string `json:"status"`
	Env            string `json:"env,omitempty"`
	Store          string `json:"store,omitempty"`
	EmbeddedWorker bool   `json:"embedded_worker"`
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a.Config != nil {
		resp.Env = a.Config.AppEnv
		resp.Store = a.Config.StoreDriver
		resp.EmbeddedWorker = a.Config.EmbeddedWorker
	}
	a.json(w, http.StatusOK, resp)
}
