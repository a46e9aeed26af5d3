package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"trendtide/internal/domain"
)

type runOwner struct {
	UserEmail string `json:"userEmail"`
}

// RunStatus returns the run with its step records. Runs of other requesters
// answer 404.
func (a *App) RunStatus(w http.ResponseWriter, r *http.Request) {
	run, ok := a.ownedRun(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, run)
}

// CancelRun moves a Running run to Cancelled. The executor stops before its
// next step.
func (a *App) CancelRun(w http.ResponseWriter, r *http.Request) {
	run, ok := a.ownedRun(w, r)
	if !ok {
		return
	}
	if err := a.Engine.Cancel(r.Context(), run.RunID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			a.error(w, http.StatusConflict, "conflict", "run already finished")
			return
		}
		a.fail(w, r, err)
		return
	}
	a.logger(r).Info().Str("run_id", run.RunID).Msg("run cancelled")
	a.json(w, http.StatusAccepted, map[string]string{"runId": run.RunID, "status": string(domain.RunStatusCancelled)})
}

func (a *App) ownedRun(w http.ResponseWriter, r *http.Request) (*domain.JobRun, bool) {
	id, ok := a.requireIdentity(w, r)
	if !ok {
		return nil, false
	}
	runID := strings.TrimSpace(chi.URLParam(r, "run_id"))
	if runID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "run_id required")
		return nil, false
	}
	run, err := a.Engine.Status(r.Context(), runID)
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	var owner runOwner
	if err := json.Unmarshal(run.Payload, &owner); err != nil || !strings.EqualFold(owner.UserEmail, id.Email) {
		a.error(w, http.StatusNotFound, "not_found", "run not found")
		return nil, false
	}
	return run, true
}
