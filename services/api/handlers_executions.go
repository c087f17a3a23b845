package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"recoveryd/services/engine"
	"recoveryd/services/planstore"
)

type startExecutionRequest struct {
	PlanID string `json:"plan_id"`
	Mode   string `json:"mode"`
}

type startExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
}

func (a *API) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req startExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.PlanID == "" {
		respondError(w, http.StatusBadRequest, errors.New("plan_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	id, err := a.engine.StartExecution(ctx, req.PlanID, engine.Mode(req.Mode))
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, startExecutionResponse{ExecutionID: id})
}

func (a *API) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	exec, err := a.engine.GetExecution(ctx, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

func (a *API) handleAdvance(w http.ResponseWriter, r *http.Request) {
	a.handleStep(w, r, a.engine.Advance)
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	a.handleStep(w, r, a.engine.RequestPause)
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	a.handleStep(w, r, a.engine.RequestResume)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	a.handleStep(w, r, a.engine.RequestCancel)
}

func (a *API) handleStep(w http.ResponseWriter, r *http.Request, step func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := step(ctx, id); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"execution_id": id})
}

type reportResponse struct {
	URL string `json:"url"`
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	url, err := a.engine.ReportURL(ctx, chi.URLParam(r, "id"), a.config.ReportTTL)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, reportResponse{URL: url})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, planstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrTerminal), errors.Is(err, engine.ErrNotPaused), errors.Is(err, engine.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
