package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleCapacity(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	if account == "" {
		respondError(w, http.StatusBadRequest, errors.New("account is required"))
		return
	}

	// Fans out to several accounts and regions; needs more room than the
	// default handler timeout.
	ctx, cancel := context.WithTimeout(r.Context(), 45*time.Second)
	defer cancel()

	view, err := a.capacity.Combined(ctx, account)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}
