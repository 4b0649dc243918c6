package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mkoffi/tontine/internal/models"
	"github.com/mkoffi/tontine/internal/storage"
	"github.com/mkoffi/tontine/internal/tontine"
)

// api exposes the engine's operations as a thin JSON surface. Authentication
// lives upstream; the authenticated principal arrives in the X-User-ID
// header set by the fronting layer.
type api struct {
	store  storage.Store
	groups *tontine.GroupService
	credit *tontine.CreditService
}

func registerRoutes(mux *http.ServeMux, a *api) {
	mux.HandleFunc("POST /api/users", a.createUser)
	mux.HandleFunc("POST /api/groups", a.createGroup)
	mux.HandleFunc("GET /api/groups", a.listGroups)
	mux.HandleFunc("GET /api/groups/{id}", a.getGroup)
	mux.HandleFunc("DELETE /api/groups/{id}", a.deleteGroup)
	mux.HandleFunc("POST /api/groups/{id}/members", a.addMember)
	mux.HandleFunc("DELETE /api/groups/{id}/members/{userID}", a.removeMember)
	mux.HandleFunc("POST /api/groups/{id}/rounds", a.startRound)
	mux.HandleFunc("GET /api/groups/{id}/rounds", a.roundHistory)
	mux.HandleFunc("POST /api/contributions/{id}/pay", a.payContribution)
}

func (a *api) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsVerified        bool   `json:"is_verified"`
		PayoutDestination string `json:"payout_destination"`
	}
	if !decode(w, r, &req) {
		return
	}
	user := &models.User{
		IsVerified:        req.IsVerified,
		PayoutDestination: req.PayoutDestination,
	}
	if err := a.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *api) createGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string  `json:"name"`
		Amount   float64 `json:"amount"`
		Interval string  `json:"interval"`
	}
	if !decode(w, r, &req) {
		return
	}
	group, err := a.groups.CreateGroup(r.Context(), req.Name, caller(r), req.Amount, models.Interval(req.Interval))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (a *api) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := a.groups.ListGroups(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (a *api) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := a.groups.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *api) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := a.groups.DeleteGroup(r.Context(), r.PathValue("id"), caller(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) addMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	group, err := a.groups.AddMember(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *api) removeMember(w http.ResponseWriter, r *http.Request) {
	group, err := a.groups.RemoveMember(r.Context(), r.PathValue("id"), caller(r), r.PathValue("userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *api) startRound(w http.ResponseWriter, r *http.Request) {
	group, err := a.groups.StartNextRound(r.Context(), r.PathValue("id"), caller(r), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *api) roundHistory(w http.ResponseWriter, r *http.Request) {
	rounds, err := a.groups.RoundHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (a *api) payContribution(w http.ResponseWriter, r *http.Request) {
	c, err := a.credit.RecordContributionPayment(r.Context(), r.PathValue("id"), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func caller(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps the engine's error taxonomy to HTTP statuses, surfacing
// the error text as-is.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tontine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tontine.ErrNotAuthorized),
		errors.Is(err, tontine.ErrNotVerified),
		errors.Is(err, tontine.ErrNotEligible):
		status = http.StatusForbidden
	case errors.Is(err, tontine.ErrOutstandingBalance),
		errors.Is(err, tontine.ErrRoundNotSettled),
		errors.Is(err, tontine.ErrNoEligibleBeneficiary),
		errors.Is(err, tontine.ErrAlreadyPaid):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
