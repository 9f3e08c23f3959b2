package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zalogate/zalogate/internal/session"
)

func ListAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Sessions.ListSessions())
}

func GetAccount(w http.ResponseWriter, r *http.Request) {
	detail, err := Sessions.Describe(chi.URLParam(r, "ownId"))
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeError(w, http.StatusNotFound, "Account not connected")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// DeleteAccount logs the account out and forgets its stored credential.
func DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := Sessions.Logout(chi.URLParam(r, "ownId")); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeError(w, http.StatusNotFound, "Account not connected")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
