package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/zalogate/zalogate/internal/session"
)

func resolveSession(accountID string) *session.Session {
	if s := Sessions.Registry().Find(accountID); s != nil {
		return s
	}
	// Callers sometimes address accounts by phone number.
	return Sessions.Registry().FindByHandle(accountID)
}

// FindUser resolves a phone number to a platform user through one account's
// session.
func FindUser(w http.ResponseWriter, r *http.Request) {
	ownID := r.URL.Query().Get("ownId")
	phone := r.URL.Query().Get("phone")
	if ownID == "" || phone == "" {
		writeError(w, http.StatusBadRequest, "ownId and phone are required")
		return
	}

	s := resolveSession(ownID)
	if s == nil {
		writeError(w, http.StatusNotFound, "Account not connected")
		return
	}
	client := s.Client()
	if client == nil {
		writeError(w, http.StatusConflict, "Account is reconnecting")
		return
	}

	result, err := client.FindUser(r.Context(), phone)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SendMessage sends a text message from one connected account.
func SendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OwnID      string `json:"ownId"`
		ThreadID   string `json:"threadId"`
		ThreadType string `json:"threadType"`
		Message    string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.OwnID == "" || body.ThreadID == "" || body.Message == "" {
		writeError(w, http.StatusBadRequest, "ownId, threadId and message are required")
		return
	}
	if body.ThreadType == "" {
		body.ThreadType = "user"
	}

	s := resolveSession(body.OwnID)
	if s == nil {
		writeError(w, http.StatusNotFound, "Account not connected")
		return
	}
	client := s.Client()
	if client == nil {
		writeError(w, http.StatusConflict, "Account is reconnecting")
		return
	}

	result, err := client.SendMessage(r.Context(), body.ThreadID, body.ThreadType, body.Message)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
