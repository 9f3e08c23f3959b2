package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zalogate/zalogate/internal/session"
)

// Sessions is set from main.go during init.
var Sessions *session.Manager

// qrWaitTimeout bounds how long a login request waits for either a pairing
// QR or a completed credential login before giving up on the response.
var qrWaitTimeout = 30 * time.Second

// AccountLogin starts a platform login. The response carries the first
// pairing QR (status "pending") or, when the login completes before any QR
// is needed, the finished account (status "ok"). Pairing continues in the
// background after a pending response; completion is announced over the
// notification websocket and the login_success webhook.
func AccountLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Proxy      string `json:"proxy"`
		TrackingID string `json:"trackingId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.TrackingID == "" {
		body.TrackingID = uuid.NewString()
	}

	qrCh := make(chan string, 1)
	resCh := make(chan *session.LoginResult, 1)
	errCh := make(chan error, 1)

	// Pairing outlives this request: the caller gets the QR back and the
	// human scans it later.
	go func() {
		res, err := Sessions.InitiateLogin(context.Background(), session.LoginOptions{
			ProxyURL:   body.Proxy,
			TrackingID: body.TrackingID,
			OnQR: func(artifact string) {
				select {
				case qrCh <- artifact:
				default:
				}
			},
		})
		if err != nil {
			log.Printf("[login] login (tracking %s) failed: %v", body.TrackingID, err)
			errCh <- err
			return
		}
		resCh <- res
	}()

	select {
	case qr := <-qrCh:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "pending",
			"trackingId": body.TrackingID,
			"qr":         qr,
		})
	case res := <-resCh:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"trackingId": body.TrackingID,
			"account":    res,
		})
	case err := <-errCh:
		writeError(w, http.StatusBadGateway, err.Error())
	case <-time.After(qrWaitTimeout):
		writeError(w, http.StatusGatewayTimeout, "Timed out waiting for pairing to start")
	}
}
