package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/zalogate/zalogate/internal/proxypool"
)

// Proxies is set from main.go during init.
var Proxies *proxypool.Pool

func ListProxies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Proxies.Snapshot())
}

func AddProxy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeError(w, http.StatusBadRequest, "Proxy URL is required")
		return
	}

	entry, err := Proxies.AddCustom(body.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, proxypool.EntryInfo{
		URL:      entry.URL,
		Capacity: entry.Capacity,
		Load:     entry.Load(),
	})
}

func RemoveProxy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeError(w, http.StatusBadRequest, "Proxy URL is required")
		return
	}

	if err := Proxies.Remove(body.URL); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckProxy probes whether the platform is reachable through a proxy.
func CheckProxy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeError(w, http.StatusBadRequest, "Proxy URL is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"url":   body.URL,
		"alive": proxypool.CheckAlive(body.URL),
	})
}
