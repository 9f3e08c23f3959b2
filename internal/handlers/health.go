package handlers

import (
	"net/http"
	"time"

	"github.com/zalogate/zalogate/internal/database"
)

var startedAt = time.Now()

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	total := 0
	online := 0
	if Sessions != nil {
		for _, info := range Sessions.ListSessions() {
			total++
			if info.IsActive {
				online++
			}
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"database":  dbStatus,
		"timestamp": formatTimestamp(time.Now()),
		"uptime":    time.Since(startedAt).Seconds(),
		"accounts": map[string]int{
			"total":  total,
			"online": online,
		},
	})
}
