package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/voxdoc/internal/selector"
)

// DBChecker is the optional database health surface.
type DBChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnChecker is the optional broker connectivity surface.
type ConnChecker interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Transcription selector.Status   `json:"transcription"`
}

type HealthHandler struct {
	db        DBChecker
	mqtt      ConnChecker
	sel       Transcriber
	version   string
	startTime time.Time
}

func NewHealthHandler(db DBChecker, mqtt ConnChecker, sel Transcriber, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		sel:       sel,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	trStatus := h.sel.Status()
	if trStatus.Online {
		checks["connectivity"] = "online"
	} else {
		checks["connectivity"] = "offline"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Transcription: trStatus,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
