package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/snarg/wer-engine/internal/batch"
)

type HealthResponse struct {
	Status        string             `json:"status"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Checks        map[string]string  `json:"checks"`
	Batch         *batch.QueueStats  `json:"batch,omitempty"`
	Watcher       *WatcherStatusData `json:"watcher,omitempty"`
}

// Pinger is satisfied by *database.DB.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionStatus is satisfied by *mqttclient.Client.
type ConnectionStatus interface {
	IsConnected() bool
}

// HealthOptions lists the dependencies the health check reports on. Nil
// fields are reported as not configured.
type HealthOptions struct {
	DB           Pinger
	MQTT         ConnectionStatus
	Live         LiveDataSource
	Queue        DatasetQueue
	StorageType  string
	KafkaEnabled bool
	Version      string
	StartTime    time.Time
}

type HealthHandler struct {
	opts HealthOptions
}

func NewHealthHandler(opts HealthOptions) *HealthHandler {
	return &HealthHandler{opts: opts}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Database check
	if h.opts.DB != nil {
		if err := h.opts.DB.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "memory"
	}

	// MQTT check
	if h.opts.MQTT != nil {
		if h.opts.MQTT.IsConnected() {
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

	if h.opts.KafkaEnabled {
		checks["kafka"] = "ok"
	} else {
		checks["kafka"] = "not_configured"
	}
	if h.opts.StorageType != "" {
		checks["storage"] = h.opts.StorageType
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.opts.Version,
		UptimeSeconds: int64(time.Since(h.opts.StartTime).Seconds()),
		Checks:        checks,
	}

	if h.opts.Live != nil {
		if ws := h.opts.Live.WatcherStatus(); ws != nil {
			checks["dataset_watcher"] = ws.Status
			resp.Watcher = ws
		}
	}
	if h.opts.Queue != nil {
		stats := h.opts.Queue.Stats()
		resp.Batch = &stats
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
