package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/iudanet/cartsync/pkg/api"
)

//go:generate moq -out relay_stats_mock.go . RelayStats

// RelayStats reports the relay hub occupancy
type RelayStats interface {
	Channels() int
	Connections() int
}

// HealthHandler обрабатывает health check запросы
type HealthHandler struct {
	relay   RelayStats
	logger  *slog.Logger
	started time.Time
	version string
}

// NewHealthHandler создает новый handler для health check
func NewHealthHandler(relay RelayStats, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		relay:   relay,
		logger:  logger,
		started: time.Now(),
		version: version,
	}
}

// Health обрабатывает GET /api/v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := api.HealthResponse{
		Status:        "ok",
		Version:       h.version,
		Channels:      h.relay.Channels(),
		Connections:   h.relay.Connections(),
		UptimeSeconds: int64(time.Since(h.started) / time.Second),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}
