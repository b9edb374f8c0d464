package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dtroode/kurasi/internal/logger"
	"github.com/dtroode/kurasi/internal/session"
)

const pingTimeout = 2 * time.Second

// SnapshotReader exposes the session state.
type SnapshotReader interface {
	Snapshot() session.Snapshot
}

// Pinger checks a remote dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Session  string `json:"session"`
	Database string `json:"database"`
}

// Health reports readiness of the process.
type Health struct {
	sessions SnapshotReader
	db       Pinger
	logger   *logger.Logger
}

func NewHealth(sessions SnapshotReader, db Pinger, logger *logger.Logger) *Health {
	return &Health{sessions: sessions, db: db, logger: logger}
}

// Healthz answers 503 while the session is still bootstrapping or the
// database does not respond, and 200 otherwise.
func (h *Health) Healthz(w http.ResponseWriter, r *http.Request) {
	snap := h.sessions.Snapshot()
	resp := HealthResponse{
		Status:   "ok",
		Session:  snap.State.String(),
		Database: "ok",
	}
	code := http.StatusOK

	if snap.State == session.StateBootstrapping {
		resp.Status = "starting"
		code = http.StatusServiceUnavailable
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("Health: database ping failed",
				"error", err.Error())
			resp.Status = "degraded"
			resp.Database = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Health: failed to write response",
			"error", err.Error())
	}
}
