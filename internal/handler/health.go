package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sqlite.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports whether the database answers a ping.
//
// HTTP: GET /health → 200 healthy, 503 unhealthy
func Health(db Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()

		resp := HealthResponse{Status: "healthy", Database: "connected", Timestamp: time.Now().UTC()}
		status := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			logger.Error("health check: database ping failed", slog.String("error", err.Error()))
			resp.Status, resp.Database = "unhealthy", "disconnected"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
