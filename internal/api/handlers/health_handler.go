package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ryde/accounts/internal/api/types"
	"github.com/ryde/accounts/pkg/database"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// poolReporter is implemented by stores that expose connection pool counters.
type poolReporter interface {
	Stats() database.PoolStats
}

type HealthHandler struct {
	db Pinger
}

func NewHealthHandler(db Pinger) *HealthHandler { return &HealthHandler{db: db} }

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.StatusResponse{Success: true, Data: map[string]any{"status": "ok"}})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, types.StatusResponse{
				Success: false,
				Data:    map[string]any{"status": "database unavailable"},
			})
			return
		}
	}
	data := map[string]any{"status": "ready"}
	if pr, ok := h.db.(poolReporter); ok {
		data["pool"] = pr.Stats()
	}
	writeJSON(w, http.StatusOK, types.StatusResponse{Success: true, Data: data})
}
