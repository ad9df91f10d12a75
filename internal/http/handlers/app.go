package handlers

import (
	"encoding/json"
	"net/http"

	"sunrunner/internal/worker"
)

// App carries the dependencies of the ops endpoints.
type App struct {
	workerID string
	stats    *worker.Stats
}

func NewApp(workerID string, stats *worker.Stats) *App {
	return &App{workerID: workerID, stats: stats}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
