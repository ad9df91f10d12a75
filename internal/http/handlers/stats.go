package handlers

import (
	"net/http"
)

type statsResponse struct {
	Worker string `json:"worker"`
	Stats  any    `json:"stats"`
}

// Stats reports the loop's lifecycle counters since process start.
func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, statsResponse{
		Worker: a.workerID,
		Stats:  a.stats.Snapshot(),
	})
}
