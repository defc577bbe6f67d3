package handlers

import (
	"net/http"

	"pdfforge/internal/domain"
)

func (a *App) PoolStats(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Pool.Stats())
}

// JobStats reports job counts by status. Every status is present, zero or not.
func (a *App) JobStats(w http.ResponseWriter, r *http.Request) {
	counts, err := a.Counter.CountByStatus(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := map[string]int{}
	total := 0
	for _, s := range []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed} {
		out[string(s)] = counts[s]
		total += counts[s]
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": out, "total": total})
}
