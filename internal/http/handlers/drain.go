package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"pdfforge/internal/dispatch"
)

type drainResponse struct {
	Processed int   `json:"processed"`
	Claimed   int   `json:"claimed"`
	Completed int   `json:"completed"`
	Requeued  int   `json:"requeued"`
	Failed    int   `json:"failed"`
	TookMs    int64 `json:"tookMs"`
}

// Drain runs one synchronous drain pass. maxJobs and maxMs are capped at the
// configured limits.
func (a *App) Drain(w http.ResponseWriter, r *http.Request) {
	maxJobs, err := queryInt(r, "maxJobs", a.MaxDrainJobs)
	if err != nil {
		a.error(w, http.StatusBadRequest, "validation_failed", "maxJobs must be a positive integer")
		return
	}
	maxMs, err := queryInt(r, "maxMs", int(a.MaxDrainDuration.Milliseconds()))
	if err != nil {
		a.error(w, http.StatusBadRequest, "validation_failed", "maxMs must be a positive integer")
		return
	}
	if a.MaxDrainJobs > 0 && maxJobs > a.MaxDrainJobs {
		maxJobs = a.MaxDrainJobs
	}
	budget := time.Duration(maxMs) * time.Millisecond
	if a.MaxDrainDuration > 0 && budget > a.MaxDrainDuration {
		budget = a.MaxDrainDuration
	}

	res, err := a.Dispatcher.Drain(r.Context(), maxJobs, budget)
	body := drainResponse{
		Processed: res.Processed,
		Claimed:   res.Claimed,
		Completed: res.Completed,
		Requeued:  res.Requeued,
		Failed:    res.Failed,
		TookMs:    res.Elapsed.Milliseconds(),
	}
	if errors.Is(err, dispatch.ErrCatastrophic) {
		a.logger(r).Error().Err(err).Msg("drain stopped: resource pool unavailable")
		a.json(w, http.StatusServiceUnavailable, map[string]any{
			"error":  errorDetail{Code: "pool_unavailable", Message: "resource pool unavailable"},
			"result": body,
		})
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, body)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}
