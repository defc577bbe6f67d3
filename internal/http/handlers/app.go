package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"pdfforge/internal/dispatch"
	"pdfforge/internal/domain"
	"pdfforge/internal/jobs"
	"pdfforge/internal/pool"
	"pdfforge/internal/storage"
)

// JobService is the slice of jobs.Service the handlers call.
type JobService interface {
	Create(ctx context.Context, req jobs.CreateRequest) (jobs.Created, error)
	Regenerate(ctx context.Context, parentID string, ownerID *string, prompt string) (jobs.Created, error)
	Get(ctx context.Context, jobID string, ownerID *string) (*domain.Job, error)
}

type Drainer interface {
	Drain(ctx context.Context, maxJobs int, maxDuration time.Duration) (dispatch.Result, error)
}

type PoolStats interface {
	Stats() pool.Stats
}

type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Jobs       JobService
	Dispatcher Drainer
	Pool       PoolStats
	Counter    StatusCounter
	Documents  storage.ArtifactStore
	DB         Pinger
	Logger     zerolog.Logger

	MaxDrainJobs     int
	MaxDrainDuration time.Duration
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorBody{Error: errorDetail{Code: errCode, Message: message}})
}

// fail maps domain errors onto HTTP statuses. Unknown errors are logged and
// reported as 500 without detail.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.error(w, http.StatusForbidden, "quota_exceeded", "quota exceeded")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrRegenerationLimit):
		a.error(w, http.StatusUnprocessableEntity, "regeneration_limit", err.Error())
	default:
		a.logger(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) logger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}
