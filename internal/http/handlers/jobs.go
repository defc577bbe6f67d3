package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pdfforge/internal/domain"
	"pdfforge/internal/jobs"
	"pdfforge/internal/middleware"
	"pdfforge/internal/storage"
)

const maxRequestBody = 8 << 20

type createJobRequest struct {
	Prompt      string `json:"prompt"`
	Tier        string `json:"tier"`
	ImageBase64 string `json:"image_base64"`
}

type regenerateRequest struct {
	Prompt string `json:"prompt"`
}

type createdResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type jobResponse struct {
	ID                string    `json:"id"`
	OwnerID           *string   `json:"owner_id"`
	Prompt            string    `json:"prompt"`
	Tier              string    `json:"tier"`
	Status            string    `json:"status"`
	Attempts          int       `json:"attempts"`
	Progress          int       `json:"progress"`
	Stage             string    `json:"stage"`
	ErrorMessage      *string   `json:"error_message"`
	ResultRef         *string   `json:"result_ref"`
	RegenerationCount int       `json:"regeneration_count"`
	ParentJobID       *string   `json:"parent_job_id"`
	HasImage          bool      `json:"has_image"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:                j.ID,
		OwnerID:           j.OwnerID,
		Prompt:            j.Prompt,
		Tier:              j.Tier,
		Status:            string(j.Status),
		Attempts:          j.Attempts,
		Progress:          j.Progress,
		Stage:             j.Stage,
		ErrorMessage:      j.ErrorMessage,
		ResultRef:         j.ResultRef,
		RegenerationCount: j.RegenerationCount,
		ParentJobID:       j.ParentJobID,
		HasImage:          j.ImageDigest != nil,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid payload", domain.ErrValidation)
	}
	return nil
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeBody(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	var image []byte
	if req.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(stripDataURL(req.ImageBase64))
		if err != nil {
			a.error(w, http.StatusBadRequest, "validation_failed", "image_base64 is not valid base64")
			return
		}
		image = data
	}
	created, err := a.Jobs.Create(r.Context(), jobs.CreateRequest{
		Prompt:  req.Prompt,
		Tier:    req.Tier,
		OwnerID: middleware.OwnerFromContext(r.Context()),
		Image:   image,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, createdResponse{JobID: created.JobID, Status: string(created.Status), Duplicate: created.Duplicate})
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"), middleware.OwnerFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobResponse(job))
}

func (a *App) RegenerateJob(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := decodeBody(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	created, err := a.Jobs.Regenerate(r.Context(), chi.URLParam(r, "id"), middleware.OwnerFromContext(r.Context()), req.Prompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, createdResponse{JobID: created.JobID, Status: string(created.Status)})
}

// JobDocument serves a completed job's PDF: streamed from the filesystem
// store, or redirected to a presigned object URL.
func (a *App) JobDocument(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Get(r.Context(), chi.URLParam(r, "id"), middleware.OwnerFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if job.Status != domain.JobStatusCompleted || job.ResultRef == nil {
		a.error(w, http.StatusConflict, "not_ready", "document not ready")
		return
	}
	key := *job.ResultRef

	switch docs := a.Documents.(type) {
	case interface {
		PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	}:
		url, err := docs.PresignedURL(r.Context(), key, 15*time.Minute)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	case interface {
		Open(key string) (*os.File, error)
	}:
		f, err := docs.Open(key)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", storage.ContentTypePDF)
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", job.ID+".pdf"))
		http.ServeContent(w, r, job.ID+".pdf", job.UpdatedAt, f)
	default:
		a.error(w, http.StatusNotImplemented, "unsupported", "document download not supported by storage driver")
	}
}

func stripDataURL(s string) string {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		return s[i+len(";base64,"):]
	}
	return strings.TrimSpace(s)
}
