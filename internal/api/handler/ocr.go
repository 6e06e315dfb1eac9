package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	mw "github.com/kiranshivaraju/akhbar/internal/api/middleware"
	"github.com/kiranshivaraju/akhbar/internal/api/response"
	"github.com/kiranshivaraju/akhbar/internal/backend"
	"github.com/kiranshivaraju/akhbar/internal/progress"
	"github.com/kiranshivaraju/akhbar/pkg/models"
)

// maxUploadBytes bounds one multipart submission held in memory.
const maxUploadBytes = 64 << 20

// StateSource exposes the shared job state.
type StateSource interface {
	State() models.JobProgressState
}

// Dismisser resets the shared job state.
type Dismisser interface {
	StateSource
	Dismiss()
}

// SnapshotForgetter drops a job's cached snapshot.
type SnapshotForgetter interface {
	Forget(ctx context.Context, jobID string) error
}

// PollerSource exposes the poller's local state.
type PollerSource interface {
	State() progress.PollerState
}

// JobSubmitter starts a background OCR submission.
type JobSubmitter interface {
	SubmitAsync(req backend.SubmitRequest) (progress.Cycle, error)
}

// SnapshotCache holds the latest snapshot per job.
type SnapshotCache interface {
	Latest(ctx context.Context, jobID string) (*models.ProgressSnapshot, time.Time, bool, error)
	Put(ctx context.Context, jobID string, snap *models.ProgressSnapshot) error
}

// NewProgressHandler returns an http.HandlerFunc for GET /api/v1/ocr/progress.
func NewProgressHandler(store StateSource, poller PollerSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, progress.Render(store.State(), poller.State()))
	}
}

// NewStateHandler returns an http.HandlerFunc for GET /api/v1/ocr/state.
func NewStateHandler(store StateSource, poller PollerSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, stateResponse{Job: store.State(), Poller: poller.State()})
	}
}

// NewDismissHandler returns an http.HandlerFunc for POST /api/v1/ocr/progress/dismiss.
// The dismissed job's cached snapshot is dropped as well.
func NewDismissHandler(store Dismisser, snapshots SnapshotForgetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := store.State().JobID
		store.Dismiss()
		if jobID != "" {
			if err := snapshots.Forget(r.Context(), jobID); err != nil {
				slog.Warn("snapshot cache forget failed", "job_id", jobID, "error", err)
			}
		}
		slog.Info("progress view dismissed", "job_id", jobID, "request_id", mw.GetRequestID(r))
		response.JSON(w, store.State())
	}
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/ocr/jobs.
// It accepts the same multipart fields as the backend: images, newspaper_date
// and newspaper_name.
func NewSubmitHandler(sub JobSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart body", nil)
			return
		}

		req := backend.SubmitRequest{
			NewspaperDate: r.FormValue("newspaper_date"),
			NewspaperName: r.FormValue("newspaper_name"),
		}
		for _, fh := range r.MultipartForm.File["images"] {
			// Uploads run after the request returns, so contents are copied out
			// of the multipart temp files now.
			f, err := fh.Open()
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable upload", nil)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable upload", nil)
				return
			}
			req.Files = append(req.Files, backend.Upload{Filename: fh.Filename, Content: bytes.NewReader(data)})
		}

		cycle, err := sub.SubmitAsync(req)
		if err != nil {
			switch {
			case errors.Is(err, backend.ErrInvalidSubmission):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			case errors.Is(err, backend.ErrMissingToken):
				response.Error(w, http.StatusUnauthorized, "LOGIN_REQUIRED", "Please log in again", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		slog.Info("ocr submission accepted",
			"cycle", cycle,
			"files", len(req.Files),
			"date", req.NewspaperDate,
			"request_id", mw.GetRequestID(r),
		)
		response.Accepted(w, submitResponse{
			Cycle:  uint64(cycle),
			Files:  len(req.Files),
			Status: progress.StatusRunning,
		})
	}
}

// NewSnapshotHandler returns an http.HandlerFunc for GET /api/v1/ocr/jobs/{jobID}/snapshot.
// A cached snapshot is served when present; otherwise the backend is asked once.
func NewSnapshotHandler(cache SnapshotCache, fetcher backend.ProgressFetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID is required", nil)
			return
		}

		snap, storedAt, found, err := cache.Latest(r.Context(), jobID)
		if err != nil {
			slog.Warn("snapshot cache read failed", "job_id", jobID, "error", err)
		}
		if found {
			response.WithMeta(w, snap, snapshotMeta{Source: "cache", StoredAt: storedAt.UTC().Format(time.RFC3339)})
			return
		}

		snap, err = fetcher.FetchProgress(r.Context(), jobID)
		if err != nil {
			writeBackendError(w, err)
			return
		}
		if err := cache.Put(r.Context(), jobID, snap); err != nil {
			slog.Warn("snapshot cache write failed", "job_id", jobID, "error", err)
		}
		response.WithMeta(w, snap, snapshotMeta{Source: "backend"})
	}
}

func writeBackendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backend.ErrMissingToken):
		response.Error(w, http.StatusUnauthorized, "LOGIN_REQUIRED", "Please log in again", nil)
	case errors.Is(err, backend.ErrUnauthorized):
		response.Error(w, http.StatusUnauthorized, "BACKEND_UNAUTHORIZED",
			"The archive backend rejected the stored credentials", nil)
	case errors.Is(err, backend.ErrBackendTimeout):
		response.Error(w, http.StatusGatewayTimeout, "BACKEND_TIMEOUT",
			"The archive backend did not answer in time", nil)
	case errors.Is(err, backend.ErrBackendUnreachable):
		response.Error(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE",
			"The archive backend is not reachable", nil)
	case errors.Is(err, backend.ErrMalformedProgress), errors.Is(err, backend.ErrBackendStatus):
		response.Error(w, http.StatusBadGateway, "BACKEND_ERROR",
			fmt.Sprintf("The archive backend returned an unusable answer: %v", err), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

type stateResponse struct {
	Job    models.JobProgressState `json:"job"`
	Poller progress.PollerState    `json:"poller"`
}

type submitResponse struct {
	Cycle  uint64 `json:"cycle"`
	Files  int    `json:"files"`
	Status string `json:"status"`
}

type snapshotMeta struct {
	Source   string `json:"source"`
	StoredAt string `json:"stored_at,omitempty"`
}
