// Package ocr submits newspaper scans to the backend pipeline and reports the
// outcome through the shared progress store.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kiranshivaraju/akhbar/internal/backend"
	"github.com/kiranshivaraju/akhbar/internal/progress"
	"github.com/kiranshivaraju/akhbar/internal/session"
)

const (
	msgSummarized    = "OCR processing and summarization completed. The newspaper is now available in the archive."
	msgNotSummarized = "OCR processing completed, but summarization ran into a problem."
	msgLoginAgain    = "Please log in again."
)

// Uploader is the backend capability the submitter needs.
type Uploader interface {
	SubmitNewspaper(ctx context.Context, req backend.SubmitRequest) (*backend.SubmitResult, error)
}

// Submitter runs one submission per call and drives the store through
// Start, AttachJobID and Complete.
type Submitter struct {
	uploader Uploader
	tokens   session.TokenSource
	store    *progress.Store
	logger   *slog.Logger
}

func NewSubmitter(uploader Uploader, tokens session.TokenSource, store *progress.Store, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{uploader: uploader, tokens: tokens, store: store, logger: logger}
}

// Submit uploads req and blocks until the backend settles. The store is
// started before the upload and completed exactly once afterwards.
func (s *Submitter) Submit(ctx context.Context, req backend.SubmitRequest) (*backend.SubmitResult, progress.Cycle, error) {
	if err := s.precheck(req); err != nil {
		return nil, 0, err
	}
	cycle := s.store.Start(label(req))
	res, err := s.run(ctx, cycle, req)
	return res, cycle, err
}

// SubmitAsync validates req, starts the store and uploads in the background.
// File contents must stay readable after the caller returns.
func (s *Submitter) SubmitAsync(req backend.SubmitRequest) (progress.Cycle, error) {
	if err := s.precheck(req); err != nil {
		return 0, err
	}
	cycle := s.store.Start(label(req))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in ocr submission", "error", r, "cycle", cycle)
				s.store.Complete(cycle, "", fmt.Sprintf("internal error: %v", r))
			}
		}()
		_, _ = s.run(context.Background(), cycle, req)
	}()
	return cycle, nil
}

func (s *Submitter) precheck(req backend.SubmitRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if _, err := s.tokens.Token(); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrMissingToken, err)
	}
	return nil
}

func (s *Submitter) run(ctx context.Context, cycle progress.Cycle, req backend.SubmitRequest) (*backend.SubmitResult, error) {
	res, err := s.uploader.SubmitNewspaper(ctx, req)
	if err != nil {
		s.logger.Error("ocr submission failed", "cycle", cycle, "date", req.NewspaperDate, "error", err)
		s.store.Complete(cycle, "", failureMessage(err))
		return nil, err
	}

	if res.JobID != "" {
		s.store.AttachJobID(cycle, res.JobID)
	} else {
		s.logger.Error("backend returned no job id", "cycle", cycle)
	}
	if res.MongoDBID != "" {
		s.logger.Info("newspaper saved", "job_id", res.JobID, "mongodb_id", res.MongoDBID)
	}

	s.store.Complete(cycle, successMessage(res), "")
	return res, nil
}

func label(req backend.SubmitRequest) string {
	name := strings.TrimSpace(req.NewspaperName)
	date := strings.TrimSpace(req.NewspaperDate)
	if name == "" {
		return date
	}
	return name + " " + date
}

func successMessage(res *backend.SubmitResult) string {
	msg := msgNotSummarized
	if res.SummariesGenerated {
		msg = msgSummarized
	}
	if res.MongoDBID != "" {
		msg += fmt.Sprintf(" (ID: %s)", res.MongoDBID)
	}
	return msg
}

func failureMessage(err error) string {
	if errors.Is(err, backend.ErrMissingToken) || errors.Is(err, backend.ErrUnauthorized) {
		return msgLoginAgain
	}
	return err.Error()
}
