package backend

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/kiranshivaraju/akhbar/pkg/models"
)

// ProgressFetcher is the single capability the progress poller needs.
type ProgressFetcher interface {
	FetchProgress(ctx context.Context, jobID string) (*models.ProgressSnapshot, error)
}

// FetchWithRetry performs a one-shot progress read, retrying transient failures.
// The progress endpoint is idempotent, so repeating the GET is safe.
func FetchWithRetry(ctx context.Context, f ProgressFetcher, jobID string, attempts uint, delay time.Duration) (*models.ProgressSnapshot, error) {
	var snap *models.ProgressSnapshot
	err := retry.Do(
		func() error {
			s, err := f.FetchProgress(ctx, jobID)
			if err != nil {
				return err
			}
			snap = s
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return snap, nil
}
