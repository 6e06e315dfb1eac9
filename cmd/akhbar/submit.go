package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/akhbar/internal/backend"
	"github.com/kiranshivaraju/akhbar/internal/ocr"
	"github.com/kiranshivaraju/akhbar/internal/progress"
)

var (
	submitDate string
	submitName string
)

var submitCmd = &cobra.Command{
	Use:   "submit FILE...",
	Short: "Submit newspaper page scans for OCR and watch the pipeline",
	Long: fmt.Sprintf(`Upload between 1 and %d page images of one newspaper issue.

The backend answers once processing has settled; the pipeline preview is
polled as soon as a job id is known. The submission result is printed on
stdout in the --output format.`, backend.MaxSubmitFiles),
	Args: cobra.RangeArgs(1, backend.MaxSubmitFiles),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadClientEnv()
		if err != nil {
			return err
		}

		req := backend.SubmitRequest{NewspaperDate: submitDate, NewspaperName: submitName}
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()
			req.Files = append(req.Files, backend.Upload{Filename: filepath.Base(path), Content: f})
		}

		store := progress.NewStore(slog.Default())
		poller := env.newPoller(store)
		unfollow := poller.Follow(store)
		defer func() {
			unfollow()
			poller.Stop()
		}()

		results := make(chan submitOutcome, 1)
		submitter := ocr.NewSubmitter(env.client, env.tokens, store, slog.Default())
		go func() {
			res, _, err := submitter.Submit(cmd.Context(), req)
			results <- submitOutcome{res, err}
		}()

		tr := newTracker(store, poller, cmd.ErrOrStderr())
		wait := newSubmitWait(results)
		err = tr.run(cmd.Context(), wait.done)
		if err != nil {
			return err
		}
		if err := tr.finish(); err != nil {
			return err
		}
		result := wait.result
		if result.err != nil {
			return fmt.Errorf("submit: %w", result.err)
		}

		return writeOutput(cmd.OutOrStdout(), outputFormat, submitReport{
			JobID:              result.res.JobID,
			MongoDBID:          result.res.MongoDBID,
			SummariesGenerated: result.res.SummariesGenerated,
			Message:            store.State().Success,
		})
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitDate, "date", "", "issue date, YYYY-MM-DD (required)")
	submitCmd.Flags().StringVar(&submitName, "name", "", "newspaper name")
	_ = submitCmd.MarkFlagRequired("date")
}

type submitOutcome struct {
	res *backend.SubmitResult
	err error
}

// submitWait decides when a submit command may stop redrawing: once the
// submission has settled and the poller is no longer following the job.
// The frame that observes the settlement never finishes: its poller state may
// predate the job id being attached, so the next frame decides.
type submitWait struct {
	results <-chan submitOutcome
	settled bool
	result  submitOutcome
}

func newSubmitWait(results <-chan submitOutcome) *submitWait {
	return &submitWait{results: results}
}

func (w *submitWait) done(ps progress.PollerState) bool {
	if !w.settled {
		select {
		case w.result = <-w.results:
			w.settled = true
		default:
		}
		return false
	}
	return ps.Phase != progress.PhasePolling
}

type submitReport struct {
	JobID              string `json:"job_id" yaml:"job_id"`
	MongoDBID          string `json:"mongodb_id,omitempty" yaml:"mongodb_id,omitempty"`
	SummariesGenerated bool   `json:"summaries_generated" yaml:"summaries_generated"`
	Message            string `json:"message" yaml:"message"`
}
