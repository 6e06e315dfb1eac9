package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/akhbar/internal/progress"
)

var (
	watchImagesDir string
	watchWaitLogin bool
)

var watchCmd = &cobra.Command{
	Use:   "watch JOBID",
	Short: "Follow a running OCR job until it completes",
	Long: `Poll a job's pipeline progress and redraw it until the job completes.

The progress view is drawn on stderr; the final state is printed on stdout
in the --output format. With --images-dir every distinct step preview is
saved as it arrives.

Tracking stops if no session token is stored. With --wait-login it resumes
as soon as "akhbar login" writes a new token.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadClientEnv()
		if err != nil {
			return err
		}
		jobID := args[0]

		store := progress.NewStore(slog.Default())
		poller := env.newPoller(store)
		unfollow := poller.Follow(store)
		defer func() {
			unfollow()
			poller.Stop()
		}()

		if watchWaitLogin {
			if err := env.resumeOnLogin(cmd.Context(), poller); err != nil {
				return err
			}
		}

		tr := newTracker(store, poller, cmd.ErrOrStderr())
		if watchImagesDir != "" {
			if tr.images, err = newImageDumper(watchImagesDir); err != nil {
				return err
			}
		}

		cycle := store.Start("job " + jobID)
		store.AttachJobID(cycle, jobID)

		err = tr.run(cmd.Context(), func(ps progress.PollerState) bool {
			switch ps.Phase {
			case progress.PhaseCompleted, progress.PhaseStopped:
				return true
			case progress.PhaseFailed:
				return !watchWaitLogin
			}
			return false
		})
		if err != nil {
			return err
		}

		final := poller.State()
		if final.Phase == progress.PhaseFailed {
			msg := "progress tracking stopped"
			if final.Error != nil {
				msg = final.Error.Message
			}
			store.Complete(cycle, "", msg)
			_ = tr.finish()
			return fmt.Errorf("watch %s: %s", jobID, msg)
		}

		store.Complete(cycle, fmt.Sprintf("Job %s finished.", jobID), "")
		if err := tr.finish(); err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), outputFormat, newWatchReport(final))
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchImagesDir, "images-dir", "", "save step preview images to this directory")
	watchCmd.Flags().BoolVar(&watchWaitLogin, "wait-login", false, "keep waiting for a login when the token is missing")
}

func (e *clientEnv) newPoller(store *progress.Store) *progress.Poller {
	return progress.NewPoller(e.client, store,
		progress.WithInterval(e.cfg.Poll.Interval),
		progress.WithFetchTimeout(e.cfg.Backend.Timeout),
		progress.WithLogger(slog.Default()),
	)
}

// resumeOnLogin retries a stopped poller whenever the session file changes.
func (e *clientEnv) resumeOnLogin(ctx context.Context, poller *progress.Poller) error {
	if e.sessions == nil {
		return nil
	}
	e.sessions.OnReload(func() { poller.Retry() })
	return e.sessions.Watch(ctx)
}

type watchReport struct {
	JobID     string `json:"job_id" yaml:"job_id"`
	Phase     string `json:"phase" yaml:"phase"`
	Step      int    `json:"step" yaml:"step"`
	Completed bool   `json:"completed" yaml:"completed"`
	Images    int    `json:"images" yaml:"images"`
	Polls     int    `json:"polls" yaml:"polls"`
}

func newWatchReport(ps progress.PollerState) watchReport {
	return watchReport{
		JobID:     ps.JobID,
		Phase:     string(ps.Phase),
		Step:      int(ps.CurrentStep),
		Completed: ps.Completed,
		Images:    len(ps.History),
		Polls:     ps.Polls,
	}
}
