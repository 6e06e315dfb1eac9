package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/akhbar/internal/backend"
	"github.com/kiranshivaraju/akhbar/pkg/models"
)

var (
	progressAttempts uint
	progressDelay    time.Duration
)

var progressCmd = &cobra.Command{
	Use:   "progress JOBID",
	Short: "Print one progress snapshot for a job",
	Long: `Fetch the current pipeline snapshot for a job once and print it.

Transient backend failures are retried. Image payloads are summarized,
use "akhbar watch --images-dir" to save them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadClientEnv()
		if err != nil {
			return err
		}

		jobID := args[0]
		snap, err := backend.FetchWithRetry(cmd.Context(), env.client, jobID, progressAttempts, progressDelay)
		if err != nil {
			return fmt.Errorf("fetch progress for %s: %w", jobID, err)
		}
		return writeOutput(cmd.OutOrStdout(), outputFormat, newProgressReport(jobID, snap))
	},
}

func init() {
	progressCmd.Flags().UintVar(&progressAttempts, "attempts", 3, "attempts for transient failures")
	progressCmd.Flags().DurationVar(&progressDelay, "retry-delay", 500*time.Millisecond, "base delay between attempts")
}

type progressReport struct {
	JobID       string        `json:"job_id" yaml:"job_id"`
	Step        models.Step   `json:"step" yaml:"step"`
	StepName    string        `json:"step_name" yaml:"step_name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Completed   bool          `json:"completed" yaml:"completed"`
	Images      []imageReport `json:"images" yaml:"images"`
}

type imageReport struct {
	Step  models.Step `json:"step" yaml:"step"`
	Label string      `json:"label" yaml:"label"`
	MIME  string      `json:"mime" yaml:"mime"`
	Bytes int         `json:"bytes" yaml:"bytes"`
}

func newProgressReport(jobID string, snap *models.ProgressSnapshot) progressReport {
	r := progressReport{
		JobID:       jobID,
		Step:        snap.Step,
		StepName:    snap.StepName,
		Description: snap.Description,
		Completed:   snap.Completed,
		Images:      []imageReport{},
	}
	if r.StepName == "" {
		r.StepName = models.StepLabel(snap.Step)
	}
	for _, step := range snap.ImageSteps() {
		img := snap.Images[step]
		ir := imageReport{Step: step, Label: models.StepLabel(step), MIME: img.MIMEType()}
		if raw, err := img.Decode(); err == nil {
			ir.Bytes = len(raw)
		}
		r.Images = append(r.Images, ir)
	}
	return r
}
