package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/akhbar/internal/backend"
	"github.com/kiranshivaraju/akhbar/internal/config"
	"github.com/kiranshivaraju/akhbar/internal/session"
)

var (
	cfgFile      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "akhbar",
	Short: "Submit newspaper scans for OCR and follow their progress",
	Long: `akhbar talks to the newspaper archive backend that runs the Urdu OCR pipeline.

The pipeline runs four steps per job:
  1. Bounding boxes
  2. Crop regions
  3. Regions
  4. Text extraction

Log in once, then submit scans and watch the pipeline work through them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: AKHBAR_* environment only)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "log debug output to stderr",
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return validateOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(progressCmd)
}

// clientEnv is what every backend-facing command needs.
type clientEnv struct {
	cfg      *config.Config
	tokens   session.TokenSource
	sessions *session.FileStore
	client   *backend.HTTPClient
}

func loadClientEnv() (*clientEnv, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	env := &clientEnv{cfg: cfg}
	if cfg.Session.Token != "" {
		env.tokens = session.Static(cfg.Session.Token)
	} else {
		env.sessions, err = session.NewFileStore(cfg.Session.File, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
		env.tokens = env.sessions
	}

	env.client = backend.NewHTTPClient(cfg.Backend.BaseURL, env.tokens, cfg.Backend.Timeout,
		backend.WithSubmitTimeout(cfg.Backend.SubmitTimeout))
	return env, nil
}
