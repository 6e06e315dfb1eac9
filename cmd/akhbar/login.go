package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/akhbar/pkg/models"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the archive backend and store the session token",
	Long: `Exchange credentials for a backend token and save it to the session file.

A running akhbar server watches the same file and picks up the new token,
resuming any progress tracking that stopped because the token was missing.

The password is read from stdin when --password is not given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadClientEnv()
		if err != nil {
			return err
		}
		if env.sessions == nil {
			return errors.New("a session token is configured; unset AKHBAR_SESSION_TOKEN to log in")
		}

		password := loginPassword
		if password == "" {
			password, err = readLine(cmd, "Password: ")
			if err != nil {
				return err
			}
		}

		sess, err := env.client.Login(cmd.Context(), loginEmail, password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if err := env.sessions.Save(*sess); err != nil {
			return err
		}

		return writeOutput(cmd.OutOrStdout(), outputFormat, loginReport(sess, env.sessions.Path()))
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password")
	_ = loginCmd.MarkFlagRequired("email")
}

type loginResult struct {
	Email   string `json:"email,omitempty" yaml:"email,omitempty"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Session string `json:"session_file" yaml:"session_file"`
}

func loginReport(sess *models.Session, path string) loginResult {
	r := loginResult{Session: path}
	if sess.User != nil {
		r.Email = sess.User.Email
		r.Name = sess.User.Name
	}
	return r
}

func readLine(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" && err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return line, nil
}
