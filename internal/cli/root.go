// Package cli implements the token-broker command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apperrors "token-broker/internal/common/errors"
	"token-broker/internal/config"
)

// Exit codes returned by Execute
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeConfig means the configuration could not be loaded or is invalid
	ExitCodeConfig = 2
	// ExitCodeAuth means a token could not be obtained
	ExitCodeAuth = 3
)

// rootOptions are the persistent flags shared by every command
type rootOptions struct {
	configPath string
	envFiles   []string
	version    string
}

// NewRootCommand builds the command tree
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	cmd := &cobra.Command{
		Use:   "token-broker",
		Short: "OAuth2 client-credentials token broker",
		Long: `token-broker obtains, caches and renews OAuth2 access tokens for a set of
downstream destinations and exposes their status over HTTP.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(opts.envFiles...)
		},
	}
	cmd.SetVersionTemplate(`{{printf "token-broker version %s\n" .Version}}`)

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.Path(), "Configuration file path")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "Load environment variables from these files (default .env)")

	cmd.AddCommand(
		newServeCommand(opts),
		newTokenCommand(opts),
		newValidateCommand(opts),
		newVersionCommand(opts),
	)
	return cmd
}

// Execute runs the command line and returns the process exit code
func Execute(ctx context.Context, version string, args []string) int {
	cmd := NewRootCommand(version)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return exitCode(err)
	}
	return ExitCodeSuccess
}

// exitCode maps an error to a code scripts can branch on
func exitCode(err error) int {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return ExitCodeError
	}
	switch appErr.Category() {
	case apperrors.CategoryConfiguration:
		return ExitCodeConfig
	case apperrors.CategoryAuthentication, apperrors.CategoryAuthorization, apperrors.CategoryNetwork:
		return ExitCodeAuth
	default:
		return ExitCodeError
	}
}

// Main is called from package main
func Main(version string) {
	os.Exit(Execute(context.Background(), version, os.Args[1:]))
}
