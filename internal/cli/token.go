package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"token-broker/internal/app"
	"token-broker/internal/common/logging"
	"token-broker/internal/config"
)

func newTokenCommand(root *rootOptions) *cobra.Command {
	var printToken bool

	cmd := &cobra.Command{
		Use:   "token DESTINATION",
		Short: "Acquire a token for one destination",
		Long: `Acquire a token for DESTINATION and report its status as JSON.

With --print the access token itself is written to stdout instead, for use
in scripts:

  curl -H "Authorization: Bearer $(token-broker token pacs --print)" ...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadForCommand(cmd, root)
			if err != nil {
				return err
			}

			a, err := app.New(cfg, root.version)
			if err != nil {
				return err
			}
			defer a.Cleanup()

			name := args[0]
			token, err := a.Registry.GetToken(logging.WithDestination(cmd.Context(), name), name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if printToken {
				_, err := fmt.Fprintln(out, token)
				return err
			}

			m, _ := a.Registry.Get(name)
			return writeIndented(out, m.Status())
		},
	}

	cmd.Flags().BoolVar(&printToken, "print", false, "Print the access token instead of its status")
	return cmd
}

// loadForCommand loads the configuration for a one-shot command. Metrics are
// off and logs go to stderr so stdout carries only the command's output.
func loadForCommand(cmd *cobra.Command, root *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return nil, err
	}

	disabled := false
	cfg.Metrics.Enabled = &disabled

	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: logging.ParseFormat(cfg.Logging.Format),
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return cfg, nil
}

func writeIndented(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
