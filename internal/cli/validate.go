package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"token-broker/internal/config"
	"token-broker/internal/oauth"
	"token-broker/internal/tokens"
)

func newValidateCommand(root *rootOptions) *cobra.Command {
	var schema bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file",
		Long: `Load and validate the configuration without contacting any token endpoint,
then list the configured destinations with their resolved provider type.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if schema {
				_, err := out.Write(config.Schema())
				return err
			}

			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			dests, err := cfg.ToDestinations()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "DESTINATION\tPROVIDER\tURL\tBREAKER\tRETRY\n")
			for _, dest := range dests {
				provider := dest.Provider.Type
				if provider == oauth.TypeAuto {
					provider = fmt.Sprintf("%s (auto)", oauth.AutoDetect(dest.Provider.TokenEndpoint))
				}
				breaker := "off"
				if dest.Breaker != nil {
					breaker = "on"
				}
				url := dest.URL
				if url == "" {
					url = "-"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", dest.Provider.Destination, provider, url, breaker, retryMode(dest))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			_, err = fmt.Fprintf(out, "\nConfiguration OK: %d destination(s)\n", len(cfg.Destinations))
			return err
		},
	}

	cmd.Flags().BoolVar(&schema, "schema", false, "Print the JSON schema and exit")
	return cmd
}

// retryMode names the retry policy a manager built from dest runs. The
// legacy policy applies only when neither retry nor a breaker is configured.
func retryMode(dest tokens.Destination) string {
	switch {
	case dest.Retry != nil:
		return "configured"
	case dest.Breaker == nil:
		return "legacy"
	default:
		return "none"
	}
}
