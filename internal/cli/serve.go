package cli

import (
	"github.com/spf13/cobra"

	"token-broker/internal/app"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		tlsCert string
		tlsKey  string
		warm    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the status server",
		Long: `Load the configuration, build a token manager per destination and serve
/health, /metrics and the /oauth status API until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), app.RunOptions{
				ConfigPath: root.configPath,
				TLSCert:    tlsCert,
				TLSKey:     tlsKey,
				Version:    root.version,
				Warm:       warm,
			})
		},
	}

	cmd.Flags().StringVar(&tlsCert, "tls-cert", "", "TLS certificate file for the status server")
	cmd.Flags().StringVar(&tlsKey, "tls-key", "", "TLS key file for the status server")
	cmd.Flags().BoolVar(&warm, "warm", false, "Acquire a token for every destination at startup")
	return cmd
}
