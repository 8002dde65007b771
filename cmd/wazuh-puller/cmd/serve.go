package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/service/server"
)

var (
	// serveListen overrides the listen address derived from the API URL.
	serveListen string
	// serveFormat is the default bundle encoding.
	serveFormat string
	// serveRules and serveDecoders override the published directories.
	serveRules, serveDecoders string

	// serveCmd runs the reference distribution API.
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve local rules and decoders as a distribution API.",
		Long: `Starts a reference distribution API publishing the eligible files of a rules and a
decoders directory on /health, /api/rules/list and /api/rules/package. Clients must send
the configured API key. The listen port is taken from the API URL unless --listen is set.
A request may pick the bundle encoding with ?format=tar.gz|tar|json.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			encoding, err := bundle.ParseEncoding(serveFormat)
			if err != nil {
				return err
			}

			cfg, closeLog, err := loadSettings(ctx, cmd)
			if err != nil {
				return err
			}

			defer closeLog()

			options := &server.Options{
				ListenAddress: serveListen,
				APIURL:        cfg.APIURL,
				APIKey:        cfg.APIKey,
				RulesPath:     cfg.RulesPath,
				DecodersPath:  cfg.DecodersPath,
				Pattern:       cfg.Pattern,
				Encoding:      encoding,
			}

			if serveRules != "" {
				options.RulesPath = serveRules
			}

			if serveDecoders != "" {
				options.DecodersPath = serveDecoders
			}

			return server.Run(ctx, options)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "listen address, e.g. :8002")
	serveCmd.Flags().StringVarP(&serveFormat, "format", "f", "tar.gz", "default bundle encoding: tar.gz, tar or json")
	serveCmd.Flags().StringVar(&serveRules, "rules-dir", "", "directory of published rules")
	serveCmd.Flags().StringVar(&serveDecoders, "decoders-dir", "", "directory of published decoders")

	rootCmd.AddCommand(serveCmd)
}
