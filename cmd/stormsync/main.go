package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-timeline-sync/internal/config"
	"github.com/couchcryptid/storm-timeline-sync/internal/observability"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries what every subcommand needs once config has loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "stormsync",
		Short:        "Synchronize weather map layers to a shared timeline",
		Long:         `stormsync keeps radar, alert, METAR and other weather overlays matched to one scrubbable timeline and refreshes them as feeds publish new frames.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if url, _ := cmd.Flags().GetString("feed-url"); url != "" {
				cfg.FeedBaseURL = url
			}
			a.cfg = cfg
			a.logger = observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	cmd.PersistentFlags().String("feed-url", "", "feed service base URL (overrides FEED_BASE_URL)")

	cmd.AddCommand(
		newServeCommand(a),
		newProductsCommand(a),
		newClosestCommand(a),
	)
	return cmd
}
