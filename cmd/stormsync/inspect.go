package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-timeline-sync/internal/adapter/feedapi"
	"github.com/couchcryptid/storm-timeline-sync/internal/domain"
)

func newProductsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "List the feed's products and their newest frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			feed := feedapi.NewClient(a.cfg.FeedBaseURL, a.cfg.FeedTimeout, a.logger)

			products, err := feed.ListAvailableProducts(ctx)
			if err != nil {
				return fmt.Errorf("list products: %w", err)
			}

			tolerances := domain.NewToleranceTable(a.cfg.ToleranceOverrides)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRODUCT\tFRAMES\tLATEST\tTOLERANCE")
			for _, p := range products {
				ts, err := feed.ListProductTimestamps(ctx, p)
				if err != nil {
					fmt.Fprintf(tw, "%s\t-\terror: %v\t%s\n", p, err, tolerances.For(p))
					continue
				}
				sorted := domain.SortTimestamps(ts)
				latest, ok := domain.Latest(sorted)
				if !ok {
					latest = "-"
				} else {
					l := domain.Label(latest)
					latest = l.Date + " " + l.Time
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p, len(sorted), latest, tolerances.For(p))
			}
			return tw.Flush()
		},
	}
}

func newClosestCommand(a *app) *cobra.Command {
	var tolerance time.Duration

	cmd := &cobra.Command{
		Use:   "closest PRODUCT TIMESTAMP",
		Short: "Show which frame of a product matches a timeline timestamp",
		Example: `  stormsync closest Radar 20240101-103000
  stormsync closest METAR 20240101-103000 --tolerance 2h`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, target := args[0], args[1]
			if _, err := domain.ParseTimestamp(target); err != nil {
				return err
			}

			feed := feedapi.NewClient(a.cfg.FeedBaseURL, a.cfg.FeedTimeout, a.logger)
			ts, err := feed.ListProductTimestamps(cmd.Context(), product)
			if err != nil {
				return fmt.Errorf("list %s timestamps: %w", product, err)
			}

			tol := tolerance
			if tol <= 0 {
				tol = domain.NewToleranceTable(a.cfg.ToleranceOverrides).For(product)
			}
			match, ok := domain.Closest(target, ts, tol)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "no %s frame within %s of %s (%d candidates)\n", product, tol, target, len(ts))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), match)
			return nil
		},
	}
	cmd.Flags().DurationVar(&tolerance, "tolerance", 0, "match window (defaults to the product's tolerance)")
	return cmd
}
