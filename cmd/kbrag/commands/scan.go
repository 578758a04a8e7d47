package commands

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/kbrag-go/internal/logging"
)

// NewScanCmd constructs the `kbrag scan` command.
func NewScanCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Print the stored entries of the active index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if limit < 1 {
				return fmt.Errorf("scan: --limit must be positive")
			}

			loaders, err := loadedConfig.Corpus.Loaders()
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			rt, err := openRuntime(ctx, logging.FromContext(ctx), loaders, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			defer rt.Close()

			if err := rt.ensureIndex(ctx); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			entries, err := rt.service.Scan(ctx, limit)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", e.ID, e.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to print")
	return cmd
}
