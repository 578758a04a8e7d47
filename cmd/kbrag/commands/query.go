package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/kbrag-go/internal/logging"
)

// NewQueryCmd constructs the `kbrag query` command.
func NewQueryCmd() *cobra.Command {
	var (
		topK   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve the top-K records for a query",
		Long: `Retrieve the top-K records for a query and print them nearest first.

With the flat backend the corpus is indexed in memory before the query
runs. With the qdrant backend the index recorded by the last ingest is used.

Examples:
  kbrag query "total sales in the north region"
  kbrag query --top-k 3 --json "password reset"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			query := strings.Join(args, " ")

			loaders, err := loadedConfig.Corpus.Loaders()
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			rt, err := openRuntime(ctx, log, loaders, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer rt.Close()

			if err := rt.ensureIndex(ctx); err != nil {
				return fmt.Errorf("query: %w", err)
			}
			if topK <= 0 {
				topK = rt.retrieval.DefaultTopK
			}

			qctx, cancel := context.WithTimeout(ctx, rt.retrieval.QueryTimeout)
			defer cancel()
			results, err := rt.service.Retrieve(qctx, query, topK)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "no matching records")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tTYPE\tDISTANCE\tCONTENT")
			for i, r := range results {
				fmt.Fprintf(tw, "%d\t%s\t%.4f\t%s\n", i+1, r.Type, r.Distance, r.Content)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of records to return (default: retrieval.default_top_k)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}
