package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbrag-go/internal/config"
	"github.com/54b3r/kbrag-go/internal/store"
)

// NewStatusCmd constructs the `kbrag status` command, which lists the index
// generations recorded in the manifest.
func NewStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List recorded index generations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.DBPath()
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			if path == "" {
				return fmt.Errorf("status: the store is disabled (KBRAG_DB=disabled)")
			}
			db, err := store.Open(path)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer func() { _ = db.Close() }()

			ctx := cmd.Context()
			active, found, err := db.Active(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			gens, err := db.Generations(ctx, limit)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			out := cmd.OutOrStdout()
			if !found {
				fmt.Fprintln(out, "no active index")
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACTIVE\tINDEX\tMODEL\tDIM\tENTRIES\tBUILT")
			for _, g := range gens {
				mark := ""
				if found && g.Index == active.Index {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", mark, g.Index, g.Model, g.Dimension, g.Entries, g.BuiltAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of generations to list")
	return cmd
}
