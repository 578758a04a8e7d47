// Package commands defines the Cobra CLI commands of the kbrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/kbrag-go/internal/audit"
	"github.com/54b3r/kbrag-go/internal/config"
	"github.com/54b3r/kbrag-go/internal/logging"
)

// configPath holds the --config flag value.
var configPath string

// loadedConfig is the YAML config resolved by the root pre-run. Scalar
// values have already been exported to the environment; the corpus source
// list is read from here.
var loadedConfig = &config.Config{}

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kbrag",
		Short: "kbrag: semantic retrieval over business records",
		Long: `kbrag normalizes support articles, sales, HR, customer, order and
product records into text, embeds them, and serves top-K nearest-neighbour
retrieval for grounding LLM prompts.

Configuration comes from a YAML file (--config, $KBRAG_CONFIG,
~/.kbrag/config.yaml or ./kbrag.yaml); environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, logging.New())
			if err != nil {
				return err
			}
			loadedConfig = cfg

			// Rebuilt so LOG_LEVEL and LOG_FORMAT from the YAML file apply.
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			audit.LogCommandStart(ctx, log, cmd.Name(), cfg.Path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.kbrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewQueryCmd(),
		NewScanCmd(),
		NewStatusCmd(),
		NewVersionCmd(),
	)

	return root
}
