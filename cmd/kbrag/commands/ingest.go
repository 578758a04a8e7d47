package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/kbrag-go/internal/config"
	"github.com/54b3r/kbrag-go/internal/ingestion"
	"github.com/54b3r/kbrag-go/internal/logging"
	"github.com/54b3r/kbrag-go/internal/rag"
)

// NewIngestCmd constructs the `kbrag ingest` command: rebuild the index from
// the corpus and retire the previous generation.
func NewIngestCmd() *cobra.Command {
	var (
		files      []string
		recordType string
		format     string
		withFAQ    bool
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the index from the corpus",
		Long: `Rebuild the index from the corpus into a fresh generation.

The previous generation stays active until the new one is fully built and
is removed afterwards; a failed ingest leaves it in place.

Sources come from corpus.sources in the config file, or from --file flags
which replace them. The record type and format of each file are inferred
from its name (sales.csv, hr_records.jsonl, ...) unless --type / --format
are given. Malformed records are skipped and counted.

With the flat backend the index lives in memory, so ingest only reports
what a server start would load; use the qdrant backend for a persistent
index.

Examples:
  kbrag ingest
  kbrag ingest --file data/sales.csv --file data/hr.csv
  kbrag ingest --file exports/people.jsonl --type hr --faq
  kbrag ingest --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			loaders, err := ingestLoaders(files, recordType, format, withFAQ)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			if dryRun {
				p, err := ingestion.NewPipeline(loaders...)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				corpus, err := p.Build(ctx, func(msg string) { log.Info(msg) })
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				for src, n := range corpus.PerSource {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d records\n", src, n)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "total\t%d records (%d skipped)\n", len(corpus.Texts), corpus.Skipped)
				return nil
			}

			rt, err := openRuntime(ctx, log, loaders, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer rt.Close()

			info, err := rt.reingest(ctx)
			if err != nil {
				return err
			}

			log.Info("ingestion complete",
				slog.String("index", info.Index),
				slog.Int("entries", info.Entries),
				slog.String("backend", rt.backend),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d records into %s (%s, %d dims)\n", info.Entries, info.Index, info.Model, info.Dimension)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Corpus file to ingest (repeatable; replaces corpus.sources)")
	cmd.Flags().StringVarP(&recordType, "type", "t", "", "Record type for --file entries: general, sales, hr, customer, order, product")
	cmd.Flags().StringVar(&format, "format", "", "File format for --file entries: csv or jsonl")
	cmd.Flags().BoolVar(&withFAQ, "faq", false, "Include the built-in knowledge-base entries")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Load and normalize the corpus without embedding it")

	return cmd
}

// ingestLoaders returns the loaders for --file flags, or the configured
// corpus when none were given.
func ingestLoaders(files []string, recordType, format string, withFAQ bool) ([]ingestion.Loader, error) {
	corpus := loadedConfig.Corpus
	if len(files) > 0 {
		corpus = config.CorpusConfig{IncludeFAQ: withFAQ}
		for _, f := range files {
			corpus.Sources = append(corpus.Sources, config.SourceConfig{Path: f, Format: format, Type: recordType})
		}
	} else if withFAQ {
		corpus.IncludeFAQ = true
	}
	return corpus.Loaders()
}

// reingest rebuilds the index from the corpus. The active generation is
// only replaced once the new one is complete.
func (rt *runtime) reingest(ctx context.Context) (rag.GenerationInfo, error) {
	rctx, cancel := context.WithTimeout(ctx, rt.retrieval.RebuildTimeout)
	defer cancel()
	info, err := rt.rebuild(rctx)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyInput) {
			return rag.GenerationInfo{}, fmt.Errorf("ingest: the corpus produced no records: %w", err)
		}
		return rag.GenerationInfo{}, fmt.Errorf("ingest: %w", err)
	}
	return info, nil
}
