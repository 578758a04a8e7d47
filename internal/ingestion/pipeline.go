// Package ingestion turns heterogeneous corpus sources (CSV tables,
// JSON-lines exports, knowledge-base articles) into the flat record texts
// the retrieval index stores. It is invoked by the `kbrag ingest` command,
// the admin rebuild endpoint and the scheduled rebuild job.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/54b3r/kbrag-go/internal/logging"
	"github.com/54b3r/kbrag-go/internal/rag"
)

// Rebuilder replaces an index with a freshly built corpus. *rag.Service
// satisfies it.
type Rebuilder interface {
	Rebuild(ctx context.Context, texts []string) (rag.GenerationInfo, error)
}

// Corpus is the normalized output of a pipeline run.
type Corpus struct {
	// Texts are the normalized records in source order.
	Texts []string
	// Skipped counts malformed records that were left out.
	Skipped int
	// PerSource counts accepted records per loader name.
	PerSource map[string]int
}

// Pipeline orchestrates the load → normalize flow for a set of sources.
type Pipeline struct {
	// loaders are read in order; their records keep that order in the corpus.
	loaders []Loader
}

// NewPipeline constructs a Pipeline over the given loaders.
func NewPipeline(loaders ...Loader) (*Pipeline, error) {
	if len(loaders) == 0 {
		return nil, fmt.Errorf("ingestion: at least one source is required")
	}
	for i, l := range loaders {
		if l == nil {
			return nil, fmt.Errorf("ingestion: source %d is nil", i)
		}
	}
	return &Pipeline{loaders: loaders}, nil
}

// NewLoader returns a file Loader for path. Empty format and SourceAuto are
// inferred from the file name.
func NewLoader(path, format string, t SourceType) (Loader, error) {
	meta := InferMetadata(path)
	if format == "" {
		format = meta.Format
	}
	switch format {
	case FormatCSV:
		return &CSVLoader{Path: path, SourceType: t}, nil
	case FormatJSONLines:
		return &JSONLinesLoader{Path: path, SourceType: t}, nil
	default:
		return nil, fmt.Errorf("ingestion: cannot determine format of %q (set format to csv or jsonl)", path)
	}
}

// Build runs every loader and normalizes their records. Malformed records
// are logged at WARN with their source and position and skipped; only I/O
// failures abort the run. progress, when non-nil, receives one line per
// source.
func (p *Pipeline) Build(ctx context.Context, progress func(msg string)) (*Corpus, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := logging.FromContext(ctx)
	corpus := &Corpus{PerSource: make(map[string]int, len(p.loaders))}

	for _, l := range p.loaders {
		t := l.Type()
		if t == SourceAuto {
			t = InferMetadata(l.Name()).Type
		}
		progress(fmt.Sprintf("loading %s (%s records)", l.Name(), t))

		records, err := l.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("ingestion: load failed for %s: %w", l.Name(), err)
		}

		accepted := 0
		for _, rec := range records {
			text, err := normalizeRecord(t, rec)
			if err != nil {
				if !errors.Is(err, rag.ErrMalformedRecord) {
					return nil, fmt.Errorf("ingestion: %s: %w", l.Name(), err)
				}
				corpus.Skipped++
				log.Warn("ingestion: skipping malformed record",
					slog.String("source", rec.Source),
					slog.Int("record", rec.Index),
					slog.Any("error", err),
				)
				continue
			}
			corpus.Texts = append(corpus.Texts, text)
			accepted++
		}
		corpus.PerSource[l.Name()] += accepted
		progress(fmt.Sprintf("normalized %d records from %s", accepted, l.Name()))
	}

	log.Info("ingestion: corpus built",
		slog.Int("records", len(corpus.Texts)),
		slog.Int("skipped", corpus.Skipped),
		slog.Int("sources", len(p.loaders)),
	)
	return corpus, nil
}

// normalizeRecord applies Normalize, attaching the record position to
// malformed-record errors.
func normalizeRecord(t SourceType, rec RawRecord) (string, error) {
	if rec.Err != nil {
		return "", rec.Err
	}
	text, err := Normalize(t, rec.Value)
	var mre *MalformedRecordError
	if errors.As(err, &mre) && mre.Source == "" {
		mre.Source, mre.Index = rec.Source, rec.Index
	}
	return text, err
}

// Rebuild builds the corpus and hands it to target as a full rebuild.
func (p *Pipeline) Rebuild(ctx context.Context, target Rebuilder, progress func(msg string)) (rag.GenerationInfo, *Corpus, error) {
	corpus, err := p.Build(ctx, progress)
	if err != nil {
		return rag.GenerationInfo{}, nil, err
	}
	if len(corpus.Texts) == 0 {
		return rag.GenerationInfo{}, corpus, fmt.Errorf("ingestion: no usable records in %d sources: %w", len(p.loaders), rag.ErrEmptyInput)
	}
	info, err := target.Rebuild(ctx, corpus.Texts)
	if err != nil {
		return rag.GenerationInfo{}, corpus, fmt.Errorf("ingestion: rebuild failed: %w", err)
	}
	if progress != nil {
		progress(fmt.Sprintf("indexed %d records into %s", info.Entries, info.Index))
	}
	return info, corpus, nil
}
